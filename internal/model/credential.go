// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

// Package model defines the core data types shared across the vault,
// resolver, and session engine: credential records, match rules, and the
// connection profile handed to the session engine.
package model

import (
	"fmt"
	"strings"

	"github.com/rvail/netvault/internal/security"
)

// Credential is a fully decrypted credential record. Instances only exist
// transiently inside unlocked-vault operations; persisted forms carry the
// secret fields encrypted.
type Credential struct {
	ID            int64
	Name          string
	Username      string
	Password      security.Secret
	PrivateKey    security.Secret
	KeyPassphrase security.Secret
	MatchHosts    []string
	MatchTags     []string
	JumpHost      *JumpHostRef
	IsDefault     bool
}

// HasPassword reports whether a password secret is present.
func (c *Credential) HasPassword() bool { return !c.Password.IsZero() }

// HasKey reports whether a private key secret is present.
func (c *Credential) HasKey() bool { return !c.PrivateKey.IsZero() }

// Zero wipes all secret fields in place.
func (c *Credential) Zero() {
	c.Password.Zero()
	c.PrivateKey.Zero()
	c.KeyPassphrase.Zero()
}

// String returns a redacted representation safe for logs.
func (c *Credential) String() string {
	return fmt.Sprintf("Credential(%s, user=%s)", c.Name, c.Username)
}

// JumpHostRef is the nested jump-host reference stored on a credential.
// It names an intermediate hop and how to authenticate against it; the
// resolver expands it into a full JumpHostConfig.
type JumpHostRef struct {
	Hostname string `json:"hostname" yaml:"hostname"`
	Port     int    `json:"port,omitempty" yaml:"port,omitempty"`
	Username string `json:"username" yaml:"username"`
	Auth     string `json:"auth" yaml:"auth"` // "password", "key" or "agent"
}

// CredentialInfo is the listing view of a credential. It never contains
// decrypted secret material, only presence booleans.
type CredentialInfo struct {
	Name        string
	Username    string
	HasPassword bool
	HasKey      bool
	MatchHosts  []string
	MatchTags   []string
	JumpHost    string
	IsDefault   bool
}

// String returns a one-line summary in the style of `cred list` output.
func (i CredentialInfo) String() string {
	var auth []string
	if i.HasPassword {
		auth = append(auth, "password")
	}
	if i.HasKey {
		auth = append(auth, "key")
	}
	authStr := "none"
	if len(auth) > 0 {
		authStr = strings.Join(auth, "+")
	}
	def := ""
	if i.IsDefault {
		def = " [default]"
	}
	return fmt.Sprintf("Credential(%s, user=%s, auth=%s%s)", i.Name, i.Username, authStr, def)
}

// CredentialPatch is a partial update for a credential. Nil fields are left
// unchanged; non-nil secret fields go through the same encrypt-on-write path
// as creation. Setting a secret field to an empty Secret clears it.
type CredentialPatch struct {
	Username      *string
	Password      *security.Secret
	PrivateKey    *security.Secret
	KeyPassphrase *security.Secret
	MatchHosts    *[]string
	MatchTags     *[]string
	JumpHost      *JumpHostRef
	ClearJumpHost bool
}

// IsEmpty reports whether the patch changes nothing.
func (p CredentialPatch) IsEmpty() bool {
	return p.Username == nil && p.Password == nil && p.PrivateKey == nil &&
		p.KeyPassphrase == nil && p.MatchHosts == nil && p.MatchTags == nil &&
		p.JumpHost == nil && !p.ClearJumpHost
}
