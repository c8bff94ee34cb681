// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rvail/netvault/internal/security"
)

// AuthMethod names a single SSH authentication mechanism.
type AuthMethod string

const (
	AuthPassword    AuthMethod = "password"
	AuthKeyFile     AuthMethod = "key-file"
	AuthKeyStored   AuthMethod = "key-stored"
	AuthAgent       AuthMethod = "agent"
	AuthInteractive AuthMethod = "keyboard-interactive"
	AuthCertificate AuthMethod = "certificate"
)

// Valid reports whether m is a known method.
func (m AuthMethod) Valid() bool {
	switch m {
	case AuthPassword, AuthKeyFile, AuthKeyStored, AuthAgent, AuthInteractive, AuthCertificate:
		return true
	}
	return false
}

// AuthConfig is one entry in an ordered authentication fallback chain.
// Secret fields are populated by the resolver from the unlocked vault and
// are never serialized; exported profile documents carry only the method
// shape (type, username, paths).
type AuthConfig struct {
	Method   AuthMethod `yaml:"type" json:"type"`
	Username string     `yaml:"username,omitempty" json:"username,omitempty"`

	// key-file / certificate parameters
	KeyPath         string `yaml:"key_path,omitempty" json:"key_path,omitempty"`
	CertificatePath string `yaml:"certificate_path,omitempty" json:"certificate_path,omitempty"`

	// Secrets resolved from the vault; excluded from serialization.
	Password      security.Secret `yaml:"-" json:"-"`
	PrivateKey    security.Secret `yaml:"-" json:"-"`
	KeyPassphrase security.Secret `yaml:"-" json:"-"`
}

// Zero wipes the secret fields of the auth config.
func (a *AuthConfig) Zero() {
	a.Password.Zero()
	a.PrivateKey.Zero()
	a.KeyPassphrase.Zero()
}

// Duration wraps time.Duration with human-readable YAML/JSON encoding
// ("30s", "2m") instead of raw nanosecond integers.
type Duration time.Duration

// MarshalYAML encodes the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML accepts either a duration string or an integer second count.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs int64
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration value")
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

// MarshalJSON encodes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts either a duration string or an integer second count.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs int64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("invalid duration value")
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// JumpHostConfig describes one intermediate hop in a jump chain.
type JumpHostConfig struct {
	Hostname      string       `yaml:"hostname" json:"hostname"`
	Port          int          `yaml:"port,omitempty" json:"port,omitempty"`
	Auth          []AuthConfig `yaml:"auth" json:"auth"`
	RequiresTouch bool         `yaml:"requires_touch,omitempty" json:"requires_touch,omitempty"`
	TouchPrompt   string       `yaml:"touch_prompt,omitempty" json:"touch_prompt,omitempty"`
	TouchTimeout  Duration     `yaml:"touch_timeout,omitempty" json:"touch_timeout,omitempty"`
}

// Addr returns host:port with the default SSH port applied.
func (j JumpHostConfig) Addr() string {
	port := j.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", j.Hostname, port)
}

// CryptoConfig selects the negotiation algorithm sets for a connection.
// Either a named preset or explicit algorithm lists; explicit lists win.
type CryptoConfig struct {
	Preset               string   `yaml:"preset,omitempty" json:"preset,omitempty"`
	KeyExchanges         []string `yaml:"kex,omitempty" json:"kex,omitempty"`
	Ciphers              []string `yaml:"ciphers,omitempty" json:"ciphers,omitempty"`
	MACs                 []string `yaml:"macs,omitempty" json:"macs,omitempty"`
	HostKeyAlgorithms    []string `yaml:"host_key_algorithms,omitempty" json:"host_key_algorithms,omitempty"`
	AllowLegacySignature bool     `yaml:"allow_legacy_signature,omitempty" json:"allow_legacy_signature,omitempty"`
	StrictHostKey        bool     `yaml:"strict_host_key,omitempty" json:"strict_host_key,omitempty"`
}

// Explicit reports whether the config carries explicit algorithm lists
// rather than a named preset.
func (c *CryptoConfig) Explicit() bool {
	if c == nil {
		return false
	}
	return len(c.KeyExchanges) > 0 || len(c.Ciphers) > 0 || len(c.MACs) > 0 || len(c.HostKeyAlgorithms) > 0
}

// ConnectionProfile is the immutable description of how to reach a target.
// It is built fresh per connection attempt by the resolver and consumed by
// the session engine; callers must not mutate it after construction.
type ConnectionProfile struct {
	Name        string           `yaml:"name" json:"name"`
	Hostname    string           `yaml:"hostname" json:"hostname"`
	Port        int              `yaml:"port,omitempty" json:"port,omitempty"`
	AuthMethods []AuthConfig     `yaml:"auth_methods" json:"auth_methods"`
	JumpHosts   []JumpHostConfig `yaml:"jump_hosts,omitempty" json:"jump_hosts,omitempty"`
	Crypto      *CryptoConfig    `yaml:"crypto,omitempty" json:"crypto,omitempty"`
}

// Addr returns host:port with the default SSH port applied.
func (p *ConnectionProfile) Addr() string {
	port := p.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", p.Hostname, port)
}

// Validate checks structural invariants before a connect attempt.
func (p *ConnectionProfile) Validate() error {
	if p.Hostname == "" {
		return fmt.Errorf("profile %q: hostname is required", p.Name)
	}
	if p.Port < 0 || p.Port > 65535 {
		return fmt.Errorf("profile %q: port %d out of range", p.Name, p.Port)
	}
	if len(p.AuthMethods) == 0 {
		return fmt.Errorf("profile %q: at least one auth method is required", p.Name)
	}
	for i, a := range p.AuthMethods {
		if !a.Method.Valid() {
			return fmt.Errorf("profile %q: auth method %d: unknown type %q", p.Name, i, a.Method)
		}
	}
	for i, j := range p.JumpHosts {
		if j.Hostname == "" {
			return fmt.Errorf("profile %q: jump host %d: hostname is required", p.Name, i+1)
		}
		if len(j.Auth) == 0 {
			return fmt.Errorf("profile %q: jump host %d: auth is required", p.Name, i+1)
		}
	}
	return nil
}

// Zero wipes all secret material carried by the profile's auth configs.
func (p *ConnectionProfile) Zero() {
	for i := range p.AuthMethods {
		p.AuthMethods[i].Zero()
	}
	for i := range p.JumpHosts {
		for j := range p.JumpHosts[i].Auth {
			p.JumpHosts[i].Auth[j].Zero()
		}
	}
}

// MarshalYAMLBytes serializes the profile document (secrets excluded).
func (p *ConnectionProfile) MarshalYAMLBytes() ([]byte, error) {
	return yaml.Marshal(p)
}

// UnmarshalProfileYAML parses a profile document. YAML being a superset of
// JSON, this accepts both wire forms.
func UnmarshalProfileYAML(data []byte) (*ConnectionProfile, error) {
	var p ConnectionProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse connection profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
