// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

// Package resolver picks the best-matching credential for a target host and
// builds the connection profile consumed by the session engine. Matching is
// scored: exact hostname beats wildcard, more specific wildcard beats less
// specific, then tag overlap, then lexicographic credential name as the
// final deterministic tie-break.
package resolver

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/rvail/netvault/internal/logging"
	"github.com/rvail/netvault/internal/model"
	"github.com/rvail/netvault/internal/vault"
)

// AmbiguousMatchError reports two credentials tying on every criterion.
// Only returned when the deterministic name tie-break has been disabled.
type AmbiguousMatchError struct {
	Hostname   string
	Candidates []string
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("ambiguous credential match for %s: %s",
		e.Hostname, strings.Join(e.Candidates, ", "))
}

// Resolver scores stored credentials against a hostname/tag pair. It reads
// through an unlocked vault and never hands decrypted secrets to callers
// outside of profile construction.
type Resolver struct {
	vault *vault.Vault

	// disableTieBreak turns full ties into AmbiguousMatchError instead of
	// resolving by name order.
	disableTieBreak bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithoutTieBreak makes full ties an error instead of resolving them by
// lexicographic credential name.
func WithoutTieBreak() Option {
	return func(r *Resolver) { r.disableTieBreak = true }
}

// New builds a resolver over the given vault.
func New(v *vault.Vault, opts ...Option) *Resolver {
	r := &Resolver{vault: v}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// score captures how well one credential matches a target. Ordering follows
// the documented precedence; see better().
type score struct {
	exact         bool
	hostMatched   bool
	wildcardRatio float64 // wildcard chars / pattern length, lower is more specific
	literalPrefix int
	tagOverlap    int
}

// better reports whether a outranks b.
func better(a, b score) bool {
	if a.exact != b.exact {
		return a.exact
	}
	if a.hostMatched != b.hostMatched {
		return a.hostMatched
	}
	if a.hostMatched && a.wildcardRatio != b.wildcardRatio {
		return a.wildcardRatio < b.wildcardRatio
	}
	if a.hostMatched && a.literalPrefix != b.literalPrefix {
		return a.literalPrefix > b.literalPrefix
	}
	return a.tagOverlap > b.tagOverlap
}

func equalScore(a, b score) bool {
	return !better(a, b) && !better(b, a)
}

// isExactPattern reports whether the pattern carries no glob metacharacters.
func isExactPattern(pattern string) bool {
	return !strings.ContainsAny(pattern, "*?[")
}

// wildcardCount counts glob metacharacters in a pattern. Character classes
// count once per bracket pair.
func wildcardCount(pattern string) int {
	n := 0
	inClass := false
	for _, r := range pattern {
		switch {
		case inClass:
			if r == ']' {
				inClass = false
			}
		case r == '[':
			inClass = true
			n++
		case r == '*' || r == '?':
			n++
		}
	}
	return n
}

// literalPrefixLen returns the length of the pattern's leading run of
// literal characters.
func literalPrefixLen(pattern string) int {
	if i := strings.IndexAny(pattern, "*?["); i >= 0 {
		return i
	}
	return len(pattern)
}

// scoreCredential computes the best score of a credential's match rules
// against hostname and tags. Hostnames and patterns compare
// case-insensitively (DNS semantics). The second return is false when the
// credential matches neither a host pattern nor a tag.
func scoreCredential(info model.CredentialInfo, hostname string, tags []string) (score, bool) {
	host := strings.ToLower(hostname)

	best := score{wildcardRatio: 1.0}
	for _, raw := range info.MatchHosts {
		pattern := strings.ToLower(raw)
		if isExactPattern(pattern) {
			if pattern == host {
				best.exact = true
				best.hostMatched = true
				best.wildcardRatio = 0
				best.literalPrefix = len(pattern)
			}
			continue
		}
		ok, err := path.Match(pattern, host)
		if err != nil {
			logging.Debugf("resolver: skipping malformed pattern %q on credential %s", raw, info.Name)
			continue
		}
		if !ok {
			continue
		}
		s := score{
			hostMatched:   true,
			wildcardRatio: float64(wildcardCount(pattern)) / float64(len(pattern)),
			literalPrefix: literalPrefixLen(pattern),
		}
		if best.exact {
			continue // exact already wins over any wildcard
		}
		if !best.hostMatched || better(s, best) {
			s.tagOverlap = best.tagOverlap
			best = s
		}
	}

	overlap := 0
	tagSet := make(map[string]struct{}, len(info.MatchTags))
	for _, t := range info.MatchTags {
		tagSet[strings.ToLower(t)] = struct{}{}
	}
	for _, t := range tags {
		if _, ok := tagSet[strings.ToLower(t)]; ok {
			overlap++
		}
	}
	best.tagOverlap = overlap

	return best, best.hostMatched || overlap > 0
}

// ResolveForDevice returns a connection profile for the device, or an error
// when the vault is locked or nothing matches and no default exists.
func (r *Resolver) ResolveForDevice(hostname string, tags []string, port int) (*model.ConnectionProfile, error) {
	profile, err := r.resolve(hostname, tags, port)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, fmt.Errorf("%w: no credential matches %s and no default is configured",
			vault.ErrCredentialNotFound, hostname)
	}
	return profile, nil
}

// ResolveOrDefault is ResolveForDevice that reports "no match" as a nil
// profile instead of an error.
func (r *Resolver) ResolveOrDefault(hostname string, tags []string) (*model.ConnectionProfile, error) {
	return r.resolve(hostname, tags, 0)
}

func (r *Resolver) resolve(hostname string, tags []string, port int) (*model.ConnectionProfile, error) {
	infos, err := r.vault.ListCredentials()
	if err != nil {
		return nil, err
	}

	type candidate struct {
		name  string
		score score
	}
	var candidates []candidate
	for _, info := range infos {
		if info.IsDefault {
			continue // defaults only apply when nothing matches
		}
		s, ok := scoreCredential(info, hostname, tags)
		if !ok {
			continue
		}
		candidates = append(candidates, candidate{name: info.Name, score: s})
	}

	if len(candidates) == 0 {
		def, err := r.vault.GetDefault()
		if err != nil {
			if errors.Is(err, vault.ErrCredentialNotFound) {
				return nil, nil
			}
			return nil, err
		}
		defer def.Zero()
		return buildProfile(def, hostname, port), nil
	}

	// Deterministic order before scoring comparison so full ties resolve
	// lexicographically by credential name.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].name < candidates[j].name
	})
	best := candidates[0]
	tied := false
	for _, c := range candidates[1:] {
		if better(c.score, best.score) {
			best = c
			tied = false
		} else if equalScore(c.score, best.score) {
			tied = true
		}
	}
	if tied && r.disableTieBreak {
		var names []string
		for _, c := range candidates {
			if equalScore(c.score, best.score) {
				names = append(names, c.name)
			}
		}
		return nil, &AmbiguousMatchError{Hostname: hostname, Candidates: names}
	}

	cred, err := r.vault.GetCredential(best.name)
	if err != nil {
		return nil, err
	}
	defer cred.Zero()
	logging.Debugf("resolver: %s -> credential %s", hostname, cred.Name)
	return buildProfile(cred, hostname, port), nil
}

// buildProfile constructs the immutable connection profile from a decrypted
// credential. Secrets are copied into the profile's auth configs; the
// credential itself can be zeroed by the caller afterwards.
func buildProfile(cred *model.Credential, hostname string, port int) *model.ConnectionProfile {
	if port == 0 {
		port = 22
	}
	profile := &model.ConnectionProfile{
		Name:        cred.Name,
		Hostname:    hostname,
		Port:        port,
		AuthMethods: authChain(cred),
	}
	if cred.JumpHost != nil {
		profile.JumpHosts = []model.JumpHostConfig{jumpConfig(cred)}
	}
	return profile
}

// authChain builds the ordered fallback chain: stored key first, then
// password, then the SSH agent as a last resort.
func authChain(cred *model.Credential) []model.AuthConfig {
	var chain []model.AuthConfig
	if cred.HasKey() {
		chain = append(chain, model.AuthConfig{
			Method:        model.AuthKeyStored,
			Username:      cred.Username,
			PrivateKey:    cred.PrivateKey.Bytes(),
			KeyPassphrase: cred.KeyPassphrase.Bytes(),
		})
	}
	if cred.HasPassword() {
		chain = append(chain, model.AuthConfig{
			Method:   model.AuthPassword,
			Username: cred.Username,
			Password: cred.Password.Bytes(),
		})
	}
	chain = append(chain, model.AuthConfig{
		Method:   model.AuthAgent,
		Username: cred.Username,
	})
	return chain
}

// jumpConfig expands the credential's nested jump reference into a full hop
// config, reusing the credential's own secrets for the hop.
func jumpConfig(cred *model.Credential) model.JumpHostConfig {
	ref := cred.JumpHost
	port := ref.Port
	if port == 0 {
		port = 22
	}
	hop := model.JumpHostConfig{
		Hostname: ref.Hostname,
		Port:     port,
	}
	username := ref.Username
	if username == "" {
		username = cred.Username
	}
	switch ref.Auth {
	case "password":
		hop.Auth = []model.AuthConfig{{
			Method:   model.AuthPassword,
			Username: username,
			Password: cred.Password.Bytes(),
		}}
	case "key":
		hop.Auth = []model.AuthConfig{{
			Method:        model.AuthKeyStored,
			Username:      username,
			PrivateKey:    cred.PrivateKey.Bytes(),
			KeyPassphrase: cred.KeyPassphrase.Bytes(),
		}}
	default: // "agent" or unspecified
		hop.Auth = []model.AuthConfig{{
			Method:   model.AuthAgent,
			Username: username,
		}}
	}
	return hop
}
