// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

package session

import (
	"fmt"

	"golang.org/x/crypto/ssh"

	"github.com/rvail/netvault/internal/model"
)

// Preset is a named bundle of negotiation algorithm choices. Presets are
// ordered from modern to legacy; the engine always offers the most modern
// set first and only broadens after an explicit negotiation failure.
type Preset struct {
	Name              string
	KeyExchanges      []string
	Ciphers           []string
	MACs              []string
	HostKeyAlgorithms []string
}

// The built-in presets, most modern first. "legacy-cisco" is the floor:
// algorithm sets still shipped by IOS images from the early 2000s.
var (
	presetModern = Preset{
		Name: "modern",
		KeyExchanges: []string{
			"curve25519-sha256", "curve25519-sha256@libssh.org",
			"ecdh-sha2-nistp256", "ecdh-sha2-nistp384", "ecdh-sha2-nistp521",
			"diffie-hellman-group16-sha512", "diffie-hellman-group14-sha256",
		},
		Ciphers: []string{
			"chacha20-poly1305@openssh.com",
			"aes256-gcm@openssh.com", "aes128-gcm@openssh.com",
			"aes256-ctr", "aes192-ctr", "aes128-ctr",
		},
		MACs: []string{
			"hmac-sha2-256-etm@openssh.com", "hmac-sha2-512-etm@openssh.com",
			"hmac-sha2-256", "hmac-sha2-512",
		},
		HostKeyAlgorithms: []string{
			"ssh-ed25519",
			"ecdsa-sha2-nistp256", "ecdsa-sha2-nistp384", "ecdsa-sha2-nistp521",
			"rsa-sha2-512", "rsa-sha2-256",
		},
	}

	presetCompatible = Preset{
		Name: "compatible",
		KeyExchanges: append(presetModern.KeyExchanges,
			"diffie-hellman-group14-sha1"),
		Ciphers: presetModern.Ciphers,
		MACs: append(presetModern.MACs,
			"hmac-sha1"),
		HostKeyAlgorithms: append(presetModern.HostKeyAlgorithms,
			"ssh-rsa"),
	}

	presetLegacy = Preset{
		Name: "legacy",
		KeyExchanges: append(presetCompatible.KeyExchanges,
			"diffie-hellman-group-exchange-sha256",
			"diffie-hellman-group-exchange-sha1",
			"diffie-hellman-group1-sha1"),
		Ciphers: append(presetCompatible.Ciphers,
			"aes128-cbc", "3des-cbc"),
		MACs: append(presetCompatible.MACs,
			"hmac-sha1-96"),
		HostKeyAlgorithms: append(presetCompatible.HostKeyAlgorithms,
			"ssh-dss"),
	}

	presetLegacyCisco = Preset{
		Name: "legacy-cisco",
		KeyExchanges: []string{
			"diffie-hellman-group14-sha1", "diffie-hellman-group1-sha1",
		},
		Ciphers: []string{
			"aes128-ctr", "aes128-cbc", "3des-cbc",
		},
		MACs: []string{
			"hmac-sha1", "hmac-sha1-96",
		},
		HostKeyAlgorithms: []string{
			"ssh-rsa", "ssh-dss",
		},
	}
)

var presetOrder = []Preset{presetModern, presetCompatible, presetLegacy, presetLegacyCisco}

// PresetByName looks up a built-in preset.
func PresetByName(name string) (Preset, bool) {
	for _, p := range presetOrder {
		if p.Name == name {
			return p, true
		}
	}
	return Preset{}, false
}

// presetChain builds the ordered fallback chain for a crypto config.
//
// Explicit algorithm lists yield a single custom preset with no fallback.
// A named preset starts the chain at that preset and still broadens toward
// legacy on negotiation failure. A nil config gets the full built-in chain.
func presetChain(crypto *model.CryptoConfig) ([]Preset, error) {
	if crypto.Explicit() {
		custom := Preset{
			Name:              "custom",
			KeyExchanges:      crypto.KeyExchanges,
			Ciphers:           crypto.Ciphers,
			MACs:              crypto.MACs,
			HostKeyAlgorithms: crypto.HostKeyAlgorithms,
		}
		return []Preset{custom}, nil
	}

	chain := presetOrder
	if crypto != nil && crypto.Preset != "" {
		start := -1
		for i, p := range presetOrder {
			if p.Name == crypto.Preset {
				start = i
				break
			}
		}
		if start < 0 {
			return nil, fmt.Errorf("unknown crypto preset %q", crypto.Preset)
		}
		chain = presetOrder[start:]
	}

	if crypto != nil && crypto.AllowLegacySignature {
		out := make([]Preset, len(chain))
		for i, p := range chain {
			out[i] = p
			out[i].HostKeyAlgorithms = appendUnique(p.HostKeyAlgorithms, "ssh-rsa")
		}
		chain = out
	}
	return chain, nil
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	out := make([]string, 0, len(list)+1)
	out = append(out, list...)
	return append(out, v)
}

// apply copies the preset's algorithm lists into an SSH client config.
// Empty lists keep the library defaults.
func (p Preset) apply(cfg *ssh.ClientConfig) {
	if len(p.KeyExchanges) > 0 {
		cfg.KeyExchanges = p.KeyExchanges
	}
	if len(p.Ciphers) > 0 {
		cfg.Ciphers = p.Ciphers
	}
	if len(p.MACs) > 0 {
		cfg.MACs = p.MACs
	}
	if len(p.HostKeyAlgorithms) > 0 {
		cfg.HostKeyAlgorithms = p.HostKeyAlgorithms
	}
}
