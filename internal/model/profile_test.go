// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import (
	"strings"
	"testing"
	"time"

	"github.com/rvail/netvault/internal/security"
)

func TestUnmarshalProfileYAML(t *testing.T) {
	doc := []byte(`
name: core-switch
hostname: switch01.network.corp
port: 2222
auth_methods:
  - type: key-file
    username: netops
    key_path: /home/netops/.ssh/id_ed25519
  - type: agent
    username: netops
jump_hosts:
  - hostname: bastion.corp
    port: 22
    auth:
      - type: password
        username: jump
    requires_touch: true
    touch_prompt: touch the yubikey
    touch_timeout: 45s
crypto:
  preset: compatible
  allow_legacy_signature: true
`)
	p, err := UnmarshalProfileYAML(doc)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Addr() != "switch01.network.corp:2222" {
		t.Errorf("addr = %q", p.Addr())
	}
	if len(p.AuthMethods) != 2 || p.AuthMethods[0].Method != AuthKeyFile {
		t.Errorf("auth methods = %+v", p.AuthMethods)
	}
	if len(p.JumpHosts) != 1 {
		t.Fatalf("jump hosts = %d", len(p.JumpHosts))
	}
	hop := p.JumpHosts[0]
	if !hop.RequiresTouch || hop.TouchTimeout.Std() != 45*time.Second {
		t.Errorf("touch config = %+v", hop)
	}
	if p.Crypto == nil || p.Crypto.Preset != "compatible" || !p.Crypto.AllowLegacySignature {
		t.Errorf("crypto = %+v", p.Crypto)
	}
}

func TestUnmarshalProfileJSON(t *testing.T) {
	// YAML is a superset of JSON; the same entry point accepts both.
	doc := []byte(`{"name":"r1","hostname":"r1.lab","auth_methods":[{"type":"password","username":"admin"}]}`)
	p, err := UnmarshalProfileYAML(doc)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Hostname != "r1.lab" || p.Port != 0 {
		t.Errorf("profile = %+v", p)
	}
	if p.Addr() != "r1.lab:22" {
		t.Errorf("addr = %q, want default port applied", p.Addr())
	}
}

func TestProfileValidate(t *testing.T) {
	valid := ConnectionProfile{
		Name:        "ok",
		Hostname:    "h",
		AuthMethods: []AuthConfig{{Method: AuthPassword, Username: "u"}},
	}

	tests := []struct {
		name   string
		mutate func(*ConnectionProfile)
		valid  bool
	}{
		{"valid profile", func(p *ConnectionProfile) {}, true},
		{"missing hostname", func(p *ConnectionProfile) { p.Hostname = "" }, false},
		{"port out of range", func(p *ConnectionProfile) { p.Port = 70000 }, false},
		{"no auth methods", func(p *ConnectionProfile) { p.AuthMethods = nil }, false},
		{"unknown auth type", func(p *ConnectionProfile) { p.AuthMethods = []AuthConfig{{Method: "telepathy"}} }, false},
		{"hop without hostname", func(p *ConnectionProfile) {
			p.JumpHosts = []JumpHostConfig{{Auth: []AuthConfig{{Method: AuthAgent}}}}
		}, false},
		{"hop without auth", func(p *ConnectionProfile) {
			p.JumpHosts = []JumpHostConfig{{Hostname: "bastion"}}
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			err := p.Validate()
			if tt.valid && err != nil {
				t.Errorf("validate: %v", err)
			}
			if !tt.valid && err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestProfileSerializationExcludesSecrets(t *testing.T) {
	p := &ConnectionProfile{
		Name:     "leaky",
		Hostname: "h",
		AuthMethods: []AuthConfig{{
			Method:     AuthPassword,
			Username:   "admin",
			Password:   security.FromString("super-secret"),
			PrivateKey: security.FromString("key-material"),
		}},
	}
	data, err := p.MarshalYAMLBytes()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "super-secret") || strings.Contains(out, "key-material") {
		t.Errorf("serialized profile leaks secrets:\n%s", out)
	}
}

func TestDurationEncoding(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Duration
		err  bool
	}{
		{"duration string", `"2m30s"`, 2*time.Minute + 30*time.Second, false},
		{"integer seconds", `45`, 45 * time.Second, false},
		{"garbage", `"soon"`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			err := d.UnmarshalJSON([]byte(tt.in))
			if tt.err {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if d.Std() != tt.want {
				t.Errorf("duration = %v, want %v", d.Std(), tt.want)
			}
		})
	}
}

func TestAuthConfigZero(t *testing.T) {
	a := AuthConfig{
		Method:        AuthPassword,
		Password:      security.FromString("p"),
		PrivateKey:    security.FromString("k"),
		KeyPassphrase: security.FromString("pp"),
	}
	a.Zero()
	for _, s := range [][]byte{a.Password.Bytes(), a.PrivateKey.Bytes(), a.KeyPassphrase.Bytes()} {
		for _, b := range s {
			if b != 0 {
				t.Fatal("Zero left secret material behind")
			}
		}
	}
}
