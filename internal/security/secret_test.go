// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

package security

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func TestSecretRedaction(t *testing.T) {
	s := FromString("hunter2")

	tests := []struct {
		name string
		got  string
	}{
		{"String", s.String()},
		{"Sprintf %v", fmt.Sprintf("%v", s)},
		{"Sprintf %s", fmt.Sprintf("%s", s)},
		{"Sprintf %#v", fmt.Sprintf("%#v", s)},
		{"Sprintf %q", fmt.Sprintf("%q", s)},
		{"Redacted", s.Redacted()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if strings.Contains(tt.got, "hunter2") {
				t.Errorf("%s leaked secret: %q", tt.name, tt.got)
			}
			if !strings.Contains(tt.got, "[SECRET]") {
				t.Errorf("%s = %q, want redaction marker", tt.name, tt.got)
			}
		})
	}
}

func TestSecretJSONRedaction(t *testing.T) {
	payload := struct {
		Name     string `json:"name"`
		Password Secret `json:"password"`
	}{Name: "admin", Password: FromString("hunter2")}

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "hunter2") {
		t.Errorf("JSON leaked secret: %s", data)
	}
	if !strings.Contains(string(data), "[SECRET]") {
		t.Errorf("JSON = %s, want redaction marker", data)
	}
}

func TestSecretBytesIsCopy(t *testing.T) {
	s := FromString("abc")
	b := s.Bytes()
	b[0] = 'x'
	if string(s.Bytes()) != "abc" {
		t.Error("Bytes returned the backing slice, not a copy")
	}
}

func TestSecretZero(t *testing.T) {
	s := FromString("abc")
	s.Zero()
	for _, b := range []byte(s) {
		if b != 0 {
			t.Fatal("Zero left material behind")
		}
	}
	// Zero on nil must not panic.
	var nilSecret *Secret
	nilSecret.Zero()
}

func TestSecretScan(t *testing.T) {
	var s Secret
	src := []byte("material")
	if err := s.Scan(src); err != nil {
		t.Fatalf("scan: %v", err)
	}
	src[0] = 'x'
	if string(s.Bytes()) != "material" {
		t.Error("Scan aliased the source slice")
	}

	if err := s.Scan(nil); err != nil {
		t.Fatalf("scan nil: %v", err)
	}
	if !s.IsZero() {
		t.Error("scan nil should clear the secret")
	}

	if err := s.Scan(42); err == nil {
		t.Error("expected error for unsupported scan type")
	}
}

func TestFromBytesCopies(t *testing.T) {
	in := []byte("key")
	s := FromBytes(in)
	in[0] = 'x'
	if string(s.Bytes()) != "key" {
		t.Error("FromBytes aliased the input")
	}
}

func TestKeyBufferUseAndDestroy(t *testing.T) {
	key := []byte{1, 2, 3, 4}
	kb := NewKeyBuffer(key)

	var seen []byte
	err := kb.Use(func(k []byte) error {
		seen = append([]byte(nil), k...)
		return nil
	})
	if err != nil {
		t.Fatalf("use: %v", err)
	}
	if string(seen) != string([]byte{1, 2, 3, 4}) {
		t.Errorf("key = %v", seen)
	}

	kb.Destroy()
	kb.Destroy() // idempotent
	if err := kb.Use(func([]byte) error { return nil }); err != ErrKeyBufferDestroyed {
		t.Errorf("use after destroy = %v, want ErrKeyBufferDestroyed", err)
	}
}

func TestKeyBufferPropagatesError(t *testing.T) {
	kb := NewKeyBuffer([]byte{9})
	want := fmt.Errorf("boom")
	if err := kb.Use(func([]byte) error { return want }); err != want {
		t.Errorf("use = %v, want %v", err, want)
	}
}
