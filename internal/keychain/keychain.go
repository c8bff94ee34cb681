// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

// Package keychain stores the vault master password in the operating
// system's credential manager so the vault can be unlocked without a prompt.
// The backend is pluggable; the rest of the application never inspects which
// implementation is in use.
package keychain

import (
	"errors"
	"sync"

	"github.com/zalando/go-keyring"

	"github.com/rvail/netvault/internal/security"
)

// ErrNotFound is returned by Retrieve when no password is stored.
var ErrNotFound = errors.New("no password stored in keychain")

// Keychain is the pluggable backend contract.
type Keychain interface {
	Store(password security.Secret) error
	Retrieve() (security.Secret, error)
	Clear() error
}

const (
	serviceName = "netvault"
	accountName = "master-password"
)

// System is the OS-backed keychain: Keychain Services on macOS, Secret
// Service on Linux, Credential Manager on Windows.
type System struct{}

// NewSystem returns the OS credential manager backend.
func NewSystem() *System { return &System{} }

func (s *System) Store(password security.Secret) error {
	return keyring.Set(serviceName, accountName, string(password.Bytes()))
}

func (s *System) Retrieve() (security.Secret, error) {
	secret, err := keyring.Get(serviceName, accountName)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return security.FromString(secret), nil
}

func (s *System) Clear() error {
	err := keyring.Delete(serviceName, accountName)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// Memory is an in-process backend for tests and for platforms without a
// credential manager. Contents vanish with the process.
type Memory struct {
	mu       sync.Mutex
	password security.Secret
	stored   bool
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Store(password security.Secret) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.password.Zero()
	m.password = security.FromBytes(password.Bytes())
	m.stored = true
	return nil
}

func (m *Memory) Retrieve() (security.Secret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stored {
		return nil, ErrNotFound
	}
	return security.FromBytes(m.password.Bytes()), nil
}

func (m *Memory) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.password.Zero()
	m.password = nil
	m.stored = false
	return nil
}
