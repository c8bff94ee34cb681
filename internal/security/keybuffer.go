// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

package security

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrKeyBufferDestroyed is returned when a destroyed KeyBuffer is opened.
var ErrKeyBufferDestroyed = errors.New("key buffer destroyed")

// KeyBuffer holds a derived vault key in a memguard enclave while the vault
// is unlocked. The enclave keeps the key encrypted in memory and mlocked
// where the platform allows, so the plaintext key only exists inside Use
// calls.
type KeyBuffer struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave
	destroyed bool
}

// NewKeyBuffer seals the given key material. The caller should zero its own
// copy after the call returns.
func NewKeyBuffer(key []byte) *KeyBuffer {
	return &KeyBuffer{enclave: memguard.NewEnclave(key)}
}

// Use decrypts the key into a locked buffer, runs fn against it, and wipes
// the plaintext again before returning.
func (k *KeyBuffer) Use(fn func(key []byte) error) error {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.destroyed || k.enclave == nil {
		return ErrKeyBufferDestroyed
	}
	lb, err := k.enclave.Open()
	if err != nil {
		return err
	}
	defer lb.Destroy()
	return fn(lb.Bytes())
}

// Destroy renders the buffer unusable. Idempotent.
func (k *KeyBuffer) Destroy() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.destroyed = true
	k.enclave = nil
}
