// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

// Package vault implements the encrypted credential store: key derivation,
// authenticated encryption of secret fields, the unlock lifecycle, and
// atomic master-password rotation.
package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize  = 32 // AES-256
	saltSize = 16

	// DefaultKDFIterations is the PBKDF2-SHA256 iteration count for new
	// vaults. Deliberately slow; existing vaults keep the count they were
	// created with (persisted in vault_meta).
	DefaultKDFIterations = 600_000
)

// verifierPlaintext is the fixed known plaintext encrypted into the
// verification token. Checking it on unlock rejects wrong passwords in O(1)
// without touching credential records.
var verifierPlaintext = []byte("netvault.verifier.v1")

// DeriveKey stretches a master password into an AES-256 key. Deterministic
// for a given salt and iteration count.
func DeriveKey(master, salt []byte, iterations int) []byte {
	return pbkdf2.Key(master, salt, iterations, keySize, sha256.New)
}

// NewSalt generates a fresh random KDF salt. Generated once at vault
// initialization (and again on rotation); never regenerated silently.
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// Encrypt seals plaintext under key with AES-256-GCM. The returned blob is
// nonce || ciphertext+tag.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return aesGCM.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt. It fails closed: any tamper or
// wrong-key condition returns ErrStorageCorruption, never partial plaintext.
func Decrypt(key, blob []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	nonceSize := aesGCM.NonceSize()
	if len(blob) < nonceSize {
		return nil, ErrStorageCorruption
	}
	plaintext, err := aesGCM.Open(nil, blob[:nonceSize], blob[nonceSize:], nil)
	if err != nil {
		return nil, ErrStorageCorruption
	}
	return plaintext, nil
}

// MakeVerifier produces the verification token for a derived key.
func MakeVerifier(key []byte) ([]byte, error) {
	return Encrypt(key, verifierPlaintext)
}

// CheckVerifier reports whether key decrypts the verification token back to
// the known plaintext.
func CheckVerifier(key, token []byte) bool {
	plain, err := Decrypt(key, token)
	if err != nil {
		return false
	}
	return bytes.Equal(plain, verifierPlaintext)
}
