// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

package vault

import "errors"

var (
	// ErrVaultLocked is returned by credential operations while no key
	// material is held in memory.
	ErrVaultLocked = errors.New("vault is locked")

	// ErrNotInitialized is returned when no vault storage exists yet.
	ErrNotInitialized = errors.New("vault is not initialized")

	// ErrAlreadyInitialized is returned by Init on an existing vault.
	ErrAlreadyInitialized = errors.New("vault is already initialized")

	// ErrWrongMasterPassword is returned when the master password fails the
	// verification token check.
	ErrWrongMasterPassword = errors.New("wrong master password")

	// ErrCredentialNotFound is returned for lookups of unknown names.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrCredentialExists is returned when adding a name that already exists.
	ErrCredentialExists = errors.New("credential already exists")

	// ErrStorageCorruption is returned when an encrypted blob fails its
	// authentication tag check.
	ErrStorageCorruption = errors.New("storage corruption: ciphertext failed authentication")

	// ErrRotationFailed wraps any error during master-password rotation.
	// The store is guaranteed to remain readable under the old password.
	ErrRotationFailed = errors.New("master password rotation failed")
)
