// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"database/sql"
	"time"

	"github.com/uptrace/bun"
)

// VaultMeta is the single-row table holding vault-level key material:
// the KDF salt, the verification token and the iteration count. There is
// exactly one row (id=1) once the vault is initialized.
type VaultMeta struct {
	bun.BaseModel `bun:"table:vault_meta"`

	ID            int64     `bun:"id,pk"`
	Salt          []byte    `bun:"salt"`
	Verifier      []byte    `bun:"verifier"`
	KDFIterations int       `bun:"kdf_iterations"`
	Version       int       `bun:"version"`
	CreatedAt     time.Time `bun:"created_at"`
	UpdatedAt     time.Time `bun:"updated_at"`
}

// CredentialRecord is the persisted, at-rest-encrypted form of a credential.
// Secret fields are AES-GCM blobs; match rules and the jump reference are
// stored as JSON text so new fields can be added without touching blobs.
type CredentialRecord struct {
	bun.BaseModel `bun:"table:credentials"`

	ID               int64          `bun:"id,pk,autoincrement"`
	Name             string         `bun:"name"`
	Username         string         `bun:"username"`
	EncPassword      []byte         `bun:"enc_password,nullzero"`
	EncPrivateKey    []byte         `bun:"enc_private_key,nullzero"`
	EncKeyPassphrase []byte         `bun:"enc_key_passphrase,nullzero"`
	MatchHosts       string         `bun:"match_hosts"`
	MatchTags        string         `bun:"match_tags"`
	JumpHost         sql.NullString `bun:"jump_host"`
	IsDefault        bool           `bun:"is_default"`
	CreatedAt        time.Time      `bun:"created_at"`
	UpdatedAt        time.Time      `bun:"updated_at"`
}

// Store is the persistence contract consumed by the vault. Implementations
// must make ReplaceAll atomic: either every record and the metadata row are
// swapped, or nothing is.
type Store interface {
	// GetMeta returns the vault metadata row, or nil when the vault has
	// never been initialized.
	GetMeta() (*VaultMeta, error)
	// SaveMeta inserts or updates the single metadata row.
	SaveMeta(meta *VaultMeta) error

	InsertCredential(rec *CredentialRecord) (int64, error)
	GetCredentialByName(name string) (*CredentialRecord, error)
	ListCredentials() ([]CredentialRecord, error)
	UpdateCredential(rec *CredentialRecord) error
	DeleteCredential(name string) (bool, error)

	// SetDefault marks the named credential as default and clears the flag
	// everywhere else, in one transaction.
	SetDefault(name string) error
	GetDefault() (*CredentialRecord, error)

	// ReplaceAll swaps the metadata row and every credential record in a
	// single transaction. Used by master-password rotation.
	ReplaceAll(meta *VaultMeta, recs []CredentialRecord) error

	Close() error
}
