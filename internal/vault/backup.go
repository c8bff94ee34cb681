// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

package vault

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rvail/netvault/internal/db"
)

// BackupData is the portable export format. Secret fields stay encrypted
// under the vault key at export time: a backup restored elsewhere only
// becomes readable with the matching master password.
type BackupData struct {
	FormatVersion int                `json:"format_version"`
	ExportedAt    time.Time          `json:"exported_at"`
	Salt          []byte             `json:"salt"`
	Verifier      []byte             `json:"verifier"`
	KDFIterations int                `json:"kdf_iterations"`
	VaultVersion  int                `json:"vault_version"`
	Credentials   []BackupCredential `json:"credentials"`
}

// BackupCredential mirrors the persisted record shape, blobs included.
type BackupCredential struct {
	Name             string `json:"name"`
	Username         string `json:"username"`
	EncPassword      []byte `json:"enc_password,omitempty"`
	EncPrivateKey    []byte `json:"enc_private_key,omitempty"`
	EncKeyPassphrase []byte `json:"enc_key_passphrase,omitempty"`
	MatchHosts       string `json:"match_hosts"`
	MatchTags        string `json:"match_tags"`
	JumpHost         string `json:"jump_host,omitempty"`
	IsDefault        bool   `json:"is_default"`
}

// ExportBackup snapshots the vault metadata and every encrypted record.
// Available while locked: nothing is decrypted.
func (v *Vault) ExportBackup() (*BackupData, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	meta, err := v.loadMetaShared()
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, ErrNotInitialized
	}
	recs, err := v.store.ListCredentials()
	if err != nil {
		return nil, err
	}

	backup := &BackupData{
		FormatVersion: 1,
		ExportedAt:    time.Now().UTC(),
		Salt:          meta.Salt,
		Verifier:      meta.Verifier,
		KDFIterations: meta.KDFIterations,
		VaultVersion:  meta.Version,
	}
	for i := range recs {
		bc := BackupCredential{
			Name:             recs[i].Name,
			Username:         recs[i].Username,
			EncPassword:      recs[i].EncPassword,
			EncPrivateKey:    recs[i].EncPrivateKey,
			EncKeyPassphrase: recs[i].EncKeyPassphrase,
			MatchHosts:       recs[i].MatchHosts,
			MatchTags:        recs[i].MatchTags,
			IsDefault:        recs[i].IsDefault,
		}
		if recs[i].JumpHost.Valid {
			bc.JumpHost = recs[i].JumpHost.String
		}
		backup.Credentials = append(backup.Credentials, bc)
	}
	return backup, nil
}

// loadMetaShared is loadMeta for callers holding the read lock; it does not
// populate the cache to avoid writing under a read lock.
func (v *Vault) loadMetaShared() (*db.VaultMeta, error) {
	if v.meta != nil {
		return v.meta, nil
	}
	return v.store.GetMeta()
}

// ImportBackup restores a backup into an uninitialized vault. The restored
// store unlocks with the master password the backup was exported under.
func (v *Vault) ImportBackup(backup *BackupData) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	meta, err := v.loadMeta()
	if err != nil {
		return err
	}
	if meta != nil {
		return ErrAlreadyInitialized
	}
	if backup.FormatVersion != 1 {
		return fmt.Errorf("unsupported backup format version %d", backup.FormatVersion)
	}
	if len(backup.Salt) == 0 || len(backup.Verifier) == 0 || backup.KDFIterations <= 0 {
		return fmt.Errorf("backup is missing vault key material")
	}

	newMeta := &db.VaultMeta{
		Salt:          backup.Salt,
		Verifier:      backup.Verifier,
		KDFIterations: backup.KDFIterations,
		Version:       backup.VaultVersion,
	}
	if err := v.store.SaveMeta(newMeta); err != nil {
		return err
	}
	for _, bc := range backup.Credentials {
		rec := &db.CredentialRecord{
			Name:             bc.Name,
			Username:         bc.Username,
			EncPassword:      bc.EncPassword,
			EncPrivateKey:    bc.EncPrivateKey,
			EncKeyPassphrase: bc.EncKeyPassphrase,
			MatchHosts:       bc.MatchHosts,
			MatchTags:        bc.MatchTags,
			IsDefault:        bc.IsDefault,
		}
		if bc.JumpHost != "" {
			rec.JumpHost = sql.NullString{String: bc.JumpHost, Valid: true}
		}
		if _, err := v.store.InsertCredential(rec); err != nil {
			return fmt.Errorf("failed to restore credential %q: %w", bc.Name, err)
		}
	}
	v.meta = newMeta
	return nil
}
