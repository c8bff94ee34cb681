// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

package vault

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"
)

// WriteBackupFile exports the vault to a zstd-compressed JSON file. The
// file contains only encrypted blobs and key-derivation parameters, so it
// is written 0600 out of caution, not necessity.
func (v *Vault) WriteBackupFile(path string) error {
	backup, err := v.ExportBackup()
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}

	zw, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return err
	}
	if err := json.NewEncoder(zw).Encode(backup); err != nil {
		zw.Close()
		f.Close()
		return fmt.Errorf("failed to write backup: %w", err)
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("failed to finalize backup: %w", err)
	}
	return f.Close()
}

// ReadBackupFile loads a backup previously written by WriteBackupFile and
// restores it into this (uninitialized) vault.
func (v *Vault) ReadBackupFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open backup file: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to read backup file: %w", err)
	}
	defer zr.Close()

	var backup BackupData
	if err := json.NewDecoder(zr.IOReadCloser()).Decode(&backup); err != nil {
		return fmt.Errorf("backup file is corrupt: %w", err)
	}
	return v.ImportBackup(&backup)
}
