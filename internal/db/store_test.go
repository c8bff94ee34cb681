// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

func newStore(t *testing.T) Store {
	t.Helper()
	store, err := NewStoreFromDSN("sqlite", "file::memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func record(name string) *CredentialRecord {
	return &CredentialRecord{
		Name:        name,
		Username:    "admin",
		EncPassword: []byte{0x01, 0x02, 0x03},
		MatchHosts:  `["*.lab"]`,
		MatchTags:   `[]`,
	}
}

func TestMetaLifecycle(t *testing.T) {
	store := newStore(t)

	meta, err := store.GetMeta()
	if err != nil {
		t.Fatalf("get meta: %v", err)
	}
	if meta != nil {
		t.Fatal("fresh store has a metadata row")
	}

	if err := store.SaveMeta(&VaultMeta{
		Salt:          []byte("0123456789abcdef"),
		Verifier:      []byte("token"),
		KDFIterations: 600_000,
		Version:       1,
	}); err != nil {
		t.Fatalf("save meta: %v", err)
	}

	meta, err = store.GetMeta()
	if err != nil {
		t.Fatalf("get meta: %v", err)
	}
	if meta == nil || meta.KDFIterations != 600_000 {
		t.Fatalf("meta = %+v", meta)
	}

	// Saving again updates the single row instead of adding one.
	meta.KDFIterations = 700_000
	if err := store.SaveMeta(meta); err != nil {
		t.Fatalf("update meta: %v", err)
	}
	meta, _ = store.GetMeta()
	if meta.KDFIterations != 700_000 {
		t.Errorf("kdf iterations = %d after update, want 700000", meta.KDFIterations)
	}
}

func TestCredentialCRUD(t *testing.T) {
	store := newStore(t)

	id, err := store.InsertCredential(record("core"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id == 0 {
		t.Error("insert returned zero id")
	}

	if _, err := store.InsertCredential(record("core")); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate insert = %v, want ErrDuplicate", err)
	}

	rec, err := store.GetCredentialByName("core")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Username != "admin" || len(rec.EncPassword) != 3 {
		t.Errorf("record = %+v", rec)
	}

	if _, err := store.GetCredentialByName("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get unknown = %v, want ErrNotFound", err)
	}

	rec.Username = "netops"
	rec.JumpHost = sql.NullString{String: `{"hostname":"bastion"}`, Valid: true}
	if err := store.UpdateCredential(rec); err != nil {
		t.Fatalf("update: %v", err)
	}
	rec, _ = store.GetCredentialByName("core")
	if rec.Username != "netops" || !rec.JumpHost.Valid {
		t.Errorf("update not persisted: %+v", rec)
	}

	recs, err := store.ListCredentials()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("list = %d records, want 1", len(recs))
	}

	removed, err := store.DeleteCredential("core")
	if err != nil || !removed {
		t.Fatalf("delete: removed=%v err=%v", removed, err)
	}
	removed, err = store.DeleteCredential("core")
	if err != nil || removed {
		t.Fatalf("second delete: removed=%v err=%v", removed, err)
	}
}

func TestSetDefaultIsExclusive(t *testing.T) {
	store := newStore(t)
	for _, name := range []string{"a", "b", "c"} {
		if _, err := store.InsertCredential(record(name)); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := store.GetDefault(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get default with none = %v, want ErrNotFound", err)
	}
	if err := store.SetDefault("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("set unknown default = %v, want ErrNotFound", err)
	}

	if err := store.SetDefault("a"); err != nil {
		t.Fatalf("set default a: %v", err)
	}
	if err := store.SetDefault("b"); err != nil {
		t.Fatalf("set default b: %v", err)
	}

	def, err := store.GetDefault()
	if err != nil {
		t.Fatalf("get default: %v", err)
	}
	if def.Name != "b" {
		t.Errorf("default = %s, want b", def.Name)
	}

	recs, _ := store.ListCredentials()
	count := 0
	for _, r := range recs {
		if r.IsDefault {
			count++
		}
	}
	if count != 1 {
		t.Errorf("%d records flagged default, want 1", count)
	}
}

func TestReplaceAllSwapsEverything(t *testing.T) {
	store := newStore(t)
	if err := store.SaveMeta(&VaultMeta{Salt: []byte("old-salt........"), Verifier: []byte("old"), KDFIterations: 1, Version: 1}); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a", "b"} {
		if _, err := store.InsertCredential(record(name)); err != nil {
			t.Fatal(err)
		}
	}

	meta, _ := store.GetMeta()
	recs, _ := store.ListCredentials()
	meta.Verifier = []byte("new")
	for i := range recs {
		recs[i].EncPassword = []byte{0xaa, 0xbb}
	}

	if err := store.ReplaceAll(meta, recs); err != nil {
		t.Fatalf("replace all: %v", err)
	}

	meta, _ = store.GetMeta()
	if string(meta.Verifier) != "new" {
		t.Error("metadata row not swapped")
	}
	recs, _ = store.ListCredentials()
	for _, r := range recs {
		if len(r.EncPassword) != 2 {
			t.Errorf("record %s not re-encrypted", r.Name)
		}
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "vault.db")

	store, err := NewStoreFromDSN("sqlite", dsn)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := store.InsertCredential(record("persisted")); err != nil {
		t.Fatal(err)
	}
	store.Close()

	// Re-opening runs migrations again; applied versions are skipped and
	// existing data survives.
	store, err = NewStoreFromDSN("sqlite", dsn)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer store.Close()
	if _, err := store.GetCredentialByName("persisted"); err != nil {
		t.Errorf("record lost across reopen: %v", err)
	}
}

func TestUnsupportedDatabaseType(t *testing.T) {
	if _, err := NewStoreFromDSN("oracle", "dsn"); err == nil {
		t.Fatal("expected error for unsupported database type")
	}
}
