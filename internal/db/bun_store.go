// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
)

// bunStore implements Store on top of a *bun.DB. The same implementation
// serves all three dialects; anything engine-specific lives in the
// migrations.
type bunStore struct {
	bun *bun.DB
}

func (s *bunStore) GetMeta() (*VaultMeta, error) {
	ctx := context.Background()
	var meta VaultMeta
	err := s.bun.NewSelect().Model(&meta).Where("id = ?", 1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &meta, nil
}

func (s *bunStore) SaveMeta(meta *VaultMeta) error {
	ctx := context.Background()
	meta.ID = 1
	meta.UpdatedAt = time.Now().UTC()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = meta.UpdatedAt
	}
	exists, err := s.bun.NewSelect().Model((*VaultMeta)(nil)).Where("id = ?", 1).Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		_, err = s.bun.NewUpdate().Model(meta).WherePK().Exec(ctx)
	} else {
		_, err = s.bun.NewInsert().Model(meta).Exec(ctx)
	}
	return err
}

func (s *bunStore) InsertCredential(rec *CredentialRecord) (int64, error) {
	ctx := context.Background()
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if _, err := s.bun.NewInsert().Model(rec).Exec(ctx); err != nil {
		return 0, MapDBError(err)
	}
	return rec.ID, nil
}

func (s *bunStore) GetCredentialByName(name string) (*CredentialRecord, error) {
	ctx := context.Background()
	var rec CredentialRecord
	err := s.bun.NewSelect().Model(&rec).Where("name = ?", name).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *bunStore) ListCredentials() ([]CredentialRecord, error) {
	ctx := context.Background()
	var recs []CredentialRecord
	if err := s.bun.NewSelect().Model(&recs).Order("name ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *bunStore) UpdateCredential(rec *CredentialRecord) error {
	ctx := context.Background()
	rec.UpdatedAt = time.Now().UTC()
	res, err := s.bun.NewUpdate().Model(rec).WherePK().Exec(ctx)
	if err != nil {
		return MapDBError(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *bunStore) DeleteCredential(name string) (bool, error) {
	ctx := context.Background()
	res, err := s.bun.NewDelete().Model((*CredentialRecord)(nil)).Where("name = ?", name).Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *bunStore) SetDefault(name string) error {
	ctx := context.Background()
	tx, err := s.bun.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.NewUpdate().Model((*CredentialRecord)(nil)).
		Set("is_default = ?", false).
		Where("is_default = ?", true).
		Exec(ctx); err != nil {
		return err
	}
	res, err := tx.NewUpdate().Model((*CredentialRecord)(nil)).
		Set("is_default = ?", true).
		Where("name = ?", name).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *bunStore) GetDefault() (*CredentialRecord, error) {
	ctx := context.Background()
	var rec CredentialRecord
	err := s.bun.NewSelect().Model(&rec).Where("is_default = ?", true).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *bunStore) ReplaceAll(meta *VaultMeta, recs []CredentialRecord) error {
	ctx := context.Background()
	tx, err := s.bun.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	meta.ID = 1
	meta.UpdatedAt = now
	if _, err := tx.NewUpdate().Model(meta).WherePK().Exec(ctx); err != nil {
		return err
	}
	for i := range recs {
		recs[i].UpdatedAt = now
		if _, err := tx.NewUpdate().Model(&recs[i]).WherePK().Exec(ctx); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *bunStore) Close() error {
	return s.bun.Close()
}
