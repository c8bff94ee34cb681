// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"errors"
	"strings"
)

// ErrDuplicate is returned when inserting a record whose name already exists.
var ErrDuplicate = errors.New("duplicate record")

// ErrNotFound is returned when a named record does not exist.
var ErrNotFound = errors.New("record not found")

// MapDBError inspects low-level driver errors and maps common constraint
// violations to package-level sentinel errors. This is a conservative,
// string-based mapping to avoid importing SQL driver packages here.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}
	le := strings.ToLower(err.Error())
	// MySQL duplicate entry (1062), Postgres unique violation (23505),
	// SQLite unique constraint.
	if strings.Contains(le, "duplicate") || strings.Contains(le, "unique") ||
		strings.Contains(le, "23505") || strings.Contains(le, "1062") {
		return ErrDuplicate
	}
	return err
}
