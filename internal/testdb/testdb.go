// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package testdb opens throwaway migrated databases for store tests.
package testdb

import (
	"path/filepath"
	"testing"

	"github.com/autobrr/qrules/internal/database"
)

// Open creates a fresh migrated database in the test's temp directory and
// closes it when the test ends.
func Open(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}
