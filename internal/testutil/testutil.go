// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

// Package testutil holds fakes and helpers shared by package tests.
package testutil

import (
	"strings"
	"testing"

	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/db"
)

// NewLedger opens an in-memory sqlite ledger private to the calling test and
// closes it when the test ends.
func NewLedger(t testing.TB) *db.Store {
	t.Helper()
	dsn := "file:" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "?mode=memory&cache=shared"
	s, err := db.NewStoreFromDSN("sqlite", dsn)
	if err != nil {
		t.Fatalf("NewStoreFromDSN failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}
