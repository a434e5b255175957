// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"strings"
	"testing"
	"time"
)

// newTestStore opens an in-memory sqlite Store private to the calling test
// and closes it when the test ends.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	s, err := NewStoreFromDSN("sqlite", dsn)
	if err != nil {
		t.Fatalf("NewStoreFromDSN failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// fixedClock pins the store's timestamps.
func fixedClock(s *Store, at time.Time) {
	s.now = func() time.Time { return at }
}
