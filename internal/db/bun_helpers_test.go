// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"errors"
	"testing"

	"github.com/uptrace/bun"
)

func TestWithTx_CommitsAndRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		_, err := ExecRaw(ctx, tx, "INSERT INTO audit_log (timestamp, action, details) VALUES (?, ?, ?)", s.timestamp(), "COMMITTED", "d")
		return err
	}); err != nil {
		t.Fatalf("WithTx failed: %v", err)
	}

	boom := errors.New("boom")
	err := WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		if _, err := ExecRaw(ctx, tx, "INSERT INTO audit_log (timestamp, action, details) VALUES (?, ?, ?)", s.timestamp(), "ROLLED_BACK", "d"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	var actions []string
	if err := QueryRawInto(ctx, s.bun, &actions, "SELECT action FROM audit_log ORDER BY id"); err != nil {
		t.Fatalf("QueryRawInto failed: %v", err)
	}
	if len(actions) != 1 || actions[0] != "COMMITTED" {
		t.Fatalf("expected only the committed row, got %v", actions)
	}
}
