// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/uptrace/bun"
)

// SanitizeGroupID maps a directory group id onto the characters allowed in
// table names. Anything outside [A-Za-z0-9_] becomes an underscore.
func SanitizeGroupID(groupID string) string {
	var b strings.Builder
	b.Grow(len(groupID))
	for _, r := range groupID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// groupTables names the four tables owned by one group.
type groupTables struct {
	gid     string
	keys    bun.Ident
	devices bun.Ident
	users   bun.Ident
	acks    bun.Ident
}

func tablesFor(groupID string) (groupTables, error) {
	gid := SanitizeGroupID(strings.TrimSpace(groupID))
	if gid == "" || strings.Trim(gid, "_") == "" {
		return groupTables{}, fmt.Errorf("%w: %q", ErrInvalidGroup, groupID)
	}
	return groupTables{
		gid:     gid,
		keys:    bun.Ident("keys_" + gid),
		devices: bun.Ident("devices_" + gid),
		users:   bun.Ident("users_" + gid),
		acks:    bun.Ident("acks_" + gid),
	}, nil
}

// columnTypes returns the text, key and timestamp column types for dbType.
// MySQL cannot index TEXT without a prefix length.
func columnTypes(dbType string) (text, key, ts string) {
	switch dbType {
	case "mysql":
		return "VARCHAR(255)", "VARCHAR(191)", "TIMESTAMP NULL"
	case "postgres":
		return "TEXT", "TEXT", "TIMESTAMPTZ"
	default:
		return "TEXT", "TEXT", "TIMESTAMP"
	}
}

type ddlStatement struct {
	query string
	table bun.Ident
}

func (s *Store) groupDDL(t groupTables) []ddlStatement {
	text, key, ts := columnTypes(s.dbType)
	return []ddlStatement{
		{fmt.Sprintf("CREATE TABLE IF NOT EXISTS ? (serial_number %s PRIMARY KEY, key_id BIGINT NOT NULL DEFAULT 0, user_id %s NOT NULL DEFAULT '', driver_key_type %s NOT NULL DEFAULT '', first_seen %s)", key, key, text, ts), t.keys},
		{fmt.Sprintf("CREATE TABLE IF NOT EXISTS ? (serial_number %s PRIMARY KEY, device_id %s NOT NULL, name %s NOT NULL DEFAULT '', first_seen %s)", key, key, text, ts), t.devices},
		{fmt.Sprintf("CREATE TABLE IF NOT EXISTS ? (user_id %s PRIMARY KEY, name %s NOT NULL DEFAULT '', first_seen %s)", key, text, ts), t.users},
		{fmt.Sprintf("CREATE TABLE IF NOT EXISTS ? (serial_number %s NOT NULL, device_id %s NOT NULL, delivered INTEGER NOT NULL DEFAULT 0, updated_at %s, PRIMARY KEY (serial_number, device_id))", key, key, ts), t.acks},
	}
}

// EnsureSchema creates the group's tables if they are absent and registers
// the group in ledger_groups.
func (s *Store) EnsureSchema(ctx context.Context, groupID string) error {
	const op = "ensure schema"
	t, err := tablesFor(groupID)
	if err != nil {
		return wrap(op, groupID, err)
	}
	defer s.lock(t.gid)()

	for _, ddl := range s.groupDDL(t) {
		if _, err := ExecRaw(ctx, s.bun, ddl.query, ddl.table); err != nil {
			return wrap(op, t.gid, err)
		}
	}

	var known []string
	if err := QueryRawInto(ctx, s.bun, &known, "SELECT group_id FROM ledger_groups WHERE group_id = ?", t.gid); err != nil {
		return wrap(op, t.gid, err)
	}
	if len(known) == 0 {
		if _, err := ExecRaw(ctx, s.bun, "INSERT INTO ledger_groups (group_id, created_at) VALUES (?, ?)", t.gid, s.timestamp()); err != nil {
			return wrap(op, t.gid, err)
		}
	}
	return nil
}

// Groups lists the sanitized ids of every group with ledger tables.
func (s *Store) Groups(ctx context.Context) ([]string, error) {
	var ids []string
	if err := QueryRawInto(ctx, s.bun, &ids, "SELECT group_id FROM ledger_groups ORDER BY group_id"); err != nil {
		return nil, wrap("list groups", "", err)
	}
	return ids, nil
}

// ClearGroup deletes every row of the group's tables and its pending clears
// and removals. The tables themselves remain.
func (s *Store) ClearGroup(ctx context.Context, groupID string) error {
	const op = "clear group"
	t, err := tablesFor(groupID)
	if err != nil {
		return wrap(op, groupID, err)
	}
	defer s.lock(t.gid)()

	err = WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		return clearTables(ctx, tx, t)
	})
	return wrap(op, t.gid, err)
}

func clearTables(ctx context.Context, tx bun.Tx, t groupTables) error {
	for _, table := range []bun.Ident{t.acks, t.keys, t.devices, t.users} {
		if _, err := ExecRaw(ctx, tx, "DELETE FROM ?", table); err != nil {
			return err
		}
	}
	for _, table := range []bun.Ident{"pending_clears", "pending_removals"} {
		if _, err := ExecRaw(ctx, tx, "DELETE FROM ? WHERE group_id = ?", table, t.gid); err != nil {
			return err
		}
	}
	return nil
}
