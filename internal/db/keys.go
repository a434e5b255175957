// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"strings"

	"github.com/uptrace/bun"

	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/model"
)

// UpsertKeys inserts the keys whose serial number is not yet in the group's
// ledger and returns exactly those, in input order. Known keys whose owner or
// key id changed are updated in place and are not reported. Every inserted
// key starts unacknowledged on every known device, and a removal still owed
// for it is dropped since the add supersedes it.
func (s *Store) UpsertKeys(ctx context.Context, groupID string, keys []model.Key) ([]model.Key, error) {
	const op = "upsert keys"
	t, err := tablesFor(groupID)
	if err != nil {
		return nil, wrap(op, groupID, err)
	}
	defer s.lock(t.gid)()

	var inserted []model.Key
	err = WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		inserted = nil
		var existing []keyRow
		if err := QueryRawInto(ctx, tx, &existing, "SELECT serial_number, key_id, user_id, driver_key_type FROM ?", t.keys); err != nil {
			return err
		}
		known := make(map[string]keyRow, len(existing))
		for _, r := range existing {
			known[r.SerialNumber] = r
		}

		ts := s.timestamp()
		var rows [][]any
		seen := make(map[string]bool, len(keys))
		for _, k := range keys {
			serial := strings.TrimSpace(k.SerialNumber)
			if serial == "" || seen[serial] {
				continue
			}
			seen[serial] = true
			k.SerialNumber = serial
			row := keyRowOf(k)
			if prev, ok := known[serial]; ok {
				if prev != row {
					if _, err := ExecRaw(ctx, tx, "UPDATE ? SET key_id = ?, user_id = ?, driver_key_type = ? WHERE serial_number = ?",
						t.keys, row.KeyID, row.UserID, row.DriverKeyType, serial); err != nil {
						return err
					}
				}
				continue
			}
			rows = append(rows, []any{row.SerialNumber, row.KeyID, row.UserID, row.DriverKeyType, ts})
			inserted = append(inserted, k)
		}
		if len(inserted) == 0 {
			return nil
		}
		if err := insertRows(ctx, tx, t.keys, []string{"serial_number", "key_id", "user_id", "driver_key_type", "first_seen"}, rows); err != nil {
			return err
		}

		var deviceIDs []string
		if err := QueryRawInto(ctx, tx, &deviceIDs, "SELECT device_id FROM ?", t.devices); err != nil {
			return err
		}
		serials := serialsOf(inserted)
		if err := deleteIn(ctx, tx, bun.Ident("pending_removals"), "serial_number", serials, "group_id = ?", t.gid); err != nil {
			return err
		}
		if err := deleteIn(ctx, tx, t.acks, "serial_number", serials, ""); err != nil {
			return err
		}
		return insertRows(ctx, tx, t.acks, ackColumns, ackCells(serials, deviceIDs, 0, ts))
	})
	if err != nil {
		return nil, wrap(op, t.gid, err)
	}
	return inserted, nil
}

// PruneKeys deletes the keys whose serial number is not in keep and returns
// the removed rows. Their acknowledgment cells go in the same transaction,
// and a pending removal is recorded for every known device so the remove
// command survives a failed delivery.
func (s *Store) PruneKeys(ctx context.Context, groupID string, keep []model.Key) ([]model.Key, error) {
	const op = "prune keys"
	t, err := tablesFor(groupID)
	if err != nil {
		return nil, wrap(op, groupID, err)
	}
	defer s.lock(t.gid)()

	keepSet := make(map[string]struct{}, len(keep))
	for _, k := range keep {
		keepSet[strings.TrimSpace(k.SerialNumber)] = struct{}{}
	}

	var removed []model.Key
	err = WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		removed = nil
		var existing []keyRow
		if err := QueryRawInto(ctx, tx, &existing, "SELECT serial_number, key_id, user_id, driver_key_type FROM ? ORDER BY serial_number", t.keys); err != nil {
			return err
		}
		for _, r := range existing {
			if _, ok := keepSet[r.SerialNumber]; !ok {
				removed = append(removed, r.model())
			}
		}
		if len(removed) == 0 {
			return nil
		}
		serials := serialsOf(removed)
		var deviceIDs []string
		if err := QueryRawInto(ctx, tx, &deviceIDs, "SELECT device_id FROM ?", t.devices); err != nil {
			return err
		}
		if err := deleteIn(ctx, tx, bun.Ident("pending_removals"), "serial_number", serials, "group_id = ?", t.gid); err != nil {
			return err
		}
		if err := insertRows(ctx, tx, bun.Ident("pending_removals"), removalColumns, removalRows(t.gid, removed, deviceIDs, s.timestamp())); err != nil {
			return err
		}
		if err := deleteIn(ctx, tx, t.acks, "serial_number", serials, ""); err != nil {
			return err
		}
		return deleteIn(ctx, tx, t.keys, "serial_number", serials, "")
	})
	if err != nil {
		return nil, wrap(op, t.gid, err)
	}
	return removed, nil
}

// Keys returns the group's ledger keys ordered by serial number.
func (s *Store) Keys(ctx context.Context, groupID string) ([]model.Key, error) {
	t, err := tablesFor(groupID)
	if err != nil {
		return nil, wrap("read keys", groupID, err)
	}
	var rows []keyRow
	if err := QueryRawInto(ctx, s.bun, &rows, "SELECT serial_number, key_id, user_id, driver_key_type FROM ? ORDER BY serial_number", t.keys); err != nil {
		return nil, wrap("read keys", t.gid, err)
	}
	out := make([]model.Key, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}
