// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"

	"github.com/uptrace/bun"

	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/model"
)

type removalRow struct {
	DeviceID      string `bun:"device_id"`
	SerialNumber  string `bun:"serial_number"`
	KeyID         int64  `bun:"key_id"`
	UserID        string `bun:"user_id"`
	DriverKeyType string `bun:"driver_key_type"`
}

func (r removalRow) key() model.Key {
	return model.Key{SerialNumber: r.SerialNumber, KeyID: r.KeyID, ID: r.UserID, DriverKeyType: r.DriverKeyType}
}

// PendingRemovals returns the pruned keys whose remove command to deviceID
// has not succeeded yet, ordered by serial number.
func (s *Store) PendingRemovals(ctx context.Context, groupID, deviceID string) ([]model.Key, error) {
	t, err := tablesFor(groupID)
	if err != nil {
		return nil, wrap("read pending removals", groupID, err)
	}
	var rows []removalRow
	if err := QueryRawInto(ctx, s.bun, &rows,
		"SELECT device_id, serial_number, key_id, user_id, driver_key_type FROM pending_removals WHERE group_id = ? AND device_id = ? ORDER BY serial_number",
		t.gid, deviceID); err != nil {
		return nil, wrap("read pending removals", t.gid, err)
	}
	out := make([]model.Key, len(rows))
	for i, r := range rows {
		out[i] = r.key()
	}
	return out, nil
}

// ResolvePendingRemovals forgets the pending removals of serials on
// deviceID.
func (s *Store) ResolvePendingRemovals(ctx context.Context, groupID, deviceID string, serials []string) error {
	const op = "resolve pending removals"
	if len(serials) == 0 {
		return nil
	}
	t, err := tablesFor(groupID)
	if err != nil {
		return wrap(op, groupID, err)
	}
	defer s.lock(t.gid)()
	err = deleteIn(ctx, s.bun, bun.Ident("pending_removals"), "serial_number", serials, "group_id = ? AND device_id = ?", t.gid, deviceID)
	return wrap(op, t.gid, err)
}

// pendingRemovalsOf returns every pending removal of the group, for export.
func (s *Store) pendingRemovalsOf(ctx context.Context, gid string) ([]model.PendingRemoval, error) {
	var rows []removalRow
	if err := QueryRawInto(ctx, s.bun, &rows,
		"SELECT device_id, serial_number, key_id, user_id, driver_key_type FROM pending_removals WHERE group_id = ? ORDER BY device_id, serial_number",
		gid); err != nil {
		return nil, wrap("read pending removals", gid, err)
	}
	out := make([]model.PendingRemoval, len(rows))
	for i, r := range rows {
		out[i] = model.PendingRemoval{DeviceID: r.DeviceID, Key: r.key()}
	}
	return out, nil
}
