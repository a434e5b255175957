// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/model"
)

// UpsertDevices inserts the devices whose serial number is not yet in the
// group's ledger and returns exactly those. Each inserted device gets an
// unacknowledged cell for every ledger key in the same transaction, so a
// device is never known without owing its list. A known serial reported
// under a new device id keeps its row; the id is updated and its
// acknowledgment cells and pending removals follow it. Id changes are
// applied as one mapping over the whole snapshot, so devices may swap or
// rotate ids within a run.
func (s *Store) UpsertDevices(ctx context.Context, groupID string, devices []model.Device) ([]model.Device, error) {
	const op = "upsert devices"
	t, err := tablesFor(groupID)
	if err != nil {
		return nil, wrap(op, groupID, err)
	}
	defer s.lock(t.gid)()

	var inserted []model.Device
	err = WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		inserted = nil
		var existing []deviceRow
		if err := QueryRawInto(ctx, tx, &existing, "SELECT serial_number, device_id, name FROM ?", t.devices); err != nil {
			return err
		}
		known := make(map[string]deviceRow, len(existing))
		for _, r := range existing {
			known[r.SerialNumber] = r
		}

		var rows [][]any
		ts := s.timestamp()
		seen := make(map[string]bool, len(devices))
		moves := make(map[string]string)
		for _, d := range devices {
			serial := strings.TrimSpace(d.SerialNumber)
			if serial == "" || seen[serial] {
				continue
			}
			seen[serial] = true
			prev, ok := known[serial]
			if !ok {
				d.SerialNumber = serial
				rows = append(rows, []any{serial, d.ID, d.Name, ts})
				inserted = append(inserted, d)
				continue
			}
			if prev.DeviceID != d.ID {
				moves[prev.DeviceID] = d.ID
				dbLogf("db: device %s in group %s moved from id %s to %s", serial, t.gid, prev.DeviceID, d.ID)
			}
			if prev.DeviceID != d.ID || prev.Name != d.Name {
				if _, err := ExecRaw(ctx, tx, "UPDATE ? SET device_id = ?, name = ? WHERE serial_number = ?", t.devices, d.ID, d.Name, serial); err != nil {
					return err
				}
			}
		}
		if err := remapDeviceIDs(ctx, tx, t, moves, ts); err != nil {
			return err
		}
		if err := insertRows(ctx, tx, t.devices, []string{"serial_number", "device_id", "name", "first_seen"}, rows); err != nil {
			return err
		}
		for _, d := range inserted {
			if err := forgetDeviceID(ctx, tx, t, d.ID); err != nil {
				return err
			}
			if err := addAckCells(ctx, tx, t, d.ID, ts); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrap(op, t.gid, err)
	}
	return inserted, nil
}

// remapDeviceIDs moves the cells and pending removals of every old id in
// moves to its new id. All affected rows are read before any is rewritten,
// and rows already under a target id that is not itself moving are dropped.
func remapDeviceIDs(ctx context.Context, tx bun.Tx, t groupTables, moves map[string]string, ts time.Time) error {
	if len(moves) == 0 {
		return nil
	}
	from := make([]string, 0, len(moves))
	affected := make([]string, 0, 2*len(moves))
	for old, id := range moves {
		from = append(from, old)
		affected = append(affected, old, id)
	}
	slices.Sort(from)
	slices.Sort(affected)
	affected = slices.Compact(affected)

	var cells []ackRow
	var removals []removalRow
	for start := 0; start < len(from); start += batchRows {
		chunk := from[start:min(start+batchRows, len(from))]
		var c []ackRow
		if err := QueryRawInto(ctx, tx, &c, "SELECT serial_number, device_id, delivered FROM ? WHERE device_id IN (?)", t.acks, bun.In(chunk)); err != nil {
			return err
		}
		var r []removalRow
		if err := QueryRawInto(ctx, tx, &r,
			"SELECT device_id, serial_number, key_id, user_id, driver_key_type FROM pending_removals WHERE group_id = ? AND device_id IN (?)",
			t.gid, bun.In(chunk)); err != nil {
			return err
		}
		cells = append(cells, c...)
		removals = append(removals, r...)
	}

	if err := deleteIn(ctx, tx, t.acks, "device_id", affected, ""); err != nil {
		return err
	}
	if err := deleteIn(ctx, tx, bun.Ident("pending_removals"), "device_id", affected, "group_id = ?", t.gid); err != nil {
		return err
	}

	cellRows := make([][]any, len(cells))
	for i, c := range cells {
		cellRows[i] = []any{c.SerialNumber, moves[c.DeviceID], c.Delivered, ts}
	}
	if err := insertRows(ctx, tx, t.acks, ackColumns, cellRows); err != nil {
		return err
	}
	pending := make([][]any, len(removals))
	for i, r := range removals {
		pending[i] = []any{t.gid, r.SerialNumber, moves[r.DeviceID], r.KeyID, r.UserID, r.DriverKeyType, ts}
	}
	return insertRows(ctx, tx, bun.Ident("pending_removals"), removalColumns, pending)
}

// forgetDeviceID drops the cells and pending removals left under deviceID
// by a device that no longer holds that id.
func forgetDeviceID(ctx context.Context, tx bun.Tx, t groupTables, deviceID string) error {
	if _, err := ExecRaw(ctx, tx, "DELETE FROM ? WHERE device_id = ?", t.acks, deviceID); err != nil {
		return err
	}
	_, err := ExecRaw(ctx, tx, "DELETE FROM pending_removals WHERE group_id = ? AND device_id = ?", t.gid, deviceID)
	return err
}

// PruneDevices deletes the devices whose serial number is not in keep and
// returns the removed rows. A pending clear is recorded for each in the same
// transaction so the clear survives a failed delivery, and pending removals
// addressed to them are dropped since the clear covers them. Acknowledgment
// cells are left for DropAckColumn.
func (s *Store) PruneDevices(ctx context.Context, groupID string, keep []model.Device) ([]model.Device, error) {
	const op = "prune devices"
	t, err := tablesFor(groupID)
	if err != nil {
		return nil, wrap(op, groupID, err)
	}
	defer s.lock(t.gid)()

	keepSet := make(map[string]struct{}, len(keep))
	for _, d := range keep {
		keepSet[strings.TrimSpace(d.SerialNumber)] = struct{}{}
	}

	var removed []model.Device
	err = WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		removed = nil
		var existing []deviceRow
		if err := QueryRawInto(ctx, tx, &existing, "SELECT serial_number, device_id, name FROM ? ORDER BY serial_number", t.devices); err != nil {
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
		serials := make([]string, len(removed))
		ids := make([]string, len(removed))
		pending := make([][]any, len(removed))
		ts := s.timestamp()
		for i, d := range removed {
			serials[i] = d.SerialNumber
			ids[i] = d.ID
			pending[i] = []any{t.gid, d.SerialNumber, d.ID, d.Name, ts}
		}
		if err := deleteIn(ctx, tx, bun.Ident("pending_removals"), "device_id", ids, "group_id = ?", t.gid); err != nil {
			return err
		}
		if err := deleteIn(ctx, tx, bun.Ident("pending_clears"), "serial_number", serials, "group_id = ?", t.gid); err != nil {
			return err
		}
		if err := insertRows(ctx, tx, bun.Ident("pending_clears"), []string{"group_id", "serial_number", "device_id", "name", "recorded_at"}, pending); err != nil {
			return err
		}
		return deleteIn(ctx, tx, t.devices, "serial_number", serials, "")
	})
	if err != nil {
		return nil, wrap(op, t.gid, err)
	}
	return removed, nil
}

// Devices returns the group's ledger devices ordered by serial number.
func (s *Store) Devices(ctx context.Context, groupID string) ([]model.Device, error) {
	t, err := tablesFor(groupID)
	if err != nil {
		return nil, wrap("read devices", groupID, err)
	}
	var rows []deviceRow
	if err := QueryRawInto(ctx, s.bun, &rows, "SELECT serial_number, device_id, name FROM ? ORDER BY serial_number", t.devices); err != nil {
		return nil, wrap("read devices", t.gid, err)
	}
	out := make([]model.Device, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

// PendingClears returns the removed devices of the group whose clear command
// has not been confirmed yet, oldest first.
func (s *Store) PendingClears(ctx context.Context, groupID string) ([]model.Device, error) {
	t, err := tablesFor(groupID)
	if err != nil {
		return nil, wrap("read pending clears", groupID, err)
	}
	var rows []deviceRow
	if err := QueryRawInto(ctx, s.bun, &rows, "SELECT serial_number, device_id, name FROM pending_clears WHERE group_id = ? ORDER BY recorded_at, serial_number", t.gid); err != nil {
		return nil, wrap("read pending clears", t.gid, err)
	}
	out := make([]model.Device, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

// ResolvePendingClear forgets the pending clears addressed to deviceID.
func (s *Store) ResolvePendingClear(ctx context.Context, groupID, deviceID string) error {
	const op = "resolve pending clear"
	t, err := tablesFor(groupID)
	if err != nil {
		return wrap(op, groupID, err)
	}
	defer s.lock(t.gid)()
	_, err = ExecRaw(ctx, s.bun, "DELETE FROM pending_clears WHERE group_id = ? AND device_id = ?", t.gid, deviceID)
	return wrap(op, t.gid, err)
}
