// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/model"
)

// AddAckColumn gives deviceID an unacknowledged cell for every ledger key
// that does not have one yet. Existing cells are kept.
func (s *Store) AddAckColumn(ctx context.Context, groupID, deviceID string) error {
	const op = "add ack column"
	t, err := tablesFor(groupID)
	if err != nil {
		return wrap(op, groupID, err)
	}
	defer s.lock(t.gid)()

	err = WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		return addAckCells(ctx, tx, t, deviceID, s.timestamp())
	})
	return wrap(op, t.gid, err)
}

func addAckCells(ctx context.Context, tx bun.Tx, t groupTables, deviceID string, ts time.Time) error {
	var serials []string
	if err := QueryRawInto(ctx, tx, &serials, "SELECT serial_number FROM ? ORDER BY serial_number", t.keys); err != nil {
		return err
	}
	var have []string
	if err := QueryRawInto(ctx, tx, &have, "SELECT serial_number FROM ? WHERE device_id = ?", t.acks, deviceID); err != nil {
		return err
	}
	return insertRows(ctx, tx, t.acks, ackColumns, ackCells(missing(serials, have), []string{deviceID}, 0, ts))
}

// DropAckColumn deletes every cell of deviceID. Cells of other devices are
// untouched.
func (s *Store) DropAckColumn(ctx context.Context, groupID, deviceID string) error {
	const op = "drop ack column"
	t, err := tablesFor(groupID)
	if err != nil {
		return wrap(op, groupID, err)
	}
	defer s.lock(t.gid)()
	_, err = ExecRaw(ctx, s.bun, "DELETE FROM ? WHERE device_id = ?", t.acks, deviceID)
	return wrap(op, t.gid, err)
}

// SetAck sets a single cell.
func (s *Store) SetAck(ctx context.Context, groupID, serialNumber, deviceID string, delivered bool) error {
	return s.SetAcks(ctx, groupID, deviceID, []string{serialNumber}, delivered)
}

// SetAcks sets the cells of deviceID for the given serials. Missing cells are
// created for serials still in the ledger; serials no longer in the ledger
// are ignored.
func (s *Store) SetAcks(ctx context.Context, groupID, deviceID string, serials []string, delivered bool) error {
	const op = "set acks"
	if len(serials) == 0 {
		return nil
	}
	t, err := tablesFor(groupID)
	if err != nil {
		return wrap(op, groupID, err)
	}
	defer s.lock(t.gid)()

	value := 0
	if delivered {
		value = 1
	}
	err = WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		ts := s.timestamp()
		for start := 0; start < len(serials); start += batchRows {
			chunk := serials[start:min(start+batchRows, len(serials))]

			var have []string
			if err := QueryRawInto(ctx, tx, &have, "SELECT serial_number FROM ? WHERE device_id = ? AND serial_number IN (?)", t.acks, deviceID, bun.In(chunk)); err != nil {
				return err
			}
			if len(have) > 0 {
				if _, err := ExecRaw(ctx, tx, "UPDATE ? SET delivered = ?, updated_at = ? WHERE device_id = ? AND serial_number IN (?)", t.acks, value, ts, deviceID, bun.In(have)); err != nil {
					return err
				}
			}
			absent := missing(chunk, have)
			if len(absent) == 0 {
				continue
			}
			var inLedger []string
			if err := QueryRawInto(ctx, tx, &inLedger, "SELECT serial_number FROM ? WHERE serial_number IN (?)", t.keys, bun.In(absent)); err != nil {
				return err
			}
			if err := insertRows(ctx, tx, t.acks, ackColumns, ackCells(inLedger, []string{deviceID}, value, ts)); err != nil {
				return err
			}
		}
		return nil
	})
	return wrap(op, t.gid, err)
}

// FindUnacked returns the ledger keys whose cell for deviceID is 0: the
// retry queue for that device.
func (s *Store) FindUnacked(ctx context.Context, groupID, deviceID string) ([]model.Key, error) {
	t, err := tablesFor(groupID)
	if err != nil {
		return nil, wrap("find unacked", groupID, err)
	}
	var rows []keyRow
	err = QueryRawInto(ctx, s.bun, &rows,
		"SELECT k.serial_number, k.key_id, k.user_id, k.driver_key_type FROM ? AS k JOIN ? AS a ON a.serial_number = k.serial_number WHERE a.device_id = ? AND a.delivered = 0 ORDER BY k.serial_number",
		t.keys, t.acks, deviceID)
	if err != nil {
		return nil, wrap("find unacked", t.gid, err)
	}
	out := make([]model.Key, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

// AckMatrix returns every cell of the group ordered by device and serial.
func (s *Store) AckMatrix(ctx context.Context, groupID string) ([]model.AckCell, error) {
	t, err := tablesFor(groupID)
	if err != nil {
		return nil, wrap("read acks", groupID, err)
	}
	var rows []ackRow
	if err := QueryRawInto(ctx, s.bun, &rows, "SELECT serial_number, device_id, delivered FROM ? ORDER BY device_id, serial_number", t.acks); err != nil {
		return nil, wrap("read acks", t.gid, err)
	}
	out := make([]model.AckCell, len(rows))
	for i, r := range rows {
		out[i] = model.AckCell{SerialNumber: r.SerialNumber, DeviceID: r.DeviceID, Delivered: r.Delivered != 0}
	}
	return out, nil
}

// missing returns the values of all that are not in have, in order.
func missing(all, have []string) []string {
	set := make(map[string]struct{}, len(have))
	for _, v := range have {
		set[v] = struct{}{}
	}
	var out []string
	for _, v := range all {
		if _, ok := set[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}
