// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/model"
)

// batchRows bounds the tuples of one multi-row INSERT and the values of one
// IN list.
const batchRows = 200

type keyRow struct {
	SerialNumber  string `bun:"serial_number"`
	KeyID         int64  `bun:"key_id"`
	UserID        string `bun:"user_id"`
	DriverKeyType string `bun:"driver_key_type"`
}

func (r keyRow) model() model.Key {
	return model.Key{SerialNumber: r.SerialNumber, KeyID: r.KeyID, ID: r.UserID, DriverKeyType: r.DriverKeyType}
}

func keyRowOf(k model.Key) keyRow {
	return keyRow{SerialNumber: k.SerialNumber, KeyID: k.KeyID, UserID: k.ID, DriverKeyType: k.DriverKeyType}
}

type deviceRow struct {
	SerialNumber string `bun:"serial_number"`
	DeviceID     string `bun:"device_id"`
	Name         string `bun:"name"`
}

func (r deviceRow) model() model.Device {
	return model.Device{SerialNumber: r.SerialNumber, ID: r.DeviceID, Name: r.Name}
}

type userRow struct {
	UserID string `bun:"user_id"`
	Name   string `bun:"name"`
}

type ackRow struct {
	SerialNumber string `bun:"serial_number"`
	DeviceID     string `bun:"device_id"`
	Delivered    int    `bun:"delivered"`
}

// insertRows writes rows into table with multi-row INSERT statements.
func insertRows(ctx context.Context, exec execRawProvider, table bun.Ident, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	for start := 0; start < len(rows); start += batchRows {
		end := min(start+batchRows, len(rows))
		chunk := rows[start:end]

		var sb strings.Builder
		sb.WriteString("INSERT INTO ? (")
		sb.WriteString(strings.Join(columns, ", "))
		sb.WriteString(") VALUES ")
		args := make([]any, 0, 1+len(chunk)*len(columns))
		args = append(args, table)
		for i, row := range chunk {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(tuple)
			args = append(args, row...)
		}
		if _, err := ExecRaw(ctx, exec, sb.String(), args...); err != nil {
			return err
		}
	}
	return nil
}

// deleteIn runs "DELETE FROM table WHERE column IN (values)" in batches.
// A non-empty where is ANDed after the IN list.
func deleteIn(ctx context.Context, exec execRawProvider, table bun.Ident, column string, values []string, where string, whereArgs ...any) error {
	for start := 0; start < len(values); start += batchRows {
		end := min(start+batchRows, len(values))
		query := "DELETE FROM ? WHERE " + column + " IN (?)"
		args := []any{table, bun.In(values[start:end])}
		if where != "" {
			query += " AND " + where
			args = append(args, whereArgs...)
		}
		if _, err := ExecRaw(ctx, exec, query, args...); err != nil {
			return err
		}
	}
	return nil
}

func serialsOf(keys []model.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.SerialNumber
	}
	return out
}

func ackCells(serials []string, deviceIDs []string, delivered int, ts time.Time) [][]any {
	rows := make([][]any, 0, len(serials)*len(deviceIDs))
	for _, serial := range serials {
		for _, id := range deviceIDs {
			rows = append(rows, []any{serial, id, delivered, ts})
		}
	}
	return rows
}

var ackColumns = []string{"serial_number", "device_id", "delivered", "updated_at"}

var removalColumns = []string{"group_id", "serial_number", "device_id", "key_id", "user_id", "driver_key_type", "recorded_at"}

// removalRows pairs every key with every device id.
func removalRows(gid string, keys []model.Key, deviceIDs []string, ts time.Time) [][]any {
	rows := make([][]any, 0, len(keys)*len(deviceIDs))
	for _, k := range keys {
		for _, id := range deviceIDs {
			rows = append(rows, []any{gid, k.SerialNumber, id, k.KeyID, k.ID, k.DriverKeyType, ts})
		}
	}
	return rows
}
