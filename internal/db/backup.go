// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/model"
)

// BackupSchemaVersion is written into every export.
const BackupSchemaVersion = 1

// Export reads the ledger of the given groups, or of every known group when
// groupIDs is empty.
func (s *Store) Export(ctx context.Context, groupIDs []string) (*model.BackupData, error) {
	if len(groupIDs) == 0 {
		ids, err := s.Groups(ctx)
		if err != nil {
			return nil, err
		}
		groupIDs = ids
	}
	out := &model.BackupData{SchemaVersion: BackupSchemaVersion, CreatedAt: s.timestamp()}
	for _, gid := range groupIDs {
		g := model.GroupLedger{GroupID: SanitizeGroupID(gid)}
		var err error
		if g.Keys, err = s.Keys(ctx, gid); err != nil {
			return nil, err
		}
		if g.Devices, err = s.Devices(ctx, gid); err != nil {
			return nil, err
		}
		if g.UserIDs, err = s.UserIDs(ctx, gid); err != nil {
			return nil, err
		}
		if g.Acks, err = s.AckMatrix(ctx, gid); err != nil {
			return nil, err
		}
		if g.PendingClears, err = s.PendingClears(ctx, gid); err != nil {
			return nil, err
		}
		if g.PendingRemovals, err = s.pendingRemovalsOf(ctx, g.GroupID); err != nil {
			return nil, err
		}
		out.Groups = append(out.Groups, g)
	}
	return out, nil
}

// Import replaces the ledger of every group in data. Each group is restored
// in one transaction; groups absent from data are left alone.
func (s *Store) Import(ctx context.Context, data *model.BackupData) error {
	if data == nil {
		return nil
	}
	if data.SchemaVersion > BackupSchemaVersion {
		return &StorageError{Op: "import", Err: fmt.Errorf("backup schema version %d is newer than supported version %d", data.SchemaVersion, BackupSchemaVersion)}
	}
	for _, g := range data.Groups {
		if err := s.EnsureSchema(ctx, g.GroupID); err != nil {
			return err
		}
		if err := s.importGroup(ctx, g); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) importGroup(ctx context.Context, g model.GroupLedger) error {
	const op = "import"
	t, err := tablesFor(g.GroupID)
	if err != nil {
		return wrap(op, g.GroupID, err)
	}
	defer s.lock(t.gid)()

	ts := s.timestamp()
	err = WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		if err := clearTables(ctx, tx, t); err != nil {
			return err
		}
		keys := make([][]any, len(g.Keys))
		for i, k := range g.Keys {
			keys[i] = []any{k.SerialNumber, k.KeyID, k.ID, k.DriverKeyType, ts}
		}
		if err := insertRows(ctx, tx, t.keys, []string{"serial_number", "key_id", "user_id", "driver_key_type", "first_seen"}, keys); err != nil {
			return err
		}
		devices := make([][]any, len(g.Devices))
		for i, d := range g.Devices {
			devices[i] = []any{d.SerialNumber, d.ID, d.Name, ts}
		}
		if err := insertRows(ctx, tx, t.devices, []string{"serial_number", "device_id", "name", "first_seen"}, devices); err != nil {
			return err
		}
		users := make([][]any, len(g.UserIDs))
		for i, id := range g.UserIDs {
			users[i] = []any{id, "", ts}
		}
		if err := insertRows(ctx, tx, t.users, []string{"user_id", "name", "first_seen"}, users); err != nil {
			return err
		}
		acks := make([][]any, len(g.Acks))
		for i, c := range g.Acks {
			v := 0
			if c.Delivered {
				v = 1
			}
			acks[i] = []any{c.SerialNumber, c.DeviceID, v, ts}
		}
		if err := insertRows(ctx, tx, t.acks, ackColumns, acks); err != nil {
			return err
		}
		pending := make([][]any, len(g.PendingClears))
		for i, d := range g.PendingClears {
			pending[i] = []any{t.gid, d.SerialNumber, d.ID, d.Name, ts}
		}
		if err := insertRows(ctx, tx, bun.Ident("pending_clears"), []string{"group_id", "serial_number", "device_id", "name", "recorded_at"}, pending); err != nil {
			return err
		}
		removals := make([][]any, 0, len(g.PendingRemovals))
		for _, r := range g.PendingRemovals {
			removals = append(removals, removalRows(t.gid, []model.Key{r.Key}, []string{r.DeviceID}, ts)...)
		}
		return insertRows(ctx, tx, bun.Ident("pending_removals"), removalColumns, removals)
	})
	return wrap(op, t.gid, err)
}
