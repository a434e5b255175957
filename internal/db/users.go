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

// UpsertUsers records the users not yet seen in the group and returns them.
// The table exists only to detect first membership, so one-time directory
// patches are not reapplied on every run.
func (s *Store) UpsertUsers(ctx context.Context, groupID string, users []model.User) ([]model.User, error) {
	const op = "upsert users"
	t, err := tablesFor(groupID)
	if err != nil {
		return nil, wrap(op, groupID, err)
	}
	defer s.lock(t.gid)()

	var inserted []model.User
	err = WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		inserted = nil
		var existing []string
		if err := QueryRawInto(ctx, tx, &existing, "SELECT user_id FROM ?", t.users); err != nil {
			return err
		}
		known := make(map[string]bool, len(existing))
		for _, id := range existing {
			known[id] = true
		}
		var rows [][]any
		ts := s.timestamp()
		for _, u := range users {
			id := strings.TrimSpace(u.ID)
			if id == "" || known[id] {
				continue
			}
			known[id] = true
			rows = append(rows, []any{id, u.Name, ts})
			inserted = append(inserted, u)
		}
		return insertRows(ctx, tx, t.users, []string{"user_id", "name", "first_seen"}, rows)
	})
	if err != nil {
		return nil, wrap(op, t.gid, err)
	}
	return inserted, nil
}

// PruneUsers forgets the users not in keep and returns them, so a user who
// rejoins the group is treated as first seen again.
func (s *Store) PruneUsers(ctx context.Context, groupID string, keep []model.User) ([]model.User, error) {
	const op = "prune users"
	t, err := tablesFor(groupID)
	if err != nil {
		return nil, wrap(op, groupID, err)
	}
	defer s.lock(t.gid)()

	keepSet := make(map[string]struct{}, len(keep))
	for _, u := range keep {
		keepSet[strings.TrimSpace(u.ID)] = struct{}{}
	}

	var removed []model.User
	err = WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		removed = nil
		var existing []userRow
		if err := QueryRawInto(ctx, tx, &existing, "SELECT user_id, name FROM ? ORDER BY user_id", t.users); err != nil {
			return err
		}
		var ids []string
		for _, r := range existing {
			if _, ok := keepSet[r.UserID]; !ok {
				removed = append(removed, model.User{ID: r.UserID, Name: r.Name})
				ids = append(ids, r.UserID)
			}
		}
		return deleteIn(ctx, tx, t.users, "user_id", ids, "")
	})
	if err != nil {
		return nil, wrap(op, t.gid, err)
	}
	return removed, nil
}

// UserIDs returns the ids of the users recorded for the group.
func (s *Store) UserIDs(ctx context.Context, groupID string) ([]string, error) {
	t, err := tablesFor(groupID)
	if err != nil {
		return nil, wrap("read users", groupID, err)
	}
	var ids []string
	if err := QueryRawInto(ctx, s.bun, &ids, "SELECT user_id FROM ? ORDER BY user_id", t.users); err != nil {
		return nil, wrap("read users", t.gid, err)
	}
	return ids, nil
}
