// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"time"

	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/model"
)

type auditRow struct {
	ID        int       `bun:"id"`
	Timestamp time.Time `bun:"timestamp"`
	Action    string    `bun:"action"`
	Details   string    `bun:"details"`
}

type runRow struct {
	RunID           string     `bun:"run_id"`
	StartedAt       time.Time  `bun:"started_at"`
	FinishedAt      *time.Time `bun:"finished_at"`
	Status          string     `bun:"status"`
	GroupsProcessed int        `bun:"groups_processed"`
	GroupsSkipped   int        `bun:"groups_skipped"`
	CommandsSent    int        `bun:"commands_sent"`
	CommandsFailed  int        `bun:"commands_failed"`
}

// LogAction records an audit trail event.
func (s *Store) LogAction(ctx context.Context, action, details string) error {
	_, err := ExecRaw(ctx, s.bun, "INSERT INTO audit_log (timestamp, action, details) VALUES (?, ?, ?)", s.timestamp(), action, details)
	return wrap("log action", "", err)
}

// AuditEntries returns up to limit audit entries, most recent first. A limit
// of zero or less returns all entries.
func (s *Store) AuditEntries(ctx context.Context, limit int) ([]model.AuditLogEntry, error) {
	query := "SELECT id, timestamp, action, details FROM audit_log ORDER BY id DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	var rows []auditRow
	if err := QueryRawInto(ctx, s.bun, &rows, query, args...); err != nil {
		return nil, wrap("read audit log", "", err)
	}
	out := make([]model.AuditLogEntry, len(rows))
	for i, r := range rows {
		out[i] = model.AuditLogEntry(r)
	}
	return out, nil
}

// StartRun records a running sync invocation.
func (s *Store) StartRun(ctx context.Context, runID string, startedAt time.Time) error {
	_, err := ExecRaw(ctx, s.bun, "INSERT INTO sync_runs (run_id, started_at, status) VALUES (?, ?, ?)", runID, startedAt.UTC(), model.RunRunning)
	return wrap("start run", "", err)
}

// FinishRun stores the outcome of a run started with StartRun.
func (s *Store) FinishRun(ctx context.Context, run model.SyncRun) error {
	finished := s.timestamp()
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC()
	}
	_, err := ExecRaw(ctx, s.bun,
		"UPDATE sync_runs SET finished_at = ?, status = ?, groups_processed = ?, groups_skipped = ?, commands_sent = ?, commands_failed = ? WHERE run_id = ?",
		finished, run.Status, run.GroupsProcessed, run.GroupsSkipped, run.CommandsSent, run.CommandsFailed, run.ID)
	return wrap("finish run", "", err)
}

// Runs returns up to limit sync runs, most recent first.
func (s *Store) Runs(ctx context.Context, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []runRow
	err := QueryRawInto(ctx, s.bun, &rows,
		"SELECT run_id, started_at, finished_at, status, groups_processed, groups_skipped, commands_sent, commands_failed FROM sync_runs ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, wrap("read runs", "", err)
	}
	out := make([]model.SyncRun, len(rows))
	for i, r := range rows {
		out[i] = model.SyncRun{
			ID:              r.RunID,
			StartedAt:       r.StartedAt,
			FinishedAt:      r.FinishedAt,
			Status:          r.Status,
			GroupsProcessed: r.GroupsProcessed,
			GroupsSkipped:   r.GroupsSkipped,
			CommandsSent:    r.CommandsSent,
			CommandsFailed:  r.CommandsFailed,
		}
	}
	return out, nil
}
