// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package core

import (
	"time"

	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/deploy"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/model"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/provision"
)

// GroupOutcome is what happened to one group during a run.
type GroupOutcome struct {
	Group model.Group
	// Skipped is set when reconciliation did not run for the group. Err
	// holds the reason.
	Skipped bool
	// SweepOnly is set when only unacknowledged keys were resent because the
	// exception keys could not be fetched.
	SweepOnly bool
	Err       error

	Result   model.ReconciliationResult
	Delivery deploy.Report
	Devices  provision.Result
	Users    provision.Result
}

// RunReport summarizes a sync run.
type RunReport struct {
	RunID            string
	DryRun           bool
	StartedAt        time.Time
	FinishedAt       time.Time
	Groups           []GroupOutcome
	MissingGroups    []string
	ExceptionsFailed bool
	Err              error
}

// Processed counts the groups that were reconciled.
func (r *RunReport) Processed() int {
	n := 0
	for _, g := range r.Groups {
		if !g.Skipped {
			n++
		}
	}
	return n
}

// Skipped counts the groups left untouched this run.
func (r *RunReport) Skipped() int { return len(r.Groups) - r.Processed() }

// CommandsSent counts delivered key commands and clears.
func (r *RunReport) CommandsSent() int {
	n := 0
	for _, g := range r.Groups {
		n += g.Delivery.CommandsSent + g.Delivery.Cleared
	}
	return n
}

// CommandsFailed counts key commands and clears that were not delivered.
func (r *RunReport) CommandsFailed() int {
	n := 0
	for _, g := range r.Groups {
		n += g.Delivery.CommandsFailed + g.Delivery.ClearsFailed
	}
	return n
}

// Status classifies the run for the sync_runs table.
func (r *RunReport) Status() string {
	switch {
	case r.Err != nil:
		return model.RunFailed
	case r.Skipped() > 0 || r.CommandsFailed() > 0 || r.ExceptionsFailed || len(r.MissingGroups) > 0:
		return model.RunPartial
	default:
		return model.RunCompleted
	}
}

// SyncRun converts the report into its ledger row.
func (r *RunReport) SyncRun() model.SyncRun {
	finished := r.FinishedAt
	return model.SyncRun{
		ID:              r.RunID,
		StartedAt:       r.StartedAt,
		FinishedAt:      &finished,
		Status:          r.Status(),
		GroupsProcessed: r.Processed(),
		GroupsSkipped:   r.Skipped(),
		CommandsSent:    r.CommandsSent(),
		CommandsFailed:  r.CommandsFailed(),
	}
}
