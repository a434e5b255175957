// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

// Package core wires the directory, ledger, reconciler, provisioner and
// delivery driver into the operations the CLI exposes.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/config"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/db"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/deploy"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/directory"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/model"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/provision"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/reconcile"
)

// Runner executes sync, clear, qa and status against one directory and one
// ledger. It is built once per invocation from an immutable Config.
type Runner struct {
	cfg         config.Config
	dir         directory.FleetDirectory
	ledger      db.Ledger
	fetcher     *directory.Fetcher
	reconciler  *reconcile.Reconciler
	provisioner *provision.Provisioner
	driver      *deploy.Driver
	log         *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewRunner wires the reconciler, provisioner and delivery driver over dir
// and ledger.
func NewRunner(cfg config.Config, dir directory.FleetDirectory, ledger db.Ledger, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:         cfg,
		dir:         dir,
		ledger:      ledger,
		fetcher:     directory.NewFetcher(dir, logger),
		reconciler:  reconcile.New(ledger, logger),
		provisioner: provision.New(dir, cfg.AuthList, cfg.Patch, logger),
		driver:      deploy.New(ledger, dir, cfg.Delivery, logger),
		log:         logger.With("component", "core"),
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// SyncOptions adjusts a sync run.
type SyncOptions struct {
	// DryRun computes the deltas read-only: no ledger writes, no commands,
	// no provisioning.
	DryRun bool
}

// authenticate signs in; a failure is fatal for the invocation.
func (r *Runner) authenticate(ctx context.Context) error {
	if err := r.dir.Authenticate(ctx); err != nil {
		return &config.ConfigError{Field: "geotab", Reason: fmt.Sprintf("authentication failed: %v", err), Err: err}
	}
	return nil
}

func (r *Runner) resolveGroups(ctx context.Context, names []string) ([]model.Group, []string, error) {
	if len(names) == 0 {
		names = r.cfg.GroupNames()
	}
	groups, missing, err := directory.ResolveGroups(ctx, r.dir, names)
	if err != nil {
		return nil, nil, err
	}
	for _, name := range missing {
		r.log.Warn("configured group not found in directory", "group", name)
	}
	return groups, missing, nil
}

// Sync runs one reconciliation pass over every configured group. The
// returned error is non-nil only for failures that stop the whole run
// (authentication, group lookup, cancellation); per-group and per-device
// failures are recorded in the report.
func (r *Runner) Sync(ctx context.Context, opts SyncOptions) (*RunReport, error) {
	rep := &RunReport{RunID: r.newID(), DryRun: opts.DryRun, StartedAt: r.now()}
	log := r.log.With("run_id", rep.RunID)

	if err := r.authenticate(ctx); err != nil {
		return rep, err
	}
	groups, missing, err := r.resolveGroups(ctx, nil)
	if err != nil {
		return rep, err
	}
	rep.MissingGroups = missing

	exceptions, err := r.fetcher.FetchExceptionKeys(ctx, r.cfg.ExceptionGroupID)
	if err != nil {
		rep.ExceptionsFailed = true
		log.Warn("exception keys unavailable, only resending unacknowledged keys", "error", err)
	}

	if !opts.DryRun {
		if err := r.ledger.StartRun(ctx, rep.RunID, rep.StartedAt); err != nil {
			return rep, err
		}
	}
	log.Info("sync started", "groups", len(groups), "dry_run", opts.DryRun, "workers", max(r.cfg.Workers, 1))

	rep.Groups = make([]GroupOutcome, len(groups))
	var eg errgroup.Group
	eg.SetLimit(max(r.cfg.Workers, 1))
	for i, g := range groups {
		eg.Go(func() error {
			if ctx.Err() != nil {
				rep.Groups[i] = GroupOutcome{Group: g, Skipped: true, Err: ctx.Err()}
				return nil
			}
			if opts.DryRun {
				rep.Groups[i] = r.planGroup(ctx, g, exceptions, rep.ExceptionsFailed)
			} else {
				rep.Groups[i] = r.syncGroup(ctx, log, g, exceptions, rep.ExceptionsFailed)
			}
			return nil
		})
	}
	_ = eg.Wait()

	rep.FinishedAt = r.now()
	rep.Err = ctx.Err()
	if !opts.DryRun {
		// The run row is closed even when the context is gone.
		if err := r.ledger.FinishRun(context.WithoutCancel(ctx), rep.SyncRun()); err != nil {
			log.Error("recording run failed", "error", err)
		}
	}
	log.Info("sync finished", "status", rep.Status(), "processed", rep.Processed(), "skipped", rep.Skipped(),
		"commands_sent", rep.CommandsSent(), "commands_failed", rep.CommandsFailed())
	return rep, rep.Err
}

func (r *Runner) syncGroup(ctx context.Context, runLog *slog.Logger, g model.Group, exceptions []model.Key, exceptionsFailed bool) GroupOutcome {
	out := GroupOutcome{Group: g}
	log := runLog.With("group_id", g.ID, "group", g.Name)

	skip := func(err error) GroupOutcome {
		out.Skipped = true
		out.Err = err
		log.Error("group skipped", "error", err)
		r.audit(ctx, "SYNC_GROUP_SKIPPED", fmt.Sprintf("group=%s name=%q error=%v", g.ID, g.Name, err))
		return out
	}

	if err := r.ledger.EnsureSchema(ctx, g.ID); err != nil {
		return skip(err)
	}

	// Without a trustworthy snapshot the ledger stays as it is; only the
	// retries it already owes are sent.
	sweepOnly := func(cause error) GroupOutcome {
		devices, err := r.ledger.Devices(ctx, g.ID)
		if err != nil {
			return skip(err)
		}
		out.SweepOnly = true
		out.Delivery, _ = r.driver.SweepUnacked(ctx, g.ID, devices)
		return skip(cause)
	}

	if exceptionsFailed {
		return sweepOnly(errors.New("exception keys unavailable"))
	}

	snap, err := r.fetcher.Snapshot(ctx, g.ID, exceptions)
	if err != nil {
		return sweepOnly(err)
	}
	res, err := r.reconciler.Reconcile(ctx, snap)
	if err != nil {
		return skip(err)
	}
	out.Result = res

	tz := r.cfg.TimezoneFor(g.Name)
	newUsers, err := r.reconciler.TrackUsers(ctx, g.ID, snap.Users)
	if err != nil {
		log.Error("tracking users failed", "error", err)
	}
	out.Devices, _ = r.provisioner.ProvisionDevices(ctx, g.ID, tz, snap.Devices)
	out.Users, _ = r.provisioner.PatchUsers(ctx, g.ID, tz, newUsers)

	out.Delivery, err = r.driver.Deliver(ctx, res)
	if err != nil {
		out.Err = err
	}
	r.audit(ctx, "SYNC_GROUP", fmt.Sprintf("group=%s name=%q new_keys=%d removed_keys=%d new_devices=%d removed_devices=%d sent=%d failed=%d",
		g.ID, g.Name, len(res.NewKeys), len(res.RemovedKeys), len(res.NewDevices), len(res.RemovedDevices),
		out.Delivery.CommandsSent+out.Delivery.Cleared, out.Delivery.CommandsFailed+out.Delivery.ClearsFailed))
	return out
}

func (r *Runner) planGroup(ctx context.Context, g model.Group, exceptions []model.Key, exceptionsFailed bool) GroupOutcome {
	out := GroupOutcome{Group: g}
	if exceptionsFailed {
		out.Skipped = true
		out.Err = errors.New("exception keys unavailable")
		return out
	}
	snap, err := r.fetcher.Snapshot(ctx, g.ID, exceptions)
	if err != nil {
		out.Skipped, out.Err = true, err
		return out
	}
	out.Result, err = reconcile.Plan(ctx, r.ledger, snap)
	if err != nil {
		out.Skipped, out.Err = true, err
	}
	return out
}

func (r *Runner) audit(ctx context.Context, action, details string) {
	if err := r.ledger.LogAction(context.WithoutCancel(ctx), action, details); err != nil {
		r.log.Warn("audit write failed", "action", action, "error", err)
	}
}
