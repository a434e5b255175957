// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package core

import (
	"context"
	"fmt"

	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/model"
)

// ClearReport summarizes a clear operation.
type ClearReport struct {
	Groups        []model.Group
	MissingGroups []string
	Cleared       int
	Failed        int
	Errors        []error
}

// Clear sends a clear-list command to every device of the named groups (all
// configured groups when names is empty) and wipes the groups' ledger
// tables, so the next sync starts from nothing and sends full lists.
func (r *Runner) Clear(ctx context.Context, names []string) (*ClearReport, error) {
	rep := &ClearReport{}
	if err := r.authenticate(ctx); err != nil {
		return rep, err
	}
	groups, missing, err := r.resolveGroups(ctx, names)
	if err != nil {
		return rep, err
	}
	rep.Groups, rep.MissingGroups = groups, missing

	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		log := r.log.With("group_id", g.ID, "group", g.Name, "op", "clear")
		devices, err := r.fetcher.FetchGroupDevices(ctx, g.ID)
		if err != nil {
			rep.Errors = append(rep.Errors, err)
			continue
		}
		for _, d := range devices {
			if err := r.dir.SendCommands(ctx, []model.AuthListCommand{model.NewClearCommand(d.ID)}); err != nil {
				rep.Failed++
				rep.Errors = append(rep.Errors, fmt.Errorf("clear device %s: %w", d.ID, err))
				log.Error("clear failed", "device_id", d.ID, "error", err)
				continue
			}
			rep.Cleared++
		}
		if err := r.ledger.EnsureSchema(ctx, g.ID); err != nil {
			rep.Errors = append(rep.Errors, err)
			continue
		}
		if err := r.ledger.ClearGroup(ctx, g.ID); err != nil {
			rep.Errors = append(rep.Errors, err)
			continue
		}
		log.Info("group cleared", "devices", len(devices))
		r.audit(ctx, "CLEAR_GROUP", fmt.Sprintf("group=%s name=%q devices=%d", g.ID, g.Name, len(devices)))
	}
	return rep, nil
}
