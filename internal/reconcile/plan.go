// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package reconcile

import (
	"context"
	"slices"

	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/db"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/directory"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/model"
)

// Plan computes the result Reconcile would return for snap without writing
// anything. A group the ledger has never seen plans from an empty baseline.
func Plan(ctx context.Context, ledger Reader, snap directory.Snapshot) (model.ReconciliationResult, error) {
	gid := snap.GroupID
	res := model.ReconciliationResult{
		GroupID:       gid,
		AllKeys:       MergeExceptions(snap.Keys, snap.Exceptions),
		ActiveDevices: snap.Devices,
	}

	known, err := ledger.Groups(ctx)
	if err != nil {
		return res, err
	}
	if !slices.Contains(known, db.SanitizeGroupID(gid)) {
		res.NewKeys = slices.Clone(res.AllKeys)
		res.NewDevices = uniqueSerials(snap.Devices)
		return res, nil
	}

	ledgerKeys, err := ledger.Keys(ctx, gid)
	if err != nil {
		return res, err
	}
	ledgerDevices, err := ledger.Devices(ctx, gid)
	if err != nil {
		return res, err
	}
	pending, err := ledger.PendingClears(ctx, gid)
	if err != nil {
		return res, err
	}

	haveKey := make(map[string]bool, len(ledgerKeys))
	for _, k := range ledgerKeys {
		haveKey[k.SerialNumber] = true
	}
	wantKey := make(map[string]bool, len(res.AllKeys))
	for _, k := range res.AllKeys {
		wantKey[k.SerialNumber] = true
		if !haveKey[k.SerialNumber] {
			res.NewKeys = append(res.NewKeys, k)
		}
	}
	for _, k := range ledgerKeys {
		if !wantKey[k.SerialNumber] {
			res.RemovedKeys = append(res.RemovedKeys, k)
		}
	}

	haveDevice := make(map[string]bool, len(ledgerDevices))
	for _, d := range ledgerDevices {
		haveDevice[d.SerialNumber] = true
	}
	wantDevice := make(map[string]bool, len(snap.Devices))
	activeIDs := make(map[string]bool, len(snap.Devices))
	for _, d := range uniqueSerials(snap.Devices) {
		wantDevice[d.SerialNumber] = true
		activeIDs[d.ID] = true
		if !haveDevice[d.SerialNumber] {
			res.NewDevices = append(res.NewDevices, d)
		}
	}
	var removed []model.Device
	for _, d := range ledgerDevices {
		if !wantDevice[d.SerialNumber] {
			removed = append(removed, d)
		}
	}
	for _, d := range pending {
		if !activeIDs[d.ID] {
			removed = append(removed, d)
		}
	}
	res.RemovedDevices = uniqueByID(removed)
	return res, nil
}

func uniqueSerials(devices []model.Device) []model.Device {
	seen := make(map[string]bool, len(devices))
	var out []model.Device
	for _, d := range devices {
		if d.SerialNumber == "" || seen[d.SerialNumber] {
			continue
		}
		seen[d.SerialNumber] = true
		out = append(out, d)
	}
	return out
}
