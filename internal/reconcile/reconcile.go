// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

// Package reconcile diffs a group's directory snapshot against the ledger
// and moves the ledger to the new baseline.
package reconcile

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/directory"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/model"
)

// Ledger is the subset of the ledger the reconciler writes.
type Ledger interface {
	UpsertKeys(ctx context.Context, groupID string, keys []model.Key) ([]model.Key, error)
	PruneKeys(ctx context.Context, groupID string, keep []model.Key) ([]model.Key, error)
	UpsertDevices(ctx context.Context, groupID string, devices []model.Device) ([]model.Device, error)
	PruneDevices(ctx context.Context, groupID string, keep []model.Device) ([]model.Device, error)
	PendingClears(ctx context.Context, groupID string) ([]model.Device, error)
	ResolvePendingClear(ctx context.Context, groupID, deviceID string) error
	AddAckColumn(ctx context.Context, groupID, deviceID string) error
	DropAckColumn(ctx context.Context, groupID, deviceID string) error
	SetAcks(ctx context.Context, groupID, deviceID string, serials []string, delivered bool) error
	UpsertUsers(ctx context.Context, groupID string, users []model.User) ([]model.User, error)
	PruneUsers(ctx context.Context, groupID string, keep []model.User) ([]model.User, error)
}

// Reader is the read-only subset used for dry runs.
type Reader interface {
	Groups(ctx context.Context) ([]string, error)
	Keys(ctx context.Context, groupID string) ([]model.Key, error)
	Devices(ctx context.Context, groupID string) ([]model.Device, error)
	PendingClears(ctx context.Context, groupID string) ([]model.Device, error)
}

// Reconciler moves a group's ledger to the baseline of a directory snapshot.
type Reconciler struct {
	ledger Ledger
	log    *slog.Logger
}

// New returns a Reconciler over ledger.
func New(ledger Ledger, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{ledger: ledger, log: logger.With("component", "reconcile")}
}

// MergeExceptions returns the group's keys followed by the exception keys
// the group does not already hold. Each serial number appears once; the
// group's own record wins. Serial numbers are compared and returned
// trimmed, as the ledger stores them.
func MergeExceptions(groupKeys, exceptions []model.Key) []model.Key {
	merged := make([]model.Key, 0, len(groupKeys)+len(exceptions))
	seen := make(map[string]bool, len(groupKeys)+len(exceptions))
	for _, list := range [][]model.Key{groupKeys, exceptions} {
		for _, k := range list {
			serial := strings.TrimSpace(k.SerialNumber)
			if serial == "" || seen[serial] {
				continue
			}
			seen[serial] = true
			k.SerialNumber = serial
			merged = append(merged, k)
		}
	}
	return merged
}

// Reconcile applies snap to the ledger and returns the deltas delivery must
// act on. Devices are pruned and their acknowledgment cells dropped before
// new devices are added, so a new device reusing a removed device's id
// starts from a clean row. A known device that moved onto the id of a
// device cleared this run owes its full list again. A new device's cells are created together with
// its row; AddAckColumn then only fills gaps. The first ledger error aborts
// the group and every step is safe to repeat on the next run.
func (r *Reconciler) Reconcile(ctx context.Context, snap directory.Snapshot) (model.ReconciliationResult, error) {
	gid := snap.GroupID
	res := model.ReconciliationResult{
		GroupID:       gid,
		AllKeys:       MergeExceptions(snap.Keys, snap.Exceptions),
		ActiveDevices: snap.Devices,
	}

	var err error
	if res.NewKeys, err = r.ledger.UpsertKeys(ctx, gid, res.AllKeys); err != nil {
		return res, err
	}
	if res.RemovedKeys, err = r.ledger.PruneKeys(ctx, gid, res.AllKeys); err != nil {
		return res, err
	}

	pruned, err := r.ledger.PruneDevices(ctx, gid, snap.Devices)
	if err != nil {
		return res, err
	}
	pending, err := r.ledger.PendingClears(ctx, gid)
	if err != nil {
		return res, err
	}
	if res.RemovedDevices, err = r.removedDevices(ctx, gid, pruned, pending, snap.Devices); err != nil {
		return res, err
	}
	for _, d := range res.RemovedDevices {
		if err := r.ledger.DropAckColumn(ctx, gid, d.ID); err != nil {
			return res, err
		}
	}

	if res.NewDevices, err = r.ledger.UpsertDevices(ctx, gid, snap.Devices); err != nil {
		return res, err
	}
	for _, d := range res.NewDevices {
		if err := r.ledger.AddAckColumn(ctx, gid, d.ID); err != nil {
			return res, err
		}
	}
	if err := r.resetReusedIDs(ctx, res); err != nil {
		return res, err
	}

	r.log.Info("group reconciled", "group_id", gid,
		"keys", len(res.AllKeys), "new_keys", len(res.NewKeys), "removed_keys", len(res.RemovedKeys),
		"new_devices", len(res.NewDevices), "removed_devices", len(res.RemovedDevices))
	return res, nil
}

// resetReusedIDs marks every key undelivered for known devices that now
// hold the id of a device being cleared this run. The clear reaches
// whichever vehicle answers on that id, so the list has to be sent again.
func (r *Reconciler) resetReusedIDs(ctx context.Context, res model.ReconciliationResult) error {
	if len(res.RemovedDevices) == 0 || len(res.AllKeys) == 0 {
		return nil
	}
	cleared := make(map[string]bool, len(res.RemovedDevices))
	for _, d := range res.RemovedDevices {
		cleared[d.ID] = true
	}
	var serials []string
	for _, d := range res.ActiveDevices {
		if !cleared[d.ID] || res.IsNewDevice(d.SerialNumber) {
			continue
		}
		if serials == nil {
			serials = make([]string, len(res.AllKeys))
			for i, k := range res.AllKeys {
				serials[i] = k.SerialNumber
			}
		}
		r.log.Info("device moved onto a cleared id, resending full list", "group_id", res.GroupID, "device_id", d.ID, "serial", d.SerialNumber)
		if err := r.ledger.SetAcks(ctx, res.GroupID, d.ID, serials, false); err != nil {
			return err
		}
	}
	return nil
}

// removedDevices returns the devices to clear this run: everything pruned
// now plus clears left pending by earlier runs. An earlier clear whose
// device id is active again is dropped instead of being sent to the live
// device.
func (r *Reconciler) removedDevices(ctx context.Context, gid string, pruned, pending, active []model.Device) ([]model.Device, error) {
	activeIDs := make(map[string]bool, len(active))
	for _, d := range active {
		activeIDs[d.ID] = true
	}
	prunedSerials := make(map[string]bool, len(pruned))
	for _, d := range pruned {
		prunedSerials[d.SerialNumber] = true
	}

	out := slices.Clone(pruned)
	for _, d := range pending {
		if prunedSerials[d.SerialNumber] {
			continue
		}
		if activeIDs[d.ID] {
			r.log.Info("dropping stale clear for active device", "group_id", gid, "device_id", d.ID, "serial", d.SerialNumber)
			if err := r.ledger.ResolvePendingClear(ctx, gid, d.ID); err != nil {
				return nil, err
			}
			continue
		}
		out = append(out, d)
	}
	return uniqueByID(out), nil
}

func uniqueByID(devices []model.Device) []model.Device {
	seen := make(map[string]bool, len(devices))
	out := devices[:0]
	for _, d := range devices {
		if d.ID == "" || seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		out = append(out, d)
	}
	return out
}

// TrackUsers records the group's current users and returns the ones seen
// for the first time.
func (r *Reconciler) TrackUsers(ctx context.Context, groupID string, users []model.User) ([]model.User, error) {
	added, err := r.ledger.UpsertUsers(ctx, groupID, users)
	if err != nil {
		return nil, err
	}
	if _, err := r.ledger.PruneUsers(ctx, groupID, users); err != nil {
		return nil, err
	}
	return added, nil
}
