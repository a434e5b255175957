// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"context"

	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/model"
)

// DriftReader is the ledger view needed to estimate device drift.
type DriftReader interface {
	Keys(ctx context.Context, groupID string) ([]model.Key, error)
	Devices(ctx context.Context, groupID string) ([]model.Device, error)
	FindUnacked(ctx context.Context, groupID, deviceID string) ([]model.Key, error)
}

// AnalyzeDrift estimates, for every ledger device of a group, how far the
// device may be from the intended list. Devices cannot be read back, so
// drift is inferred from unacknowledged keys and the device capacity.
func AnalyzeDrift(ctx context.Context, ledger DriftReader, groupID string) ([]model.DeviceDrift, error) {
	keys, err := ledger.Keys(ctx, groupID)
	if err != nil {
		return nil, err
	}
	devices, err := ledger.Devices(ctx, groupID)
	if err != nil {
		return nil, err
	}
	out := make([]model.DeviceDrift, 0, len(devices))
	for _, dev := range devices {
		unacked, err := ledger.FindUnacked(ctx, groupID, dev.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, model.DeviceDrift{
			GroupID:      groupID,
			Device:       dev,
			IntendedKeys: len(keys),
			Unacked:      unacked,
		})
	}
	return out, nil
}
