// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package core

import (
	"context"

	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/deploy"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/model"
)

// StatusReader is the ledger view the status report needs.
type StatusReader interface {
	deploy.DriftReader
	Groups(ctx context.Context) ([]string, error)
}

// Status reports estimated drift for every device in every ledger group. It
// reads only the ledger.
func Status(ctx context.Context, ledger StatusReader) ([]model.DeviceDrift, error) {
	ids, err := ledger.Groups(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.DeviceDrift
	for _, gid := range ids {
		drift, err := deploy.AnalyzeDrift(ctx, ledger, gid)
		if err != nil {
			return nil, err
		}
		out = append(out, drift...)
	}
	return out, nil
}
