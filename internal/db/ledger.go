// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"time"

	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/model"
)

// Ledger is the full set of ledger operations. Consumers usually declare the
// narrower subset they need; *Store satisfies all of them.
type Ledger interface {
	EnsureSchema(ctx context.Context, groupID string) error
	Groups(ctx context.Context) ([]string, error)
	ClearGroup(ctx context.Context, groupID string) error

	UpsertKeys(ctx context.Context, groupID string, keys []model.Key) ([]model.Key, error)
	PruneKeys(ctx context.Context, groupID string, keep []model.Key) ([]model.Key, error)
	Keys(ctx context.Context, groupID string) ([]model.Key, error)

	UpsertDevices(ctx context.Context, groupID string, devices []model.Device) ([]model.Device, error)
	PruneDevices(ctx context.Context, groupID string, keep []model.Device) ([]model.Device, error)
	Devices(ctx context.Context, groupID string) ([]model.Device, error)
	PendingClears(ctx context.Context, groupID string) ([]model.Device, error)
	ResolvePendingClear(ctx context.Context, groupID, deviceID string) error
	PendingRemovals(ctx context.Context, groupID, deviceID string) ([]model.Key, error)
	ResolvePendingRemovals(ctx context.Context, groupID, deviceID string, serials []string) error

	UpsertUsers(ctx context.Context, groupID string, users []model.User) ([]model.User, error)
	PruneUsers(ctx context.Context, groupID string, keep []model.User) ([]model.User, error)
	UserIDs(ctx context.Context, groupID string) ([]string, error)

	AddAckColumn(ctx context.Context, groupID, deviceID string) error
	DropAckColumn(ctx context.Context, groupID, deviceID string) error
	SetAck(ctx context.Context, groupID, serialNumber, deviceID string, delivered bool) error
	SetAcks(ctx context.Context, groupID, deviceID string, serials []string, delivered bool) error
	FindUnacked(ctx context.Context, groupID, deviceID string) ([]model.Key, error)
	AckMatrix(ctx context.Context, groupID string) ([]model.AckCell, error)

	LogAction(ctx context.Context, action, details string) error
	AuditEntries(ctx context.Context, limit int) ([]model.AuditLogEntry, error)
	StartRun(ctx context.Context, runID string, startedAt time.Time) error
	FinishRun(ctx context.Context, run model.SyncRun) error
	Runs(ctx context.Context, limit int) ([]model.SyncRun, error)

	Export(ctx context.Context, groupIDs []string) (*model.BackupData, error)
	Import(ctx context.Context, data *model.BackupData) error
	Close() error
}

var _ Ledger = (*Store)(nil)
