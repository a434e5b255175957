// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.
package model

import "time"

// BackupData is a container for all ledger data exported for a backup.
type BackupData struct {
	// SchemaVersion helps in handling migrations during restore.
	SchemaVersion int           `json:"schema_version"`
	CreatedAt     time.Time     `json:"created_at"`
	Groups        []GroupLedger `json:"groups"`
}

// GroupLedger holds one group's ledger tables.
type GroupLedger struct {
	GroupID       string    `json:"group_id"`
	Keys          []Key     `json:"keys"`
	Devices       []Device  `json:"devices"`
	UserIDs       []string  `json:"user_ids"`
	Acks          []AckCell `json:"acks"`
	PendingClears []Device  `json:"pending_clears,omitempty"`

	PendingRemovals []PendingRemoval `json:"pending_removals,omitempty"`
}

// PendingRemoval is a remove command still owed to a device for a key that
// has left the ledger.
type PendingRemoval struct {
	DeviceID string `json:"device_id"`
	Key      Key    `json:"key"`
}

// AckCell is one entry of the acknowledgment matrix.
type AckCell struct {
	SerialNumber string `json:"serial_number"`
	DeviceID     string `json:"device_id"`
	Delivered    bool   `json:"delivered"`
}

// AuditLogEntry is a row of the audit log.
type AuditLogEntry struct {
	ID        int       `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
}

// SyncRun is the persisted outcome of one sync invocation.
type SyncRun struct {
	ID              string     `json:"id"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	Status          string     `json:"status"`
	GroupsProcessed int        `json:"groups_processed"`
	GroupsSkipped   int        `json:"groups_skipped"`
	CommandsSent    int        `json:"commands_sent"`
	CommandsFailed  int        `json:"commands_failed"`
}

// Sync run states.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunPartial   = "partial"
	RunFailed    = "failed"
)
