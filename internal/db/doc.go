// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

// Package db is the ledger: the durable local mirror of what each managed
// group's devices are believed to hold, since devices cannot be read back.
//
// Layout
//   - Per group (id sanitized to [A-Za-z0-9_]): keys_<gid>, devices_<gid>,
//     users_<gid> and acks_<gid>. acks_<gid> is the acknowledgment matrix as
//     an association table keyed by (serial_number, device_id); a cell is 0
//     until a delivery of that key to that device succeeds.
//   - Static tables created by the embedded migrations: audit_log, sync_runs,
//     pending_clears, pending_removals and ledger_groups. The two pending
//     tables hold clear and remove commands owed to devices whose ledger
//     rows are already gone, until a delivery succeeds.
//
// Every mutation runs in its own transaction, and mutations of one group are
// serialized by an in-process mutex so acknowledgment changes never
// interleave with row writes to the same group.
//
// Testing notes
//   - Use NewStoreFromDSN("sqlite", "file:<name>?mode=memory&cache=shared")
//     for real engine semantics and migrations.
//   - Storage faults are injected with go-sqlmock through newStore.
package db // import "github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/db"
