// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/model"
)

// BackupStore is the ledger view used for backup, restore and migration.
type BackupStore interface {
	Export(ctx context.Context, groupIDs []string) (*model.BackupData, error)
	Import(ctx context.Context, data *model.BackupData) error
}

// Backup exports every ledger group and writes it to w as zstd-compressed
// JSON.
func Backup(ctx context.Context, st BackupStore, w io.Writer) (*model.BackupData, error) {
	data, err := st.Export(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("export backup: %w", err)
	}
	if err := WriteBackup(data, w); err != nil {
		return nil, err
	}
	return data, nil
}

// WriteBackup writes compressed JSON backup data to w.
func WriteBackup(data *model.BackupData, w io.Writer) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	enc := json.NewEncoder(zw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		_ = zw.Close()
		return fmt.Errorf("encode backup: %w", err)
	}
	return zw.Close()
}

// ReadBackup decodes a zstd-compressed JSON backup.
func ReadBackup(r io.Reader) (*model.BackupData, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()
	var data model.BackupData
	if err := json.NewDecoder(zr).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode backup: %w", err)
	}
	return &data, nil
}

// Restore reads a backup from r and replaces the ledger groups it contains.
func Restore(ctx context.Context, st BackupStore, r io.Reader) (*model.BackupData, error) {
	data, err := ReadBackup(r)
	if err != nil {
		return nil, err
	}
	if err := st.Import(ctx, data); err != nil {
		return nil, fmt.Errorf("import backup: %w", err)
	}
	return data, nil
}

// Migrate copies every ledger group from src into dst.
func Migrate(ctx context.Context, src, dst BackupStore) (*model.BackupData, error) {
	data, err := src.Export(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("export backup: %w", err)
	}
	if err := dst.Import(ctx, data); err != nil {
		return nil, fmt.Errorf("import to target: %w", err)
	}
	return data, nil
}
