// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/config"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/core"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/db"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/i18n"
)

// defaultBackupName returns authlistsync-backup-YYYY-MM-DD.json.zst.
func defaultBackupName(now time.Time) string {
	return fmt.Sprintf("authlistsync-backup-%s.json.zst", now.Format("2006-01-02"))
}

// newBackupCmd represents the 'backup' command.
func (a *app) newBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup [file]",
		Short: i18n.T("cli.backup.short"),
		Long: `Exports every group's keys, devices, users and acknowledgments to a
zstd-compressed JSON file. The default file name carries today's date.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := defaultBackupName(time.Now())
			if len(args) > 0 {
				target = args[0]
				if !strings.HasSuffix(target, ".zst") {
					target += ".zst"
				}
			}

			ledger, err := a.ledger()
			if err != nil {
				return err
			}
			defer ledger.Close()

			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
			if err != nil {
				return fmt.Errorf("create backup file: %w", err)
			}
			data, err := core.Backup(commandContext(cmd), ledger, f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				_ = os.Remove(target)
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("backup.done", len(data.Groups), target))
			return nil
		},
	}
}

// newRestoreCmd represents the 'restore' command. Restored groups replace
// their current ledger tables; groups absent from the file are untouched.
func (a *app) newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <file>",
		Short: i18n.T("cli.restore.short"),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := a.ledger()
			if err != nil {
				return err
			}
			defer ledger.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open backup file: %w", err)
			}
			defer f.Close()

			data, err := core.Restore(commandContext(cmd), ledger, f)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("restore.done", len(data.Groups), args[0]))
			return nil
		},
	}
}

// newMigrateCmd represents the 'migrate' command. It copies the ledger of
// the configured database into another engine.
func (a *app) newMigrateCmd() *cobra.Command {
	var target config.DatabaseConfig
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: i18n.T("cli.migrate.short"),
		Long: `Copies every group's ledger from the configured database into the
database given by --type and --dsn, for example from SQLite to Postgres.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			check := config.Config{Database: target}
			if err := check.ValidateStorage(); err != nil {
				return err
			}

			src, err := a.ledger()
			if err != nil {
				return err
			}
			defer src.Close()

			dst, err := openLedger(target)
			if err != nil {
				return err
			}
			defer dst.Close()

			data, err := core.Migrate(commandContext(cmd), src, dst)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("migrate.done", len(data.Groups), target.Type))
			return nil
		},
	}
	cmd.Flags().StringVar(&target.Type, "type", "", "target database type (sqlite, postgres, mysql)")
	cmd.Flags().StringVar(&target.Dsn, "dsn", "", "target connection string (DSN)")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("dsn")
	return cmd
}

// newMaintenanceCmd represents the 'maintenance' command.
func (a *app) newMaintenanceCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: i18n.T("cli.maintenance.short"),
		Long:  `Runs engine-specific maintenance tasks (PRAGMA optimize and VACUUM, VACUUM ANALYZE, OPTIMIZE TABLE).`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.ValidateStorage(); err != nil {
				return err
			}
			ctx := commandContext(cmd)
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			if err := db.RunDBMaintenance(ctx, a.cfg.Database.Type, a.cfg.Database.Dsn); err != nil {
				return fmt.Errorf("maintenance failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("maintenance.done"))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "abort maintenance after this long (0 means no limit)")
	return cmd
}
