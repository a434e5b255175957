// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

// main.go sets up the command-line interface for authlistsync using the
// Cobra library. It defines the root command, the persistent flags shared by
// every subcommand and the main entry point for execution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/Curbea/Geotab-AuthlistSyncByGroup/buildvars"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/config"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/core"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/db"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/directory"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/geotab"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/i18n"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/logging"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/state"
)

var (
	version   = "dev" // set by the linker
	gitCommit = "unknown"
	buildDate = "unknown"
)

// main is the entry point of the application.
func main() {
	if err := newRootCmd().Execute(); err != nil {
		// The error is already printed by Cobra on failure.
		os.Exit(1)
	}
}

// newDirectory builds the fleet directory client. Tests replace it with a
// fake.
var newDirectory = func(cfg config.Config, logger *slog.Logger) directory.FleetDirectory {
	return geotab.NewClient(geotab.Options{
		Server:            cfg.Geotab.Server,
		Username:          cfg.Geotab.Username,
		Password:          cfg.Geotab.Password,
		Database:          cfg.Geotab.Database,
		Timeout:           cfg.Geotab.Timeout,
		RequestsPerSecond: cfg.Geotab.RequestsPerSecond,
		Sessions:          state.NewSessionCache(),
		Logger:            logger,
	})
}

// openLedger opens the configured ledger.
var openLedger = func(cfg config.DatabaseConfig) (db.Ledger, error) {
	return db.NewStoreFromDSN(cfg.Type, cfg.Dsn)
}

// app holds the state resolved for one invocation of the root command.
type app struct {
	cfgFile string
	verbose bool
	cfg     config.Config
}

// newRootCmd creates the root command and all subcommands. Each call returns
// an independent tree, which keeps tests isolated.
func newRootCmd() *cobra.Command {
	a := &app{}
	defaults := config.Defaults()

	cmd := &cobra.Command{
		Use:          "authlistsync",
		Short:        i18n.T("cli.root.short"),
		Long:         i18n.T("cli.root.long"),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	v, commit, date := resolveBuildVersion(nil)
	cmd.Version = v
	cmd.SetVersionTemplate(fmt.Sprintf("authlistsync %s (commit %s, built %s)\n", v, commit, date))

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is authlistsync.yaml in the user or system config directory)")
	flags.String("db-type", defaults["database.type"].(string), "ledger database type (sqlite, postgres, mysql)")
	flags.String("db-dsn", defaults["database.dsn"].(string), "ledger connection string (DSN)")
	flags.String("log-level", defaults["log.level"].(string), "log level (debug, info, warn, error)")
	flags.String("lang", defaults["language"].(string), `output language ("en", "de")`)
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(
		a.newSyncCmd(),
		a.newClearCmd(),
		a.newQACmd(),
		a.newStatusCmd(),
		a.newBackupCmd(),
		a.newRestoreCmd(),
		a.newMigrateCmd(),
		a.newMaintenanceCmd(),
		a.newDaemonCmd(),
		a.newConfigCmd(),
	)
	return cmd
}

// setup loads the configuration and initializes logging and i18n for every
// subcommand.
func (a *app) setup(cmd *cobra.Command) error {
	if a.cfgFile != "" {
		if _, err := os.Stat(a.cfgFile); err != nil {
			return &config.ConfigError{Field: "config", Reason: "file not readable", Err: err}
		}
	}
	cfg, err := config.LoadConfig[config.Config](cmd, config.Defaults(), &a.cfgFile)
	if err != nil {
		return &config.ConfigError{Field: "config", Reason: "could not be loaded", Err: err}
	}
	if a.verbose {
		cfg.Log.Level = "debug"
	}
	if err := logging.Init(cfg.Log); err != nil {
		return &config.ConfigError{Field: "log", Reason: "invalid logging settings", Err: err}
	}
	i18n.Init(cfg.Language)
	a.cfg = cfg
	return nil
}

// runner opens the ledger and builds a Runner over the fleet directory. The
// caller closes the returned ledger.
func (a *app) runner() (*core.Runner, db.Ledger, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, nil, err
	}
	ledger, err := openLedger(a.cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.Get()
	return core.NewRunner(a.cfg, newDirectory(a.cfg, logger), ledger, logger), ledger, nil
}

// ledger opens the configured ledger for commands that do not talk to the
// directory.
func (a *app) ledger() (db.Ledger, error) {
	if err := a.cfg.ValidateStorage(); err != nil {
		return nil, err
	}
	return openLedger(a.cfg.Database)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// resolveBuildVersion prefers linker-provided values and falls back to the
// module build information.
func resolveBuildVersion(info *debug.BuildInfo) (versionOut, commitOut, dateOut string) {
	resolvedVersion := buildvars.VersionOrDefault(version)
	resolvedCommit := gitCommit
	resolvedDate := buildDate

	if info == nil {
		if local, ok := debug.ReadBuildInfo(); ok {
			info = local
		}
	}
	if info == nil {
		return resolvedVersion, resolvedCommit, resolvedDate
	}

	if resolvedVersion == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		resolvedVersion = info.Main.Version
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if s.Value != "" && resolvedCommit == "unknown" {
				resolvedCommit = s.Value
			}
		case "vcs.time":
			if s.Value != "" && resolvedDate == "unknown" {
				resolvedDate = s.Value
			}
		}
	}
	return resolvedVersion, resolvedCommit, resolvedDate
}
