// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/spf13/cobra"

	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/config"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/core"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/i18n"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/logging"
)

// schedule describes when the daemon runs sync.
type schedule struct {
	interval    time.Duration
	intervalSet bool
	cron        string
}

// definition returns the gocron job definition, a description for the
// operator and whether the first run starts immediately.
func (s schedule) definition() (gocron.JobDefinition, string, bool, error) {
	switch {
	case s.cron != "" && s.intervalSet:
		return nil, "", false, errors.New("--interval and --cron are mutually exclusive")
	case s.cron != "":
		return gocron.CronJob(s.cron, false), "cron " + s.cron, false, nil
	case s.interval > 0:
		return gocron.DurationJob(s.interval), "every " + s.interval.String(), true, nil
	default:
		return nil, "", false, errors.New("--interval must be positive")
	}
}

// newDaemonCmd represents the 'daemon' command. Runs never overlap: a run
// still in progress when the next one is due delays it.
func (a *app) newDaemonCmd() *cobra.Command {
	var s schedule
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: i18n.T("cli.daemon.short"),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s.intervalSet = cmd.Flags().Changed("interval")
			if _, _, _, err := s.definition(); err != nil {
				return &config.ConfigError{Field: "schedule", Reason: err.Error()}
			}
			runner, ledger, err := a.runner()
			if err != nil {
				return err
			}
			defer ledger.Close()

			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, cmd.OutOrStdout(), runner, s)
		},
	}
	cmd.Flags().DurationVar(&s.interval, "interval", time.Hour, "run sync at this fixed interval")
	cmd.Flags().StringVar(&s.cron, "cron", "", "run sync on this cron expression instead of an interval")
	return cmd
}

// runDaemon schedules sync until ctx is done. The first run starts
// immediately for interval schedules.
func runDaemon(ctx context.Context, out io.Writer, runner *core.Runner, s schedule) error {
	log := logging.WithComponent("daemon")
	def, desc, immediate, err := s.definition()
	if err != nil {
		return err
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}

	opts := []gocron.JobOption{
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("authlist-sync"),
	}
	if immediate {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}

	_, err = scheduler.NewJob(def, gocron.NewTask(func() {
		rep, err := runner.Sync(ctx, core.SyncOptions{})
		if err != nil {
			log.Error("scheduled sync failed", "error", err)
		}
		printRunReport(out, rep)
	}), opts...)
	if err != nil {
		return fmt.Errorf("schedule sync: %w", err)
	}

	scheduler.Start()
	fmt.Fprintln(out, i18n.T("daemon.started", desc))
	<-ctx.Done()

	if err := scheduler.Shutdown(); err != nil {
		log.Warn("scheduler shutdown", "error", err)
	}
	fmt.Fprintln(out, i18n.T("daemon.stopped"))
	return nil
}
