// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/core"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/i18n"
)

// newSyncCmd represents the 'sync' command. It runs one reconciliation and
// delivery pass over every configured group.
func (a *app) newSyncCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: i18n.T("cli.sync.short"),
		Long: `Fetches the users and vehicles of every configured group, records the
differences in the ledger and sends add/remove/clear commands to the
vehicles whose authorized driver list changed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, ledger, err := a.runner()
			if err != nil {
				return err
			}
			defer ledger.Close()

			rep, err := runner.Sync(commandContext(cmd), core.SyncOptions{DryRun: dryRun})
			printRunReport(cmd.OutOrStdout(), rep)
			return err
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute changes without writing the ledger or sending commands")
	cmd.Flags().Int("workers", 1, "number of groups processed concurrently")
	return cmd
}

// printRunReport writes the per-group lines and the run summary.
func printRunReport(w io.Writer, rep *core.RunReport) {
	if rep == nil {
		return
	}
	for _, g := range rep.Groups {
		name := g.Group.Name
		if name == "" {
			name = g.Group.ID
		}
		res := g.Result
		switch {
		case g.Skipped:
			fmt.Fprintln(w, i18n.T("sync.group_skipped", name, errString(g.Err)))
		case rep.DryRun:
			fmt.Fprintln(w, i18n.T("sync.plan_line", name,
				len(res.NewKeys), len(res.RemovedKeys), len(res.NewDevices), len(res.RemovedDevices)))
		default:
			fmt.Fprintln(w, i18n.T("sync.group_line", name,
				len(res.NewKeys), len(res.RemovedKeys), len(res.NewDevices), len(res.RemovedDevices),
				g.Delivery.CommandsSent+g.Delivery.Cleared, g.Delivery.CommandsFailed+g.Delivery.ClearsFailed))
		}
	}
	for _, name := range rep.MissingGroups {
		fmt.Fprintln(w, i18n.T("sync.group_missing", name))
	}
	if rep.ExceptionsFailed {
		fmt.Fprintln(w, i18n.T("sync.exceptions_failed"))
	}
	if rep.DryRun {
		fmt.Fprintln(w, i18n.T("sync.dry_run"))
		return
	}
	fmt.Fprintln(w, i18n.T("sync.summary", rep.RunID, rep.Processed(), rep.Skipped(), rep.CommandsSent(), rep.CommandsFailed()))
}

func errString(err error) string {
	if err == nil {
		return "-"
	}
	return err.Error()
}

// newClearCmd represents the 'clear' command. It empties the authorized
// driver list of every vehicle in the named groups and wipes their ledger
// tables so the next sync sends complete lists.
func (a *app) newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear [group...]",
		Short: i18n.T("cli.clear.short"),
		Long: `Sends a clear command to every vehicle of the named groups, or of all
configured groups when none are named, and resets the groups' ledger.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				a.cfg.Groups = args
			}
			runner, ledger, err := a.runner()
			if err != nil {
				return err
			}
			defer ledger.Close()

			rep, err := runner.Clear(commandContext(cmd), args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, name := range rep.MissingGroups {
				fmt.Fprintln(out, i18n.T("sync.group_missing", name))
			}
			for _, e := range rep.Errors {
				fmt.Fprintf(out, "  %v\n", e)
			}
			fmt.Fprintln(out, i18n.T("clear.summary", rep.Cleared, rep.Failed))
			return nil
		},
	}
}

// newQACmd represents the 'qa' command. It lists authorized driver list
// messages that the directory has not confirmed as delivered.
func (a *app) newQACmd() *cobra.Command {
	var (
		since   time.Duration
		requeue bool
	)
	cmd := &cobra.Command{
		Use:   "qa",
		Short: i18n.T("cli.qa.short"),
		Long: `Reads the DriverAuthList text messages sent within --since and reports
those without a delivery time. With --requeue the ledger forgets the
undelivered add commands so the next sync sends those keys again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, ledger, err := a.runner()
			if err != nil {
				return err
			}
			defer ledger.Close()

			from := time.Now().Add(-since)
			rep, err := runner.QA(commandContext(cmd), from, requeue)
			if err != nil {
				return err
			}
			printQAReport(cmd.OutOrStdout(), rep)
			return nil
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "how far back to look for sent messages")
	cmd.Flags().BoolVar(&requeue, "requeue", false, "mark undelivered keys for redelivery on the next sync")
	return cmd
}

func printQAReport(w io.Writer, rep *core.QAReport) {
	stamp := rep.Since.Format(time.RFC3339)
	pending := 0
	for _, d := range rep.Devices {
		pending += len(d.Pending)
	}
	if pending == 0 {
		fmt.Fprintln(w, i18n.T("qa.none", stamp))
	} else {
		fmt.Fprintln(w, i18n.T("qa.header", stamp))
		for _, d := range rep.Devices {
			for _, m := range d.Pending {
				fmt.Fprintln(w, i18n.T("qa.line", m.Sent.Format(time.RFC3339), d.DeviceID, m.Command.String()))
			}
		}
	}
	if rep.Requeued > 0 {
		fmt.Fprintln(w, i18n.T("qa.requeued", rep.Requeued))
	}
}

// newStatusCmd represents the 'status' command. It reads only the ledger.
func (a *app) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: i18n.T("cli.status.short"),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := a.ledger()
			if err != nil {
				return err
			}
			defer ledger.Close()

			ctx := commandContext(cmd)
			out := cmd.OutOrStdout()
			if runs, err := ledger.Runs(ctx, 1); err == nil && len(runs) > 0 {
				r := runs[0]
				fmt.Fprintln(out, i18n.T("status.last_run", r.StartedAt.Format(time.RFC3339), r.Status,
					r.GroupsProcessed, r.GroupsSkipped, r.CommandsSent, r.CommandsFailed))
			}

			drifts, err := core.Status(ctx, ledger)
			if err != nil {
				return err
			}
			if len(drifts) == 0 {
				fmt.Fprintln(out, i18n.T("status.none"))
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, i18n.T("status.header"))
			for _, d := range drifts {
				fmt.Fprintln(tw, i18n.T("status.line", d.GroupID, d.Device.ID, d.IntendedKeys, len(d.Unacked), string(d.Classification())))
			}
			return tw.Flush()
		},
	}
}
