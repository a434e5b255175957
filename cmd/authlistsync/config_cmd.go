// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/config"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/i18n"
)

func (a *app) newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: i18n.T("cli.config.short"),
	}
	cmd.AddCommand(a.newConfigInitCmd())
	return cmd
}

// newConfigInitCmd writes the resolved configuration (defaults plus any
// environment and flag overrides) as a starter file.
func (a *app) newConfigInitCmd() *cobra.Command {
	var system, force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: i18n.T("cli.config_init.short"),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.GetConfigPath(system)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if _, err := os.Stat(path); err == nil && !force {
				fmt.Fprintln(out, i18n.T("config.exists", path))
				return nil
			}
			cfg := a.cfg
			written, err := config.WriteConfigFile(&cfg, system)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, i18n.T("config.written", written))
			return nil
		},
	}
	cmd.Flags().BoolVar(&system, "system", false, "write the system-wide file instead of the per-user one")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
