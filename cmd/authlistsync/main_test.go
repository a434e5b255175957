// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"testing"
	"time"

	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/config"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/directory"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/model"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/testutil"
)

// setupCLI writes a config file pointing at a file-backed SQLite ledger in a
// temporary directory and replaces the directory client with a fake.
func setupCLI(t *testing.T, withCredentials bool) (*testutil.FakeDirectory, string) {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "xdg"))

	creds := "  server: my.geotab.com\n"
	if withCredentials {
		creds += "  username: svc\n  password: secret\n  database: fleet\n"
	}
	content := "geotab:\n" + creds +
		"groups:\n  - Depot A\n" +
		"exception_group_id: exc\n" +
		"database:\n  type: sqlite\n  dsn: " + filepath.Join(tmp, "ledger.db") + "\n" +
		"delivery:\n  batch_size: 50\n  max_attempts: 2\n  retry_delay: 1ms\n  command_delay: 0s\n" +
		"log:\n  level: error\n"
	cfgPath := filepath.Join(tmp, "authlistsync.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	dir := testutil.NewFakeDirectory()
	dir.AddGroup("g1", "Depot A")
	dir.AddGroup("exc", "Exceptions")
	dir.AddDevice("g1", testutil.Vehicle("b1", "SN1"))
	dir.AddUser("g1", testutil.Driver("u1", "K1"))

	orig := newDirectory
	newDirectory = func(config.Config, *slog.Logger) directory.FleetDirectory { return dir }
	t.Cleanup(func() { newDirectory = orig })
	return dir, cfgPath
}

// executeCommand runs a fresh root command and captures its standard output.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func mustExecute(t *testing.T, args ...string) string {
	t.Helper()
	out, err := executeCommand(t, args...)
	if err != nil {
		t.Fatalf("%s failed: %v\noutput:\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func TestSyncCmd_DeliversAndSummarizes(t *testing.T) {
	dir, cfgPath := setupCLI(t, true)

	out := mustExecute(t, "--config", cfgPath, "sync")
	if !strings.Contains(out, "Depot A: +1 keys, -0 keys, +1 devices, -0 devices, 1 delivered, 0 failed") {
		t.Errorf("missing group line, output:\n%s", out)
	}
	if !strings.Contains(out, "1 groups processed, 0 skipped, 1 commands sent, 0 failed") {
		t.Errorf("missing summary, output:\n%s", out)
	}
	if cmds := dir.Commands(); len(cmds) != 1 || cmds[0].String() != "add K1 to b1" {
		t.Fatalf("unexpected commands: %v", cmds)
	}

	out = mustExecute(t, "--config", cfgPath, "status")
	if !strings.Contains(out, "completed") {
		t.Errorf("expected last run status, output:\n%s", out)
	}
	if !strings.Contains(out, "b1") || !strings.Contains(out, "info") {
		t.Errorf("expected device row for b1, output:\n%s", out)
	}
}

func TestSyncCmd_DryRunSendsNothing(t *testing.T) {
	dir, cfgPath := setupCLI(t, true)

	out := mustExecute(t, "--config", cfgPath, "sync", "--dry-run")
	if !strings.Contains(out, "Depot A: +1 keys, -0 keys, +1 devices, -0 devices") {
		t.Errorf("missing plan line, output:\n%s", out)
	}
	if !strings.Contains(out, "Dry run") {
		t.Errorf("missing dry run notice, output:\n%s", out)
	}
	if n := len(dir.Commands()); n != 0 {
		t.Fatalf("dry run sent %d commands", n)
	}

	out = mustExecute(t, "--config", cfgPath, "status")
	if !strings.Contains(out, "No devices are recorded") {
		t.Errorf("dry run wrote the ledger, output:\n%s", out)
	}
}

func TestSyncCmd_ConfigErrors(t *testing.T) {
	t.Run("missing credentials", func(t *testing.T) {
		dir, cfgPath := setupCLI(t, false)
		_, err := executeCommand(t, "--config", cfgPath, "sync")
		var cfgErr *config.ConfigError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("expected ConfigError, got %v", err)
		}
		if dir.AuthCalls() != 0 {
			t.Errorf("directory contacted despite invalid config")
		}
	})

	t.Run("authentication failure", func(t *testing.T) {
		dir, cfgPath := setupCLI(t, true)
		dir.AuthErr = errors.New("InvalidUserException")
		_, err := executeCommand(t, "--config", cfgPath, "sync")
		var cfgErr *config.ConfigError
		if !errors.As(err, &cfgErr) || cfgErr.Field != "geotab" {
			t.Fatalf("expected geotab ConfigError, got %v", err)
		}
	})

	t.Run("unreadable config path", func(t *testing.T) {
		setupCLI(t, true)
		_, err := executeCommand(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "status")
		if err == nil {
			t.Fatal("expected an error for a missing --config file")
		}
	})
}

func TestClearCmd(t *testing.T) {
	dir, cfgPath := setupCLI(t, true)
	mustExecute(t, "--config", cfgPath, "sync")
	dir.ResetCommands()

	out := mustExecute(t, "--config", cfgPath, "clear", "Depot A")
	if !strings.Contains(out, "on 1 vehicles (0 failed)") {
		t.Errorf("missing clear summary, output:\n%s", out)
	}
	if cmds := dir.Commands(); len(cmds) != 1 || cmds[0].String() != "clear b1" {
		t.Fatalf("unexpected commands: %v", cmds)
	}

	// The ledger was wiped, so the next sync sends the full list again.
	dir.ResetCommands()
	mustExecute(t, "--config", cfgPath, "sync")
	if cmds := dir.Commands(); len(cmds) != 1 || cmds[0].String() != "add K1 to b1" {
		t.Fatalf("expected full resend after clear, got %v", cmds)
	}
}

func TestQACmd_RequeuesUndelivered(t *testing.T) {
	dir, cfgPath := setupCLI(t, true)
	mustExecute(t, "--config", cfgPath, "sync")

	dir.Messages = []model.TextMessage{{
		ID:       "m1",
		DeviceID: "b1",
		Sent:     time.Now().Add(-time.Hour),
		Command:  model.NewAddCommand("b1", testutil.Key("K1")),
	}}

	out := mustExecute(t, "--config", cfgPath, "qa", "--requeue")
	if !strings.Contains(out, "add K1 to b1") {
		t.Errorf("missing pending message, output:\n%s", out)
	}
	if !strings.Contains(out, "Marked 1 key assignments") {
		t.Errorf("missing requeue count, output:\n%s", out)
	}

	out = mustExecute(t, "--config", cfgPath, "status")
	if !strings.Contains(out, "warning") {
		t.Errorf("requeued key should show as unconfirmed, output:\n%s", out)
	}
}

func TestBackupRestoreCmd(t *testing.T) {
	_, cfgPath := setupCLI(t, true)
	mustExecute(t, "--config", cfgPath, "sync")

	backup := filepath.Join(t.TempDir(), "ledger-backup")
	out := mustExecute(t, "--config", cfgPath, "backup", backup)
	if !strings.Contains(out, "Backup of 1 groups") {
		t.Errorf("missing backup summary, output:\n%s", out)
	}
	if _, err := os.Stat(backup + ".zst"); err != nil {
		t.Fatalf("backup file not written with .zst suffix: %v", err)
	}

	fresh := filepath.Join(t.TempDir(), "restored.db")
	out = mustExecute(t, "--config", cfgPath, "--db-dsn", fresh, "restore", backup+".zst")
	if !strings.Contains(out, "Restored 1 groups") {
		t.Errorf("missing restore summary, output:\n%s", out)
	}
	out = mustExecute(t, "--config", cfgPath, "--db-dsn", fresh, "status")
	if !strings.Contains(out, "b1") {
		t.Errorf("restored ledger lacks device b1, output:\n%s", out)
	}
}

func TestMigrateCmd(t *testing.T) {
	_, cfgPath := setupCLI(t, true)
	mustExecute(t, "--config", cfgPath, "sync")

	target := filepath.Join(t.TempDir(), "target.db")
	out := mustExecute(t, "--config", cfgPath, "migrate", "--type", "sqlite", "--dsn", target)
	if !strings.Contains(out, "Migrated 1 groups to sqlite") {
		t.Errorf("missing migrate summary, output:\n%s", out)
	}

	if _, err := executeCommand(t, "--config", cfgPath, "migrate", "--type", "oracle", "--dsn", target); err == nil {
		t.Error("expected unsupported target type to fail")
	}
}

func TestMaintenanceCmd(t *testing.T) {
	_, cfgPath := setupCLI(t, true)
	mustExecute(t, "--config", cfgPath, "sync")
	out := mustExecute(t, "--config", cfgPath, "maintenance")
	if !strings.Contains(out, "maintenance finished") {
		t.Errorf("missing maintenance message, output:\n%s", out)
	}
}

func TestConfigInitCmd(t *testing.T) {
	_, cfgPath := setupCLI(t, true)

	out := mustExecute(t, "--config", cfgPath, "config", "init")
	path, err := config.GetConfigPath(false)
	if err != nil {
		t.Fatalf("GetConfigPath: %v", err)
	}
	if !strings.Contains(out, path) {
		t.Errorf("expected written path %s, output:\n%s", path, out)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if !strings.Contains(string(data), "Depot A") {
		t.Errorf("written config lacks resolved groups:\n%s", data)
	}

	out = mustExecute(t, "--config", cfgPath, "config", "init")
	if !strings.Contains(out, "already exists") {
		t.Errorf("expected refusal without --force, output:\n%s", out)
	}
	mustExecute(t, "--config", cfgPath, "config", "init", "--force")
}

func TestScheduleDefinition(t *testing.T) {
	tests := []struct {
		name      string
		s         schedule
		immediate bool
		wantErr   bool
	}{
		{"interval", schedule{interval: time.Hour}, true, false},
		{"cron", schedule{interval: time.Hour, cron: "0 * * * *"}, false, false},
		{"both explicit", schedule{interval: time.Hour, intervalSet: true, cron: "0 * * * *"}, false, true},
		{"zero interval", schedule{}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, _, immediate, err := tt.s.definition()
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && (def == nil || immediate != tt.immediate) {
				t.Fatalf("def = %v, immediate = %v", def, immediate)
			}
		})
	}
}

func TestDaemonCmd_RejectsConflictingSchedule(t *testing.T) {
	dir, cfgPath := setupCLI(t, true)
	_, err := executeCommand(t, "--config", cfgPath, "daemon", "--interval", "5m", "--cron", "0 * * * *")
	var cfgErr *config.ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "schedule" {
		t.Fatalf("expected schedule ConfigError, got %v", err)
	}
	if dir.AuthCalls() != 0 {
		t.Error("daemon started despite invalid schedule")
	}
}

func TestResolveBuildVersion(t *testing.T) {
	info := &debug.BuildInfo{
		Main: debug.Module{Version: "v1.4.0"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "abc123"},
			{Key: "vcs.time", Value: "2025-01-02T03:04:05Z"},
		},
	}
	v, commit, date := resolveBuildVersion(info)
	if v != "v1.4.0" || commit != "abc123" || date != "2025-01-02T03:04:05Z" {
		t.Fatalf("got %s %s %s", v, commit, date)
	}

	v, _, _ = resolveBuildVersion(&debug.BuildInfo{Main: debug.Module{Version: "(devel)"}})
	if v != "dev" {
		t.Fatalf("expected dev for a devel build, got %s", v)
	}
}

func TestDefaultBackupName(t *testing.T) {
	got := defaultBackupName(time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC))
	if got != "authlistsync-backup-2025-03-09.json.zst" {
		t.Fatalf("got %s", got)
	}
}
