// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy_test

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/config"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/db"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/deploy"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/directory"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/model"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/reconcile"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/testutil"
)

const gid = "g1"

type harness struct {
	store  *db.Store
	dir    *testutil.FakeDirectory
	rec    *reconcile.Reconciler
	driver *deploy.Driver
}

func newHarness(t *testing.T, cfg config.DeliveryConfig) *harness {
	t.Helper()
	store := testutil.NewLedger(t)
	require.NoError(t, store.EnsureSchema(context.Background(), gid))
	dir := testutil.NewFakeDirectory()
	logger := slog.New(slog.DiscardHandler)
	return &harness{
		store:  store,
		dir:    dir,
		rec:    reconcile.New(store, logger),
		driver: deploy.New(store, dir, cfg, logger),
	}
}

func defaultDelivery() config.DeliveryConfig {
	return config.DeliveryConfig{BatchSize: 50, MaxAttempts: 3, RetryDelay: time.Millisecond}
}

// run reconciles one snapshot and delivers the result.
func (h *harness) run(t *testing.T, keys []model.Key, devices ...model.Device) (model.ReconciliationResult, deploy.Report) {
	t.Helper()
	ctx := context.Background()
	res, err := h.rec.Reconcile(ctx, directory.Snapshot{GroupID: gid, Keys: keys, Devices: devices})
	require.NoError(t, err)
	rep, err := h.driver.Deliver(ctx, res)
	require.NoError(t, err)
	return res, rep
}

func keys(serials ...string) []model.Key {
	out := make([]model.Key, 0, len(serials))
	for _, s := range serials {
		out = append(out, testutil.Key(s))
	}
	return out
}

func describe(cmds []model.AuthListCommand) []string {
	out := make([]string, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, c.String())
	}
	return out
}

func TestEndToEndFirstAndSecondRun(t *testing.T) {
	h := newHarness(t, defaultDelivery())
	v1 := testutil.Vehicle("b1", "SN1")

	res, rep := h.run(t, keys("K1"), v1)
	assert.Equal(t, []string{"K1"}, testutil.Serials(res.NewKeys))
	require.Len(t, res.NewDevices, 1)
	assert.Equal(t, []string{"add K1 to b1"}, describe(h.dir.Commands()))
	assert.Equal(t, 1, h.dir.SendAttempts(), "one batch")
	assert.Equal(t, 1, rep.CommandsSent)

	unacked, err := h.store.FindUnacked(context.Background(), gid, "b1")
	require.NoError(t, err)
	assert.Empty(t, unacked)

	h.dir.ResetCommands()
	res, rep = h.run(t, keys("K1"), v1)
	assert.True(t, res.Empty())
	assert.Empty(t, h.dir.Commands())
	assert.Zero(t, rep.CommandsSent)
}

func TestRemovalIsSentBeforeAdds(t *testing.T) {
	h := newHarness(t, defaultDelivery())
	v1 := testutil.Vehicle("b1", "SN1")
	h.run(t, keys("K1"), v1)
	h.dir.ResetCommands()

	res, _ := h.run(t, keys("K2"), v1)
	assert.Equal(t, []string{"K1"}, testutil.Serials(res.RemovedKeys))
	assert.Equal(t, []string{"remove K1 from b1", "add K2 to b1"}, describe(h.dir.Commands()))

	h.dir.ResetCommands()
	h.run(t, nil, v1)
	assert.Equal(t, []string{"remove K2 from b1"}, describe(h.dir.Commands()))
}

func TestCommandsAreChunked(t *testing.T) {
	h := newHarness(t, defaultDelivery())
	var serials []string
	for i := range 120 {
		serials = append(serials, fmt.Sprintf("K%03d", i))
	}

	_, rep := h.run(t, keys(serials...), testutil.Vehicle("b1", "SN1"))
	assert.Equal(t, 3, h.dir.SendAttempts())
	assert.Equal(t, 120, rep.CommandsSent)
	unacked, err := h.store.FindUnacked(context.Background(), gid, "b1")
	require.NoError(t, err)
	assert.Empty(t, unacked)
}

func TestTransientFailureConvergesWithinRun(t *testing.T) {
	h := newHarness(t, defaultDelivery())
	h.dir.SendFailures["b1"] = 2

	_, rep := h.run(t, keys("K1", "K2"), testutil.Vehicle("b1", "SN1"))
	assert.Empty(t, rep.Errors)
	assert.Equal(t, 3, h.dir.SendAttempts())
	unacked, err := h.store.FindUnacked(context.Background(), gid, "b1")
	require.NoError(t, err)
	assert.Empty(t, unacked)
}

func TestExhaustedRetriesLeaveKeysForNextRun(t *testing.T) {
	h := newHarness(t, defaultDelivery())
	v1 := testutil.Vehicle("b1", "SN1")
	h.dir.SendFailures["b1"] = 3

	_, rep := h.run(t, keys("K1"), v1)
	require.Len(t, rep.Errors, 1)
	var derr *deploy.DeliveryError
	require.ErrorAs(t, rep.Errors[0], &derr)
	assert.Equal(t, "b1", derr.DeviceID)
	assert.Equal(t, []string{"K1"}, derr.Keys)
	assert.Equal(t, 3, derr.Attempts)
	assert.ErrorIs(t, derr, testutil.ErrInjected)
	assert.Equal(t, 1, rep.CommandsFailed)

	unacked, err := h.store.FindUnacked(context.Background(), gid, "b1")
	require.NoError(t, err)
	assert.Equal(t, []string{"K1"}, testutil.Serials(unacked))

	res, rep := h.run(t, keys("K1"), v1)
	assert.True(t, res.Empty())
	assert.Equal(t, []string{"add K1 to b1"}, describe(h.dir.Commands()), "the retry sweep resends the key")
	assert.Empty(t, rep.Errors)

	unacked, err = h.store.FindUnacked(context.Background(), gid, "b1")
	require.NoError(t, err)
	assert.Empty(t, unacked)
}

func TestFailedRemovalIsRetriedNextRun(t *testing.T) {
	h := newHarness(t, defaultDelivery())
	v1 := testutil.Vehicle("b1", "SN1")
	h.run(t, keys("K1"), v1)
	h.dir.ResetCommands()

	h.dir.SendFailures["b1"] = 3
	res, rep := h.run(t, nil, v1)
	assert.Equal(t, []string{"K1"}, testutil.Serials(res.RemovedKeys))
	assert.Equal(t, 1, rep.CommandsFailed)
	assert.Empty(t, h.dir.Commands())

	res, rep = h.run(t, nil, v1)
	assert.Empty(t, res.RemovedKeys)
	assert.Equal(t, []string{"remove K1 from b1"}, describe(h.dir.Commands()))
	assert.Equal(t, 1, rep.CommandsSent)

	owed, err := h.store.PendingRemovals(context.Background(), gid, "b1")
	require.NoError(t, err)
	assert.Empty(t, owed)

	h.dir.ResetCommands()
	h.run(t, nil, v1)
	assert.Empty(t, h.dir.Commands(), "a delivered removal is not sent again")
}

func TestSweepUnackedResendsPendingRemovals(t *testing.T) {
	h := newHarness(t, defaultDelivery())
	v1 := testutil.Vehicle("b1", "SN1")
	h.run(t, keys("K1", "K2"), v1)
	h.dir.SendFailures["b1"] = 3
	h.run(t, keys("K2"), v1)
	h.dir.ResetCommands()

	rep, err := h.driver.SweepUnacked(context.Background(), gid, []model.Device{v1})
	require.NoError(t, err)
	assert.Equal(t, []string{"remove K1 from b1"}, describe(h.dir.Commands()))
	assert.Equal(t, 1, rep.CommandsSent)
}

func TestSweepSkipsKeysAttemptedThisRun(t *testing.T) {
	h := newHarness(t, defaultDelivery())
	v1 := testutil.Vehicle("b1", "SN1")
	h.run(t, keys("K1"), v1)
	h.dir.ResetCommands()

	// K2 fails every attempt; it must not be sent again by the sweep.
	h.dir.SendFailures["b1"] = 3
	_, rep := h.run(t, keys("K1", "K2"), v1)
	assert.Equal(t, 3, h.dir.SendAttempts())
	assert.Len(t, rep.Errors, 1)
}

func TestRemovedDeviceIsClearedBeforeReusedIDGetsKeys(t *testing.T) {
	h := newHarness(t, defaultDelivery())
	h.run(t, keys("K1", "K2"), testutil.Vehicle("b1", "OLD"))
	h.dir.ResetCommands()

	_, rep := h.run(t, keys("K1", "K2"), testutil.Vehicle("b1", "NEW"))
	assert.Equal(t, []string{"clear b1", "add K1 to b1", "add K2 to b1"}, describe(h.dir.Commands()))
	assert.Equal(t, 1, rep.Cleared)

	pending, err := h.store.PendingClears(context.Background(), gid)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestFailedClearIsRetriedNextRun(t *testing.T) {
	h := newHarness(t, defaultDelivery())
	v1, v2 := testutil.Vehicle("b1", "SN1"), testutil.Vehicle("b2", "SN2")
	h.run(t, keys("K1"), v1, v2)
	h.dir.ResetCommands()

	h.dir.SendFailures["b2"] = 1
	_, rep := h.run(t, keys("K1"), v1)
	assert.Equal(t, 1, rep.ClearsFailed)
	assert.Equal(t, 1, h.dir.SendAttempts(), "clears are not retried within a run")

	_, rep = h.run(t, keys("K1"), v1)
	assert.Equal(t, 1, rep.Cleared)
	assert.Equal(t, []string{"clear b2"}, describe(h.dir.Commands()))

	entries, err := h.store.AuditEntries(context.Background(), 10)
	require.NoError(t, err)
	var actions []string
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, "CLEAR_FAILED")
	assert.Contains(t, actions, "CLEAR_SENT")
}

func TestSweepUnackedOnly(t *testing.T) {
	h := newHarness(t, defaultDelivery())
	v1 := testutil.Vehicle("b1", "SN1")
	h.dir.SendFailures["b1"] = 3
	h.run(t, keys("K1"), v1)
	h.dir.ResetCommands()

	rep, err := h.driver.SweepUnacked(context.Background(), gid, []model.Device{v1})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.CommandsSent)
	assert.Equal(t, []string{"add K1 to b1"}, describe(h.dir.Commands()))
}

func TestDeliverStopsOnCancelledContext(t *testing.T) {
	h := newHarness(t, defaultDelivery())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.driver.Deliver(ctx, model.ReconciliationResult{
		GroupID:       gid,
		AllKeys:       keys("K1"),
		ActiveDevices: []model.Device{testutil.Vehicle("b1", "SN1")},
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, h.dir.SendAttempts())
}

func TestAnalyzeDrift(t *testing.T) {
	h := newHarness(t, defaultDelivery())
	h.dir.SendFailures["b2"] = 3
	h.run(t, keys("K1", "K2"), testutil.Vehicle("b1", "SN1"), testutil.Vehicle("b2", "SN2"))

	drift, err := deploy.AnalyzeDrift(context.Background(), h.store, gid)
	require.NoError(t, err)
	require.Len(t, drift, 2)
	assert.Equal(t, model.DriftInfo, drift[0].Classification())
	assert.Equal(t, model.DriftWarning, drift[1].Classification())
	assert.Equal(t, 2, drift[1].IntendedKeys)
	assert.Len(t, drift[1].Unacked, 2)
}
