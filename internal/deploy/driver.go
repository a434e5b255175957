// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

// Package deploy delivers authorized driver list commands to devices and
// records per-key acknowledgments in the ledger.
package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/config"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/model"
)

// Ledger is the subset of the ledger the driver reads and writes.
type Ledger interface {
	SetAcks(ctx context.Context, groupID, deviceID string, serials []string, delivered bool) error
	FindUnacked(ctx context.Context, groupID, deviceID string) ([]model.Key, error)
	ResolvePendingClear(ctx context.Context, groupID, deviceID string) error
	PendingRemovals(ctx context.Context, groupID, deviceID string) ([]model.Key, error)
	ResolvePendingRemovals(ctx context.Context, groupID, deviceID string, serials []string) error
	LogAction(ctx context.Context, action, details string) error
}

// Sender delivers one chunk of commands as a single call.
type Sender interface {
	SendCommands(ctx context.Context, cmds []model.AuthListCommand) error
}

// Report summarizes one group's delivery.
type Report struct {
	GroupID        string
	Devices        int
	Cleared        int
	ClearsFailed   int
	CommandsSent   int
	CommandsFailed int
	Errors         []error
}

func (r *Report) add(o Report) {
	r.Devices += o.Devices
	r.Cleared += o.Cleared
	r.ClearsFailed += o.ClearsFailed
	r.CommandsSent += o.CommandsSent
	r.CommandsFailed += o.CommandsFailed
	r.Errors = append(r.Errors, o.Errors...)
}

// Driver runs the per-device delivery state machine. One Driver may serve
// several groups concurrently; the command delay is paced across all of
// them.
type Driver struct {
	ledger  Ledger
	sender  Sender
	cfg     config.DeliveryConfig
	limiter *rate.Limiter
	log     *slog.Logger
}

// New returns a Driver sending through sender. Zero delivery settings fall
// back to a batch size of 50 and a single attempt.
func New(ledger Ledger, sender Sender, cfg config.DeliveryConfig, logger *slog.Logger) *Driver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Driver{ledger: ledger, sender: sender, cfg: cfg, log: logger.With("component", "deploy")}
	if cfg.CommandDelay > 0 {
		d.limiter = rate.NewLimiter(rate.Every(cfg.CommandDelay), 1)
	}
	return d
}

// Deliver sends the commands a reconciliation result calls for. Every
// removed device is cleared before any key command goes out. Failures are
// collected in the report and never stop other devices; only a cancelled
// context ends delivery early.
func (d *Driver) Deliver(ctx context.Context, res model.ReconciliationResult) (Report, error) {
	rep := Report{GroupID: res.GroupID}

	for _, dev := range res.RemovedDevices {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		d.clear(ctx, res.GroupID, dev, &rep)
	}

	for _, dev := range res.ActiveDevices {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Devices++
		var devRep Report
		var err error
		if res.IsNewDevice(dev.SerialNumber) {
			devRep, err = d.deliverNew(ctx, res, dev)
		} else {
			devRep, err = d.deliverExisting(ctx, res, dev)
		}
		rep.add(devRep)
		if err != nil {
			return rep, err
		}
	}
	return rep, nil
}

// SweepUnacked re-sends the removals still owed to each device and the keys
// left unacknowledged on it. It is used when the key set could not be
// refreshed this run.
func (d *Driver) SweepUnacked(ctx context.Context, groupID string, devices []model.Device) (Report, error) {
	rep := Report{GroupID: groupID}
	for _, dev := range devices {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Devices++
		removed, err := d.send(ctx, groupID, dev.ID, d.removals(ctx, groupID, dev, nil), false)
		rep.add(removed)
		if err != nil {
			return rep, err
		}
		devRep, err := d.sweep(ctx, groupID, dev, nil)
		rep.add(devRep)
		if err != nil {
			return rep, err
		}
	}
	return rep, nil
}

// clear sends a single clear command without retry. The pending clear is
// resolved only on success, so a failed clear is sent again next run.
func (d *Driver) clear(ctx context.Context, groupID string, dev model.Device, rep *Report) {
	log := d.log.With("group_id", groupID, "device_id", dev.ID, "op", "clear")
	if err := d.sender.SendCommands(ctx, []model.AuthListCommand{model.NewClearCommand(dev.ID)}); err != nil {
		rep.ClearsFailed++
		derr := &DeliveryError{GroupID: groupID, DeviceID: dev.ID, Attempts: 1, Err: err}
		rep.Errors = append(rep.Errors, derr)
		log.Error("clear failed, will retry next run", "serial", dev.SerialNumber, "error", err)
		d.audit(ctx, "CLEAR_FAILED", fmt.Sprintf("group=%s device=%s serial=%s error=%v", groupID, dev.ID, dev.SerialNumber, err))
		return
	}
	rep.Cleared++
	log.Info("device cleared", "serial", dev.SerialNumber)
	d.audit(ctx, "CLEAR_SENT", fmt.Sprintf("group=%s device=%s serial=%s", groupID, dev.ID, dev.SerialNumber))
	if err := d.ledger.ResolvePendingClear(ctx, groupID, dev.ID); err != nil {
		log.Error("resolving pending clear failed", "error", err)
	}
}

func (d *Driver) deliverNew(ctx context.Context, res model.ReconciliationResult, dev model.Device) (Report, error) {
	d.log.Debug("new device, sending full list", "group_id", res.GroupID, "device_id", dev.ID, "keys", len(res.AllKeys))
	return d.send(ctx, res.GroupID, dev.ID, res.AllKeys, true)
}

// deliverExisting sends removals, then additions, then the retry sweep of
// earlier unacknowledged keys not already attempted above. Removals left
// over from earlier runs go out with this run's.
func (d *Driver) deliverExisting(ctx context.Context, res model.ReconciliationResult, dev model.Device) (Report, error) {
	var rep Report
	removed, err := d.send(ctx, res.GroupID, dev.ID, d.removals(ctx, res.GroupID, dev, res.RemovedKeys), false)
	rep.add(removed)
	if err != nil {
		return rep, err
	}
	added, err := d.send(ctx, res.GroupID, dev.ID, res.NewKeys, true)
	rep.add(added)
	if err != nil {
		return rep, err
	}
	attempted := make(map[string]bool, len(res.NewKeys))
	for _, k := range res.NewKeys {
		attempted[k.SerialNumber] = true
	}
	swept, err := d.sweep(ctx, res.GroupID, dev, attempted)
	rep.add(swept)
	return rep, err
}

// removals merges this run's removed keys with the removals the ledger still
// owes dev. A ledger read failure falls back to this run's keys.
func (d *Driver) removals(ctx context.Context, groupID string, dev model.Device, current []model.Key) []model.Key {
	owed, err := d.ledger.PendingRemovals(ctx, groupID, dev.ID)
	if err != nil {
		d.log.Error("reading pending removals failed", "group_id", groupID, "device_id", dev.ID, "error", err)
		return current
	}
	out := make([]model.Key, 0, len(current)+len(owed))
	seen := make(map[string]bool, len(current)+len(owed))
	for _, list := range [][]model.Key{current, owed} {
		for _, k := range list {
			if seen[k.SerialNumber] {
				continue
			}
			seen[k.SerialNumber] = true
			out = append(out, k)
		}
	}
	if extra := len(out) - len(current); extra > 0 {
		d.log.Info("retrying pending removals", "group_id", groupID, "device_id", dev.ID, "keys", extra)
	}
	return out
}

func (d *Driver) sweep(ctx context.Context, groupID string, dev model.Device, attempted map[string]bool) (Report, error) {
	unacked, err := d.ledger.FindUnacked(ctx, groupID, dev.ID)
	if err != nil {
		d.log.Error("reading unacknowledged keys failed", "group_id", groupID, "device_id", dev.ID, "error", err)
		return Report{Errors: []error{err}}, nil
	}
	pending := unacked[:0:0]
	for _, k := range unacked {
		if !attempted[k.SerialNumber] {
			pending = append(pending, k)
		}
	}
	if len(pending) > 0 {
		d.log.Info("retrying unacknowledged keys", "group_id", groupID, "device_id", dev.ID, "keys", len(pending))
	}
	return d.send(ctx, groupID, dev.ID, pending, true)
}

// send delivers keys to one device as add or remove commands in chunks of
// the configured batch size. Successful add chunks are acknowledged and
// successful remove chunks resolve their pending removals.
func (d *Driver) send(ctx context.Context, groupID, deviceID string, keys []model.Key, add bool) (Report, error) {
	var rep Report
	for start := 0; start < len(keys); start += d.cfg.BatchSize {
		chunk := keys[start:min(start+d.cfg.BatchSize, len(keys))]
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return rep, err
			}
		}

		cmds := make([]model.AuthListCommand, len(chunk))
		serials := make([]string, len(chunk))
		for i, k := range chunk {
			serials[i] = k.SerialNumber
			if add {
				cmds[i] = model.NewAddCommand(deviceID, k)
			} else {
				cmds[i] = model.NewRemoveCommand(deviceID, k)
			}
		}

		attempts, err := d.sendChunk(ctx, cmds)
		if err != nil {
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			derr := &DeliveryError{GroupID: groupID, DeviceID: deviceID, Keys: serials, Attempts: attempts, Err: err}
			rep.CommandsFailed += len(cmds)
			rep.Errors = append(rep.Errors, derr)
			d.log.Error("chunk delivery failed", "group_id", groupID, "device_id", deviceID,
				"op", verb(add), "keys", len(cmds), "attempts", attempts, "error", err)
			d.audit(ctx, "DELIVERY_FAILED", fmt.Sprintf("group=%s device=%s %s=%s", groupID, deviceID, verb(add), strings.Join(serials, ",")))
			continue
		}
		rep.CommandsSent += len(cmds)
		if !add {
			if err := d.ledger.ResolvePendingRemovals(ctx, groupID, deviceID, serials); err != nil {
				// The removal went out but stays pending; the next run resends it.
				rep.Errors = append(rep.Errors, err)
				d.log.Error("resolving pending removals failed", "group_id", groupID, "device_id", deviceID, "error", err)
			}
			continue
		}
		if err := d.ledger.SetAcks(ctx, groupID, deviceID, serials, true); err != nil {
			// The keys went out but stay unacknowledged; the next run resends them.
			rep.Errors = append(rep.Errors, err)
			d.log.Error("recording acknowledgments failed", "group_id", groupID, "device_id", deviceID, "error", err)
		}
	}
	return rep, nil
}

// sendChunk sends cmds, retrying with a fixed delay up to the configured
// number of attempts. It returns the attempts made.
func (d *Driver) sendChunk(ctx context.Context, cmds []model.AuthListCommand) (int, error) {
	delay := max(d.cfg.RetryDelay, time.Millisecond)
	backoff := retry.WithMaxRetries(uint64(d.cfg.MaxAttempts-1), retry.NewConstant(delay))
	attempts := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		if err := d.sender.SendCommands(ctx, cmds); err != nil {
			d.log.Debug("chunk send failed", "device_id", cmds[0].DeviceID, "attempt", attempts, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	return attempts, err
}

func (d *Driver) audit(ctx context.Context, action, details string) {
	if err := d.ledger.LogAction(ctx, action, details); err != nil {
		d.log.Warn("audit write failed", "action", action, "error", err)
	}
}

func verb(add bool) string {
	if add {
		return "add"
	}
	return "remove"
}
