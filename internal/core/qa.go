// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/model"
)

// DeviceQA is the command delivery picture of one device.
type DeviceQA struct {
	DeviceID  string
	Sent      int
	Delivered int
	Pending   []model.TextMessage
}

// QAReport lists authorized driver list messages sent since a point in time.
type QAReport struct {
	Since    time.Time
	Devices  []DeviceQA
	Requeued int
}

// QA inspects the messages sent since the given time. With requeue set,
// every undelivered add message resets its acknowledgment cell so the next
// sync sends the key again.
func (r *Runner) QA(ctx context.Context, since time.Time, requeue bool) (*QAReport, error) {
	rep := &QAReport{Since: since}
	if err := r.authenticate(ctx); err != nil {
		return rep, err
	}
	msgs, err := r.dir.TextMessages(ctx, since)
	if err != nil {
		return rep, fmt.Errorf("fetch text messages: %w", err)
	}

	byDevice := map[string]*DeviceQA{}
	for _, m := range msgs {
		qa, ok := byDevice[m.DeviceID]
		if !ok {
			qa = &DeviceQA{DeviceID: m.DeviceID}
			byDevice[m.DeviceID] = qa
		}
		qa.Sent++
		if m.Delivered != nil {
			qa.Delivered++
		} else {
			qa.Pending = append(qa.Pending, m)
		}
	}
	for _, qa := range byDevice {
		sort.Slice(qa.Pending, func(i, j int) bool { return qa.Pending[i].Sent.Before(qa.Pending[j].Sent) })
		rep.Devices = append(rep.Devices, *qa)
	}
	sort.Slice(rep.Devices, func(i, j int) bool { return rep.Devices[i].DeviceID < rep.Devices[j].DeviceID })

	if requeue {
		rep.Requeued, err = r.requeue(ctx, rep.Devices)
		if err != nil {
			return rep, err
		}
	}
	return rep, nil
}

func (r *Runner) requeue(ctx context.Context, devices []DeviceQA) (int, error) {
	groups, err := r.ledger.Groups(ctx)
	if err != nil {
		return 0, err
	}
	// A device may be managed by several groups; each keeps its own cell.
	groupsOf := map[string][]string{}
	for _, gid := range groups {
		devs, err := r.ledger.Devices(ctx, gid)
		if err != nil {
			return 0, err
		}
		for _, d := range devs {
			groupsOf[d.ID] = append(groupsOf[d.ID], gid)
		}
	}

	requeued := 0
	for _, dev := range devices {
		for _, m := range dev.Pending {
			if !m.Command.Add || m.Command.Key == nil {
				continue
			}
			for _, gid := range groupsOf[dev.DeviceID] {
				if err := r.ledger.SetAck(ctx, gid, m.Command.Key.SerialNumber, dev.DeviceID, false); err != nil {
					return requeued, err
				}
				requeued++
			}
		}
	}
	if requeued > 0 {
		r.audit(ctx, "QA_REQUEUE", fmt.Sprintf("cells=%d", requeued))
	}
	return requeued, nil
}
