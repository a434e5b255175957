// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

// Package provision corrects directory attributes of managed devices and
// newly seen drivers: the authorized driver list parameter, timezones and
// security clearance.
package provision

import (
	"context"
	"log/slog"
	"slices"

	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/config"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/model"
)

// DirectoryWriter is the part of the fleet directory the provisioner uses.
type DirectoryWriter interface {
	SetDevice(ctx context.Context, d model.Device) error
	SetUser(ctx context.Context, u model.User) error
}

// Result counts what a provisioning pass did.
type Result struct {
	Checked int
	Patched int
	Failed  int
}

// Provisioner brings devices and users into the shape synchronization needs.
type Provisioner struct {
	dir      DirectoryWriter
	authList config.AuthListConfig
	patch    config.PatchConfig
	log      *slog.Logger
}

// New returns a Provisioner writing corrections through dir.
func New(dir DirectoryWriter, authList config.AuthListConfig, patch config.PatchConfig, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{dir: dir, authList: authList, patch: patch, log: logger.With("component", "provision")}
}

// DevicePatch returns d with the corrections it needs and whether any were
// made. A missing authorized driver list parameter is added disabled.
func (p *Provisioner) DevicePatch(d model.Device, timezone string) (model.Device, bool) {
	changed := false
	if p.authList.Description != "" && !d.HasParameter(p.authList.Description) {
		d.CustomParameters = append(slices.Clone(d.CustomParameters), model.CustomParameter{
			Description: p.authList.Description,
			Bytes:       p.authList.Bytes,
			Offset:      p.authList.Offset,
			IsEnabled:   false,
		})
		changed = true
	}
	if p.patch.Timezone && timezone != "" && d.TimeZoneID != timezone {
		d.TimeZoneID = timezone
		changed = true
	}
	return d, changed
}

// ProvisionDevices sends one SetDevice per device that needs a correction.
// A failed device is logged and the rest continue.
func (p *Provisioner) ProvisionDevices(ctx context.Context, groupID, timezone string, devices []model.Device) (Result, error) {
	var res Result
	for _, d := range devices {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Checked++
		patched, changed := p.DevicePatch(d, timezone)
		if !changed {
			continue
		}
		if err := p.dir.SetDevice(ctx, patched); err != nil {
			res.Failed++
			p.log.Error("device patch failed", "group_id", groupID, "device_id", d.ID, "op", "set device", "error", err)
			continue
		}
		res.Patched++
		p.log.Info("device patched", "group_id", groupID, "device_id", d.ID,
			"timezone", patched.TimeZoneID, "param_added", len(patched.CustomParameters) != len(d.CustomParameters))
	}
	return res, nil
}

// UserPatch returns u with the timezone and clearance corrections enabled
// in the patch config, and whether any were made.
func (p *Provisioner) UserPatch(u model.User, timezone string) (model.User, bool) {
	changed := false
	if p.patch.Users && timezone != "" && u.TimeZoneID != timezone {
		u.TimeZoneID = timezone
		changed = true
	}
	if p.patch.SecurityClearance && p.patch.NewSecurityClearanceID != "" {
		groups := make([]string, 0, len(u.SecurityGroups))
		replaced := false
		for _, id := range u.SecurityGroups {
			if slices.Contains(p.patch.OldSecurityClearanceIDs, id) {
				replaced = true
				continue
			}
			groups = append(groups, id)
		}
		if replaced {
			if !slices.Contains(groups, p.patch.NewSecurityClearanceID) {
				groups = append(groups, p.patch.NewSecurityClearanceID)
			}
			u.SecurityGroups = groups
			changed = true
		}
	}
	return u, changed
}

// PatchUsers applies UserPatch to drivers first seen in a group, one
// SetUser per changed user.
func (p *Provisioner) PatchUsers(ctx context.Context, groupID, timezone string, users []model.User) (Result, error) {
	var res Result
	if !p.patch.Users && !p.patch.SecurityClearance {
		return res, nil
	}
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Checked++
		patched, changed := p.UserPatch(u, timezone)
		if !changed {
			continue
		}
		if err := p.dir.SetUser(ctx, patched); err != nil {
			res.Failed++
			p.log.Error("user patch failed", "group_id", groupID, "user_id", u.ID, "op", "set user", "error", err)
			continue
		}
		res.Patched++
		p.log.Info("user patched", "group_id", groupID, "user_id", u.ID)
	}
	return res, nil
}
