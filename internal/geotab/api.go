// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package geotab

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/directory"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/model"
)

var _ directory.FleetDirectory = (*Client)(nil)

func (c *Client) get(ctx context.Context, typeName string, search map[string]any) ([]json.RawMessage, error) {
	params := map[string]any{"typeName": typeName}
	if search != nil {
		params["search"] = search
	}
	var out []json.RawMessage
	if err := c.Call(ctx, "Get", params, &out); err != nil {
		return nil, fmt.Errorf("get %s: %w", typeName, err)
	}
	return out, nil
}

// Groups returns every group in the database.
func (c *Client) Groups(ctx context.Context) ([]model.Group, error) {
	items, err := c.get(ctx, "Group", nil)
	if err != nil {
		return nil, err
	}
	groups := make([]model.Group, 0, len(items))
	for _, item := range items {
		var g wireGroup
		if err := json.Unmarshal(item, &g); err != nil {
			return nil, fmt.Errorf("decode group: %w", err)
		}
		groups = append(groups, model.Group{ID: g.ID, Name: g.Name})
	}
	return groups, nil
}

// Users returns the drivers currently active in a group.
func (c *Client) Users(ctx context.Context, groupID string) ([]model.User, error) {
	items, err := c.get(ctx, "User", map[string]any{
		"driverGroups": []idRef{{ID: groupID}},
		"fromDate":     c.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}
	users := make([]model.User, 0, len(items))
	for _, item := range items {
		u, err := decodeUser(item)
		if err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
		users = append(users, u)
	}
	return users, nil
}

// Devices returns the active devices in a group. Devices whose activeTo is
// already past are archived and omitted.
func (c *Client) Devices(ctx context.Context, groupID string) ([]model.Device, error) {
	now := c.now().UTC()
	items, err := c.get(ctx, "Device", map[string]any{
		"groups":   []idRef{{ID: groupID}},
		"fromDate": now.Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}
	devices := make([]model.Device, 0, len(items))
	for _, item := range items {
		d, err := decodeDevice(item)
		if err != nil {
			return nil, fmt.Errorf("decode device: %w", err)
		}
		if !d.ActiveTo.IsZero() && d.ActiveTo.Before(now) {
			continue
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// SetDevice writes d back to the directory.
func (c *Client) SetDevice(ctx context.Context, d model.Device) error {
	if d.ID == "" {
		return errNilEntity
	}
	params := map[string]any{"typeName": "Device", "entity": deviceEntity(d)}
	if err := c.Call(ctx, "Set", params, nil); err != nil {
		return fmt.Errorf("set device %s: %w", d.ID, err)
	}
	return nil
}

// SetUser writes u back to the directory.
func (c *Client) SetUser(ctx context.Context, u model.User) error {
	if u.ID == "" {
		return errNilEntity
	}
	params := map[string]any{"typeName": "User", "entity": userEntity(u)}
	if err := c.Call(ctx, "Set", params, nil); err != nil {
		return fmt.Errorf("set user %s: %w", u.ID, err)
	}
	return nil
}

type multiCall struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

// SendCommands adds one TextMessage per command in a single
// ExecuteMultiCall. The call succeeds or fails as a whole.
func (c *Client) SendCommands(ctx context.Context, cmds []model.AuthListCommand) error {
	if len(cmds) == 0 {
		return nil
	}
	calls := make([]multiCall, 0, len(cmds))
	for _, cmd := range cmds {
		calls = append(calls, multiCall{
			Method: "Add",
			Params: map[string]any{"typeName": "TextMessage", "entity": commandEntity(cmd)},
		})
	}
	if err := c.Call(ctx, "ExecuteMultiCall", map[string]any{"calls": calls}, nil); err != nil {
		return fmt.Errorf("send %d commands: %w", len(cmds), err)
	}
	return nil
}

// TextMessages returns authorized driver list messages sent since the given
// time. Other message types are skipped.
func (c *Client) TextMessages(ctx context.Context, since time.Time) ([]model.TextMessage, error) {
	items, err := c.get(ctx, "TextMessage", map[string]any{
		"fromDate": since.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}
	var msgs []model.TextMessage
	for _, item := range items {
		m, ok, err := decodeTextMessage(item)
		if err != nil {
			return nil, fmt.Errorf("decode text message: %w", err)
		}
		if ok {
			msgs = append(msgs, m)
		}
	}
	return msgs, nil
}
