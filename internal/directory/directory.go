// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

// Package directory reads per-group snapshots from the fleet directory.
// Fetch failures are reported as *DirectoryError and never as an empty
// result, so callers can tell "no drivers" from "could not ask".
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/model"
)

// FleetDirectory is the remote directory the synchronizer reads from and
// sends commands through. *geotab.Client implements it.
type FleetDirectory interface {
	Authenticate(ctx context.Context) error
	Groups(ctx context.Context) ([]model.Group, error)
	Users(ctx context.Context, groupID string) ([]model.User, error)
	Devices(ctx context.Context, groupID string) ([]model.Device, error)
	SetDevice(ctx context.Context, d model.Device) error
	SetUser(ctx context.Context, u model.User) error
	SendCommands(ctx context.Context, cmds []model.AuthListCommand) error
	TextMessages(ctx context.Context, since time.Time) ([]model.TextMessage, error)
}

// DirectoryError reports a failed directory read.
type DirectoryError struct {
	Op      string
	GroupID string
	Err     error
}

func (e *DirectoryError) Error() string {
	if e.GroupID == "" {
		return fmt.Sprintf("directory %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("directory %s for group %s: %v", e.Op, e.GroupID, e.Err)
}

func (e *DirectoryError) Unwrap() error { return e.Err }

// Snapshot is the directory state of one group at fetch time.
type Snapshot struct {
	GroupID    string
	Users      []model.User
	Keys       []model.Key
	Devices    []model.Device
	Exceptions []model.Key
}

// Fetcher reads group snapshots. It never writes to the directory.
type Fetcher struct {
	dir FleetDirectory
	log *slog.Logger
}

// NewFetcher returns a Fetcher reading from dir.
func NewFetcher(dir FleetDirectory, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{dir: dir, log: logger.With("component", "directory")}
}

func (f *Fetcher) fail(op, groupID string, err error) error {
	derr := &DirectoryError{Op: op, GroupID: groupID, Err: err}
	f.log.Error("directory fetch failed", "op", op, "group_id", groupID, "error", err)
	return derr
}

// FetchGroupUsers returns the active drivers of a group.
func (f *Fetcher) FetchGroupUsers(ctx context.Context, groupID string) ([]model.User, error) {
	users, err := f.dir.Users(ctx, groupID)
	if err != nil {
		return nil, f.fail("fetch users", groupID, err)
	}
	return users, nil
}

// FetchGroupKeys returns the keys held by a group's drivers, one per serial
// number. Users without keys contribute nothing.
func (f *Fetcher) FetchGroupKeys(ctx context.Context, groupID string) ([]model.Key, error) {
	users, err := f.FetchGroupUsers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return KeysOf(users), nil
}

// FetchExceptionKeys returns the keys of the exception group's drivers.
func (f *Fetcher) FetchExceptionKeys(ctx context.Context, exceptionGroupID string) ([]model.Key, error) {
	if exceptionGroupID == "" {
		return nil, nil
	}
	users, err := f.dir.Users(ctx, exceptionGroupID)
	if err != nil {
		return nil, f.fail("fetch exception keys", exceptionGroupID, err)
	}
	return KeysOf(users), nil
}

// FetchGroupDevices returns the group's devices that are not archived.
func (f *Fetcher) FetchGroupDevices(ctx context.Context, groupID string) ([]model.Device, error) {
	devices, err := f.dir.Devices(ctx, groupID)
	if err != nil {
		return nil, f.fail("fetch devices", groupID, err)
	}
	now := time.Now()
	active := devices[:0:0]
	for _, d := range devices {
		if d.SerialNumber == "" {
			continue
		}
		if !d.ActiveTo.IsZero() && d.ActiveTo.Before(now) {
			continue
		}
		active = append(active, d)
	}
	return active, nil
}

// Snapshot fetches users, keys and devices for one group and attaches the
// run's exception keys.
func (f *Fetcher) Snapshot(ctx context.Context, groupID string, exceptions []model.Key) (Snapshot, error) {
	users, err := f.FetchGroupUsers(ctx, groupID)
	if err != nil {
		return Snapshot{}, err
	}
	devices, err := f.FetchGroupDevices(ctx, groupID)
	if err != nil {
		return Snapshot{}, err
	}
	f.log.Debug("snapshot fetched", "group_id", groupID,
		"users", len(users), "devices", len(devices), "exceptions", len(exceptions))
	return Snapshot{
		GroupID:    groupID,
		Users:      users,
		Keys:       KeysOf(users),
		Devices:    devices,
		Exceptions: exceptions,
	}, nil
}

// KeysOf flattens the keys of users. Keys without a serial number are
// skipped and the first record of a serial wins.
func KeysOf(users []model.User) []model.Key {
	var keys []model.Key
	seen := map[string]bool{}
	for _, u := range users {
		for _, k := range u.Keys {
			if k.SerialNumber == "" || seen[k.SerialNumber] {
				continue
			}
			seen[k.SerialNumber] = true
			keys = append(keys, k)
		}
	}
	return keys
}

// ResolveGroups maps configured group names to directory groups. Names with
// no matching group are returned separately.
func ResolveGroups(ctx context.Context, dir FleetDirectory, names []string) ([]model.Group, []string, error) {
	all, err := dir.Groups(ctx)
	if err != nil {
		return nil, nil, &DirectoryError{Op: "fetch groups", Err: err}
	}
	byName := make(map[string]model.Group, len(all))
	for _, g := range all {
		if _, dup := byName[g.Name]; !dup {
			byName[g.Name] = g
		}
	}
	var found []model.Group
	var missing []string
	for _, name := range names {
		if g, ok := byName[name]; ok {
			found = append(found, g)
		} else {
			missing = append(missing, name)
		}
	}
	return found, missing, nil
}
