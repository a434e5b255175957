// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package testutil

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/directory"
	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/model"
)

var _ directory.FleetDirectory = (*FakeDirectory)(nil)

// ErrInjected is the default error returned by injected faults.
var ErrInjected = errors.New("injected fault")

// FakeDirectory is an in-memory fleet directory. Populate it with AddGroup,
// AddUser and AddDevice; inject faults through the exported fields. It is
// safe for concurrent use.
type FakeDirectory struct {
	mu sync.Mutex

	groups  []model.Group
	users   map[string][]model.User
	devices map[string][]model.Device

	// AuthErr fails Authenticate.
	AuthErr error
	// UsersErr and DevicesErr fail the fetch for a group id.
	UsersErr   map[string]error
	DevicesErr map[string]error
	// SetDeviceErr fails SetDevice for a device id.
	SetDeviceErr map[string]error
	// SendFailures fails the next n SendCommands calls that address a device id.
	SendFailures map[string]int
	// SendErr fails every SendCommands call.
	SendErr error
	// Messages is returned by TextMessages, filtered by Sent.
	Messages []model.TextMessage

	commands     []model.AuthListCommand
	sendAttempts int
	deviceSets   []model.Device
	userSets     []model.User
	authCalls    int
}

// NewFakeDirectory returns an empty directory.
func NewFakeDirectory() *FakeDirectory {
	return &FakeDirectory{
		users:        map[string][]model.User{},
		devices:      map[string][]model.Device{},
		UsersErr:     map[string]error{},
		DevicesErr:   map[string]error{},
		SetDeviceErr: map[string]error{},
		SendFailures: map[string]int{},
	}
}

// AddGroup registers a group.
func (f *FakeDirectory) AddGroup(id, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups = append(f.groups, model.Group{ID: id, Name: name})
}

// AddUser adds u as a member of groupID.
func (f *FakeDirectory) AddUser(groupID string, u model.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[groupID] = append(f.users[groupID], u)
}

// SetUsers replaces a group's users.
func (f *FakeDirectory) SetUsers(groupID string, users []model.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[groupID] = slices.Clone(users)
}

// AddDevice adds d as a member of groupID.
func (f *FakeDirectory) AddDevice(groupID string, d model.Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices[groupID] = append(f.devices[groupID], d)
}

// SetDevices replaces a group's devices.
func (f *FakeDirectory) SetDevices(groupID string, devices []model.Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices[groupID] = slices.Clone(devices)
}

func (f *FakeDirectory) Authenticate(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authCalls++
	return f.AuthErr
}

func (f *FakeDirectory) Groups(context.Context) ([]model.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.groups), nil
}

func (f *FakeDirectory) Users(_ context.Context, groupID string) ([]model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.UsersErr[groupID]; err != nil {
		return nil, err
	}
	return slices.Clone(f.users[groupID]), nil
}

func (f *FakeDirectory) Devices(_ context.Context, groupID string) ([]model.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.DevicesErr[groupID]; err != nil {
		return nil, err
	}
	return slices.Clone(f.devices[groupID]), nil
}

// SetDevice records d and applies it to every group holding the device.
func (f *FakeDirectory) SetDevice(_ context.Context, d model.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.SetDeviceErr[d.ID]; err != nil {
		return err
	}
	f.deviceSets = append(f.deviceSets, d)
	for gid, list := range f.devices {
		for i := range list {
			if list[i].ID == d.ID {
				f.devices[gid][i] = d
			}
		}
	}
	return nil
}

func (f *FakeDirectory) SetUser(_ context.Context, u model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userSets = append(f.userSets, u)
	return nil
}

// SendCommands appends cmds to the command log unless a fault applies, in
// which case nothing from the call is logged.
func (f *FakeDirectory) SendCommands(_ context.Context, cmds []model.AuthListCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendAttempts++
	if f.SendErr != nil {
		return f.SendErr
	}
	for _, c := range cmds {
		if f.SendFailures[c.DeviceID] > 0 {
			f.SendFailures[c.DeviceID]--
			return ErrInjected
		}
	}
	f.commands = append(f.commands, cmds...)
	return nil
}

func (f *FakeDirectory) TextMessages(_ context.Context, since time.Time) ([]model.TextMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.TextMessage
	for _, m := range f.Messages {
		if !m.Sent.Before(since) {
			out = append(out, m)
		}
	}
	return out, nil
}

// Commands returns the successfully sent commands in order.
func (f *FakeDirectory) Commands() []model.AuthListCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.commands)
}

// CommandsFor returns the sent commands addressed to one device, in order.
func (f *FakeDirectory) CommandsFor(deviceID string) []model.AuthListCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.AuthListCommand
	for _, c := range f.commands {
		if c.DeviceID == deviceID {
			out = append(out, c)
		}
	}
	return out
}

// ResetCommands clears the command log between runs.
func (f *FakeDirectory) ResetCommands() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = nil
	f.sendAttempts = 0
}

// SendAttempts counts SendCommands calls, failed ones included.
func (f *FakeDirectory) SendAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendAttempts
}

// DeviceSets returns the devices written through SetDevice.
func (f *FakeDirectory) DeviceSets() []model.Device {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.deviceSets)
}

// UserSets returns the users written through SetUser.
func (f *FakeDirectory) UserSets() []model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.userSets)
}

// AuthCalls counts Authenticate calls.
func (f *FakeDirectory) AuthCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authCalls
}
