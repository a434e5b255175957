// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import (
	"fmt"
	"time"
)

// AuthListContentType is the text message content type understood by the
// device's driver authorization list.
const AuthListContentType = "DriverAuthList"

// AuthListCommand is a single text message to a device. Clear wipes the
// on-board list; otherwise Add selects between adding and removing Key.
type AuthListCommand struct {
	DeviceID string
	Key      *Key
	Clear    bool
	Add      bool
}

// NewAddCommand returns a command adding k to the device's list.
func NewAddCommand(deviceID string, k Key) AuthListCommand {
	return AuthListCommand{DeviceID: deviceID, Key: &k, Add: true}
}

// NewRemoveCommand returns a command removing k from the device's list.
func NewRemoveCommand(deviceID string, k Key) AuthListCommand {
	return AuthListCommand{DeviceID: deviceID, Key: &k}
}

// NewClearCommand returns a command wiping the device's list.
func NewClearCommand(deviceID string) AuthListCommand {
	return AuthListCommand{DeviceID: deviceID, Clear: true}
}

func (c AuthListCommand) String() string {
	switch {
	case c.Clear:
		return fmt.Sprintf("clear %s", c.DeviceID)
	case c.Add:
		return fmt.Sprintf("add %s to %s", c.serial(), c.DeviceID)
	default:
		return fmt.Sprintf("remove %s from %s", c.serial(), c.DeviceID)
	}
}

func (c AuthListCommand) serial() string {
	if c.Key == nil {
		return ""
	}
	return c.Key.SerialNumber
}

// TextMessage is a previously sent device command as reported by the
// directory. Delivered is nil until the device confirms receipt.
type TextMessage struct {
	ID        string
	DeviceID  string
	Sent      time.Time
	Delivered *time.Time
	Command   AuthListCommand
}
