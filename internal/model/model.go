// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

// package model defines the entities shared by the ledger, the directory
// client and the sync engine.
package model // import "github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/model"

import (
	"fmt"
	"time"
)

// MaxDeviceKeys is the number of keys a device's authorized driver list can hold.
const MaxDeviceKeys = 1000

// Group is an organizational unit in the fleet directory. Each managed group
// owns its own set of ledger tables.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// String returns "name (id)".
func (g Group) String() string {
	return fmt.Sprintf("%s (%s)", g.Name, g.ID)
}

// Key is an NFC driver key. SerialNumber identifies the physical key and is
// the primary key of a group's key table.
type Key struct {
	DriverKeyType string `json:"driverKeyType,omitempty"`
	ID            string `json:"id,omitempty"`
	KeyID         int64  `json:"keyId,omitempty"`
	SerialNumber  string `json:"serialNumber"`
}

// CustomParameter is a device firmware parameter as exposed by the directory.
type CustomParameter struct {
	Description string `json:"description"`
	Bytes       string `json:"bytes"`
	Offset      int    `json:"offset"`
	IsEnabled   bool   `json:"isEnabled"`
}

// Device is a telematics unit. SerialNumber is stable hardware identity; ID is
// the directory identifier commands are addressed to and may be reassigned.
type Device struct {
	ID               string            `json:"id"`
	SerialNumber     string            `json:"serialNumber"`
	Name             string            `json:"name"`
	TimeZoneID       string            `json:"timeZoneId,omitempty"`
	CustomParameters []CustomParameter `json:"customParameters,omitempty"`
	ActiveTo         time.Time         `json:"activeTo,omitempty"`

	// Raw is the full directory entity. Updates are applied on top of it so
	// fields this program does not model survive a round trip.
	Raw map[string]any `json:"-"`
}

// String returns "name (id/serial)".
func (d Device) String() string {
	return fmt.Sprintf("%s (%s/%s)", d.Name, d.ID, d.SerialNumber)
}

// HasParameter reports whether the device carries a custom parameter with
// the given description.
func (d Device) HasParameter(description string) bool {
	for _, p := range d.CustomParameters {
		if p.Description == description {
			return true
		}
	}
	return false
}

// User is a driver in the directory.
type User struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	TimeZoneID     string   `json:"timeZoneId,omitempty"`
	SecurityGroups []string `json:"securityGroups,omitempty"`
	Keys           []Key    `json:"keys,omitempty"`

	Raw map[string]any `json:"-"`
}
