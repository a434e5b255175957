// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package testutil

import (
	"fmt"

	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/model"
)

// Key builds a key with a serial number and a derived key id.
func Key(serial string) model.Key {
	return model.Key{DriverKeyType: "CustomNfc", ID: "k-" + serial, SerialNumber: serial}
}

// Driver builds a user owning keys with the given serial numbers.
func Driver(id string, serials ...string) model.User {
	u := model.User{ID: id, Name: id}
	for _, s := range serials {
		u.Keys = append(u.Keys, Key(s))
	}
	return u
}

// Vehicle builds a device already carrying the authorized driver list
// parameter, so provisioning leaves it alone.
func Vehicle(id, serial string) model.Device {
	return model.Device{
		ID:           id,
		SerialNumber: serial,
		Name:         fmt.Sprintf("Vehicle %s", serial),
		CustomParameters: []model.CustomParameter{
			{Description: "Enable Authorised Driver List", Bytes: "CA==", Offset: 164},
		},
	}
}

// Serials returns the serial numbers of keys, in order.
func Serials(keys []model.Key) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.SerialNumber)
	}
	return out
}
