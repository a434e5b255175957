// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package model

// ReconciliationResult is the delta between a group's ledger and a fresh
// directory snapshot. AllKeys is the effective key set (group keys plus
// exception keys); ActiveDevices are the devices present in the snapshot.
type ReconciliationResult struct {
	GroupID        string
	NewKeys        []Key
	RemovedKeys    []Key
	AllKeys        []Key
	NewDevices     []Device
	RemovedDevices []Device
	ActiveDevices  []Device
}

// IsNewDevice reports whether the device with the given serial number was
// first seen in this reconciliation.
func (r ReconciliationResult) IsNewDevice(serial string) bool {
	for _, d := range r.NewDevices {
		if d.SerialNumber == serial {
			return true
		}
	}
	return false
}

// Empty reports whether the reconciliation produced no key or device changes.
func (r ReconciliationResult) Empty() bool {
	return len(r.NewKeys) == 0 && len(r.RemovedKeys) == 0 &&
		len(r.NewDevices) == 0 && len(r.RemovedDevices) == 0
}
