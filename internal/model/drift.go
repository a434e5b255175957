// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import "fmt"

// DriftClassification represents how far a device is believed to be from
// its intended authorized driver list.
type DriftClassification string

const (
	// DriftCritical indicates the intended list cannot fit on the device.
	DriftCritical DriftClassification = "critical"

	// DriftWarning indicates keys that have not been confirmed delivered.
	DriftWarning DriftClassification = "warning"

	// DriftInfo indicates no known drift.
	DriftInfo DriftClassification = "info"
)

// DeviceDrift summarizes the acknowledgment state of one device.
type DeviceDrift struct {
	GroupID      string
	Device       Device
	IntendedKeys int
	Unacked      []Key
}

// Classification returns the severity of the drift.
func (d DeviceDrift) Classification() DriftClassification {
	switch {
	case d.IntendedKeys > MaxDeviceKeys:
		return DriftCritical
	case len(d.Unacked) > 0:
		return DriftWarning
	default:
		return DriftInfo
	}
}

// HasDrift reports whether any drift is known for the device.
func (d DeviceDrift) HasDrift() bool {
	return d.Classification() != DriftInfo
}

// Summary returns a human-readable summary of the drift.
func (d DeviceDrift) Summary() string {
	switch d.Classification() {
	case DriftCritical:
		return fmt.Sprintf("critical drift: %d keys intended, device holds at most %d", d.IntendedKeys, MaxDeviceKeys)
	case DriftWarning:
		return fmt.Sprintf("warning drift: %d of %d keys unconfirmed", len(d.Unacked), d.IntendedKeys)
	default:
		return "No drift detected"
	}
}
