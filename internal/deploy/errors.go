// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"fmt"
	"strings"
)

// DeliveryError reports a command chunk that could not be delivered after
// every attempt. The keys it carried stay unacknowledged.
type DeliveryError struct {
	GroupID  string
	DeviceID string
	Keys     []string
	Attempts int
	Err      error
}

func (e *DeliveryError) Error() string {
	what := "clear"
	if len(e.Keys) > 0 {
		what = fmt.Sprintf("%d keys (%s)", len(e.Keys), strings.Join(e.Keys, ","))
	}
	return fmt.Sprintf("deliver %s to device %s in group %s after %d attempts: %v",
		what, e.DeviceID, e.GroupID, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
