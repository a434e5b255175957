// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import "github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/logging"

func dbLogf(format string, v ...any) {
	logging.Debugf(format, v...)
}
