// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config resolves the synchronizer's settings. It uses Viper for
// file, environment and flag parsing, honors the legacy GEOTAB_* variables
// from a .env file, and can write a starter configuration file.
package config
