// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConfigError reports a missing or invalid setting. It is fatal: the run is
// aborted before any group is processed.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Validate checks the settings a sync run cannot proceed without. All
// problems are reported together.
func (c Config) Validate() error {
	var errs []error
	missing := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, &ConfigError{Field: field, Reason: "is required"})
		}
	}
	missing("geotab.username", c.Geotab.Username)
	missing("geotab.password", c.Geotab.Password)
	missing("geotab.database", c.Geotab.Database)

	if len(c.GroupNames()) == 0 {
		errs = append(errs, &ConfigError{Field: "groups", Reason: "at least one group name is required"})
	}
	errs = append(errs, c.ValidateStorage())
	if c.Delivery.BatchSize <= 0 {
		errs = append(errs, &ConfigError{Field: "delivery.batch_size", Reason: "must be positive"})
	}
	if c.Delivery.MaxAttempts <= 0 {
		errs = append(errs, &ConfigError{Field: "delivery.max_attempts", Reason: "must be positive"})
	}
	if c.Workers < 0 {
		errs = append(errs, &ConfigError{Field: "workers", Reason: "must not be negative"})
	}
	if c.Patch.SecurityClearance && c.Patch.NewSecurityClearanceID == "" {
		errs = append(errs, &ConfigError{Field: "patch.new_security_clearance_id", Reason: "is required when patch.security_clearance is set"})
	}
	if c.DefaultTimezone != "" {
		if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
			errs = append(errs, &ConfigError{Field: "default_timezone", Reason: "unknown timezone " + c.DefaultTimezone, Err: err})
		}
	}
	for group, tz := range c.Timezones {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, &ConfigError{Field: "timezones." + group, Reason: "unknown timezone " + tz, Err: err})
		}
	}
	return errors.Join(errs...)
}

// ValidateStorage checks only the ledger settings; commands that never talk
// to the directory (status, backup, maintenance) use it instead of Validate.
func (c Config) ValidateStorage() error {
	switch c.Database.Type {
	case "sqlite", "postgres", "mysql":
	default:
		return &ConfigError{Field: "database.type", Reason: fmt.Sprintf("unsupported database type %q", c.Database.Type)}
	}
	if strings.TrimSpace(c.Database.Dsn) == "" {
		return &ConfigError{Field: "database.dsn", Reason: "is required"}
	}
	return nil
}

// GroupNames returns the configured group names with blanks removed.
func (c Config) GroupNames() []string {
	out := make([]string, 0, len(c.Groups))
	for _, g := range c.Groups {
		if g = strings.TrimSpace(g); g != "" {
			out = append(out, g)
		}
	}
	return out
}
