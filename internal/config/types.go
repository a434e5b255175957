// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package config

import (
	"strings"
	"time"
)

// DefaultTimezone is applied to groups without an explicit timezone entry.
const DefaultTimezone = "America/Vancouver"

// Config is the resolved, immutable configuration of one invocation.
// Components receive the sections they need by value.
type Config struct {
	Geotab           GeotabConfig      `mapstructure:"geotab" yaml:"geotab"`
	Database         DatabaseConfig    `mapstructure:"database" yaml:"database"`
	Groups           []string          `mapstructure:"groups" yaml:"groups"`
	ExceptionGroupID string            `mapstructure:"exception_group_id" yaml:"exception_group_id"`
	Workers          int               `mapstructure:"workers" yaml:"workers"`
	Patch            PatchConfig       `mapstructure:"patch" yaml:"patch"`
	Timezones        map[string]string `mapstructure:"timezones" yaml:"timezones"`
	DefaultTimezone  string            `mapstructure:"default_timezone" yaml:"default_timezone"`
	Delivery         DeliveryConfig    `mapstructure:"delivery" yaml:"delivery"`
	AuthList         AuthListConfig    `mapstructure:"authlist" yaml:"authlist"`
	Log              LogConfig         `mapstructure:"log" yaml:"log"`
	Language         string            `mapstructure:"language" yaml:"language"`
}

// GeotabConfig holds directory credentials and client tuning.
type GeotabConfig struct {
	Server            string        `mapstructure:"server" yaml:"server"`
	Username          string        `mapstructure:"username" yaml:"username"`
	Password          string        `mapstructure:"password" yaml:"password"`
	Database          string        `mapstructure:"database" yaml:"database"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// DatabaseConfig selects the ledger engine.
type DatabaseConfig struct {
	Type string `mapstructure:"type" yaml:"type"`
	Dsn  string `mapstructure:"dsn" yaml:"dsn"`
}

// PatchConfig holds the directory attribute corrections applied during a run.
type PatchConfig struct {
	Users                   bool     `mapstructure:"users" yaml:"users"`
	Timezone                bool     `mapstructure:"timezone" yaml:"timezone"`
	SecurityClearance       bool     `mapstructure:"security_clearance" yaml:"security_clearance"`
	OldSecurityClearanceIDs []string `mapstructure:"old_security_clearance_ids" yaml:"old_security_clearance_ids"`
	NewSecurityClearanceID  string   `mapstructure:"new_security_clearance_id" yaml:"new_security_clearance_id"`
}

// DeliveryConfig bounds command batching and retry.
type DeliveryConfig struct {
	BatchSize    int           `mapstructure:"batch_size" yaml:"batch_size"`
	MaxAttempts  int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	RetryDelay   time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	CommandDelay time.Duration `mapstructure:"command_delay" yaml:"command_delay"`
}

// AuthListConfig describes the device custom parameter that makes firmware
// honor authorized driver list commands.
type AuthListConfig struct {
	Description string `mapstructure:"description" yaml:"description"`
	Offset      int    `mapstructure:"offset" yaml:"offset"`
	Bytes       string `mapstructure:"bytes" yaml:"bytes"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// Defaults returns the default value of every config key. Every key must be
// present here for environment overrides to reach Unmarshal.
func Defaults() map[string]any {
	return map[string]any{
		"geotab.server":                    "my.geotab.com",
		"geotab.username":                  "",
		"geotab.password":                  "",
		"geotab.database":                  "",
		"geotab.timeout":                   "30s",
		"geotab.requests_per_second":       5.0,
		"database.type":                    "sqlite",
		"database.dsn":                     "./authlist.db",
		"groups":                           []string{},
		"exception_group_id":               "",
		"workers":                          1,
		"patch.users":                      false,
		"patch.timezone":                   false,
		"patch.security_clearance":         false,
		"patch.old_security_clearance_ids": []string{},
		"patch.new_security_clearance_id":  "",
		"timezones":                        map[string]string{},
		"default_timezone":                 DefaultTimezone,
		"delivery.batch_size":              50,
		"delivery.max_attempts":            3,
		"delivery.retry_delay":             "5s",
		"delivery.command_delay":           "200ms",
		"authlist.description":             "Enable Authorised Driver List",
		"authlist.offset":                  164,
		"authlist.bytes":                   "CA==",
		"log.level":                        "info",
		"log.format":                       "text",
		"log.output":                       "stderr",
		"language":                         "en",
	}
}

// TimezoneFor returns the timezone configured for a group name. Lookups are
// case-insensitive because viper lowercases map keys.
func (c Config) TimezoneFor(groupName string) string {
	if tz, ok := c.Timezones[strings.ToLower(groupName)]; ok && tz != "" {
		return tz
	}
	for name, tz := range c.Timezones {
		if strings.EqualFold(name, groupName) && tz != "" {
			return tz
		}
	}
	if c.DefaultTimezone != "" {
		return c.DefaultTimezone
	}
	return DefaultTimezone
}

// ManagesGroup reports whether name is one of the configured group names.
func (c Config) ManagesGroup(name string) bool {
	for _, g := range c.Groups {
		if strings.TrimSpace(g) == name {
			return true
		}
	}
	return false
}
