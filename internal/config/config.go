// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// legacyEnv maps config keys to the environment variables used by the
// original deployment's .env file.
var legacyEnv = map[string]string{
	"geotab.username":    "GEOTAB_USERNAME",
	"geotab.password":    "GEOTAB_PASSWORD",
	"geotab.database":    "GEOTAB_DATABASE",
	"geotab.server":      "GEOTAB_SERVER",
	"groups":             "GEOTAB_GROUPS",
	"exception_group_id": "GEOTAB_EXCEPTION_GROUP",
}

// flagKeys maps CLI flag names to config keys where they differ.
var flagKeys = map[string]string{
	"db-type":   "database.type",
	"db-dsn":    "database.dsn",
	"log-level": "log.level",
	"lang":      "language",
	"workers":   "workers",
}

// GetConfigPath returns the full path for the configuration file.
func GetConfigPath(system bool) (string, error) {
	var configDir string
	var err error

	if system {
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "authlistsync")
		default: // Linux, macOS, etc.
			configDir = "/etc/authlistsync"
		}
	} else {
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "authlistsync")
	}

	return filepath.Join(configDir, "authlistsync.yaml"), nil
}

// LoadConfig resolves configuration from defaults, config files, a .env file,
// environment variables and the command's flags, in increasing precedence.
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, explicitPath *string) (T, error) {
	var c T
	v := viper.New()

	// 1. Set defaults
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// 2. Set up file search paths
	v.SetConfigName("authlistsync")
	v.SetConfigType("yaml")

	// 3. An explicit --config path has the highest precedence for file-based configuration.
	if explicitPath != nil && *explicitPath != "" {
		v.SetConfigFile(*explicitPath)
	}

	// 4. Add standard config locations
	if userConfigPath, err := GetConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := GetConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}
	v.AddConfigPath(".")

	// 5. Read in the primary config file.
	if err := v.ReadInConfig(); err != nil {
		// It's okay if the file is not found, but other errors are fatal.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return c, err
		}
	}

	// 6. The original deployment kept credentials in ./.env; load it without
	// overriding variables already present in the environment.
	loadDotEnv(".env")

	// 7. Read from environment variables
	v.SetEnvPrefix("authlistsync")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AllowEmptyEnv(false)
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envKey := "AUTHLISTSYNC_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return c, err
		}
	}

	// 8. Flags explicitly set on the command line win.
	if cmd != nil {
		var bindErr error
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			key, ok := flagKeys[f.Name]
			if !ok || bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(key, f)
		})
		if bindErr != nil {
			return c, bindErr
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}

	return c, nil
}

// loadDotEnv loads KEY=VALUE pairs from path into the process environment.
// A missing or malformed file is ignored.
func loadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = gotenv.Load(path)
}

// WriteConfigFile serializes c as YAML to the user or system config path and
// returns the path written.
func WriteConfigFile[T any](c *T, system bool) (string, error) {
	path, err := GetConfigPath(system)
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}

	// 0600: the file holds directory credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", err
	}

	return path, nil
}
