// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config loads application settings from config files, environment
// variables, and CLI flags, in that order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Vault    VaultConfig    `mapstructure:"vault" yaml:"vault"`
	Connect  ConnectConfig  `mapstructure:"connect" yaml:"connect"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// DatabaseConfig selects the vault storage backend.
type DatabaseConfig struct {
	Type string `mapstructure:"type" yaml:"type"` // sqlite, mysql, postgres
	DSN  string `mapstructure:"dsn" yaml:"dsn"`
}

// VaultConfig carries vault behavior knobs.
type VaultConfig struct {
	// KeychainUnlock enables unlocking via the OS credential manager.
	KeychainUnlock bool `mapstructure:"keychain_unlock" yaml:"keychain_unlock"`
}

// ConnectConfig carries session engine defaults.
type ConnectConfig struct {
	KnownHostsFile        string        `mapstructure:"known_hosts_file" yaml:"known_hosts_file"`
	HostKeyMode           string        `mapstructure:"host_key_mode" yaml:"host_key_mode"` // strict, accept-new, insecure
	DialTimeout           time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	KeepaliveInterval     time.Duration `mapstructure:"keepalive_interval" yaml:"keepalive_interval"`
	ReconnectInitialDelay time.Duration `mapstructure:"reconnect_initial_delay" yaml:"reconnect_initial_delay"`
	ReconnectMaxDelay     time.Duration `mapstructure:"reconnect_max_delay" yaml:"reconnect_max_delay"`
	ReconnectMaxAttempts  int           `mapstructure:"reconnect_max_attempts" yaml:"reconnect_max_attempts"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"` // debug, info, warn, error
}

// Defaults returns the built-in default settings keyed the way viper
// expects them.
func Defaults() map[string]any {
	dataDir := defaultDataDir()
	return map[string]any{
		"database.type":                  "sqlite",
		"database.dsn":                   "file:" + filepath.Join(dataDir, "netvault.db"),
		"vault.keychain_unlock":          false,
		"connect.known_hosts_file":       filepath.Join(dataDir, "known_hosts"),
		"connect.host_key_mode":          "accept-new",
		"connect.dial_timeout":           "10s",
		"connect.keepalive_interval":     "30s",
		"connect.reconnect_initial_delay": "1s",
		"connect.reconnect_max_delay":    "30s",
		"connect.reconnect_max_attempts": 5,
		"log.level":                      "info",
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".netvault"
	}
	return filepath.Join(home, ".netvault")
}

// getConfigPath returns the full path for the configuration file.
func getConfigPath(system bool) (string, error) {
	var configDir string
	var err error

	if system {
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "Netvault")
		default:
			configDir = "/etc/netvault"
		}
	} else {
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "netvault")
	}

	return filepath.Join(configDir, "netvault.yaml"), nil
}

// Load resolves the configuration for a command invocation. Precedence from
// lowest to highest: built-in defaults, config file, NETVAULT_* environment
// variables, CLI flags. An explicit config file path wins over the standard
// search locations.
func Load(cmd *cobra.Command, configFile string) (Config, error) {
	var c Config
	v := viper.New()

	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}

	v.SetConfigName("netvault")
	v.SetConfigType("yaml")

	if configFile != "" {
		v.SetConfigFile(configFile)
	}
	if userConfigPath, err := getConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := getConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		// A missing file falls back to defaults; anything else is fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return c, err
		}
	}

	v.AutomaticEnv()
	v.AllowEmptyEnv(true)
	v.SetEnvPrefix("netvault")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if cmd != nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return c, err
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	return c, nil
}

// WriteFile persists the configuration to the standard location. The file
// is written 0600; DSNs may embed database passwords.
func WriteFile(c *Config, system bool) error {
	path, err := getConfigPath(system)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}
	return os.WriteFile(path, data, 0600)
}
