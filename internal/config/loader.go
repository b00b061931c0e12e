// Package config provides configuration management for handoff.
//
// This file contains config loading functionality including:
// - XDG config path detection
// - TOML file parsing
// - Environment variable overrides
// - Validation
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	herrors "github.com/chazuruo/handoff/internal/errors"
)

// EnvConfigPath names the environment variable that points at a config file.
// Role A sets it for role B so that a --config flag survives the handoff
// without adding tokens to the argument contract.
const EnvConfigPath = "HANDOFF_CONFIG"

// DefaultConfigPath returns ~/.config/handoff/config.toml, or an empty
// string when the home directory cannot be determined.
func DefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config", "handoff", "config.toml")
}

// DetectConfigPath searches for a config file.
// Returns the first config file found, or empty string if none exists.
//
// Search order:
// 1. $HANDOFF_CONFIG
// 2. ~/.config/handoff/config.toml
func DetectConfigPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	configPath := DefaultConfigPath()
	if configPath == "" {
		return ""
	}
	if _, err := os.Stat(configPath); err == nil {
		return configPath
	}

	return ""
}

// Load loads a config from the specified path.
// If the file doesn't exist, returns an error.
// After loading, applies environment variable overrides and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &herrors.ConfigError{Path: path, Err: fmt.Errorf("file not found")}
		}
		return nil, &herrors.ConfigError{Path: path, Err: err}
	}

	// Start with defaults
	cfg := DefaultConfig()

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, &herrors.ConfigError{Path: path, Err: fmt.Errorf("parse: %w", err)}
	}

	applyEnvOverrides(cfg)
	expandPaths(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, &herrors.ConfigError{Path: path, Err: herrors.Wrap(herrors.ErrInvalid, err)}
	}

	return cfg, nil
}

// LoadWithDefaults attempts to load a config from the standard paths.
// If no config file is found, returns a validated config with default values.
// If a config file is found but fails to load/validate, returns an error.
// The second return value is the path that was loaded ("" for defaults).
func LoadWithDefaults() (*Config, string, error) {
	configPath := DetectConfigPath()
	if configPath == "" {
		cfg := DefaultConfig()
		applyEnvOverrides(cfg)
		expandPaths(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, "", &herrors.ConfigError{Err: herrors.Wrap(herrors.ErrInvalid, err)}
		}
		return cfg, "", nil
	}

	cfg, err := Load(configPath)
	return cfg, configPath, err
}

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables follow the pattern: HANDOFF_<SECTION>_<FIELD>
//
// Examples:
// - HANDOFF_RELEASE_OWNER overrides [release].owner
// - HANDOFF_LOG_LEVEL overrides [log].level
//
// Boolean fields: use "true"/"false" strings
func applyEnvOverrides(c *Config) {
	applyString := func(key string, target *string) {
		if val, ok := os.LookupEnv(key); ok && val != "" {
			*target = val
		}
	}

	applyBool := func(key string, target *bool) {
		if val, ok := os.LookupEnv(key); ok && val != "" {
			switch strings.ToLower(val) {
			case "true", "1", "yes", "on":
				*target = true
			case "false", "0", "no", "off":
				*target = false
			}
		}
	}

	applyInt := func(key string, target *int) {
		if val, ok := os.LookupEnv(key); ok && val != "" {
			var i int
			if _, err := fmt.Sscanf(val, "%d", &i); err == nil {
				*target = i
			}
		}
	}

	// Release section
	applyString("HANDOFF_RELEASE_OWNER", &c.Release.Owner)
	applyString("HANDOFF_RELEASE_REPO", &c.Release.Repo)
	applyString("HANDOFF_RELEASE_API_BASE_URL", &c.Release.APIBaseURL)
	applyString("HANDOFF_RELEASE_MANIFEST", &c.Release.Manifest)
	applyBool("HANDOFF_RELEASE_INCLUDE_PRERELEASE", &c.Release.IncludePrerelease)
	applyString("HANDOFF_RELEASE_TOKEN_ENV", &c.Release.TokenEnv)

	// Download section
	applyInt("HANDOFF_DOWNLOAD_MAX_RETRIES", &c.Download.MaxRetries)
	applyString("HANDOFF_DOWNLOAD_TIMEOUT", &c.Download.Timeout)

	// Handoff section
	applyString("HANDOFF_HANDOFF_SCRATCH_PREFIX", &c.Handoff.ScratchPrefix)
	applyString("HANDOFF_HANDOFF_CLEANUP_DELAY", &c.Handoff.CleanupDelay)
	applyBool("HANDOFF_HANDOFF_RELAUNCH", &c.Handoff.Relaunch)

	// Update section
	applyInt("HANDOFF_UPDATE_MAX_ATTEMPTS", &c.Update.MaxAttempts)

	// Log section
	applyString("HANDOFF_LOG_LEVEL", &c.Log.Level)
	applyString("HANDOFF_LOG_FILE", &c.Log.File)

	// TUI section
	applyBool("HANDOFF_TUI_ENABLED", &c.TUI.Enabled)
}

// expandPaths expands ~ to the home directory in path-valued fields.
func expandPaths(c *Config) {
	c.Release.Manifest = expandHome(c.Release.Manifest)
	c.Log.File = expandHome(c.Log.File)
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") || p == "~" {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(homeDir, strings.TrimPrefix(p, "~/"))
		}
	}
	return p
}
