// Package config provides configuration management for handoff.
//
// The configuration is stored in TOML format and supports validation
// and default values for all fields.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Config is the top-level configuration struct for handoff.
type Config struct {
	Release  ReleaseConfig  `toml:"release"`
	Download DownloadConfig `toml:"download"`
	Handoff  HandoffConfig  `toml:"handoff"`
	Update   UpdateConfig   `toml:"update"`
	Log      LogConfig      `toml:"log"`
	TUI      TUIConfig      `toml:"tui"`
}

// ReleaseConfig describes where releases are published.
type ReleaseConfig struct {
	// Owner is the repository owner on the release host.
	Owner string `toml:"owner"`

	// Repo is the repository name on the release host.
	Repo string `toml:"repo"`

	// APIBaseURL is the base URL of the GitHub-compatible releases API.
	APIBaseURL string `toml:"api_base_url"`

	// Manifest, when set, is a local YAML release manifest used instead of
	// the releases API (mirrors, air-gapped installs).
	Manifest string `toml:"manifest"`

	// IncludePrerelease allows prereleases to be offered as updates.
	IncludePrerelease bool `toml:"include_prerelease"`

	// TokenEnv names the environment variable holding an API token.
	TokenEnv string `toml:"token_env"`
}

// DownloadConfig contains download settings.
type DownloadConfig struct {
	// MaxRetries is the number of whole-download attempts.
	MaxRetries int `toml:"max_retries"`

	// Timeout bounds a single HTTP request, e.g. "5m".
	Timeout string `toml:"timeout"`
}

// HandoffConfig contains settings for the two-process handoff.
type HandoffConfig struct {
	// ScratchPrefix is the name prefix of scratch directories.
	ScratchPrefix string `toml:"scratch_prefix"`

	// CleanupDelay is how long the removal command waits before deleting
	// the scratch directory, e.g. "2s".
	CleanupDelay string `toml:"cleanup_delay"`

	// Relaunch controls whether the calling application is started again
	// once the update has been applied.
	Relaunch bool `toml:"relaunch"`
}

// UpdateConfig contains settings for the host-triggered update loop.
type UpdateConfig struct {
	// MaxAttempts bounds the retry loop when no prompt can be shown.
	MaxAttempts int `toml:"max_attempts"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is one of: debug, info, warn, error.
	Level string `toml:"level"`

	// File, when set, receives a copy of every log line.
	File string `toml:"file"`
}

// TUIConfig contains terminal UI settings.
type TUIConfig struct {
	// Enabled controls whether the progress view is used on a terminal.
	Enabled bool `toml:"enabled"`
}

// DefaultConfig returns a Config with all default values set.
func DefaultConfig() *Config {
	return &Config{
		Release: ReleaseConfig{
			Owner:             "chazuruo",
			Repo:              "handoff",
			APIBaseURL:        "https://api.github.com",
			Manifest:          "",
			IncludePrerelease: false,
			TokenEnv:          "GITHUB_TOKEN",
		},
		Download: DownloadConfig{
			MaxRetries: 3,
			Timeout:    "10m",
		},
		Handoff: HandoffConfig{
			ScratchPrefix: "handoff-",
			CleanupDelay:  "2s",
			Relaunch:      true,
		},
		Update: UpdateConfig{
			MaxAttempts: 1,
		},
		Log: LogConfig{
			Level: "info",
			File:  "",
		},
		TUI: TUIConfig{
			Enabled: true,
		},
	}
}

// Validate checks the configuration for valid values.
// Returns a nil error if the config is valid, or an error describing the problem.
func (c *Config) Validate() error {
	// Validate Release section
	if c.Release.Manifest == "" {
		if c.Release.Owner == "" {
			return fmt.Errorf("release.owner cannot be empty")
		}
		if c.Release.Repo == "" {
			return fmt.Errorf("release.repo cannot be empty")
		}
		if c.Release.APIBaseURL == "" {
			return fmt.Errorf("release.api_base_url cannot be empty")
		}
		if !strings.HasPrefix(c.Release.APIBaseURL, "http://") && !strings.HasPrefix(c.Release.APIBaseURL, "https://") {
			return fmt.Errorf("release.api_base_url must be an http(s) URL; got %q", c.Release.APIBaseURL)
		}
	}

	// Validate Download section
	if c.Download.MaxRetries < 1 {
		return fmt.Errorf("download.max_retries must be >= 1; got %d", c.Download.MaxRetries)
	}
	if _, err := time.ParseDuration(c.Download.Timeout); err != nil {
		return fmt.Errorf("download.timeout is not a duration: %q", c.Download.Timeout)
	}

	// Validate Handoff section
	if c.Handoff.ScratchPrefix == "" {
		return fmt.Errorf("handoff.scratch_prefix cannot be empty")
	}
	if strings.ContainsAny(c.Handoff.ScratchPrefix, `/\`) {
		return fmt.Errorf("handoff.scratch_prefix cannot contain path separators: %q", c.Handoff.ScratchPrefix)
	}
	delay, err := time.ParseDuration(c.Handoff.CleanupDelay)
	if err != nil {
		return fmt.Errorf("handoff.cleanup_delay is not a duration: %q", c.Handoff.CleanupDelay)
	}
	if delay < time.Second {
		return fmt.Errorf("handoff.cleanup_delay must be at least 1s; got %s", delay)
	}

	// Validate Update section
	if c.Update.MaxAttempts < 1 {
		return fmt.Errorf("update.max_attempts must be >= 1; got %d", c.Update.MaxAttempts)
	}

	// Validate Log section
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}

	return nil
}

// DownloadTimeout returns the parsed download timeout.
// Call only on a validated config.
func (c *Config) DownloadTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Download.Timeout)
	return d
}

// CleanupDelay returns the parsed cleanup delay.
// Call only on a validated config.
func (c *Config) CleanupDelay() time.Duration {
	d, _ := time.ParseDuration(c.Handoff.CleanupDelay)
	return d
}
