package config

import (
	"strings"
	"testing"
	"time"
)

// TestDefaultConfig verifies that default values are correctly set.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name string
		got  any
		want any
	}{
		// Release section defaults
		{"release.owner", cfg.Release.Owner, "chazuruo"},
		{"release.repo", cfg.Release.Repo, "handoff"},
		{"release.api_base_url", cfg.Release.APIBaseURL, "https://api.github.com"},
		{"release.manifest", cfg.Release.Manifest, ""},
		{"release.include_prerelease", cfg.Release.IncludePrerelease, false},
		{"release.token_env", cfg.Release.TokenEnv, "GITHUB_TOKEN"},

		// Download section defaults
		{"download.max_retries", cfg.Download.MaxRetries, 3},
		{"download.timeout", cfg.Download.Timeout, "10m"},

		// Handoff section defaults
		{"handoff.scratch_prefix", cfg.Handoff.ScratchPrefix, "handoff-"},
		{"handoff.cleanup_delay", cfg.Handoff.CleanupDelay, "2s"},
		{"handoff.relaunch", cfg.Handoff.Relaunch, true},

		// Update section defaults
		{"update.max_attempts", cfg.Update.MaxAttempts, 1},

		// Log section defaults
		{"log.level", cfg.Log.Level, "info"},
		{"log.file", cfg.Log.File, ""},

		// TUI section defaults
		{"tui.enabled", cfg.TUI.Enabled, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v, want nil", err)
	}
}

// TestValidate checks that invalid values are rejected with a useful message.
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"empty owner", func(c *Config) { c.Release.Owner = "" }, "release.owner"},
		{"empty repo", func(c *Config) { c.Release.Repo = "" }, "release.repo"},
		{"bad base url", func(c *Config) { c.Release.APIBaseURL = "ftp://x" }, "release.api_base_url"},
		{"zero retries", func(c *Config) { c.Download.MaxRetries = 0 }, "download.max_retries"},
		{"bad timeout", func(c *Config) { c.Download.Timeout = "soon" }, "download.timeout"},
		{"empty prefix", func(c *Config) { c.Handoff.ScratchPrefix = "" }, "handoff.scratch_prefix"},
		{"prefix with separator", func(c *Config) { c.Handoff.ScratchPrefix = "a/b" }, "handoff.scratch_prefix"},
		{"bad delay", func(c *Config) { c.Handoff.CleanupDelay = "later" }, "handoff.cleanup_delay"},
		{"short delay", func(c *Config) { c.Handoff.CleanupDelay = "10ms" }, "handoff.cleanup_delay"},
		{"zero attempts", func(c *Config) { c.Update.MaxAttempts = 0 }, "update.max_attempts"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() = nil, want error mentioning %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}

	t.Run("manifest makes owner optional", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Release.Owner = ""
		cfg.Release.Repo = ""
		cfg.Release.Manifest = "/srv/releases.yaml"
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() = %v, want nil", err)
		}
	})
}

// TestDurations verifies the parsed duration accessors.
func TestDurations(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.CleanupDelay(); got != 2*time.Second {
		t.Errorf("CleanupDelay() = %s, want 2s", got)
	}
	if got := cfg.DownloadTimeout(); got != 10*time.Minute {
		t.Errorf("DownloadTimeout() = %s, want 10m", got)
	}
}
