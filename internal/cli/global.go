// Package cli provides Cobra command definitions for handoff.
package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// GlobalOptions holds the persistent flags shared by every command.
type GlobalOptions struct {
	// ConfigPath overrides config discovery (--config).
	ConfigPath string

	// NoTUI disables the progress view and prompts (--no-tui).
	NoTUI bool

	// LogLevel overrides [log].level (--log-level).
	LogLevel string
}

// AddGlobalFlags adds global flags to a command.
func AddGlobalFlags(cmd *cobra.Command, opts *GlobalOptions) {
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "",
		"config file (default: $HANDOFF_CONFIG or ~/.config/handoff/config.toml)")
	cmd.PersistentFlags().BoolVar(&opts.NoTUI, "no-tui", false,
		"disable TUI/interactive mode; use plain text or JSON output")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "",
		"log level: debug, info, warn, error")
}

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
	BuiltBy string
}

// ExitError carries a process exit code. Err may be nil when the code
// itself is the message, e.g. "no update available".
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// exitCode returns the code carried by err, or 1.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}

// executableDir returns the directory of the running binary for display.
func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "(unknown)"
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}
