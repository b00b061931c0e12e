// Package logging builds the structured logger shared by every handoff
// component. There is no package-level logger: callers construct one with
// New and pass it down.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
)

// Options controls logger construction.
type Options struct {
	// Level is one of: debug, info, warn, error.
	Level string

	// File, when set, receives a copy of every log line. A directory path
	// (trailing separator or existing directory) gets a timestamped file.
	File string

	// Prefix is shown before every message, e.g. "role-b".
	Prefix string
}

// New creates a logger writing to w and, optionally, to a log file. The
// returned close function releases the file and is safe to call when no
// file was opened.
func New(w io.Writer, opts Options) (*log.Logger, func() error, error) {
	level, err := log.ParseLevel(opts.Level)
	if err != nil {
		level = log.InfoLevel
	}

	closer := func() error { return nil }
	out := w

	if opts.File != "" {
		f, err := openLogFile(opts.File, time.Now())
		if err != nil {
			return nil, closer, fmt.Errorf("opening log file: %w", err)
		}
		out = io.MultiWriter(w, f)
		closer = f.Close
	}

	logger := log.NewWithOptions(out, log.Options{
		Prefix:          opts.Prefix,
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
	})

	return logger, closer, nil
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}

// openLogFile opens path for appending. Directories get a per-session file
// named handoff_<yyyyMMdd_HHmmss>.log so concurrent sessions never share one.
func openLogFile(path string, now time.Time) (*os.File, error) {
	if info, err := os.Stat(path); (err == nil && info.IsDir()) || os.IsPathSeparator(path[len(path)-1]) {
		path = filepath.Join(path, SessionFileName(now))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

// SessionFileName returns the per-session log file name for now.
func SessionFileName(now time.Time) string {
	return "handoff_" + now.Format("20060102_150405") + ".log"
}
