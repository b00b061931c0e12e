package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesToWriter(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn, err := New(&buf, Options{Level: "debug", Prefix: "role-a"})
	require.NoError(t, err)
	defer func() { _ = closeFn() }()

	logger.Debug("scratch created", "dir", "/tmp/x")

	out := buf.String()
	assert.Contains(t, out, "role-a")
	assert.Contains(t, out, "scratch created")
	assert.Contains(t, out, "/tmp/x")
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New(&buf, Options{Level: "warn"})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNew_CopiesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "handoff.log")

	var buf bytes.Buffer
	logger, closeFn, err := New(&buf, Options{Level: "info", File: path})
	require.NoError(t, err)

	logger.Info("apply finished")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "apply finished")
	assert.Contains(t, buf.String(), "apply finished")
}

func TestNew_DirectoryGetsSessionFile(t *testing.T) {
	dir := t.TempDir()

	logger, closeFn, err := New(&bytes.Buffer{}, Options{Level: "info", File: dir})
	require.NoError(t, err)
	logger.Info("hello")
	require.NoError(t, closeFn())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Regexp(t, `^handoff_\d{8}_\d{6}\.log$`, entries[0].Name())
}

func TestSessionFileName(t *testing.T) {
	now := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, "handoff_20250304_050607.log", SessionFileName(now))
}
