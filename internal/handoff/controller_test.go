package handoff

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazuruo/handoff/internal/apply"
	"github.com/chazuruo/handoff/internal/download"
	herrors "github.com/chazuruo/handoff/internal/errors"
	"github.com/chazuruo/handoff/internal/proc"
	"github.com/chazuruo/handoff/internal/release"
	"github.com/chazuruo/handoff/internal/status"
	"github.com/chazuruo/handoff/internal/testutil"
)

var testPlatform = release.Platform{OS: "linux", Arch: "amd64"}

// fixture is an installation, a scratch root and recording collaborators.
type fixture struct {
	root     string
	install  string
	app      string
	launcher *proc.Fake
	cleaner  *proc.Fake
	rec      *status.Recorder
	out      *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	base := t.TempDir()
	f := &fixture{
		root:     filepath.Join(base, "tmp"),
		install:  filepath.Join(base, "Program Files", "Libre Tool"),
		launcher: &proc.Fake{},
		cleaner:  &proc.Fake{},
		rec:      &status.Recorder{},
		out:      &bytes.Buffer{},
	}
	require.NoError(t, os.MkdirAll(f.root, 0755))
	testutil.WriteFiles(t, f.install, map[string]string{
		"tool":           "v1 binary",
		"tool.so":        "v1 library",
		"tool.cfg":       "v1 config",
		"settings.ini":   "user settings",
		"data/notes.txt": "user notes",
	})
	f.app = filepath.Join(f.install, "tool")
	return f
}

// scratch creates a role B scratch directory holding a copy of the tool.
func (f *fixture) scratch(t *testing.T) (dir, exe string) {
	t.Helper()
	dir = filepath.Join(f.root, "handoff-test")
	testutil.WriteFiles(t, dir, map[string]string{"tool": "v1 binary"})
	return dir, filepath.Join(dir, "tool")
}

func (f *fixture) controller(version string, checker UpdateChecker, exe string, opts ...Option) *Controller {
	base := []Option{
		WithExecutable(exe),
		WithScratchRoot(f.root),
		WithScratchPrefix("handoff-"),
		WithCleanupDelay(2 * time.Second),
		WithLauncher(f.launcher),
		WithCleaner(f.cleaner),
		WithSink(f.rec),
		WithOutput(f.out, false),
		WithDownloader(download.New(download.WithRetryDelay(0))),
	}
	return New(version, checker, append(base, opts...)...)
}

func (f *fixture) scratchDirs(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.root)
	require.NoError(t, err)
	var dirs []string
	for _, e := range entries {
		dirs = append(dirs, filepath.Join(f.root, e.Name()))
	}
	return dirs
}

func checkerFor(tag, assetURL string) *release.Checker {
	src := release.SourceFunc(func(context.Context) ([]release.Release, error) {
		return []release.Release{{
			TagName: tag,
			Assets: []release.Asset{
				{Name: "tool_" + strings.TrimPrefix(tag, "v") + "_windows_amd64.zip", BrowserDownloadURL: assetURL},
				{Name: "tool_" + strings.TrimPrefix(tag, "v") + "_linux_amd64.zip", BrowserDownloadURL: assetURL},
			},
		}}, nil
	})
	return release.NewChecker(src, release.WithPlatform(testPlatform))
}

func failingChecker() UpdateChecker {
	return release.NewChecker(release.SourceFunc(func(context.Context) ([]release.Release, error) {
		return nil, errors.New("dial tcp: connection refused")
	}))
}

type stubDownloader struct {
	path  string
	err   error
	calls int
}

func (s *stubDownloader) Download(_ context.Context, _ *release.ReleaseInfo, _ string, fn download.ProgressFunc) (string, error) {
	s.calls++
	fn(0.5)
	if s.err == nil {
		fn(1)
	}
	return s.path, s.err
}

type stubApplier struct {
	err   error
	calls int
}

func (s *stubApplier) Apply(_ context.Context, _, _ string, fn apply.ProgressFunc, _ bool) error {
	s.calls++
	fn(0.25)
	return s.err
}

type panickingApplier struct{}

func (panickingApplier) Apply(context.Context, string, string, apply.ProgressFunc, bool) error {
	var m map[string]int
	m["boom"]++
	return nil
}

type panickingDownloader struct{}

func (panickingDownloader) Download(context.Context, *release.ReleaseInfo, string, download.ProgressFunc) (string, error) {
	panic("network stack exploded")
}

// TestRun_Guidance tests that a manual launch only prints guidance.
func TestRun_Guidance(t *testing.T) {
	f := newFixture(t)
	before := testutil.ReadTree(t, f.install)

	role, err := ParseArgs(nil)
	require.NoError(t, err)

	res := f.controller("1.0.0", failingChecker(), f.app).Run(context.Background(), role)

	assert.Equal(t, OutcomeGuidance, res.Outcome)
	assert.Equal(t, ExitSuccess, res.ExitCode())
	assert.Contains(t, f.out.String(), "do NOT start the updater manually")
	assert.Contains(t, f.out.String(), f.install)

	assert.Equal(t, before, testutil.ReadTree(t, f.install))
	assert.Empty(t, f.scratchDirs(t))
	assert.Empty(t, f.launcher.Started())
	assert.Empty(t, f.cleaner.Removals())
	assert.Empty(t, f.rec.Events())
}

// TestRoleA_NoUpdate tests that equal versions exit with the sentinel and
// create nothing.
func TestRoleA_NoUpdate(t *testing.T) {
	for _, role := range []func(string) Role{Replicate, HostCheck} {
		f := newFixture(t)

		res := f.controller("1.2.0", checkerFor("v1.2.0", "https://dl.example/tool.zip"), f.app).
			Run(context.Background(), role(f.app))

		assert.Equal(t, OutcomeNoUpdate, res.Outcome)
		assert.Equal(t, ExitAlreadyLatest, res.ExitCode())
		assert.Empty(t, f.scratchDirs(t))
		assert.Empty(t, f.launcher.Started())
		assert.Equal(t, []status.State{status.CheckingUpdate, status.NoUpdateAvailable}, f.rec.States())
	}
}

// TestRoleA_Replicates tests that role A stages one scratch directory and
// starts exactly one role B with round-trippable arguments.
func TestRoleA_Replicates(t *testing.T) {
	f := newFixture(t)

	res := f.controller("1.0.0", checkerFor("v1.2.0", "https://dl.example/tool.zip"), f.app,
		WithEnv("HANDOFF_CONFIG=/etc/handoff/config.toml"),
	).Run(context.Background(), Replicate(f.app))

	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeSpawned, res.Outcome)
	assert.Equal(t, ExitSuccess, res.ExitCode())
	assert.Equal(t, "1.2.0", res.Release.Version.String())

	dirs := f.scratchDirs(t)
	require.Len(t, dirs, 1)
	scratch := dirs[0]
	assert.Equal(t, scratch, res.ScratchDir)
	assert.True(t, strings.HasPrefix(filepath.Base(scratch), "handoff-"))

	assert.Equal(t, map[string]string{
		"tool":     "v1 binary",
		"tool.so":  "v1 library",
		"tool.cfg": "v1 config",
	}, testutil.ReadTree(t, scratch))

	started := f.launcher.Started()
	require.Len(t, started, 1)
	cmd := started[0]
	assert.Equal(t, filepath.Join(scratch, "tool"), cmd.Path)
	assert.Equal(t, scratch, cmd.Dir)
	assert.Contains(t, cmd.Env, "HANDOFF_CONFIG=/etc/handoff/config.toml")

	role, err := ParseArgs(cmd.Args)
	require.NoError(t, err)
	assert.Equal(t, ApplyAndFinish(f.app, f.install), role, "paths with spaces must survive the handoff")

	assert.Equal(t, []status.State{
		status.CheckingUpdate,
		status.PreparingReplication,
		status.ReplicationLaunched,
	}, f.rec.States())
	assert.Empty(t, f.cleaner.Removals(), "role A never removes its scratch directory after a spawn")
}

// TestRoleA_SpawnFailure tests that a failed spawn removes the copy.
func TestRoleA_SpawnFailure(t *testing.T) {
	f := newFixture(t)
	f.launcher.StartErr = errors.New("exec format error")

	res := f.controller("1.0.0", checkerFor("v1.2.0", "https://dl.example/tool.zip"), f.app).
		Run(context.Background(), Replicate(f.app))

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, herrors.IsSpawnFailed(res.Err))
	assert.Equal(t, ExitSpawnError, res.ExitCode())
	assert.Empty(t, f.scratchDirs(t))

	states := f.rec.States()
	assert.Equal(t, status.Failed, states[len(states)-1])
}

// TestRoleA_CheckFailure tests that a feed error is never "up to date".
func TestRoleA_CheckFailure(t *testing.T) {
	f := newFixture(t)

	res := f.controller("1.0.0", failingChecker(), f.app).Run(context.Background(), HostCheck(f.app))

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, herrors.IsCheckFailed(res.Err))
	assert.Equal(t, ExitCheckFailed, res.ExitCode())
	assert.Empty(t, f.scratchDirs(t))
	assert.Equal(t, []status.State{status.CheckingUpdate, status.Failed}, f.rec.States())
}

// TestRoleB_EndToEnd updates 1.0.0 to 1.2.0 from a served archive.
func TestRoleB_EndToEnd(t *testing.T) {
	f := newFixture(t)
	scratch, exe := f.scratch(t)

	archive := testutil.MakeZip(t, filepath.Join(t.TempDir(), "tool.zip"), testutil.Entries(map[string]string{
		"tool":     "v2 binary",
		"tool.so":  "v2 library",
		"tool.cfg": "v2 config",
	}))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, archive)
	}))
	defer server.Close()

	checker := checkerFor("v1.2.0", server.URL+"/tool.zip")

	check, err := checker.CheckForUpdate(context.Background(), "1.0.0")
	require.NoError(t, err)
	require.True(t, check.IsUpdateAvailable)
	assert.Equal(t, "1.2.0", check.Latest.Version.String())

	res := f.controller("1.0.0", checker, exe).Run(context.Background(), ApplyAndFinish(f.app, f.install))

	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeUpdated, res.Outcome)
	assert.Equal(t, ExitSuccess, res.ExitCode())

	downloaded, err := os.Stat(filepath.Join(scratch, "tool_1.2.0_linux_amd64.zip"))
	require.NoError(t, err)
	assert.Positive(t, downloaded.Size())

	assert.Equal(t, map[string]string{
		"tool":           "v2 binary",
		"tool.so":        "v2 library",
		"tool.cfg":       "v2 config",
		"settings.ini":   "user settings",
		"data/notes.txt": "user notes",
	}, testutil.ReadTree(t, f.install))

	started := f.launcher.Started()
	require.Len(t, started, 1)
	assert.Equal(t, f.app, started[0].Path)

	removals := f.cleaner.Removals()
	require.Len(t, removals, 1)
	assert.Equal(t, scratch, removals[0].Dir)
	assert.Greater(t, removals[0].Delay, time.Duration(0))

	assert.Equal(t, []status.State{
		status.CheckingUpdate,
		status.Downloading,
		status.Applying,
		status.Relaunching,
		status.SelfCleaning,
		status.Done,
	}, f.rec.States())

	for _, phase := range []status.Phase{status.PhaseDownload, status.PhaseApply} {
		fractions := f.rec.Fractions(phase)
		require.NotEmpty(t, fractions, phase.String())
		assert.Equal(t, 1.0, fractions[len(fractions)-1], phase.String())
	}
}

// TestRoleB_ApplyFailure tests that a failed apply still relaunches once
// and schedules cleanup.
func TestRoleB_ApplyFailure(t *testing.T) {
	f := newFixture(t)
	scratch, exe := f.scratch(t)

	dl := &stubDownloader{path: filepath.Join(scratch, "tool.zip")}
	ap := &stubApplier{err: errors.New("disk full")}

	res := f.controller("1.0.0", checkerFor("v1.2.0", "https://dl.example/tool.zip"), exe,
		WithDownloader(dl), WithApplier(ap),
	).Run(context.Background(), ApplyAndFinish(f.app, f.install))

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, herrors.IsApplyFailed(res.Err))
	assert.Equal(t, ExitApplyError, res.ExitCode())
	assert.Equal(t, 1, ap.calls)

	assert.True(t, res.Relaunched)
	require.Len(t, f.launcher.Started(), 1, "relaunch exactly once")
	assert.Equal(t, f.app, f.launcher.Started()[0].Path)

	assert.True(t, res.CleanupScheduled)
	require.Len(t, f.cleaner.Removals(), 1)
	assert.Equal(t, scratch, f.cleaner.Removals()[0].Dir)

	assert.Equal(t, []status.State{
		status.CheckingUpdate,
		status.Downloading,
		status.Applying,
		status.Relaunching,
		status.SelfCleaning,
		status.Failed,
	}, f.rec.States())
}

// TestRoleB_PanicStillRelaunchesAndCleans tests that a panic inside the
// download or apply step is reported as that step's failure and the
// relaunch and cleanup still happen exactly once.
func TestRoleB_PanicStillRelaunchesAndCleans(t *testing.T) {
	tests := []struct {
		name     string
		opts     func(scratch string) []Option
		isKind   func(error) bool
		step     string
		exitCode int
	}{
		{
			name: "applier",
			opts: func(scratch string) []Option {
				return []Option{
					WithDownloader(&stubDownloader{path: filepath.Join(scratch, "tool.zip")}),
					WithApplier(panickingApplier{}),
				}
			},
			isKind:   herrors.IsApplyFailed,
			step:     "apply",
			exitCode: ExitApplyError,
		},
		{
			name: "downloader",
			opts: func(string) []Option {
				return []Option{WithDownloader(panickingDownloader{}), WithApplier(&stubApplier{})}
			},
			isKind:   herrors.IsDownloadFailed,
			step:     "download",
			exitCode: ExitDownloadError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			scratch, exe := f.scratch(t)

			var res Result
			require.NotPanics(t, func() {
				res = f.controller("1.0.0", checkerFor("v1.2.0", "https://dl.example/tool.zip"), exe,
					tt.opts(scratch)...,
				).Run(context.Background(), ApplyAndFinish(f.app, f.install))
			})

			assert.Equal(t, OutcomeFailed, res.Outcome)
			assert.True(t, tt.isKind(res.Err), "unexpected error: %v", res.Err)
			assert.Contains(t, res.Err.Error(), "panic")
			se, ok := herrors.AsStepError(res.Err)
			require.True(t, ok)
			assert.Equal(t, tt.step, se.Step)
			assert.Equal(t, tt.exitCode, res.ExitCode())

			require.Len(t, f.launcher.Started(), 1, "relaunch exactly once")
			assert.Equal(t, f.app, f.launcher.Started()[0].Path)
			require.Len(t, f.cleaner.Removals(), 1)
			assert.Equal(t, scratch, f.cleaner.Removals()[0].Dir)
			assert.Equal(t, status.Failed, f.rec.States()[len(f.rec.States())-1])
		})
	}
}

// TestRoleB_NothingToDownload tests that an empty download skips apply.
func TestRoleB_NothingToDownload(t *testing.T) {
	f := newFixture(t)
	_, exe := f.scratch(t)

	dl := &stubDownloader{}
	ap := &stubApplier{}

	res := f.controller("1.0.0", checkerFor("v1.2.0", "https://dl.example/tool.zip"), exe,
		WithDownloader(dl), WithApplier(ap),
	).Run(context.Background(), ApplyAndFinish(f.app, f.install))

	assert.True(t, herrors.IsNothingToDownload(res.Err))
	assert.Equal(t, ExitDownloadError, res.ExitCode())
	assert.Equal(t, 0, ap.calls, "apply must not run without a download")
	assert.Len(t, f.launcher.Started(), 1)
	assert.Len(t, f.cleaner.Removals(), 1)
	assert.NotContains(t, f.rec.States(), status.Applying)
}

// TestRoleB_DownloadFailure tests that a failed download still relaunches.
func TestRoleB_DownloadFailure(t *testing.T) {
	f := newFixture(t)
	_, exe := f.scratch(t)

	dl := &stubDownloader{err: herrors.Wrap(herrors.ErrDownloadFailed, errors.New("502"))}
	ap := &stubApplier{}

	res := f.controller("1.0.0", checkerFor("v1.2.0", "https://dl.example/tool.zip"), exe,
		WithDownloader(dl), WithApplier(ap),
	).Run(context.Background(), ApplyAndFinish(f.app, f.install))

	assert.Equal(t, ExitDownloadError, res.ExitCode())
	assert.Equal(t, 0, ap.calls)
	assert.Len(t, f.launcher.Started(), 1)
	assert.Len(t, f.cleaner.Removals(), 1)
	assert.Equal(t, []float64{0.5}, f.rec.Fractions(status.PhaseDownload))
}

// TestRoleB_NoUpdate tests the race where the update already happened.
func TestRoleB_NoUpdate(t *testing.T) {
	f := newFixture(t)
	scratch, exe := f.scratch(t)
	dl := &stubDownloader{}

	res := f.controller("1.2.0", checkerFor("v1.2.0", "https://dl.example/tool.zip"), exe, WithDownloader(dl)).
		Run(context.Background(), ApplyAndFinish(f.app, f.install))

	assert.Equal(t, OutcomeNoUpdate, res.Outcome)
	assert.Equal(t, ExitAlreadyLatest, res.ExitCode())
	assert.Equal(t, 0, dl.calls)
	assert.Empty(t, f.launcher.Started())
	require.Len(t, f.cleaner.Removals(), 1)
	assert.Equal(t, scratch, f.cleaner.Removals()[0].Dir)
}

// TestRoleB_CheckFailure tests that the app is relaunched when the
// re-check fails.
func TestRoleB_CheckFailure(t *testing.T) {
	f := newFixture(t)
	_, exe := f.scratch(t)

	res := f.controller("1.0.0", failingChecker(), exe).Run(context.Background(), ApplyAndFinish(f.app, f.install))

	assert.Equal(t, ExitCheckFailed, res.ExitCode())
	assert.Len(t, f.launcher.Started(), 1)
	assert.Len(t, f.cleaner.Removals(), 1)
	assert.Equal(t, []status.State{
		status.CheckingUpdate,
		status.Relaunching,
		status.SelfCleaning,
		status.Failed,
	}, f.rec.States())
}

// TestRoleB_RelaunchFailure tests that cleanup survives a failed relaunch.
func TestRoleB_RelaunchFailure(t *testing.T) {
	f := newFixture(t)
	_, exe := f.scratch(t)
	f.launcher.StartErr = errors.New("permission denied")

	res := f.controller("1.0.0", checkerFor("v1.2.0", "https://dl.example/tool.zip"), exe,
		WithDownloader(&stubDownloader{path: "/x.zip"}), WithApplier(&stubApplier{}),
	).Run(context.Background(), ApplyAndFinish(f.app, f.install))

	assert.False(t, res.Relaunched)
	assert.True(t, herrors.IsSpawnFailed(res.Err))
	assert.Equal(t, ExitSpawnError, res.ExitCode())
	assert.Len(t, f.cleaner.Removals(), 1)
}

// TestRoleB_RelaunchDisabled tests that an update run by hand applies and
// cleans up without starting anything.
func TestRoleB_RelaunchDisabled(t *testing.T) {
	f := newFixture(t)
	scratch, exe := f.scratch(t)
	ap := &stubApplier{}

	res := f.controller("1.0.0", checkerFor("v1.2.0", "https://dl.example/tool.zip"), exe,
		WithDownloader(&stubDownloader{path: filepath.Join(scratch, "tool.zip")}), WithApplier(ap),
		WithRelaunch(false),
	).Run(context.Background(), ApplyAndFinish(f.app, f.install))

	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeUpdated, res.Outcome)
	assert.Equal(t, 1, ap.calls)
	assert.False(t, res.Relaunched)
	assert.Empty(t, f.launcher.Started())
	require.Len(t, f.cleaner.Removals(), 1)
	assert.Equal(t, []status.State{
		status.CheckingUpdate,
		status.Downloading,
		status.Applying,
		status.SelfCleaning,
		status.Done,
	}, f.rec.States())
}

// TestRoleB_CleanupFailureIsNotAnError tests that cleanup is best effort.
func TestRoleB_CleanupFailureIsNotAnError(t *testing.T) {
	f := newFixture(t)
	_, exe := f.scratch(t)
	f.cleaner.RemoveErr = errors.New("no /bin/sh")

	res := f.controller("1.0.0", checkerFor("v1.2.0", "https://dl.example/tool.zip"), exe,
		WithDownloader(&stubDownloader{path: "/x.zip"}), WithApplier(&stubApplier{}),
	).Run(context.Background(), ApplyAndFinish(f.app, f.install))

	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeUpdated, res.Outcome)
	assert.False(t, res.CleanupScheduled)
}

// TestRoleB_RefusesOutsideScratch tests that role B started from the
// installation itself changes nothing.
func TestRoleB_RefusesOutsideScratch(t *testing.T) {
	f := newFixture(t)
	before := testutil.ReadTree(t, f.install)
	dl := &stubDownloader{}

	res := f.controller("1.0.0", checkerFor("v1.2.0", "https://dl.example/tool.zip"), f.app, WithDownloader(dl)).
		Run(context.Background(), ApplyAndFinish(f.app, f.install))

	assert.True(t, herrors.IsInvalid(res.Err))
	assert.Equal(t, ExitGenericError, res.ExitCode())
	assert.Equal(t, 0, dl.calls)
	assert.Empty(t, f.launcher.Started())
	assert.Empty(t, f.cleaner.Removals())
	assert.Equal(t, before, testutil.ReadTree(t, f.install))
}
