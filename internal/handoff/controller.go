package handoff

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/chazuruo/handoff/internal/apply"
	"github.com/chazuruo/handoff/internal/download"
	herrors "github.com/chazuruo/handoff/internal/errors"
	"github.com/chazuruo/handoff/internal/logging"
	"github.com/chazuruo/handoff/internal/proc"
	"github.com/chazuruo/handoff/internal/release"
	"github.com/chazuruo/handoff/internal/status"
)

// UpdateChecker reports whether a release newer than currentVersion exists.
type UpdateChecker interface {
	CheckForUpdate(ctx context.Context, currentVersion string) (release.UpdateCheckResult, error)
}

// Downloader fetches a release asset into destDir.
type Downloader interface {
	Download(ctx context.Context, info *release.ReleaseInfo, destDir string, onProgress download.ProgressFunc) (string, error)
}

// Applier writes a downloaded asset into targetDir.
type Applier interface {
	Apply(ctx context.Context, targetDir, archivePath string, onProgress apply.ProgressFunc, overwrite bool) error
}

// Outcome summarizes how a run ended.
type Outcome int

const (
	OutcomeGuidance Outcome = iota
	OutcomeNoUpdate
	OutcomeSpawned
	OutcomeUpdated
	OutcomeFailed
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeGuidance:
		return "guidance"
	case OutcomeNoUpdate:
		return "no-update"
	case OutcomeSpawned:
		return "spawned"
	case OutcomeUpdated:
		return "updated"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// Result is the outcome of Run.
type Result struct {
	Outcome Outcome

	// Release is the release that was offered, if any.
	Release *release.ReleaseInfo

	// ScratchDir is the directory created by role A or removed by role B.
	ScratchDir string

	// PID is the process ID of role B after a successful spawn.
	PID int

	// Relaunched and CleanupScheduled record role B's terminal steps.
	Relaunched       bool
	CleanupScheduled bool

	Err error
}

// ExitCode returns the process exit code for r.
func (r Result) ExitCode() int {
	if r.Err != nil {
		return ExitCode(r.Err)
	}
	if r.Outcome == OutcomeNoUpdate {
		return ExitAlreadyLatest
	}
	return ExitSuccess
}

// Controller drives the handoff state machine for one role.
type Controller struct {
	version    string
	checker    UpdateChecker
	downloader Downloader
	applier    Applier
	launcher   proc.Launcher
	cleaner    proc.Cleaner
	sink       status.Sink
	logger     *log.Logger

	executable    string
	scratchRoot   string
	scratchPrefix string
	cleanupDelay  time.Duration
	relaunchApp   bool
	env           []string
	out           io.Writer
	childOutput   bool
}

// Option configures a Controller during construction.
type Option func(*Controller)

// WithDownloader replaces the default downloader.
func WithDownloader(d Downloader) Option {
	return func(c *Controller) { c.downloader = d }
}

// WithApplier replaces the default applier.
func WithApplier(a Applier) Option {
	return func(c *Controller) { c.applier = a }
}

// WithLauncher sets how role B and the relaunched application are started.
func WithLauncher(l proc.Launcher) Option {
	return func(c *Controller) { c.launcher = l }
}

// WithCleaner sets how the scratch directory removal is scheduled.
func WithCleaner(cl proc.Cleaner) Option {
	return func(c *Controller) { c.cleaner = cl }
}

// WithSink sets the status sink.
func WithSink(s status.Sink) Option {
	return func(c *Controller) { c.sink = s }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithExecutable overrides the path of the running executable.
func WithExecutable(path string) Option {
	return func(c *Controller) { c.executable = path }
}

// WithScratchRoot sets where scratch directories are created.
func WithScratchRoot(dir string) Option {
	return func(c *Controller) { c.scratchRoot = dir }
}

// WithScratchPrefix sets the name prefix of scratch directories.
func WithScratchPrefix(prefix string) Option {
	return func(c *Controller) { c.scratchPrefix = prefix }
}

// WithCleanupDelay sets how long the removal command waits.
func WithCleanupDelay(d time.Duration) Option {
	return func(c *Controller) { c.cleanupDelay = d }
}

// WithRelaunch controls whether role B starts the calling application
// again. It is on by default; the updater run by hand has nothing to
// return to.
func WithRelaunch(enabled bool) Option {
	return func(c *Controller) { c.relaunchApp = enabled }
}

// WithEnv adds KEY=VALUE pairs to role B's environment.
func WithEnv(kv ...string) Option {
	return func(c *Controller) { c.env = append(c.env, kv...) }
}

// WithOutput sets where guidance is printed. When inherit is true, role B
// also writes its output there.
func WithOutput(w io.Writer, inherit bool) Option {
	return func(c *Controller) {
		c.out = w
		c.childOutput = inherit
	}
}

// New creates a Controller for a binary at version.
func New(version string, checker UpdateChecker, opts ...Option) *Controller {
	c := &Controller{
		version:       version,
		checker:       checker,
		downloader:    download.New(),
		applier:       apply.New(),
		launcher:      proc.Detached{},
		cleaner:       proc.DelayedRemover{},
		sink:          status.Nop{},
		logger:        logging.Discard(),
		scratchRoot:   os.TempDir(),
		scratchPrefix: "handoff-",
		cleanupDelay:  2 * time.Second,
		relaunchApp:   true,
		out:           os.Stdout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.sink = status.NewMonotonic(c.sink)
	return c
}

// Run performs role and reports how it ended. Role B always relaunches the
// calling application and schedules removal of its scratch directory once
// it has started working, whatever fails in between.
func (c *Controller) Run(ctx context.Context, role Role) Result {
	c.logger.Debug("starting", "role", role.Kind, "version", c.version)

	switch role.Kind {
	case KindGuidance:
		return c.guidance()
	case KindHostCheck, KindReplicate:
		return c.replicate(ctx, role)
	case KindApplyAndFinish:
		return c.applyAndFinish(ctx, role)
	}
	return Result{Outcome: OutcomeFailed, Err: fmt.Errorf("%w: unknown role %d", herrors.ErrInvalid, role.Kind)}
}

func (c *Controller) guidance() Result {
	dir := "(unknown)"
	if exe, err := c.executablePath(); err == nil {
		dir = filepath.Dir(exe)
	}
	fmt.Fprint(c.out, GuidanceText(dir))
	return Result{Outcome: OutcomeGuidance}
}

// replicate is role A: check, copy the installation, start role B.
func (c *Controller) replicate(ctx context.Context, role Role) Result {
	c.transition(status.CheckingUpdate, "Checking for updates...")

	check, err := c.checker.CheckForUpdate(ctx, c.version)
	if err != nil {
		c.transition(status.Failed, fmt.Sprintf("Update check failed: %v", err))
		return Result{Outcome: OutcomeFailed, Err: &herrors.StepError{Step: "check", Err: err}}
	}
	if !check.IsUpdateAvailable {
		c.transition(status.NoUpdateAvailable, fmt.Sprintf("Version %s is up to date.", c.version))
		return Result{Outcome: OutcomeNoUpdate}
	}

	latest := check.Latest
	c.transition(status.PreparingReplication, fmt.Sprintf("Preparing update to %s... please wait.", latest.Version))

	fail := func(step string, err error) Result {
		c.transition(status.Failed, fmt.Sprintf("Could not start the update: %v", err))
		return Result{Outcome: OutcomeFailed, Release: latest, Err: &herrors.StepError{Step: step, Err: err}}
	}

	exe, err := c.executablePath()
	if err != nil {
		return fail("replicate", err)
	}

	inst, err := Enumerate(exe)
	if err != nil {
		return fail("replicate", err)
	}
	c.logger.Debug("installation", "dir", inst.Dir, "executable", inst.Executable, "files", len(inst.Files))

	scratch, copied, err := Stage(inst, c.scratchRoot, c.scratchPrefix)
	if err != nil {
		return fail("replicate", err)
	}
	c.logger.Info("staged updater", "scratch", scratch)

	cmd := proc.Command{
		Path: copied,
		Args: ApplyAndFinish(role.CallingApp, inst.Dir).Args(),
		Dir:  scratch,
	}
	if len(c.env) > 0 {
		cmd.Env = append(os.Environ(), c.env...)
	}
	if c.childOutput {
		cmd.Stdout, cmd.Stderr = c.out, c.out
	}

	pid, err := c.launcher.Start(cmd)
	if err != nil {
		// Role B never started, so nobody else will remove the copy.
		_ = os.RemoveAll(scratch)
		if !herrors.IsSpawnFailed(err) {
			err = herrors.Wrap(herrors.ErrSpawnFailed, err)
		}
		return fail("spawn", err)
	}

	c.transition(status.ReplicationLaunched, fmt.Sprintf("Updater started (pid %d).", pid))
	return Result{Outcome: OutcomeSpawned, Release: latest, ScratchDir: scratch, PID: pid}
}

// applyAndFinish is role B.
func (c *Controller) applyAndFinish(ctx context.Context, role Role) Result {
	exe, err := c.executablePath()
	if err != nil {
		return Result{Outcome: OutcomeFailed, Err: &herrors.StepError{Step: "start", Err: err}}
	}
	scratch := filepath.Dir(exe)

	if err := c.checkScratch(scratch, role.SourceDir); err != nil {
		c.transition(status.Failed, fmt.Sprintf("Refusing to update: %v", err))
		return Result{Outcome: OutcomeFailed, Err: &herrors.StepError{Step: "start", Err: err}}
	}

	res := Result{ScratchDir: scratch}

	c.transition(status.CheckingUpdate, "Checking for updates...")
	check, err := c.checker.CheckForUpdate(ctx, c.version)
	switch {
	case err != nil:
		res.Err = &herrors.StepError{Step: "check", Err: err}
	case !check.IsUpdateAvailable:
		c.transition(status.NoUpdateAvailable, fmt.Sprintf("Version %s is up to date.", c.version))
		res.Outcome = OutcomeNoUpdate
		res.CleanupScheduled = c.scheduleCleanup(scratch)
		return res
	default:
		res.Release = check.Latest
		res.Err = c.downloadAndApply(ctx, check.Latest, scratch, role.SourceDir)
	}

	if res.Err != nil {
		c.logger.Error("update failed", "error", res.Err)
	}

	if c.relaunchApp {
		c.transition(status.Relaunching, fmt.Sprintf("Starting %s...", filepath.Base(role.CallingApp)))
		if err := c.relaunch(role.CallingApp); err != nil {
			c.logger.Error("relaunch failed", "app", role.CallingApp, "error", err)
			res.Err = errors.Join(res.Err, &herrors.StepError{Step: "relaunch", Err: err})
		} else {
			res.Relaunched = true
		}
	} else {
		c.logger.Info("relaunch disabled", "app", role.CallingApp)
	}

	c.transition(status.SelfCleaning, "Removing temporary files...")
	res.CleanupScheduled = c.scheduleCleanup(scratch)

	if res.Err != nil {
		res.Outcome = OutcomeFailed
		c.transition(status.Failed, fmt.Sprintf("Update failed: %v", res.Err))
		return res
	}

	res.Outcome = OutcomeUpdated
	c.transition(status.Done, fmt.Sprintf("Updated to %s.", res.Release.Version))
	return res
}

// downloadAndApply runs the download and apply steps. Nothing to download
// is terminal: apply is skipped. A panic in either step is returned as that
// step's failure so that role B still relaunches and cleans up.
func (c *Controller) downloadAndApply(ctx context.Context, latest *release.ReleaseInfo, scratch, target string) (err error) {
	step, kind := "download", herrors.ErrDownloadFailed
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("recovered from panic", "step", step, "panic", r)
			err = &herrors.StepError{Step: step, Err: herrors.Wrap(kind, fmt.Errorf("panic: %v", r))}
		}
	}()

	c.transition(status.Downloading, fmt.Sprintf("Downloading %s... please wait. (Step 1 of 2)", latest.Version))

	archive, err := c.downloader.Download(ctx, latest, scratch, func(f float64) {
		c.sink.Progress(status.PhaseDownload, f)
	})
	if err != nil {
		return &herrors.StepError{Step: "download", Err: err}
	}
	if archive == "" {
		return &herrors.StepError{Step: "download", Err: herrors.ErrNothingToDownload}
	}

	c.transition(status.Applying, "Extracting update... please wait. (Step 2 of 2)")
	step, kind = "apply", herrors.ErrApplyFailed

	if err := c.applier.Apply(ctx, target, archive, func(f float64) {
		c.sink.Progress(status.PhaseApply, f)
	}, true); err != nil {
		if !herrors.IsApplyFailed(err) {
			err = herrors.Wrap(herrors.ErrApplyFailed, err)
		}
		return &herrors.StepError{Step: "apply", Err: err}
	}
	return nil
}

func (c *Controller) relaunch(app string) error {
	pid, err := c.launcher.Start(proc.Command{Path: app, Dir: filepath.Dir(app)})
	if err != nil {
		if !herrors.IsSpawnFailed(err) {
			err = herrors.Wrap(herrors.ErrSpawnFailed, err)
		}
		return err
	}
	c.logger.Info("relaunched", "app", app, "pid", pid)
	return nil
}

// scheduleCleanup is best effort: failures are logged and never returned.
func (c *Controller) scheduleCleanup(scratch string) bool {
	if err := c.cleaner.ScheduleRemoval(scratch, c.cleanupDelay); err != nil {
		c.logger.Warn("could not schedule removal of scratch directory", "dir", scratch, "error", err)
		return false
	}
	c.logger.Info("scheduled removal", "dir", scratch, "delay", c.cleanupDelay)
	return true
}

// checkScratch refuses to run role B from anywhere but a scratch directory,
// since that directory is deleted afterwards.
func (c *Controller) checkScratch(scratch, source string) error {
	if !strings.HasPrefix(filepath.Base(scratch), c.scratchPrefix) {
		return fmt.Errorf("%w: %s is not a scratch directory", herrors.ErrInvalid, scratch)
	}
	rel, err := filepath.Rel(filepath.Clean(scratch), filepath.Clean(source))
	if err == nil && (rel == "." || !strings.HasPrefix(rel, "..")) {
		return fmt.Errorf("%w: source directory %s is inside the scratch directory", herrors.ErrInvalid, source)
	}
	return nil
}

func (c *Controller) executablePath() (string, error) {
	if c.executable != "" {
		return c.executable, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locating executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return exe, nil
}

func (c *Controller) transition(state status.State, message string) {
	c.logger.Debug("state", "state", state)
	c.sink.Status(state, message)
}
