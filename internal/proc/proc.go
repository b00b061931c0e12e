// Package proc starts processes that outlive their parent: the role B
// updater, the relaunched application and the delayed scratch-directory
// removal.
package proc

import (
	"fmt"
	"io"
	"math"
	"os/exec"
	"sync"
	"time"

	herrors "github.com/chazuruo/handoff/internal/errors"
)

// Command describes a process to start.
type Command struct {
	Path string
	Args []string

	// Dir is the working directory; empty means the caller's.
	Dir string

	// Env is the full environment; nil inherits the caller's.
	Env []string

	// Stdout and Stderr are inherited by the child when set.
	Stdout io.Writer
	Stderr io.Writer

	// RawCmdLine, when set, is passed to Windows verbatim instead of a
	// command line built from Args. Ignored elsewhere.
	RawCmdLine string
}

// Launcher starts a process without waiting for it.
type Launcher interface {
	Start(cmd Command) (pid int, err error)
}

// Detached starts processes in their own session (Unix) or detached process
// group (Windows) so they survive the exit of the caller.
type Detached struct{}

// Start launches cmd and releases it. Errors wrap ErrSpawnFailed.
func (Detached) Start(c Command) (int, error) {
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	cmd.SysProcAttr = detachAttr(c)

	if err := cmd.Start(); err != nil {
		return 0, herrors.Wrap(herrors.ErrSpawnFailed, fmt.Errorf("starting %s: %w", c.Path, err))
	}
	pid := cmd.Process.Pid

	if c.Stdout == nil && c.Stderr == nil {
		_ = cmd.Process.Release()
	} else {
		// Copying goroutines for non-file writers finish only after Wait.
		go func() { _ = cmd.Wait() }()
	}

	return pid, nil
}

// Cleaner removes a directory some time after the caller has exited.
type Cleaner interface {
	ScheduleRemoval(dir string, delay time.Duration) error
}

// DelayedRemover schedules removal with a detached shell command that waits
// and then deletes dir recursively. The caller must exit before the delay
// elapses so that its own files are no longer in use.
type DelayedRemover struct {
	Launcher Launcher
}

// ScheduleRemoval starts the removal command and returns immediately.
func (r DelayedRemover) ScheduleRemoval(dir string, delay time.Duration) error {
	if dir == "" {
		return fmt.Errorf("%w: empty directory", herrors.ErrInvalid)
	}
	launcher := r.Launcher
	if launcher == nil {
		launcher = Detached{}
	}
	_, err := launcher.Start(RemovalCommand(dir, delay))
	return err
}

// delaySeconds rounds delay up to whole seconds, at least one.
func delaySeconds(delay time.Duration) int {
	s := int(math.Ceil(delay.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// Fake is a Launcher and Cleaner that records calls instead of starting
// processes.
type Fake struct {
	// StartErr, when set, is returned by Start.
	StartErr error

	// RemoveErr, when set, is returned by ScheduleRemoval.
	RemoveErr error

	mu       sync.Mutex
	started  []Command
	removals []Removal
}

// Removal is a removal recorded by Fake.
type Removal struct {
	Dir   string
	Delay time.Duration
}

// Start records cmd.
func (f *Fake) Start(cmd Command) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartErr != nil {
		return 0, herrors.Wrap(herrors.ErrSpawnFailed, f.StartErr)
	}
	f.started = append(f.started, cmd)
	return 1000 + len(f.started), nil
}

// ScheduleRemoval records dir.
func (f *Fake) ScheduleRemoval(dir string, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removals = append(f.removals, Removal{Dir: dir, Delay: delay})
	return f.RemoveErr
}

// Started returns the commands started so far.
func (f *Fake) Started() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Command(nil), f.started...)
}

// Removals returns the removals scheduled so far.
func (f *Fake) Removals() []Removal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Removal(nil), f.removals...)
}
