package cli

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/chazuruo/handoff/internal/apply"
	"github.com/chazuruo/handoff/internal/config"
	"github.com/chazuruo/handoff/internal/download"
	"github.com/chazuruo/handoff/internal/handoff"
	"github.com/chazuruo/handoff/internal/logging"
	"github.com/chazuruo/handoff/internal/release"
	"github.com/chazuruo/handoff/internal/status"
	"github.com/chazuruo/handoff/internal/tui"
)

// feedTimeout bounds a single release feed request.
const feedTimeout = 30 * time.Second

// app is the per-invocation environment: effective config, logger and
// output streams.
type app struct {
	info    BuildInfo
	opts    *GlobalOptions
	cfg     *config.Config
	cfgPath string
	logger  *log.Logger
	closer  func() error
	stdout  io.Writer
	stderr  io.Writer
	tui     bool

	// noRelaunch tells role B not to start the calling application.
	noRelaunch bool
}

// newApp loads configuration and builds the logger for cmd. The progress
// view is used only when progress is set and the terminal allows it.
func newApp(cmd *cobra.Command, info BuildInfo, opts *GlobalOptions, progress bool) (*app, error) {
	var (
		cfg     *config.Config
		cfgPath string
		err     error
	)
	if opts.ConfigPath != "" {
		cfgPath = opts.ConfigPath
		cfg, err = config.Load(cfgPath)
	} else {
		cfg, cfgPath, err = config.LoadWithDefaults()
	}
	if err != nil {
		return nil, err
	}

	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.NoTUI {
		cfg.TUI.Enabled = false
	}

	a := &app{
		info:    info,
		opts:    opts,
		cfg:     cfg,
		cfgPath: cfgPath,
		stdout:  cmd.OutOrStdout(),
		stderr:  cmd.ErrOrStderr(),
	}
	a.tui = progress && cfg.TUI.Enabled && tui.IsTerminal(a.stdout)

	// The progress view owns the terminal; logs then go to the file only.
	logOut := a.stderr
	if a.tui {
		logOut = io.Discard
	}
	a.logger, a.closer, err = logging.New(logOut, logging.Options{
		Level:  cfg.Log.Level,
		File:   cfg.Log.File,
		Prefix: "handoff",
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Close releases the log file, if any.
func (a *app) Close() {
	_ = a.closer()
}

// source returns the configured release source.
func (a *app) source() release.Source {
	if a.cfg.Release.Manifest != "" {
		return release.NewManifestSource(a.cfg.Release.Manifest)
	}
	opts := []release.GitHubOption{
		release.WithBaseURL(a.cfg.Release.APIBaseURL),
		release.WithHTTPClient(&http.Client{Timeout: feedTimeout}),
	}
	if env := a.cfg.Release.TokenEnv; env != "" {
		if token := os.Getenv(env); token != "" {
			opts = append(opts, release.WithToken(token))
		}
	}
	return release.NewGitHubSource(a.cfg.Release.Owner, a.cfg.Release.Repo, opts...)
}

func (a *app) checker() *release.Checker {
	return release.NewChecker(a.source(),
		release.WithPrereleases(a.cfg.Release.IncludePrerelease),
		release.WithLogger(a.logger.WithPrefix("check")),
	)
}

// controller builds a handoff controller for role reporting to sink.
func (a *app) controller(role handoff.Role, sink status.Sink) *handoff.Controller {
	applyOpts := []apply.Option{apply.WithLogger(a.logger.WithPrefix("apply"))}
	if role.CallingApp != "" {
		applyOpts = append(applyOpts, apply.WithBareName(filepath.Base(role.CallingApp)))
	}

	opts := []handoff.Option{
		handoff.WithLogger(a.logger.WithPrefix(role.Kind.String())),
		handoff.WithSink(sink),
		handoff.WithScratchPrefix(a.cfg.Handoff.ScratchPrefix),
		handoff.WithCleanupDelay(a.cfg.CleanupDelay()),
		handoff.WithRelaunch(a.cfg.Handoff.Relaunch),
		handoff.WithDownloader(download.New(
			download.WithTimeout(a.cfg.DownloadTimeout()),
			download.WithMaxRetries(a.cfg.Download.MaxRetries),
			download.WithLogger(a.logger.WithPrefix("download")),
		)),
		handoff.WithApplier(apply.New(applyOpts...)),
		handoff.WithOutput(a.stdout, true),
		handoff.WithEnv(a.forwardedEnv()...),
	}
	return handoff.New(a.info.Version, a.checker(), opts...)
}

// forwardedEnv carries command-line choices over to role B, which only
// receives the handoff tokens as arguments.
func (a *app) forwardedEnv() []string {
	var env []string
	if a.cfgPath != "" {
		if abs, err := filepath.Abs(a.cfgPath); err == nil {
			env = append(env, config.EnvConfigPath+"="+abs)
		}
	}
	if a.opts.LogLevel != "" {
		env = append(env, "HANDOFF_LOG_LEVEL="+a.opts.LogLevel)
	}
	if a.opts.NoTUI {
		env = append(env, "HANDOFF_TUI_ENABLED=false")
	}
	if a.noRelaunch {
		env = append(env, "HANDOFF_HANDOFF_RELAUNCH=false")
	}
	return env
}

// run executes role, inside the progress view when the terminal allows it.
func (a *app) run(ctx context.Context, role handoff.Role) handoff.Result {
	logSink := status.NewLog(a.logger)

	if !a.tui || role.Kind == handoff.KindGuidance {
		return a.controller(role, logSink).Run(ctx, role)
	}

	var res handoff.Result
	title := "Updating " + filepath.Base(role.CallingApp)
	err := tui.Run(title, a.stdout, role.IsRoleA(), func(sink status.Sink) {
		res = a.controller(role, status.Multi{sink, logSink}).Run(ctx, role)
	})
	if err != nil {
		a.logger.Warn("progress view failed", "error", err)
	}
	return res
}

// resultError converts a handoff result into a command error.
func resultError(res handoff.Result) error {
	code := res.ExitCode()
	if code == handoff.ExitSuccess {
		return nil
	}
	return &ExitError{Code: code, Err: res.Err}
}
