package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	herrors "github.com/chazuruo/handoff/internal/errors"
	"github.com/chazuruo/handoff/internal/handoff"
	"github.com/chazuruo/handoff/internal/release"
	"github.com/chazuruo/handoff/internal/tui"
)

// UpdateOptions contains the options for the update command.
type UpdateOptions struct {
	// Yes skips the confirmation prompt.
	Yes bool

	// App is the application relaunched once the update is applied.
	App string
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(info BuildInfo, g *GlobalOptions) *cobra.Command {
	opts := &UpdateOptions{}

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update the installation to the latest release",
		Long: `Check for a newer release and hand the update over to a copy of the updater.

This command will:
1. Check the release feed for a newer version
2. Copy the updater into a scratch directory
3. Start the copy and exit

The copy downloads and applies the release, starts the application
named by --app again and removes the scratch directory. Without --app
the updater itself is updated and nothing is started afterwards.

Exit codes:
  0 - Update started, or canceled at the prompt
  2 - Release feed unreachable or unparseable
  5 - Already on the latest version
  6 - The updater copy could not be started`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(cmd, info, g, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.Yes, "yes", "y", false, "skip confirmation prompt")
	cmd.Flags().StringVar(&opts.App, "app", "", "application to relaunch after the update (default: update this executable, relaunch nothing)")

	return cmd
}

func runUpdate(cmd *cobra.Command, info BuildInfo, g *GlobalOptions, opts *UpdateOptions) error {
	a, err := newApp(cmd, info, g, true)
	if err != nil {
		return err
	}
	defer a.Close()

	app, err := callingApp(opts.App)
	if err != nil {
		return err
	}
	// The updater run by hand has no application to return to.
	a.noRelaunch = opts.App == ""

	ctx := cmd.Context()
	prompt := a.tui && tui.IsTerminal(os.Stdin)

	if prompt && !opts.Yes {
		check, err := a.checker().CheckForUpdate(ctx, info.Version)
		if err != nil {
			return &ExitError{Code: handoff.ExitCode(err), Err: err}
		}
		if !check.IsUpdateAvailable {
			fmt.Fprintf(a.stdout, "handoff %s is up to date.\n", info.Version)
			return &ExitError{Code: handoff.ExitAlreadyLatest}
		}
		if err := confirmUpdate(check.Latest); err != nil {
			if herrors.IsCanceled(err) {
				fmt.Fprintln(a.stdout, "Update canceled.")
				return nil
			}
			return err
		}
	}

	return updateLoop(ctx, a, handoff.HostCheck(app), prompt)
}

// updateLoop runs role A until it succeeds or the user gives up. Without a
// prompt, update.max_attempts bounds the attempts.
func updateLoop(ctx context.Context, a *app, role handoff.Role, prompt bool) error {
	for attempt := 1; ; attempt++ {
		res := a.run(ctx, role)

		switch {
		case res.Err == nil && res.Outcome == handoff.OutcomeNoUpdate:
			fmt.Fprintf(a.stdout, "handoff %s is up to date.\n", a.info.Version)
			return resultError(res)
		case res.Err == nil && a.noRelaunch:
			fmt.Fprintf(a.stdout, "Update to %s started (pid %d).\n", res.Release.Tag, res.PID)
			return nil
		case res.Err == nil:
			fmt.Fprintf(a.stdout, "Update to %s started (pid %d). %s will restart when it is done.\n",
				res.Release.Tag, res.PID, filepath.Base(role.CallingApp))
			return nil
		}

		if !herrors.IsCheckFailed(res.Err) && !herrors.IsSpawnFailed(res.Err) {
			return resultError(res)
		}

		a.logger.Warn("update attempt failed", "attempt", attempt, "error", res.Err)

		if prompt {
			if err := askRetry(res.Err); err != nil {
				if herrors.IsCanceled(err) {
					return resultError(res)
				}
				return err
			}
		} else if attempt >= a.cfg.Update.MaxAttempts {
			return resultError(res)
		}
	}
}

// callingApp resolves the application to relaunch.
func callingApp(flag string) (string, error) {
	if flag == "" {
		exe, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("failed to get executable path: %w", err)
		}
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		return exe, nil
	}
	abs, err := filepath.Abs(flag)
	if err != nil {
		return "", fmt.Errorf("%w: --app: %v", herrors.ErrInvalid, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("%w: --app: %v", herrors.ErrInvalid, err)
	}
	return abs, nil
}

// confirmUpdate asks before installing latest. Declining or aborting the
// form returns ErrCanceled.
func confirmUpdate(latest *release.ReleaseInfo) error {
	ok := true
	desc := fmt.Sprintf("Asset: %s", latest.AssetName)
	if !latest.PublishedAt.IsZero() {
		desc += fmt.Sprintf("\nPublished: %s", latest.PublishedAt.Format("2006-01-02"))
	}

	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Update to %s?", latest.Tag)).
				Description(desc).
				Affirmative("Update").
				Negative("Cancel").
				Value(&ok),
		),
	).Run()
	return formResult(err, ok)
}

// askRetry offers Retry/Cancel after a failed attempt. Cancel returns
// ErrCanceled.
func askRetry(cause error) error {
	choice := "retry"

	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("The update could not be started").
				Description(cause.Error()).
				Options(
					huh.NewOption("Retry", "retry"),
					huh.NewOption("Cancel", "cancel"),
				).
				Value(&choice),
		),
	).Run()
	return formResult(err, choice == "retry")
}

// formResult maps a huh form outcome onto the error taxonomy.
func formResult(err error, accepted bool) error {
	switch {
	case errors.Is(err, huh.ErrUserAborted):
		return herrors.Wrap(herrors.ErrCanceled, err)
	case err != nil:
		return fmt.Errorf("form error: %w", err)
	case !accepted:
		return herrors.ErrCanceled
	}
	return nil
}
