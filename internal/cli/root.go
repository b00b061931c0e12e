package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/chazuruo/handoff/internal/handoff"
)

// NewRootCommand creates the handoff root command with all subcommands.
//
// Invoked with handoff tokens, the root command runs the matching role.
// Invoked without arguments it prints guidance and changes nothing.
func NewRootCommand(info BuildInfo) *cobra.Command {
	opts := &GlobalOptions{}

	rootCmd := &cobra.Command{
		Use:   "handoff [calling-app=<path> start-self-update | ...]",
		Short: "Two-process self-updater",
		Long: `handoff updates an installed application whose files are locked while it runs.

A copy of the updater is started from a scratch directory. The copy
downloads the new release, writes it over the installation, starts the
application again and removes itself.

Use "handoff update" to update by hand.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", info.Version, info.Commit, info.Date),
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoles(cmd, info, opts, args)
		},
	}

	AddGlobalFlags(rootCmd, opts)

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(NewUpdateCommand(info, opts))
	rootCmd.AddCommand(NewCheckCommand(info, opts))
	rootCmd.AddCommand(NewReleasesCommand(info, opts))
	rootCmd.AddCommand(NewConfigCommand(opts))
	rootCmd.AddCommand(NewVersionCommand(info))

	return rootCmd
}

// Execute runs the CLI with args and returns the process exit code.
//
// Handoff tokens are dispatched before flag parsing so that the "--token"
// spellings are not rejected as unknown flags.
func Execute(ctx context.Context, info BuildInfo, args []string, stdout, stderr io.Writer) int {
	rootCmd := NewRootCommand(info)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	var err error
	if len(args) > 0 && handoff.IsToken(args[0]) {
		rootCmd.SetContext(ctx)
		err = runRoles(rootCmd, info, &GlobalOptions{}, args)
	} else {
		rootCmd.SetArgs(args)
		err = rootCmd.ExecuteContext(ctx)
	}

	var ee *ExitError
	if err != nil && (!errors.As(err, &ee) || ee.Err != nil) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}

// runRoles parses the handoff tokens and runs the selected role.
func runRoles(cmd *cobra.Command, info BuildInfo, opts *GlobalOptions, args []string) error {
	role, parseErr := handoff.ParseArgs(args)
	if parseErr != nil {
		fmt.Fprint(cmd.OutOrStdout(), handoff.GuidanceText(executableDir()))
		return &ExitError{Code: handoff.ExitCode(parseErr), Err: parseErr}
	}

	if role.Kind == handoff.KindGuidance {
		res := handoff.New(info.Version, nil, handoff.WithOutput(cmd.OutOrStdout(), false)).Run(cmd.Context(), role)
		return resultError(res)
	}

	a, err := newApp(cmd, info, opts, true)
	if err != nil {
		return err
	}
	defer a.Close()

	return resultError(a.run(cmd.Context(), role))
}
