package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/chazuruo/handoff/internal/config"
	herrors "github.com/chazuruo/handoff/internal/errors"
	"github.com/chazuruo/handoff/internal/tui"
)

// ConfigInitOptions contains the options for the config init command.
type ConfigInitOptions struct {
	Owner    string
	Repo     string
	Manifest string
	Force    bool
}

// NewConfigCommand creates the config command and its subcommands.
func NewConfigCommand(g *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage handoff configuration",
	}

	cmd.AddCommand(newConfigInitCommand(g))
	cmd.AddCommand(newConfigShowCommand(g))
	cmd.AddCommand(newConfigPathCommand(g))

	return cmd
}

func newConfigInitCommand(g *GlobalOptions) *cobra.Command {
	opts := &ConfigInitOptions{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file",
		Long: `Write a configuration file with default values.

On a terminal the release location is asked for interactively.
Use --no-tui with flags for scripted setup.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd, g, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Owner, "owner", "", "release repository owner")
	cmd.Flags().StringVar(&opts.Repo, "repo", "", "release repository name")
	cmd.Flags().StringVar(&opts.Manifest, "manifest", "", "local release manifest to use instead of the releases API")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "overwrite an existing config file")

	return cmd
}

func runConfigInit(cmd *cobra.Command, g *GlobalOptions, opts *ConfigInitOptions) error {
	path := g.ConfigPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	if path == "" {
		return fmt.Errorf("%w: cannot determine config path; use --config", herrors.ErrInvalid)
	}

	if _, err := os.Stat(path); err == nil && !opts.Force {
		return fmt.Errorf("%w: %s already exists; use --force to overwrite", herrors.ErrInvalid, path)
	}

	cfg := config.DefaultConfig()
	if opts.Owner != "" {
		cfg.Release.Owner = opts.Owner
	}
	if opts.Repo != "" {
		cfg.Release.Repo = opts.Repo
	}
	cfg.Release.Manifest = opts.Manifest

	interactive := !g.NoTUI && tui.IsTerminal(cmd.OutOrStdout()) && tui.IsTerminal(os.Stdin)
	if interactive && opts.Owner == "" && opts.Repo == "" && opts.Manifest == "" {
		if err := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Release owner").
					Description("Owner of the repository that publishes releases").
					Value(&cfg.Release.Owner),
				huh.NewInput().
					Title("Release repository").
					Value(&cfg.Release.Repo),
				huh.NewInput().
					Title("Release manifest").
					Description("Optional local YAML manifest; leave empty to use the releases API").
					Value(&cfg.Release.Manifest),
			),
		).Run(); err != nil {
			return fmt.Errorf("form error: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return &herrors.ConfigError{Path: path, Err: herrors.Wrap(herrors.ErrInvalid, err)}
	}
	if err := config.Write(path, cfg); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

func newConfigShowCommand(g *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults and HANDOFF_* environment
overrides have been applied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				cfg  *config.Config
				path = g.ConfigPath
				err  error
			)
			if path != "" {
				cfg, err = config.Load(path)
			} else {
				cfg, path, err = config.LoadWithDefaults()
			}
			if err != nil {
				return err
			}

			data, err := config.Encode(cfg)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if path == "" {
				fmt.Fprintln(w, "# no config file found; showing defaults")
			} else {
				fmt.Fprintf(w, "# %s\n", path)
			}
			_, err = w.Write(data)
			return err
		},
	}
}

func newConfigPathCommand(g *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file in use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := g.ConfigPath
			if path == "" {
				path = config.DetectConfigPath()
			}
			if path == "" {
				path = config.DefaultConfigPath() + " (not found)"
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}
