package cli

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/rodaine/table"
	"github.com/spf13/cobra"

	"github.com/chazuruo/handoff/internal/handoff"
	"github.com/chazuruo/handoff/internal/release"
)

// ReleasesOptions contains the options for the releases command.
type ReleasesOptions struct {
	Limit int
}

var headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)

// NewReleasesCommand creates the releases command.
func NewReleasesCommand(info BuildInfo, g *GlobalOptions) *cobra.Command {
	opts := &ReleasesOptions{}

	cmd := &cobra.Command{
		Use:   "releases",
		Short: "List installable releases",
		Long: `List the releases an update could install, newest first.

Drafts are never listed. Prereleases are listed only when
release.include_prerelease is set. The running version is marked with "*".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReleases(cmd, info, g, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 10, "maximum number of releases to list (0 for all)")

	return cmd
}

func runReleases(cmd *cobra.Command, info BuildInfo, g *GlobalOptions, opts *ReleasesOptions) error {
	a, err := newApp(cmd, info, g, false)
	if err != nil {
		return err
	}
	defer a.Close()

	candidates, err := a.checker().Releases(cmd.Context())
	if err != nil {
		return &ExitError{Code: handoff.ExitCheckFailed, Err: err}
	}
	if len(candidates) == 0 {
		fmt.Fprintln(a.stdout, "No releases published.")
		return nil
	}
	if opts.Limit > 0 && len(candidates) > opts.Limit {
		candidates = candidates[:opts.Limit]
	}

	current, _ := release.ParseVersion(info.Version)
	platform := release.CurrentPlatform()

	tbl := table.New("", "VERSION", "TAG", "PUBLISHED", "ASSET").
		WithHeaderFormatter(func(format string, vals ...interface{}) string {
			return headerStyle.Render(fmt.Sprintf(format, vals...))
		}).
		WithWriter(a.stdout)

	for _, c := range candidates {
		mark := ""
		if current != nil && c.Version.Compare(current) == 0 {
			mark = "*"
		}
		published := "-"
		if !c.Release.PublishedAt.IsZero() {
			published = c.Release.PublishedAt.Format("2006-01-02")
		}
		asset := "-"
		if match, ok := platform.Match(c.Release.Assets); ok {
			asset = match.Name
		}
		tbl.AddRow(mark, c.Version, c.Release.TagName, published, asset)
	}

	tbl.Print()
	return nil
}
