package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chazuruo/handoff/internal/handoff"
)

// CheckOptions contains the options for the check command.
type CheckOptions struct {
	JSON bool
}

// checkReport is the JSON form of a check.
type checkReport struct {
	Current         string     `json:"current"`
	UpdateAvailable bool       `json:"update_available"`
	Latest          string     `json:"latest,omitempty"`
	Tag             string     `json:"tag,omitempty"`
	Asset           string     `json:"asset,omitempty"`
	URL             string     `json:"url,omitempty"`
	Size            int64      `json:"size,omitempty"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(info BuildInfo, g *GlobalOptions) *cobra.Command {
	opts := &CheckOptions{}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check whether a newer release is available",
		Long: `Query the release feed and report whether a newer release exists.

Nothing is downloaded or changed.

Exit codes:
  0 - Update available
  2 - Release feed unreachable or unparseable
  5 - Already on the latest version`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, info, g, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.JSON, "json", false, "output in JSON format")

	return cmd
}

func runCheck(cmd *cobra.Command, info BuildInfo, g *GlobalOptions, opts *CheckOptions) error {
	a, err := newApp(cmd, info, g, false)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.checker().CheckForUpdate(cmd.Context(), info.Version)
	if err != nil {
		return &ExitError{Code: handoff.ExitCheckFailed, Err: err}
	}

	report := checkReport{Current: info.Version, UpdateAvailable: res.IsUpdateAvailable}
	if l := res.Latest; l != nil {
		report.Latest = l.Version.String()
		report.Tag = l.Tag
		report.Asset = l.AssetName
		report.URL = l.AssetURL
		report.Size = l.AssetSize
		if !l.PublishedAt.IsZero() {
			published := l.PublishedAt
			report.PublishedAt = &published
		}
	}

	w := a.stdout
	if opts.JSON {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(report); err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
	} else if report.UpdateAvailable {
		fmt.Fprintf(w, "Update available: %s (current %s)\n", report.Tag, report.Current)
		fmt.Fprintf(w, "  asset: %s\n", report.Asset)
		if report.PublishedAt != nil {
			fmt.Fprintf(w, "  published: %s\n", report.PublishedAt.Format("2006-01-02"))
		}
		fmt.Fprintln(w, `Run "handoff update" to install it.`)
	} else {
		fmt.Fprintf(w, "handoff %s is up to date.\n", report.Current)
	}

	if !report.UpdateAvailable {
		return &ExitError{Code: handoff.ExitAlreadyLatest}
	}
	return nil
}
