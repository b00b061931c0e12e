package release

import (
	"context"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"

	herrors "github.com/chazuruo/handoff/internal/errors"
	"github.com/chazuruo/handoff/internal/logging"
)

// Checker checks a Source for releases newer than the running version.
type Checker struct {
	source     Source
	platform   Platform
	includePre bool
	logger     *log.Logger
}

// CheckerOption configures a Checker during construction.
type CheckerOption func(*Checker)

// WithPlatform overrides the platform used to select assets.
func WithPlatform(p Platform) CheckerOption {
	return func(c *Checker) {
		c.platform = p
	}
}

// WithPrereleases allows prereleases to be offered as updates.
func WithPrereleases(include bool) CheckerOption {
	return func(c *Checker) {
		c.includePre = include
	}
}

// WithLogger sets the logger used for check diagnostics.
func WithLogger(l *log.Logger) CheckerOption {
	return func(c *Checker) {
		c.logger = l
	}
}

// NewChecker creates a Checker reading from source.
func NewChecker(source Source, opts ...CheckerOption) *Checker {
	c := &Checker{
		source:   source,
		platform: CurrentPlatform(),
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Candidate is a release whose tag parsed as a version.
type Candidate struct {
	Release Release
	Version *Version
}

// Releases returns the installable releases, highest version first. Drafts,
// prereleases (unless enabled) and tags that are not versions are dropped.
func (c *Checker) Releases(ctx context.Context) ([]Candidate, error) {
	releases, err := c.source.ListReleases(ctx)
	if err != nil {
		return nil, herrors.Wrap(herrors.ErrCheckFailed, err)
	}

	candidates := make([]Candidate, 0, len(releases))
	for _, r := range releases {
		if r.Draft {
			continue
		}
		if r.Prerelease && !c.includePre {
			continue
		}
		v, err := ParseVersion(r.TagName)
		if err != nil || r.TagName == "" {
			c.logger.Debug("skipping release with unparseable tag", "tag", r.TagName)
			continue
		}
		if v.Prerelease() != "" && !c.includePre {
			continue
		}
		candidates = append(candidates, Candidate{Release: r, Version: v})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Version.GreaterThan(candidates[j].Version)
	})

	return candidates, nil
}

// CheckForUpdate compares currentVersion with the newest installable
// release. An update is reported only when the release is strictly newer
// and carries an asset for the checker's platform. Feed and parse failures
// are returned as errors wrapping ErrCheckFailed and are never reported as
// "up to date".
func (c *Checker) CheckForUpdate(ctx context.Context, currentVersion string) (UpdateCheckResult, error) {
	current, err := ParseVersion(currentVersion)
	if err != nil {
		return UpdateCheckResult{}, herrors.Wrap(herrors.ErrCheckFailed, fmt.Errorf("current version: %w", err))
	}

	candidates, err := c.Releases(ctx)
	if err != nil {
		return UpdateCheckResult{}, err
	}
	if len(candidates) == 0 {
		c.logger.Info("no published releases found")
		return UpdateCheckResult{}, nil
	}

	latest := candidates[0]
	if !latest.Version.GreaterThan(current) {
		c.logger.Info("already up to date", "current", current, "latest", latest.Version)
		return UpdateCheckResult{}, nil
	}

	asset, ok := c.platform.Match(latest.Release.Assets)
	if !ok {
		c.logger.Warn("newer release has no asset for this platform",
			"latest", latest.Version, "platform", c.platform)
		return UpdateCheckResult{}, nil
	}

	c.logger.Info("update available", "current", current, "latest", latest.Version, "asset", asset.Name)

	return UpdateCheckResult{
		IsUpdateAvailable: true,
		Latest: &ReleaseInfo{
			Version:     latest.Version,
			Tag:         latest.Release.TagName,
			AssetName:   asset.Name,
			AssetURL:    asset.BrowserDownloadURL,
			AssetSize:   asset.Size,
			Notes:       latest.Release.Body,
			PublishedAt: latest.Release.PublishedAt,
		},
	}, nil
}
