package release

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// manifestFile is the on-disk layout of a release manifest:
//
//	releases:
//	  - tag: v1.2.0
//	    notes: Fixes
//	    assets:
//	      - name: handoff_1.2.0_linux_amd64.tar.gz
//	        url: dist/handoff_1.2.0_linux_amd64.tar.gz
type manifestFile struct {
	Releases []Release `yaml:"releases"`
}

// ManifestSource lists releases from a local YAML manifest. Asset URLs that
// are neither http(s) nor file URLs are resolved relative to the manifest's
// directory and turned into file URLs.
type ManifestSource struct {
	path string
}

// NewManifestSource creates a source reading the manifest at path.
func NewManifestSource(path string) *ManifestSource {
	return &ManifestSource{path: path}
}

// ListReleases reads and parses the manifest.
func (m *ManifestSource) ListReleases(ctx context.Context) ([]Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var mf manifestFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", m.path, err)
	}

	base, err := filepath.Abs(filepath.Dir(m.path))
	if err != nil {
		return nil, fmt.Errorf("resolving manifest directory: %w", err)
	}

	for i := range mf.Releases {
		for j := range mf.Releases[i].Assets {
			a := &mf.Releases[i].Assets[j]
			a.BrowserDownloadURL = resolveAssetURL(base, a.BrowserDownloadURL)
		}
	}

	return mf.Releases, nil
}

func resolveAssetURL(base, raw string) string {
	if raw == "" {
		return ""
	}
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "file://") {
		return raw
	}
	p := raw
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	return FileURL(p)
}

// FileURL returns the file:// URL for an absolute local path.
func FileURL(path string) string {
	slashed := filepath.ToSlash(path)
	if !strings.HasPrefix(slashed, "/") {
		// Windows drive paths become file:///C:/...
		slashed = "/" + slashed
	}
	return (&url.URL{Scheme: "file", Path: slashed}).String()
}
