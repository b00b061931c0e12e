// Package release implements the release checker: it reads a release feed,
// picks the newest published version and the asset built for this platform,
// and compares it with the running version.
package release

import (
	"runtime"
	"strings"
	"time"
)

// Release represents a published release as returned by a Source.
type Release struct {
	TagName     string    `json:"tag_name" yaml:"tag"`
	Name        string    `json:"name" yaml:"name"`
	Draft       bool      `json:"draft" yaml:"draft"`
	Prerelease  bool      `json:"prerelease" yaml:"prerelease"`
	PublishedAt time.Time `json:"published_at" yaml:"published_at"`
	Body        string    `json:"body" yaml:"notes"`
	Assets      []Asset   `json:"assets" yaml:"assets"`
}

// Asset represents a downloadable file attached to a release.
type Asset struct {
	Name               string `json:"name" yaml:"name"`
	BrowserDownloadURL string `json:"browser_download_url" yaml:"url"`
	Size               int64  `json:"size" yaml:"size"`
}

// ReleaseInfo is the checker's view of the release to install. It is
// immutable once produced.
type ReleaseInfo struct {
	Version     *Version
	Tag         string
	AssetName   string
	AssetURL    string
	AssetSize   int64
	Notes       string
	PublishedAt time.Time
}

// UpdateCheckResult is the outcome of a single check. Latest is nil
// whenever IsUpdateAvailable is false.
type UpdateCheckResult struct {
	IsUpdateAvailable bool
	Latest            *ReleaseInfo
}

// Platform identifies an OS/architecture pair.
type Platform struct {
	OS   string // runtime.GOOS
	Arch string // runtime.GOARCH
}

// CurrentPlatform returns the platform this binary was built for.
func CurrentPlatform() Platform {
	return Platform{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
	}
}

// String returns the platform string in the format "os_arch".
func (p Platform) String() string {
	return p.OS + "_" + p.Arch
}

// archAliases lists the names release pipelines commonly use for an arch.
var archAliases = map[string][]string{
	"amd64": {"amd64", "x86_64", "x64"},
	"386":   {"386", "i386", "x86"},
	"arm64": {"arm64", "aarch64"},
}

// sidecarSuffixes mark assets that accompany a build but are not the build.
var sidecarSuffixes = []string{".sha256", ".sha512", ".sig", ".asc", ".pem", ".sbom", ".txt", ".json"}

// Match returns the first asset built for p: an OS+arch match is preferred,
// then an asset naming the OS and no architecture at all. An asset built
// for another architecture is never matched, nor are checksum and
// signature sidecars.
func (p Platform) Match(assets []Asset) (Asset, bool) {
	goos := strings.ToLower(p.OS)
	arches := archAliases[p.Arch]
	if len(arches) == 0 {
		arches = []string{strings.ToLower(p.Arch)}
	}

	candidates := make([]Asset, 0, len(assets))
	for _, a := range assets {
		if !isSidecar(a.Name) {
			candidates = append(candidates, a)
		}
	}

	for _, arch := range arches {
		patterns := []string{goos + "_" + arch, goos + "-" + arch, goos + "." + arch}
		for _, a := range candidates {
			name := strings.ToLower(a.Name)
			for _, pattern := range patterns {
				if strings.Contains(name, pattern) {
					return a, true
				}
			}
		}
	}

	for _, a := range candidates {
		name := strings.ToLower(a.Name)
		if strings.Contains(name, goos) && !namesArch(name) {
			return a, true
		}
	}

	return Asset{}, false
}

// extraArchTokens are architectures without aliases that still mark an
// asset as arch-specific.
var extraArchTokens = []string{"arm", "ppc64", "s390x", "riscv64", "mips", "loong64"}

// namesArch reports whether a lowercased asset name mentions any known
// architecture.
func namesArch(name string) bool {
	for _, aliases := range archAliases {
		for _, a := range aliases {
			if strings.Contains(name, a) {
				return true
			}
		}
	}
	for _, a := range extraArchTokens {
		if strings.Contains(name, a) {
			return true
		}
	}
	return false
}

func isSidecar(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range sidecarSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}
