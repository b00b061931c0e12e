package release

import (
	"fmt"
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// Version is a dotted numeric version with three or four components
// ("1.2.3", "v1.2.3.4"), optionally followed by a prerelease suffix.
// Missing trailing components compare as zero.
type Version struct {
	v *goversion.Version
}

// developmentVersions are build labels that sort before every release.
var developmentVersions = map[string]bool{
	"":        true,
	"dev":     true,
	"unknown": true,
	"(devel)": true,
}

// ParseVersion parses s. Development labels ("dev", "(devel)", ...) parse
// as 0.0.0 so that a development build always sees releases as newer.
func ParseVersion(s string) (*Version, error) {
	trimmed := strings.TrimSpace(s)
	if developmentVersions[trimmed] {
		trimmed = "0.0.0"
	}
	v, err := goversion.NewVersion(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", s, err)
	}
	if n := len(strings.Split(strings.SplitN(strings.TrimPrefix(trimmed, "v"), "-", 2)[0], ".")); n > 4 {
		return nil, fmt.Errorf("invalid version %q: %d components", s, n)
	}
	return &Version{v: v}, nil
}

// Compare returns -1, 0 or 1 if v is lower, equal or higher than other.
func (v *Version) Compare(other *Version) int {
	return v.v.Compare(other.v)
}

// GreaterThan reports whether v is strictly newer than other.
func (v *Version) GreaterThan(other *Version) bool {
	return v.Compare(other) > 0
}

// Prerelease returns the prerelease suffix, if any.
func (v *Version) Prerelease() string {
	return v.v.Prerelease()
}

// String returns the version as originally written, without a "v" prefix.
func (v *Version) String() string {
	return strings.TrimPrefix(v.v.Original(), "v")
}
