package release

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustVersion(t *testing.T, s string) *Version {
	t.Helper()
	v, err := ParseVersion(s)
	require.NoError(t, err)
	return v
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"three components", "1.2.3", "1.2.3", false},
		{"v prefix", "v1.2.3", "1.2.3", false},
		{"four components", "1.2.3.4", "1.2.3.4", false},
		{"prerelease", "1.3.0-rc.1", "1.3.0-rc.1", false},
		{"dev build", "dev", "0.0.0", false},
		{"go devel", "(devel)", "0.0.0", false},
		{"garbage", "latest", "", true},
		{"five components", "1.2.3.4.5", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ParseVersion(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.String())
		})
	}
}

func TestVersionCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.2.0", "1.0.0", 1},
		{"1.0.0", "1.2.0", -1},
		{"1.2.3", "1.2.3", 0},
		{"2.0.0", "1.99.99", 1},
		{"1.10.0", "1.9.0", 1},
		{"1.2.3.1", "1.2.3", 1},
		{"1.2.3.0", "1.2.3", 0},
		{"v1.2.3", "1.2.3", 0},
		{"1.2.3", "1.2.3-rc.1", 1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			a := mustVersion(t, tt.a)
			b := mustVersion(t, tt.b)
			assert.Equal(t, tt.want, a.Compare(b))
			assert.Equal(t, -tt.want, b.Compare(a), "comparison must be antisymmetric")
		})
	}
}

// Every pair with a > b component-wise must report a newer b..a, never the reverse.
func TestVersionOrderingIsComponentWise(t *testing.T) {
	versions := []string{"0.0.1", "0.1.0", "0.1.1", "1.0.0", "1.0.1", "1.2.0", "1.2.0.1", "1.10.0", "2.0.0"}

	for i := range versions {
		for j := range versions {
			a := mustVersion(t, versions[i])
			b := mustVersion(t, versions[j])
			switch {
			case i > j:
				assert.True(t, a.GreaterThan(b), "%s > %s", a, b)
			case i < j:
				assert.False(t, a.GreaterThan(b), "%s !> %s", a, b)
			default:
				assert.Equal(t, 0, a.Compare(b))
			}
		}
	}
}
