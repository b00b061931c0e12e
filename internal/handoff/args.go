// Package handoff implements the two-process self-update handoff.
//
// A running application cannot overwrite its own locked files, so an update
// happens in two roles. Role A checks for a newer release, copies the
// installation into a fresh scratch directory and starts that copy. Role B,
// running from the scratch directory, downloads the release, applies it to
// the original installation, relaunches the original application and
// schedules removal of the scratch directory that contains itself.
//
// The roles communicate only through three positional arguments:
//
//	calling-app=<path>             the original executable
//	start-self-update              role A
//	start-self-update-confirmed    role B
//	source-directory=<path>        role B: the installation to update
package handoff

import (
	"fmt"
	"path/filepath"
	"strings"

	herrors "github.com/chazuruo/handoff/internal/errors"
)

// Argument tokens.
const (
	TokenCallingApp      = "calling-app"
	TokenStartSelfUpdate = "start-self-update"
	TokenConfirmed       = "start-self-update-confirmed"
	TokenSourceDirectory = "source-directory"
)

// RoleKind tags the variant held by a Role.
type RoleKind int

const (
	// KindGuidance is a manual launch without arguments: print guidance,
	// touch nothing.
	KindGuidance RoleKind = iota
	// KindHostCheck is role A entered in-process by the host application.
	KindHostCheck
	// KindReplicate is role A started with arguments.
	KindReplicate
	// KindApplyAndFinish is role B.
	KindApplyAndFinish
)

// String returns the role kind name.
func (k RoleKind) String() string {
	switch k {
	case KindGuidance:
		return "guidance"
	case KindHostCheck:
		return "host-check"
	case KindReplicate:
		return "replicate"
	case KindApplyAndFinish:
		return "apply-and-finish"
	}
	return "unknown"
}

// Role is what this process has been asked to do. Construct it with
// Guidance, HostCheck, Replicate, ApplyAndFinish or ParseArgs.
type Role struct {
	Kind       RoleKind
	CallingApp string
	SourceDir  string
}

// Guidance returns the no-op role for manual launches.
func Guidance() Role { return Role{Kind: KindGuidance} }

// HostCheck returns role A for a host application that triggers the update
// in-process.
func HostCheck(callingApp string) Role {
	return Role{Kind: KindHostCheck, CallingApp: callingApp}
}

// Replicate returns role A as started from the command line.
func Replicate(callingApp string) Role {
	return Role{Kind: KindReplicate, CallingApp: callingApp}
}

// ApplyAndFinish returns role B.
func ApplyAndFinish(callingApp, sourceDir string) Role {
	return Role{Kind: KindApplyAndFinish, CallingApp: callingApp, SourceDir: sourceDir}
}

// IsRoleA reports whether the role checks and replicates.
func (r Role) IsRoleA() bool {
	return r.Kind == KindHostCheck || r.Kind == KindReplicate
}

// Args encodes the role as command-line tokens. Guidance and HostCheck
// have no argument form; HostCheck encodes as Replicate.
func (r Role) Args() []string {
	switch r.Kind {
	case KindHostCheck, KindReplicate:
		return []string{TokenCallingApp + "=" + r.CallingApp, TokenStartSelfUpdate}
	case KindApplyAndFinish:
		return []string{
			TokenCallingApp + "=" + r.CallingApp,
			TokenConfirmed,
			TokenSourceDirectory + "=" + r.SourceDir,
		}
	}
	return nil
}

// ParseArgs determines the role from positional tokens. No tokens yields
// Guidance. Any combination that does not name a role exactly also yields
// Guidance, together with an error wrapping ErrInvalid.
//
// Tokens may carry a leading "--" and values may be wrapped in double
// quotes. Values are split on the first "=" only.
func ParseArgs(args []string) (Role, error) {
	if len(args) == 0 {
		return Guidance(), nil
	}

	var (
		callingApp, sourceDir string
		haveApp, haveSource   bool
		mode                  string
	)

	for _, raw := range args {
		key, value, hasValue := strings.Cut(strings.TrimPrefix(raw, "--"), "=")
		value = unquote(value)

		switch key {
		case TokenCallingApp:
			if haveApp {
				return invalid("duplicate %s", TokenCallingApp)
			}
			if !hasValue || value == "" {
				return invalid("%s needs a path", TokenCallingApp)
			}
			callingApp, haveApp = value, true

		case TokenSourceDirectory:
			if haveSource {
				return invalid("duplicate %s", TokenSourceDirectory)
			}
			if !hasValue || value == "" {
				return invalid("%s needs a path", TokenSourceDirectory)
			}
			sourceDir, haveSource = value, true

		case TokenStartSelfUpdate, TokenConfirmed:
			if hasValue {
				return invalid("%s takes no value", key)
			}
			if mode != "" {
				return invalid("more than one mode token")
			}
			mode = key

		default:
			return invalid("unknown argument %q", raw)
		}
	}

	if haveApp && !filepath.IsAbs(callingApp) {
		return invalid("%s must be an absolute path: %q", TokenCallingApp, callingApp)
	}
	if haveSource && !filepath.IsAbs(sourceDir) {
		return invalid("%s must be an absolute path: %q", TokenSourceDirectory, sourceDir)
	}

	switch {
	case mode == TokenStartSelfUpdate && haveApp && !haveSource:
		return Replicate(callingApp), nil
	case mode == TokenConfirmed && haveApp && haveSource:
		return ApplyAndFinish(callingApp, sourceDir), nil
	}

	return invalid("arguments do not name a role")
}

// IsToken reports whether arg is one of the handoff tokens, with or
// without a leading "--" and value.
func IsToken(arg string) bool {
	key, _, _ := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
	switch key {
	case TokenCallingApp, TokenStartSelfUpdate, TokenConfirmed, TokenSourceDirectory:
		return true
	}
	return false
}

func invalid(format string, args ...any) (Role, error) {
	return Guidance(), fmt.Errorf("%w: %s", herrors.ErrInvalid, fmt.Sprintf(format, args...))
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// GuidanceText is shown when the updater is started by hand.
func GuidanceText(dir string) string {
	return fmt.Sprintf(`Please do NOT start the updater manually.

Running it by hand can permanently remove files from the directory
the updater lives in, which is currently:

  %s

To update, run "handoff update" or let your application start it.
Nothing has been changed.
`, dir)
}
