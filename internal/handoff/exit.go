package handoff

import (
	herrors "github.com/chazuruo/handoff/internal/errors"
)

// Exit codes of the handoff process.
const (
	ExitSuccess       = 0 // Success, or role B spawned
	ExitGenericError  = 1 // Generic error or invalid arguments
	ExitCheckFailed   = 2 // Release feed unreachable or unparseable
	ExitDownloadError = 3 // Download failed or nothing to download
	ExitApplyError    = 4 // Apply failed
	ExitAlreadyLatest = 5 // No update available, nothing done
	ExitSpawnError    = 6 // Role B or a cleanup command could not be started
)

// ExitCode maps an error from the taxonomy to a process exit code.
// A nil error is ExitSuccess.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case herrors.IsCheckFailed(err):
		return ExitCheckFailed
	case herrors.IsDownloadFailed(err), herrors.IsNothingToDownload(err):
		return ExitDownloadError
	case herrors.IsApplyFailed(err):
		return ExitApplyError
	case herrors.IsSpawnFailed(err):
		return ExitSpawnError
	default:
		return ExitGenericError
	}
}
