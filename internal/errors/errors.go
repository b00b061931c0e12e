// Package errors provides the error taxonomy for the handoff updater.
//
// The taxonomy mirrors the phases of an update attempt. Sentinel errors name
// the phase that failed; wrapped error types add the step or configuration
// file involved.
//
// # Error Types
//
// Base errors (sentinel errors):
//   - ErrCheckFailed - release feed could not be queried or parsed
//   - ErrDownloadFailed - release asset could not be fetched or stored
//   - ErrNothingToDownload - the release carries nothing to fetch
//   - ErrApplyFailed - release contents could not be written to the target
//   - ErrSpawnFailed - a detached process could not be started
//   - ErrInvalid - validation failed (arguments, config, archive entries)
//   - ErrCanceled - user canceled the operation
//
// Wrapped error types (add context):
//   - StepError{Step, Err} - failure inside a named handoff step
//   - ConfigError{Path, Err} - configuration errors
//
// # Usage
//
//	// Classify a failure
//	return fmt.Errorf("%w: %w", errors.ErrDownloadFailed, err)
//
//	// Attach the step that failed
//	return &errors.StepError{Step: "replicate", Err: err}
//
//	// Check error types
//	if errors.IsApplyFailed(err) {
//	    // keep going, relaunch anyway
//	}
package errors

import (
	"errors"
	"fmt"
)

// Base error types (sentinel errors).
var (
	// ErrCheckFailed indicates the release feed could not be queried or parsed.
	ErrCheckFailed = baseError("update check failed")

	// ErrDownloadFailed indicates the release asset could not be downloaded.
	ErrDownloadFailed = baseError("download failed")

	// ErrNothingToDownload indicates a release without a downloadable asset.
	ErrNothingToDownload = baseError("nothing to download")

	// ErrApplyFailed indicates the release could not be applied.
	ErrApplyFailed = baseError("apply failed")

	// ErrSpawnFailed indicates a process could not be started.
	ErrSpawnFailed = baseError("spawn failed")

	// ErrInvalid indicates validation failed.
	ErrInvalid = baseError("invalid")

	// ErrCanceled indicates the user canceled an operation.
	ErrCanceled = baseError("canceled")
)

// baseError is a string that implements error.
type baseError string

func (e baseError) Error() string { return string(e) }

// StepError represents an error that occurred during a handoff step.
type StepError struct {
	// Step is the step being performed (e.g., "check", "replicate", "apply").
	Step string
	// Err is the underlying error.
	Err error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// ConfigError represents an error related to configuration.
type ConfigError struct {
	// Path is the configuration file path (optional).
	Path string
	// Err is the underlying error.
	Err error
}

func (e *ConfigError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("config %s: %s", e.Path, e.Err)
	}
	return fmt.Sprintf("config: %s", e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Wrap classifies err under kind while keeping both in the chain, so that
// errors.Is matches the sentinel as well as the original cause.
func Wrap(kind error, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// IsCheckFailed reports whether err is or wraps ErrCheckFailed.
func IsCheckFailed(err error) bool {
	return errors.Is(err, ErrCheckFailed)
}

// IsDownloadFailed reports whether err is or wraps ErrDownloadFailed.
func IsDownloadFailed(err error) bool {
	return errors.Is(err, ErrDownloadFailed)
}

// IsNothingToDownload reports whether err is or wraps ErrNothingToDownload.
func IsNothingToDownload(err error) bool {
	return errors.Is(err, ErrNothingToDownload)
}

// IsApplyFailed reports whether err is or wraps ErrApplyFailed.
func IsApplyFailed(err error) bool {
	return errors.Is(err, ErrApplyFailed)
}

// IsSpawnFailed reports whether err is or wraps ErrSpawnFailed.
func IsSpawnFailed(err error) bool {
	return errors.Is(err, ErrSpawnFailed)
}

// IsInvalid reports whether err is or wraps ErrInvalid.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalid)
}

// IsCanceled reports whether err is or wraps ErrCanceled.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}

// AsStepError reports whether err can be typed as a *StepError.
func AsStepError(err error) (*StepError, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// AsConfigError reports whether err can be typed as a *ConfigError.
func AsConfigError(err error) (*ConfigError, bool) {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
