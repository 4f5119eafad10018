// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"errors"
	"fmt"
)

// Code classifies a build failure.
type Code string

const (
	// CodeInvalidPrune: the prune hook returned an id outside the
	// set it was given.
	CodeInvalidPrune Code = "invalid_prune"

	// CodeInvalidTrackReturned: a selection hook returned a track
	// the corpus does not contain.
	CodeInvalidTrackReturned Code = "invalid_track_returned"

	// CodeBuilderIncomplete: the script produced no first track, or
	// ran out of tracks in first-track-only mode.
	CodeBuilderIncomplete Code = "builder_incomplete"

	// CodeCancelled: the build was terminated by the host.
	CodeCancelled Code = "cancelled"

	// CodeScriptError: the script failed to load or a hook raised.
	CodeScriptError Code = "script_error"

	// CodeInvalidRequest: the request itself was unusable.
	CodeInvalidRequest Code = "invalid_request"

	// CodeLockdownFailed: the worker's self-check found a forbidden
	// primitive still working.
	CodeLockdownFailed Code = "lockdown_failed"

	// CodeUntrustedResult: the worker answered with a secret that
	// does not match the outstanding build.
	CodeUntrustedResult Code = "untrusted_result"
)

// BuildError is a build failure. It travels inside Result so the
// channel stays healthy; only the build fails.
type BuildError struct {
	Code    Code   `cbor:"code"`
	Message string `cbor:"message"`
}

func (e *BuildError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any BuildError with the same code, so
// errors.Is(err, ipc.ErrCancelled) holds for every cancellation.
func (e *BuildError) Is(target error) bool {
	other, ok := target.(*BuildError)
	return ok && other.Code == e.Code
}

// Sentinels for errors.Is. Their messages are never shown.
var (
	ErrInvalidPrune         = &BuildError{Code: CodeInvalidPrune}
	ErrInvalidTrackReturned = &BuildError{Code: CodeInvalidTrackReturned}
	ErrBuilderIncomplete    = &BuildError{Code: CodeBuilderIncomplete}
	ErrCancelled            = &BuildError{Code: CodeCancelled}
	ErrScriptError          = &BuildError{Code: CodeScriptError}
	ErrInvalidRequest       = &BuildError{Code: CodeInvalidRequest}
	ErrLockdownFailed       = &BuildError{Code: CodeLockdownFailed}
	ErrUntrustedResult      = &BuildError{Code: CodeUntrustedResult}
)

// Errorf returns a BuildError with a formatted message.
func Errorf(code Code, format string, args ...any) *BuildError {
	return &BuildError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsBuildError returns err as a BuildError. Errors that are not
// already one are reported as script errors.
func AsBuildError(err error) *BuildError {
	if err == nil {
		return nil
	}
	var buildErr *BuildError
	if errors.As(err, &buildErr) {
		return buildErr
	}
	return &BuildError{Code: CodeScriptError, Message: err.Error()}
}
