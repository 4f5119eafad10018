// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"os"
)

// Exit codes. ExitLockdownFailed reports a self-check in which some
// forbidden primitive or sandbox escape still worked.
const (
	ExitOK             = 0
	ExitFailure        = 1
	ExitUsage          = 2
	ExitLockdownFailed = 3
)

// Fatal writes "error: err" to stderr and exits with ExitFailure.
func Fatal(err error) {
	FatalCode(err, ExitFailure)
}

// FatalCode writes "error: err" to stderr and exits with code.
func FatalCode(err error, code int) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(code)
}
