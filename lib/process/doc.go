// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint helpers for the eos binary: fatal
// error reporting before the structured logger exists, and the exit
// codes shared by the CLI and the sandbox worker.
package process
