// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker is the sandbox side of the host protocol. A Worker
// runs the interpreter lockdown self-check, accepts one channel from
// the host, and serves the ipc request types against a runner.Runner:
// corpus loading, the progress and termination interrupt ports, and
// the build and prune requests themselves.
//
// A worker whose self-check failed still completes the handshake so
// the host learns why, but answers every build with
// ipc.ErrLockdownFailed and never runs a script.
package worker
