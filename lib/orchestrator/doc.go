// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator is the host side of a build. It draws the
// per-build secret, starts a fresh worker for every script it runs,
// feeds it the corpus, and tears it down after one result whether the
// script succeeded, failed, or was terminated.
//
// A worker is never trusted. Every result must echo the build's
// secret, pruned id sets must stay inside the set they were given,
// and every playlist entry is re-resolved against the host's own copy
// of the corpus before it is returned. A worker that breaks any of
// these gets ipc.ErrUntrustedResult.
//
// Workers come from a Spawner: Process runs `eos worker` under the
// sandbox package, InProcess serves a worker.Worker over an in-memory
// pipe for development and tests.
package orchestrator
