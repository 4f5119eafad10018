// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

// Package capability is the surface an untrusted playlist script sees.
//
// A script is Starlark source evaluated against an [Env]. The env's
// predeclared table is the only way the script can affect anything: the
// k-d tree builtins, the pure helpers (distance composition, harmonic
// and tempo compatibility, random choice), and read-only views of the
// corpus. Names that would reach outside the sandbox (open, exit,
// fetch, post_message, import_scripts) are present only as stubs that
// fail, and load() always fails. [RunProbes] verifies all of this
// before a worker serves any request.
//
// Values a script hands back are never trusted as records: the runner
// resolves them to a track id with [ResolveID] and looks that id up in
// the authoritative corpus.
package capability
