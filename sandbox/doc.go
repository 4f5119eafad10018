// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox starts eos worker processes inside bubblewrap (bwrap)
// Linux namespaces.
//
// A [Profile] declares the worker's view of the host: filesystem
// mounts, namespaces to unshare, environment variables, resource
// limits, and hardening flags. Profiles are YAML, support single
// inheritance through Inherit, and undergo ${VAR} expansion
// ([Variables].ExpandProfile) before use. The built-in profiles are
// embedded; a profiles file named by the configuration can add to or
// replace them. There is no search path.
//
// The default eos-worker profile gives the worker no network, a
// read-only view of the system libraries and its own binary, and a
// private /tmp. Corpus data and scripts reach the worker over its
// stdin, so nothing else on the host needs to be visible.
//
// [Sandbox].Command assembles the bwrap command line ([BwrapBuilder]),
// wraps it in a transient systemd scope ([SystemdScope]) when the
// profile sets limits, and returns an exec.Cmd that leads its own
// process group so cancellation kills the whole tree ([KillGroup]).
// When bwrap or systemd-run is missing, the configured fallback policy
// decides between refusing, warning, and running unwrapped.
//
// [ContainmentChecks] run inside an isolated worker at startup. Each
// attempts a way out (network, host files, host processes, privilege,
// the controlling terminal) and reports an [ipc.Probe]; the worker
// refuses builds if any attempt succeeds.
package sandbox
