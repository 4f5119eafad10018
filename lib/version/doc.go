// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for the eos binary.
//
// [GitCommit], [GitDirty], [BuildTime], and [Version] are injected at
// build time via -ldflags -X and default to "unknown" / "0.1.0-dev".
// [ProtocolVersion] is the channel protocol generation; it is compiled
// in, never injected, because host and worker are always the same
// binary.
package version
