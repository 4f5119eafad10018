// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
)

// These variables are set via -ldflags at build time:
//
//	go build -ldflags "-X github.com/phosphorescence/eos/lib/version.GitCommit=$(git rev-parse --short HEAD)"
var (
	GitCommit = "unknown"
	GitDirty  = "false"
	BuildTime = "unknown"
	Version   = "0.1.0-dev"
)

// ProtocolVersion is the channel handshake version. Both ends of a
// channel must agree on it exactly.
const ProtocolVersion = 1

// Info returns a formatted version string suitable for --version output.
func Info() string {
	dirty := ""
	if GitDirty == "true" {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, GitCommit, dirty, BuildTime)
}

// Full returns Info plus the protocol version, Go version, and platform.
func Full() string {
	return fmt.Sprintf("%s\n  Protocol: %d\n  Go: %s\n  Platform: %s/%s",
		Info(), ProtocolVersion, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
