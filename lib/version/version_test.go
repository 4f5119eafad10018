// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"strings"
	"testing"
)

func TestInfoDirty(t *testing.T) {
	savedCommit, savedDirty := GitCommit, GitDirty
	defer func() { GitCommit, GitDirty = savedCommit, savedDirty }()

	GitCommit, GitDirty = "abc1234", "true"
	if got := Info(); !strings.Contains(got, "abc1234-dirty") {
		t.Errorf("Info() = %q, want dirty marker", got)
	}
}

func TestFullIncludesProtocol(t *testing.T) {
	if got := Full(); !strings.Contains(got, "Protocol: 1") {
		t.Errorf("Full() = %q, want protocol line", got)
	}
}
