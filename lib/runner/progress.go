// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"time"

	"github.com/phosphorescence/eos/lib/clock"
)

// ProgressFunc receives the completed fraction of a build, in [0,1].
type ProgressFunc func(percent float64)

// throttle forwards progress at most once per interval. The first
// update and completion always go through.
type throttle struct {
	clock    clock.Clock
	interval time.Duration
	report   ProgressFunc

	sent bool
	last time.Time
}

func (t *throttle) update(percent float64) {
	if t.report == nil {
		return
	}
	percent = min(max(percent, 0), 1)
	now := t.clock.Now()
	if t.sent && percent < 1 && now.Sub(t.last) < t.interval {
		return
	}
	t.sent = true
	t.last = now
	t.report(percent)
}
