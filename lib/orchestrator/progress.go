// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

// stageProgress maps each stage's own progress onto an even share of
// the whole build. Reported values start just above zero so a caller
// can tell a started build from an idle one.
type stageProgress struct {
	total  int
	report func(float64)
}

func newStageProgress(total int, report func(float64)) *stageProgress {
	return &stageProgress{total: max(total, 1), report: report}
}

// stage returns the progress function for stage index, or nil when no
// one is listening.
func (p *stageProgress) stage(index int) func(float64) {
	if p.report == nil {
		return nil
	}
	total := float64(p.total)
	return func(percent float64) {
		p.report(0.001 + 0.999*(percent/total+float64(index)/total))
	}
}

// finish reports completion.
func (p *stageProgress) finish() {
	if p.report != nil {
		p.report(1)
	}
}
