// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// progressBar draws build progress on one terminal line.
type progressBar struct {
	out   io.Writer
	width int
	label string

	drawn   bool
	percent int
}

// newProgressBar returns a bar drawing on stderr, or nil when stderr
// is not a terminal.
func newProgressBar(label string, disabled bool) *progressBar {
	fd := int(os.Stderr.Fd())
	if disabled || !term.IsTerminal(fd) {
		return nil
	}
	width, _, err := term.GetSize(fd)
	if err != nil || width <= 0 {
		width = 80
	}
	return &progressBar{out: os.Stderr, width: width, label: label, percent: -1}
}

// report is an orchestrator progress callback. A nil bar ignores it.
func (p *progressBar) report(fraction float64) {
	if p == nil {
		return
	}
	percent := min(max(int(fraction*100), 0), 100)
	if percent == p.percent {
		return
	}
	p.percent = percent
	p.drawn = true
	fmt.Fprint(p.out, "\r"+p.render(percent))
}

func (p *progressBar) render(percent int) string {
	prefix := p.label + " "
	suffix := fmt.Sprintf(" %3d%%", percent)
	cells := p.width - len(prefix) - len(suffix) - 3
	if cells < 10 {
		return prefix + strings.TrimSpace(suffix)
	}
	filled := cells * percent / 100
	return prefix + "[" + strings.Repeat("#", filled) + strings.Repeat(" ", cells-filled) + "]" + suffix
}

// done clears the bar so later output starts on a clean line.
func (p *progressBar) done() {
	if p == nil || !p.drawn {
		return
	}
	fmt.Fprint(p.out, "\r"+strings.Repeat(" ", p.width-1)+"\r")
}

// callback returns the bar's report method, or nil for a nil bar so the
// orchestrator skips progress entirely.
func (p *progressBar) callback() func(float64) {
	if p == nil {
		return nil
	}
	return p.report
}
