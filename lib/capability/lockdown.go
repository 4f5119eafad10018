// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.starlark.net/starlark"

	"github.com/phosphorescence/eos/lib/ipc"
)

// ErrForbidden is wrapped by every stub and by load.
var ErrForbidden = errors.New("not available in the sandbox")

// forbiddenNames are bound to stubs so a script that reaches for them
// fails loudly instead of finding an undefined name.
var forbiddenNames = []string{"open", "exit", "fetch", "post_message", "import_scripts"}

func forbiddenBuiltin(name string) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
		return nil, fmt.Errorf("%s: %w", name, ErrForbidden)
	})
}

func forbidLoad(_ *starlark.Thread, module string) (starlark.StringDict, error) {
	return nil, fmt.Errorf("load(%q): %w", module, ErrForbidden)
}

// Loader resolves load() statements.
type Loader func(thread *starlark.Thread, module string) (starlark.StringDict, error)

type probe struct {
	name   string
	source string
}

var probes = []probe{
	{"open", `open("/etc/passwd")`},
	{"exit", `exit(0)`},
	{"fetch", `fetch("https://example.com/")`},
	{"post_message", `post_message({"type": "playlist", "playlist": []})`},
	{"import_scripts", `import_scripts("https://example.com/payload.star")`},
	{"load", `load("//payload.star", "payload")`},
}

// surface is every name a capability table may bind.
var surface = func() map[string]bool {
	names := map[string]bool{}
	for name := range New(Options{}).predeclared {
		names[name] = true
	}
	return names
}()

// RunProbes tries each forbidden primitive against predeclared, with
// load resolved by load, and reports which ones refused. A primitive
// is locked when its probe fails; a probe that completes means the
// primitive worked. The report also fails if predeclared binds a name
// outside the capability surface.
func RunProbes(predeclared starlark.StringDict, load Loader) ipc.SelfCheckReport {
	report := ipc.SelfCheckReport{Passed: true}
	for _, p := range probes {
		thread := &starlark.Thread{
			Name:  "probe " + p.name,
			Print: func(*starlark.Thread, string) {},
			Load:  load,
		}
		thread.SetMaxExecutionSteps(10_000)
		_, err := starlark.ExecFileOptions(fileOptions, thread, p.name+".star", p.source, predeclared)

		result := ipc.Probe{Name: p.name, Locked: err != nil}
		if err != nil {
			result.Detail = err.Error()
		} else {
			result.Detail = "probe completed without error"
			report.Passed = false
		}
		report.Probes = append(report.Probes, result)
	}

	var extra []string
	for name := range predeclared {
		if !surface[name] {
			extra = append(extra, name)
		}
	}
	slices.Sort(extra)
	result := ipc.Probe{Name: "surface", Locked: len(extra) == 0}
	if len(extra) > 0 {
		result.Detail = "unexpected names: " + strings.Join(extra, ", ")
		report.Passed = false
	}
	report.Probes = append(report.Probes, result)
	return report
}
