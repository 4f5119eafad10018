// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"slices"

	"go.starlark.net/syntax"
)

// Hooks parses source without running it and returns the hooks it
// defines at top level, in declaration order.
func Hooks(name string, source []byte) ([]string, error) {
	file, err := fileOptions.Parse(name, source, 0)
	if err != nil {
		return nil, err
	}
	known := []string{HookPrune, HookBuildTree, HookFirstTrack, HookNextTrack}
	var hooks []string
	for _, stmt := range file.Stmts {
		def, ok := stmt.(*syntax.DefStmt)
		if !ok {
			continue
		}
		if slices.Contains(known, def.Name.Name) && !slices.Contains(hooks, def.Name.Name) {
			hooks = append(hooks, def.Name.Name)
		}
	}
	return hooks, nil
}
