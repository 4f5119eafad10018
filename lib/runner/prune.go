// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"slices"

	"go.starlark.net/starlark"

	"github.com/phosphorescence/eos/lib/capability"
	"github.com/phosphorescence/eos/lib/ipc"
	"github.com/phosphorescence/eos/lib/track"
)

// ValidatePrune checks that every id the prune hook kept is in allowed
// and returns them sorted and deduplicated. Any id outside allowed
// fails the whole prune with ipc.ErrInvalidPrune.
func ValidatePrune(unsafe []string, allowed *track.Corpus) ([]string, error) {
	ids := make([]string, 0, len(unsafe))
	for _, id := range unsafe {
		if _, ok := allowed.Get(id); !ok {
			return nil, ipc.Errorf(ipc.CodeInvalidPrune, "prune returned track %q, which it was not given", id)
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

// prunedIDs extracts the claimed ids from what the prune hook
// returned: a mapping keyed by id (the tracks map, or a dict built from
// it) or a sequence of ids, tracks, points, or nodes.
func prunedIDs(value starlark.Value) ([]string, error) {
	iterable, ok := value.(starlark.Iterable)
	if !ok {
		return nil, ipc.Errorf(ipc.CodeInvalidPrune, "prune must return a dict or list of tracks, not %s", value.Type())
	}
	_, keyed := value.(starlark.IterableMapping)

	iterator := iterable.Iterate()
	defer iterator.Done()
	var ids []string
	var element starlark.Value
	for iterator.Next(&element) {
		var id string
		if keyed {
			id, ok = starlark.AsString(element)
		} else {
			id, ok = capability.ResolveID(element)
		}
		if !ok {
			return nil, ipc.Errorf(ipc.CodeInvalidPrune, "prune returned %s, which names no track", element.Type())
		}
		ids = append(ids, id)
	}
	return ids, nil
}
