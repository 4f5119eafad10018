// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"fmt"
	"slices"

	"go.starlark.net/starlark"

	"github.com/phosphorescence/eos/lib/track"
)

// readOnlyMap is an immutable string-keyed mapping whose values are
// produced on lookup, so handing the whole corpus to a hook costs
// nothing until the script reads it.
type readOnlyMap struct {
	name   string
	keys   []string
	lookup func(key string) (starlark.Value, bool)
}

var (
	_ starlark.IterableMapping = (*readOnlyMap)(nil)
	_ starlark.Sequence        = (*readOnlyMap)(nil)
	_ starlark.HasAttrs        = (*readOnlyMap)(nil)
)

// trackMap exposes the tracks of corpus keyed by id.
func trackMap(corpus *track.Corpus) *readOnlyMap {
	return &readOnlyMap{
		name: "tracks",
		keys: corpus.IDs(),
		lookup: func(id string) (starlark.Value, bool) {
			record, ok := corpus.Get(id)
			if !ok {
				return nil, false
			}
			return newTrack(record, corpus.TagOf(id)), true
		},
	}
}

// tagMap exposes the id to tag index of corpus.
func tagMap(corpus *track.Corpus) *readOnlyMap {
	return &readOnlyMap{
		name: "id_to_tag",
		keys: corpus.IDs(),
		lookup: func(id string) (starlark.Value, bool) {
			tag, ok := corpus.IDsToTags[id]
			if !ok {
				return nil, false
			}
			return starlark.String(tag), true
		},
	}
}

func (m *readOnlyMap) String() string        { return fmt.Sprintf("<%s: %d entries>", m.name, len(m.keys)) }
func (m *readOnlyMap) Type() string          { return m.name }
func (m *readOnlyMap) Freeze()               {}
func (m *readOnlyMap) Truth() starlark.Bool  { return len(m.keys) > 0 }
func (m *readOnlyMap) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: %s", m.name) }
func (m *readOnlyMap) Len() int              { return len(m.keys) }

func (m *readOnlyMap) Get(key starlark.Value) (starlark.Value, bool, error) {
	name, ok := starlark.AsString(key)
	if !ok {
		return nil, false, nil
	}
	value, found := m.lookup(name)
	return value, found, nil
}

func (m *readOnlyMap) Iterate() starlark.Iterator { return &keyIterator{keys: m.keys} }

func (m *readOnlyMap) Items() []starlark.Tuple {
	items := make([]starlark.Tuple, 0, len(m.keys))
	for _, key := range m.keys {
		value, _ := m.lookup(key)
		items = append(items, starlark.Tuple{starlark.String(key), value})
	}
	return items
}

func (m *readOnlyMap) Attr(name string) (starlark.Value, error) {
	switch name {
	case "keys":
		return starlark.NewBuiltin(name, func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			keys := make([]starlark.Value, len(m.keys))
			for i, key := range m.keys {
				keys[i] = starlark.String(key)
			}
			return starlark.NewList(keys), nil
		}), nil
	case "values":
		return starlark.NewBuiltin(name, func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			values := make([]starlark.Value, 0, len(m.keys))
			for _, key := range m.keys {
				value, _ := m.lookup(key)
				values = append(values, value)
			}
			return starlark.NewList(values), nil
		}), nil
	case "items":
		return starlark.NewBuiltin(name, func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			items := m.Items()
			values := make([]starlark.Value, len(items))
			for i, item := range items {
				values[i] = item
			}
			return starlark.NewList(values), nil
		}), nil
	case "get":
		return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var key string
			var fallback starlark.Value = starlark.None
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &key, &fallback); err != nil {
				return nil, err
			}
			if value, found := m.lookup(key); found {
				return value, nil
			}
			return fallback, nil
		}), nil
	}
	return nil, nil
}

func (m *readOnlyMap) AttrNames() []string {
	return []string{"get", "items", "keys", "values"}
}

// has reports whether key is present without producing its value.
func (m *readOnlyMap) has(key string) bool {
	_, found := slices.BinarySearch(m.keys, key)
	return found
}

type keyIterator struct {
	keys []string
	next int
}

func (it *keyIterator) Next(p *starlark.Value) bool {
	if it.next >= len(it.keys) {
		return false
	}
	*p = starlark.String(it.keys[it.next])
	it.next++
	return true
}

func (it *keyIterator) Done() {}
