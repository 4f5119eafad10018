// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"errors"
	"slices"
	"testing"

	"go.starlark.net/starlark"

	"github.com/phosphorescence/eos/lib/capability"
	"github.com/phosphorescence/eos/lib/ipc"
	"github.com/phosphorescence/eos/lib/track/tracktest"
)

func TestValidatePrune(t *testing.T) {
	allowed := abcCorpus()
	tests := []struct {
		name   string
		unsafe []string
		want   []string
		fails  bool
	}{
		{name: "empty", unsafe: nil, want: []string{}},
		{name: "subset", unsafe: []string{"C", "A"}, want: []string{"A", "C"}},
		{name: "duplicates", unsafe: []string{"B", "B", "A"}, want: []string{"A", "B"}},
		{name: "unknown", unsafe: []string{"A", "Z"}, fails: true},
		{name: "only unknown", unsafe: []string{"Z"}, fails: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := ValidatePrune(test.unsafe, allowed)
			if test.fails {
				if !errors.Is(err, ipc.ErrInvalidPrune) {
					t.Fatalf("ValidatePrune error = %v, want invalid prune", err)
				}
				if got != nil {
					t.Fatalf("ValidatePrune returned %v alongside an error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidatePrune: %v", err)
			}
			if !slices.Equal(got, test.want) {
				t.Fatalf("ValidatePrune = %v, want %v", got, test.want)
			}
			for _, id := range got {
				if _, ok := allowed.Get(id); !ok {
					t.Fatalf("ValidatePrune kept %q, which is not allowed", id)
				}
			}
		})
	}
}

func TestPrunedIDs(t *testing.T) {
	corpus := tracktest.Grid(2)
	dict := starlark.NewDict(1)
	dict.SetKey(starlark.String("t00"), starlark.None)

	tests := []struct {
		name  string
		value starlark.Value
		want  []string
	}{
		{"track map", capability.TrackMap(corpus), []string{"t00", "t01", "t10", "t11"}},
		{"dict keys", dict, []string{"t00"}},
		{"id list", starlark.NewList([]starlark.Value{starlark.String("t01")}), []string{"t01"}},
		{"points", capability.PointList(corpus.Points()[:2]), []string{"t00", "t01"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := prunedIDs(test.value)
			if err != nil {
				t.Fatalf("prunedIDs: %v", err)
			}
			if !slices.Equal(got, test.want) {
				t.Fatalf("prunedIDs = %v, want %v", got, test.want)
			}
		})
	}

	if _, err := prunedIDs(starlark.NewList([]starlark.Value{starlark.MakeInt(1)})); !errors.Is(err, ipc.ErrInvalidPrune) {
		t.Fatalf("prunedIDs of ints = %v, want invalid prune", err)
	}
}
