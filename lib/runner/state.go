// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package runner

// State is the phase of a build.
type State int

const (
	Idle State = iota
	LoadingTracks
	Pruning
	BuildingTree
	SelectingFirstTrack
	SelectingNextTrack
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case LoadingTracks:
		return "loading-tracks"
	case Pruning:
		return "pruning"
	case BuildingTree:
		return "building-tree"
	case SelectingFirstTrack:
		return "selecting-first-track"
	case SelectingNextTrack:
		return "selecting-next-track"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}
