// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"errors"
	"log/slog"

	"go.starlark.net/starlark"

	"github.com/phosphorescence/eos/lib/capability"
	"github.com/phosphorescence/eos/lib/ipc"
	"github.com/phosphorescence/eos/lib/kdtree"
	"github.com/phosphorescence/eos/lib/track"
)

// build is the state of one script run. It is owned by the goroutine
// running it.
type build struct {
	ctx     context.Context
	request ipc.BuildRequest
	name    string
	digest  string
	goal    int
	logger  *slog.Logger
	trace   func(State)

	env      *capability.Env
	progress *throttle

	state    State
	failedIn State

	// loaded is the runner's corpus; corpus is the authoritative set
	// for this build after restriction and pruning. Every id a hook
	// returns is resolved against corpus.
	loaded *track.Corpus
	corpus *track.Corpus
	points starlark.Value
	tree   *capability.Tree

	playlist []track.Record
	tags     map[string]bool
}

func (b *build) transition(next State) {
	if next == Failed {
		b.failedIn = b.state
	}
	b.logger.Debug("build state", "from", b.state, "to", next)
	b.state = next
	if b.trace != nil {
		b.trace(next)
	}
}

// start loads the corpus and the script, then runs body.
func (b *build) start(body func(*build) (ipc.Result, error)) (ipc.Result, error) {
	b.transition(LoadingTracks)
	if len(b.request.Script) == 0 {
		return ipc.Result{}, ipc.Errorf(ipc.CodeInvalidRequest, "empty script")
	}
	if b.request.TrackCount < 0 {
		return ipc.Result{}, ipc.Errorf(ipc.CodeInvalidRequest, "negative track count %d", b.request.TrackCount)
	}
	if b.loaded.Len() == 0 {
		return ipc.Result{}, ipc.Errorf(ipc.CodeInvalidRequest, "no tracks loaded")
	}
	if len(b.request.PrunedIDs) > 0 {
		b.corpus = b.loaded.Restrict(b.request.PrunedIDs)
	} else {
		b.corpus = b.loaded.Clone()
	}
	b.logger.Debug("loaded tracks", "tracks", b.corpus.Len(), "restricted", len(b.request.PrunedIDs) > 0)

	if err := b.env.Exec(b.name, b.request.Script); err != nil {
		return ipc.Result{}, err
	}
	return body(b)
}

// prune runs a prune-tracks request.
func (b *build) prune() (ipc.Result, error) {
	if err := b.runPrune(); err != nil {
		return ipc.Result{}, err
	}
	b.progress.update(1)
	return ipc.Result{
		PrunedTrackIDs: b.corpus.IDs(),
		Dimensions:     b.dimensions(),
	}, nil
}

// buildPlaylist runs a build-playlist request.
func (b *build) buildPlaylist() (ipc.Result, error) {
	pinned := b.request.FirstTrack != ""
	if !b.request.FirstTrackOnly && !pinned {
		if err := b.runPrune(); err != nil {
			return ipc.Result{}, err
		}
	}
	if err := b.buildTree(); err != nil {
		return ipc.Result{}, err
	}

	b.tags = make(map[string]bool)
	b.transition(SelectingFirstTrack)
	first, err := b.firstTrack()
	if err != nil {
		return ipc.Result{}, err
	}
	b.accept(first)

	b.transition(SelectingNextTrack)
	for len(b.playlist) < b.goal {
		id, ok, err := b.selectTrack(capability.HookNextTrack, true)
		if err != nil {
			return ipc.Result{}, err
		}
		if !ok {
			if b.request.FirstTrackOnly {
				return ipc.Result{}, ipc.Errorf(ipc.CodeBuilderIncomplete, "builder was unable to get track %d", len(b.playlist)+1)
			}
			b.logger.Info("builder ran out of tracks", "tracks", len(b.playlist), "goal", b.goal)
			break
		}
		b.accept(id)
	}

	return ipc.Result{
		Playlist:   b.playlist,
		Dimensions: b.dimensions(),
	}, nil
}

// runPrune calls the prune hook, when the script has one, and narrows
// the authoritative set to what it kept.
func (b *build) runPrune() error {
	if !b.env.HasHook(capability.HookPrune) {
		return nil
	}
	b.transition(Pruning)
	value, err := b.env.CallHook(capability.HookPrune, capability.HookContext(starlark.StringDict{
		"tracks":          capability.TrackMap(b.corpus),
		"unpruned_tracks": capability.TrackMap(b.loaded),
		"ids_to_tags":     capability.TagMap(b.corpus),
	}))
	if err != nil {
		return err
	}
	if value == starlark.None {
		return nil
	}
	claimed, err := prunedIDs(value)
	if err != nil {
		return err
	}
	ids, err := ValidatePrune(claimed, b.corpus)
	if err != nil {
		return err
	}
	b.logger.Debug("pruned tracks", "before", b.corpus.Len(), "after", len(ids))
	b.corpus = b.corpus.Restrict(ids)
	return nil
}

// buildTree calls build_tree, or builds the default index over the
// default dimensions when the script has no such hook or it returns
// None.
func (b *build) buildTree() error {
	b.transition(BuildingTree)
	points := b.corpus.Points()
	b.points = capability.PointList(points)
	if b.env.HasHook(capability.HookBuildTree) {
		value, err := b.env.CallHook(capability.HookBuildTree, capability.HookContext(starlark.StringDict{
			"points":      b.points,
			"tracks":      capability.TrackMap(b.corpus),
			"ids_to_tags": capability.TagMap(b.corpus),
		}))
		if err != nil {
			return err
		}
		if value != starlark.None {
			tree, ok := value.(*capability.Tree)
			if !ok {
				return ipc.Errorf(ipc.CodeScriptError, "%s must return a kdtree or None, not %s", capability.HookBuildTree, value.Type())
			}
			b.tree = tree
		}
	}
	if b.tree == nil {
		dimensions := track.DefaultDimensions
		index, err := kdtree.New(points, dimensions, capability.DefaultDistance(dimensions), kdtree.PlanePruning())
		if err != nil {
			return err
		}
		b.tree = capability.NewTree(index)
	}
	b.env.SetTree(b.tree)
	b.logger.Debug("built tree", "points", b.tree.Index().Len(), "dimensions", b.tree.Index().Dimensions())
	return nil
}

// firstTrack returns the pinned track, or asks get_first_track.
func (b *build) firstTrack() (string, error) {
	if id := b.request.FirstTrack; id != "" {
		if _, ok := b.corpus.Get(id); !ok {
			return "", ipc.Errorf(ipc.CodeInvalidRequest, "pinned first track %q is not in the corpus", id)
		}
		return id, nil
	}
	id, ok, err := b.selectTrack(capability.HookFirstTrack, false)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ipc.Errorf(ipc.CodeBuilderIncomplete, "builder was unable to get a first track")
	}
	return id, nil
}

// selectTrack calls a selection hook and resolves what it returned. ok
// is false when the hook returned nothing. An id the corpus does not
// hold fails with ipc.ErrInvalidTrackReturned.
func (b *build) selectTrack(hook string, next bool) (string, bool, error) {
	fields := starlark.StringDict{
		"playlist":    b.playlistValue(),
		"tags":        capability.TagSet(b.tags),
		"goal_tracks": starlark.MakeInt(b.goal),
		"points":      b.points,
		"tracks":      capability.TrackMap(b.corpus),
	}
	if next {
		previous := b.playlist[len(b.playlist)-1]
		fields["previous_track"] = capability.TrackValue(previous, b.corpus.TagOf(previous.ID()))
	}
	value, err := b.env.CallHook(hook, capability.HookContext(fields))
	if errors.Is(err, capability.ErrHookMissing) {
		return "", false, ipc.Errorf(ipc.CodeBuilderIncomplete, "script defines no %s hook", hook)
	}
	if err != nil {
		return "", false, err
	}
	if !value.Truth() {
		return "", false, nil
	}
	id, ok := capability.ResolveID(value)
	if !ok {
		return "", false, ipc.Errorf(ipc.CodeInvalidTrackReturned, "%s returned %s, which names no track", hook, value.Type())
	}
	if _, known := b.corpus.Get(id); !known {
		return "", false, ipc.Errorf(ipc.CodeInvalidTrackReturned, "%s returned track %q, which is not in the corpus", hook, id)
	}
	return id, true, nil
}

// accept appends a resolved track to the playlist, removes it from the
// index and marks its tag seen.
func (b *build) accept(id string) {
	record, _ := b.corpus.Get(id)
	b.tree.Index().RemoveByID(id)
	b.tags[b.corpus.TagOf(id)] = true
	b.playlist = append(b.playlist, record)
	b.progress.update(float64(len(b.playlist)) / float64(b.goal))
}

func (b *build) playlistValue() starlark.Value {
	values := make([]starlark.Value, len(b.playlist))
	for i, record := range b.playlist {
		values[i] = capability.TrackValue(record, b.corpus.TagOf(record.ID()))
	}
	list := starlark.NewList(values)
	list.Freeze()
	return list
}

func (b *build) dimensions() []string {
	dimensions := b.env.Dimensions()
	names := make([]string, len(dimensions))
	for i, dimension := range dimensions {
		names[i] = string(dimension)
	}
	return names
}
