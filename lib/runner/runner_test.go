// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/phosphorescence/eos/lib/clock"
	"github.com/phosphorescence/eos/lib/ipc"
	"github.com/phosphorescence/eos/lib/testutil"
	"github.com/phosphorescence/eos/lib/track"
	"github.com/phosphorescence/eos/lib/track/tracktest"
)

const testTimeout = 5 * time.Second

// cullingScript walks outward from the previous track and never
// repeats a tag. It stops once every remaining track shares a seen
// tag.
const cullingScript = `
def get_first_track(ctx):
    return ctx.tracks["A"]

def get_next_track(ctx):
    remaining = cull_already_seen_tags(nearest(tree_size(), ctx.previous_track), ctx.tags)
    if not remaining:
        return None
    return remaining[0].point
`

func newRunner(t *testing.T, corpus *track.Corpus, config Config) *Runner {
	t.Helper()
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	runner := New(config)
	if corpus != nil {
		runner.LoadCorpus(corpus)
	}
	return runner
}

func request(script string, trackCount int) ipc.BuildRequest {
	return ipc.BuildRequest{
		Secret:     []byte("secret"),
		Script:     []byte(script),
		ScriptName: "test.star",
		TrackCount: trackCount,
		Seed:       1,
	}
}

func playlistIDs(result ipc.Result) []string {
	ids := make([]string, len(result.Playlist))
	for i, record := range result.Playlist {
		ids[i] = record.ID()
	}
	return ids
}

func requireCode(t *testing.T, result ipc.Result, want *ipc.BuildError) {
	t.Helper()
	if result.Error == nil {
		t.Fatalf("build succeeded with playlist %v, want %s", playlistIDs(result), want.Code)
	}
	if !errors.Is(result.Error, want) {
		t.Fatalf("build error = %v, want code %s", result.Error, want.Code)
	}
	if string(result.Secret) != "secret" {
		t.Fatalf("error result secret = %q, want the request's", result.Secret)
	}
	if len(result.Playlist) != 0 {
		t.Fatalf("failed build carries playlist %v", playlistIDs(result))
	}
}

func abcCorpus() *track.Corpus {
	return tracktest.Corpus(
		tracktest.Tagged("A", "x", 0, 0),
		tracktest.Tagged("B", "x", 0.1, 0),
		tracktest.Tagged("C", "y", 0.5, 0),
	)
}

func TestBuildStopsEarlyWhenTagsRunOut(t *testing.T) {
	runner := newRunner(t, abcCorpus(), Config{})
	result := runner.Build(context.Background(), request(cullingScript, 3), nil)
	if result.Error != nil {
		t.Fatalf("Build: %v", result.Error)
	}
	if got := playlistIDs(result); !slices.Equal(got, []string{"A", "C"}) {
		t.Fatalf("playlist = %v, want [A C]", got)
	}
	if string(result.Secret) != "secret" {
		t.Fatalf("secret = %q", result.Secret)
	}
	if result.ScriptDigest == "" {
		t.Fatal("result carries no script digest")
	}
	if !slices.Equal(result.Dimensions, []string{"aetherealness", "primordialness"}) {
		t.Fatalf("dimensions = %v", result.Dimensions)
	}
}

func TestBuildKeepsTagsDistinct(t *testing.T) {
	var records []track.Record
	for i := range 10 {
		id := string(rune('A' + i))
		records = append(records, tracktest.Tagged(id, "tag"+string(rune('0'+i/2)), float64(i)/10, 0))
	}
	runner := newRunner(t, tracktest.Corpus(records...), Config{})
	result := runner.Build(context.Background(), request(cullingScript, 10), nil)
	if result.Error != nil {
		t.Fatalf("Build: %v", result.Error)
	}
	if len(result.Playlist) != 5 {
		t.Fatalf("playlist = %v, want one track per tag", playlistIDs(result))
	}
	seen := map[string]bool{}
	corpus := tracktest.Corpus(records...)
	for _, record := range result.Playlist {
		tag := corpus.TagOf(record.ID())
		if seen[tag] {
			t.Fatalf("tag %s repeated in %v", tag, playlistIDs(result))
		}
		seen[tag] = true
	}
}

func TestBuildStates(t *testing.T) {
	var states []State
	runner := newRunner(t, abcCorpus(), Config{Trace: func(state State) { states = append(states, state) }})
	script := cullingScript + `
def prune(ctx):
    return ctx.tracks
`
	if result := runner.Build(context.Background(), request(script, 2), nil); result.Error != nil {
		t.Fatalf("Build: %v", result.Error)
	}
	want := []State{LoadingTracks, Pruning, BuildingTree, SelectingFirstTrack, SelectingNextTrack, Done}
	if !slices.Equal(states, want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
}

func TestBuildFailures(t *testing.T) {
	tests := []struct {
		name   string
		script string
		modify func(*ipc.BuildRequest)
		want   *ipc.BuildError
	}{
		{
			name:   "prune returns unknown id",
			script: cullingScript + "\ndef prune(ctx):\n    return [\"A\", \"Z\"]\n",
			want:   ipc.ErrInvalidPrune,
		},
		{
			name:   "prune returns a number",
			script: cullingScript + "\ndef prune(ctx):\n    return 3\n",
			want:   ipc.ErrInvalidPrune,
		},
		{
			name:   "first track unknown",
			script: "def get_first_track(ctx):\n    return \"Z\"\n",
			want:   ipc.ErrInvalidTrackReturned,
		},
		{
			name:   "first track forged point",
			script: "def get_first_track(ctx):\n    return make_point(id = \"Z\", aetherealness = 0.0)\n",
			want:   ipc.ErrInvalidTrackReturned,
		},
		{
			name:   "next track not a track",
			script: "def get_first_track(ctx):\n    return \"A\"\ndef get_next_track(ctx):\n    return 42\n",
			want:   ipc.ErrInvalidTrackReturned,
		},
		{
			name:   "first track missing",
			script: "def get_first_track(ctx):\n    return None\n",
			want:   ipc.ErrBuilderIncomplete,
		},
		{
			name:   "no first track hook",
			script: "def get_next_track(ctx):\n    return None\n",
			want:   ipc.ErrBuilderIncomplete,
		},
		{
			name:   "syntax error",
			script: "def get_first_track(ctx)\n    return None\n",
			want:   ipc.ErrScriptError,
		},
		{
			name:   "hook raises",
			script: "def get_first_track(ctx):\n    fail(\"boom\")\n",
			want:   ipc.ErrScriptError,
		},
		{
			name:   "build_tree returns a list",
			script: cullingScript + "\ndef build_tree(ctx):\n    return []\n",
			want:   ipc.ErrScriptError,
		},
		{
			name:   "forbidden primitive",
			script: "open(\"/etc/passwd\")\n",
			want:   ipc.ErrScriptError,
		},
		{
			name:   "empty script",
			script: "",
			want:   ipc.ErrInvalidRequest,
		},
		{
			name:   "pinned track unknown",
			script: cullingScript,
			modify: func(r *ipc.BuildRequest) { r.FirstTrack = "Z" },
			want:   ipc.ErrInvalidRequest,
		},
		{
			name:   "track outside restriction",
			script: "def get_first_track(ctx):\n    return \"A\"\n",
			modify: func(r *ipc.BuildRequest) { r.PrunedIDs = []string{"B", "C"} },
			want:   ipc.ErrInvalidTrackReturned,
		},
		{
			name:   "step budget",
			script: "def get_first_track(ctx):\n    while True:\n        pass\n",
			modify: func(r *ipc.BuildRequest) { r.MaxExecutionSteps = 10_000 },
			want:   ipc.ErrScriptError,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			runner := newRunner(t, abcCorpus(), Config{})
			req := request(test.script, 3)
			if test.modify != nil {
				test.modify(&req)
			}
			requireCode(t, runner.Build(context.Background(), req, nil), test.want)
		})
	}
}

func TestBuildWithoutCorpus(t *testing.T) {
	runner := newRunner(t, nil, Config{})
	requireCode(t, runner.Build(context.Background(), request(cullingScript, 3), nil), ipc.ErrInvalidRequest)
}

func TestScriptErrorCarriesBacktrace(t *testing.T) {
	runner := newRunner(t, abcCorpus(), Config{})
	result := runner.Build(context.Background(), request("def get_first_track(ctx):\n    fail(\"boom\")\n", 3), nil)
	requireCode(t, result, ipc.ErrScriptError)
	if !strings.Contains(result.Error.Message, "boom") || !strings.Contains(result.Error.Message, "test.star") {
		t.Fatalf("message = %q, want the failure and its location", result.Error.Message)
	}
}

func TestPinnedFirstTrackSkipsHooks(t *testing.T) {
	runner := newRunner(t, abcCorpus(), Config{})
	script := `
def prune(ctx):
    fail("prune must not run")

def get_first_track(ctx):
    fail("get_first_track must not run")

def get_next_track(ctx):
    if ctx.previous_track.id != "C":
        fail("previous track is " + ctx.previous_track.id)
    if len(ctx.playlist) != 1 or ctx.tags != {"y": True} or ctx.goal_tracks != 2:
        fail("bad context")
    return nearest(1, ctx.previous_track)[0]
`
	req := request(script, 2)
	req.FirstTrack = "C"
	result := runner.Build(context.Background(), req, nil)
	if result.Error != nil {
		t.Fatalf("Build: %v", result.Error)
	}
	if got := playlistIDs(result); !slices.Equal(got, []string{"C", "B"}) {
		t.Fatalf("playlist = %v, want [C B]", got)
	}
}

func TestFirstTrackOnly(t *testing.T) {
	runner := newRunner(t, abcCorpus(), Config{})
	script := `
def prune(ctx):
    fail("prune must not run")

def get_first_track(ctx):
    return ctx.tracks["B"]

def get_next_track(ctx):
    fail("get_next_track must not run")
`
	req := request(script, 20)
	req.FirstTrackOnly = true
	result := runner.Build(context.Background(), req, nil)
	if result.Error != nil {
		t.Fatalf("Build: %v", result.Error)
	}
	if got := playlistIDs(result); !slices.Equal(got, []string{"B"}) {
		t.Fatalf("playlist = %v, want [B]", got)
	}
}

func TestPrune(t *testing.T) {
	runner := newRunner(t, abcCorpus(), Config{})
	script := `
def prune(ctx):
    add_logging_dimension(POPULARITY)
    if len(ctx.unpruned_tracks) != 3:
        fail("unpruned tracks missing")
    return {id: t for id, t in ctx.tracks.items() if ctx.ids_to_tags[id] == "x"}
`
	var reports []float64
	result := runner.Prune(context.Background(), request(script, 0), func(percent float64) { reports = append(reports, percent) })
	if result.Error != nil {
		t.Fatalf("Prune: %v", result.Error)
	}
	if !slices.Equal(result.PrunedTrackIDs, []string{"A", "B"}) {
		t.Fatalf("pruned ids = %v, want [A B]", result.PrunedTrackIDs)
	}
	if !slices.Equal(result.Dimensions, []string{"popularity"}) {
		t.Fatalf("dimensions = %v", result.Dimensions)
	}
	if !slices.Equal(reports, []float64{1}) {
		t.Fatalf("progress = %v, want [1]", reports)
	}
}

func TestPruneWithinRestriction(t *testing.T) {
	runner := newRunner(t, abcCorpus(), Config{})
	script := `
def prune(ctx):
    return sorted(ctx.unpruned_tracks.keys())
`
	req := request(script, 0)
	req.PrunedIDs = []string{"A", "C"}
	requireCode(t, runner.Prune(context.Background(), req, nil), ipc.ErrInvalidPrune)

	identity := request("x = 1\n", 0)
	identity.PrunedIDs = []string{"A", "C", "Q"}
	result := runner.Prune(context.Background(), identity, nil)
	if result.Error != nil {
		t.Fatalf("Prune: %v", result.Error)
	}
	if !slices.Equal(result.PrunedTrackIDs, []string{"A", "C"}) {
		t.Fatalf("pruned ids = %v, want [A C]", result.PrunedTrackIDs)
	}
}

func TestBuildReportsTreeAndLoggingDimensions(t *testing.T) {
	runner := newRunner(t, abcCorpus(), Config{})
	script := `
def build_tree(ctx):
    add_logging_dimension(POPULARITY)
    add_logging_dimension(TEMPO)
    return kdtree(ctx.points, [TEMPO, KEY])

def get_first_track(ctx):
    return random_track()
`
	result := runner.Build(context.Background(), request(script, 1), nil)
	if result.Error != nil {
		t.Fatalf("Build: %v", result.Error)
	}
	if !slices.Equal(result.Dimensions, []string{"tempo", "key", "popularity"}) {
		t.Fatalf("dimensions = %v", result.Dimensions)
	}
}

func TestBuildIsDeterministicForSeed(t *testing.T) {
	script := `
def get_first_track(ctx):
    return random_track()

def get_next_track(ctx):
    return pick_random(nearest(3, ctx.previous_track))
`
	corpus := tracktest.Grid(4)
	first := newRunner(t, corpus, Config{}).Build(context.Background(), request(script, 8), nil)
	second := newRunner(t, corpus, Config{}).Build(context.Background(), request(script, 8), nil)
	if first.Error != nil || second.Error != nil {
		t.Fatalf("Build: %v, %v", first.Error, second.Error)
	}
	if !slices.Equal(playlistIDs(first), playlistIDs(second)) {
		t.Fatalf("same seed gave %v and %v", playlistIDs(first), playlistIDs(second))
	}
	if len(first.Playlist) != 8 {
		t.Fatalf("playlist = %v, want 8 tracks", playlistIDs(first))
	}
}

func TestAddTrackJoinsTagIndex(t *testing.T) {
	runner := newRunner(t, abcCorpus(), Config{})
	if n, err := runner.AddTrack(tracktest.Tagged("D", "x", 0.2, 0)); err != nil || n != 4 {
		t.Fatalf("AddTrack = %d, %v", n, err)
	}
	if _, err := runner.AddTrack(track.Record{}); err == nil {
		t.Fatal("AddTrack accepted a record without an id")
	}
	result := runner.Build(context.Background(), request(cullingScript, 3), nil)
	if result.Error != nil {
		t.Fatalf("Build: %v", result.Error)
	}
	if got := playlistIDs(result); !slices.Equal(got, []string{"A", "C"}) {
		t.Fatalf("playlist = %v, want D culled as a duplicate of A", got)
	}
}

func TestTerminateCancelsBuild(t *testing.T) {
	selecting := make(chan struct{})
	var once sync.Once
	runner := newRunner(t, abcCorpus(), Config{Trace: func(state State) {
		if state == SelectingNextTrack {
			once.Do(func() { close(selecting) })
		}
	}})
	script := `
def get_first_track(ctx):
    return "A"

def get_next_track(ctx):
    while True:
        pass
`
	results := make(chan ipc.Result, 1)
	go func() { results <- runner.Build(context.Background(), request(script, 3), nil) }()

	testutil.RequireClosed(t, selecting, testTimeout, "build never reached track selection")
	runner.Terminate()
	result := testutil.RequireReceive(t, results, testTimeout, "build kept running after Terminate")
	requireCode(t, result, ipc.ErrCancelled)

	// The context is spent: later builds are refused.
	requireCode(t, runner.Build(context.Background(), request(cullingScript, 3), nil), ipc.ErrCancelled)
}

func TestContextCancelsBuild(t *testing.T) {
	runner := newRunner(t, abcCorpus(), Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	requireCode(t, runner.Build(ctx, request("while True:\n    pass\n", 3), nil), ipc.ErrCancelled)
}

func TestProgressIsThrottled(t *testing.T) {
	fake := clock.Fake(time.Unix(1_700_000_000, 0))
	var reports []float64
	runner := newRunner(t, tracktest.Grid(3), Config{Clock: fake, ProgressInterval: time.Second})
	script := `
def get_first_track(ctx):
    return random_track()

def get_next_track(ctx):
    return nearest(1, ctx.previous_track)[0]
`
	result := runner.Build(context.Background(), request(script, 4), func(percent float64) { reports = append(reports, percent) })
	if result.Error != nil {
		t.Fatalf("Build: %v", result.Error)
	}
	if !slices.Equal(reports, []float64{0.25, 1}) {
		t.Fatalf("progress = %v, want first and final only", reports)
	}

	reports = nil
	unthrottled := newRunner(t, tracktest.Grid(3), Config{Clock: fake})
	unthrottled.Build(context.Background(), request(script, 4), func(percent float64) { reports = append(reports, percent) })
	if !slices.Equal(reports, []float64{0.25, 0.5, 0.75, 1}) {
		t.Fatalf("unthrottled progress = %v", reports)
	}
}

func TestThrottleInterval(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	var reports []float64
	progress := &throttle{clock: fake, interval: time.Second, report: func(p float64) { reports = append(reports, p) }}

	progress.update(0.1)
	progress.update(0.2)
	fake.Advance(time.Second)
	progress.update(0.3)
	progress.update(1.5)
	if !slices.Equal(reports, []float64{0.1, 0.3, 1}) {
		t.Fatalf("reports = %v", reports)
	}
}
