// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import "github.com/phosphorescence/eos/lib/track"

// Channel origins. The host knocks as HostOrigin and expects
// WorkerOrigin in the ack; the worker expects HostOrigin.
const (
	HostOrigin   = "eos-host"
	WorkerOrigin = "eos-worker"
)

// Request types.
const (
	TypeLoadTracks          = "load-tracks"
	TypeLoadAdditionalTrack = "load-additional-track"
	TypeOpenProgress        = "open-progress"
	TypeTerminationChannel  = "termination-channel"
	TypeBuildPlaylist       = "build-playlist"
	TypePruneTracks         = "prune-tracks"
	TypeSelfCheck           = "self-check"
)

// Request is a CBOR-encoded request from the host to a worker.
type Request struct {
	// Type is the request type: "load-tracks",
	// "load-additional-track", "open-progress",
	// "termination-channel", "build-playlist", "prune-tracks", or
	// "self-check".
	Type string `cbor:"type"`

	// Corpus is the encoded corpus blob (for load-tracks). Any
	// compression and encoding track.DecodeCorpus accepts.
	Corpus []byte `cbor:"corpus,omitempty"`

	// Record is one extra track (for load-additional-track). It is
	// merged into the corpus and its tag index; the tag is computed
	// from the title and primary artist when Record.Tag is empty.
	Record *track.Record `cbor:"record,omitempty"`

	// Build carries the parameters for build-playlist and
	// prune-tracks.
	Build *BuildRequest `cbor:"build,omitempty"`
}

// BuildRequest describes one script run. The same shape serves a
// playlist build and a prune.
type BuildRequest struct {
	// Secret is the per-build secret drawn by the host. The worker
	// echoes it in every Result and Progress for this build. It is
	// never exposed to the script.
	Secret []byte `cbor:"secret"`

	// Script is the script source.
	Script []byte `cbor:"script"`

	// ScriptName is used in error messages and logs. It does not
	// affect execution.
	ScriptName string `cbor:"script_name,omitempty"`

	// TrackCount is the number of tracks wanted. Zero selects the
	// worker's default.
	TrackCount int `cbor:"track_count,omitempty"`

	// PrunedIDs, when non-empty, restricts the corpus to these ids
	// before anything else runs.
	PrunedIDs []string `cbor:"pruned_ids,omitempty"`

	// FirstTrack pins the first track of the playlist. The script's
	// first-track hook and the prune hook are skipped.
	FirstTrack string `cbor:"first_track,omitempty"`

	// FirstTrackOnly asks for exactly one track and skips pruning.
	// Running out of candidates fails the build in this mode.
	FirstTrackOnly bool `cbor:"first_track_only,omitempty"`

	// Seed seeds every random helper the script can call.
	Seed uint64 `cbor:"seed"`

	// MaxExecutionSteps caps the script's computation. Zero is
	// unlimited.
	MaxExecutionSteps uint64 `cbor:"max_execution_steps,omitempty"`
}

// Result is the answer to build-playlist and prune-tracks. Exactly one
// of Error and the payload fields is meaningful.
type Result struct {
	// Secret echoes BuildRequest.Secret.
	Secret []byte `cbor:"secret"`

	// Playlist is the built playlist in order (for build-playlist).
	Playlist []track.Record `cbor:"playlist,omitempty"`

	// PrunedTrackIDs is the surviving id set (for prune-tracks),
	// sorted.
	PrunedTrackIDs []string `cbor:"pruned_track_ids,omitempty"`

	// Dimensions lists the feature dimensions the index was built
	// over plus any the script registered for logging. It is
	// informational only.
	Dimensions []string `cbor:"dimensions,omitempty"`

	// ScriptDigest is the short BLAKE3 digest of the script that ran.
	ScriptDigest string `cbor:"script_digest,omitempty"`

	// Error is set when the build failed.
	Error *BuildError `cbor:"error,omitempty"`
}

// Progress is sent on the progress interrupt port while a build runs.
type Progress struct {
	Secret []byte `cbor:"secret"`

	// Percent is the fraction of the build completed, in [0,1].
	Percent float64 `cbor:"percent"`
}

// Signal is sent on the termination interrupt port.
type Signal struct {
	// Type is "terminate".
	Type string `cbor:"type"`
}

// SignalTerminate cancels the build running in the worker.
const SignalTerminate = "terminate"

// Ack is the body of responses that carry no data.
type Ack struct {
	OK bool `cbor:"ok"`

	// Tracks is the corpus size after load-tracks or
	// load-additional-track.
	Tracks int `cbor:"tracks,omitempty"`
}

// SelfCheckReport is the answer to self-check.
type SelfCheckReport struct {
	// Passed is true when every probe found its primitive locked
	// down.
	Passed bool `cbor:"passed"`

	Probes []Probe `cbor:"probes"`
}

// Probe is the outcome of one lockdown probe.
type Probe struct {
	Name string `cbor:"name"`

	// Locked is true when the primitive refused to work.
	Locked bool `cbor:"locked"`

	// Detail is the error the primitive produced, or a description
	// of what succeeded when it should not have.
	Detail string `cbor:"detail,omitempty"`
}
