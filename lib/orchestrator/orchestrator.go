// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/phosphorescence/eos/lib/binhash"
	"github.com/phosphorescence/eos/lib/channel"
	"github.com/phosphorescence/eos/lib/clock"
	"github.com/phosphorescence/eos/lib/codec"
	"github.com/phosphorescence/eos/lib/ipc"
	"github.com/phosphorescence/eos/lib/secret"
	"github.com/phosphorescence/eos/lib/track"
)

// SecretSize is the length of the per-build secret in bytes.
const SecretSize = 32

// DefaultHandshakeTimeout bounds the wait for a fresh worker.
const DefaultHandshakeTimeout = 10 * time.Second

// DefaultMaxScriptBytes rejects larger scripts before a worker is
// started.
const DefaultMaxScriptBytes = 1 << 20

var (
	// ErrEngineUnavailable wraps every failure to bring a worker up:
	// spawn errors and handshake errors. The caller must not retry
	// blindly; the sandbox environment is broken.
	ErrEngineUnavailable = errors.New("engine unavailable")

	// ErrBuildActive is returned when a build is started while
	// another is still running.
	ErrBuildActive = errors.New("a build is already running")

	errTerminated = errors.New("terminated by host")
)

// Config configures an Orchestrator.
type Config struct {
	Spawner Spawner

	// Corpus is the authoritative track map. It is encoded once and
	// sent to every worker; results are re-resolved against it.
	Corpus *track.Corpus

	// HandshakeTimeout bounds the wait for each worker to come up.
	HandshakeTimeout time.Duration

	// MaxScriptBytes rejects larger scripts.
	MaxScriptBytes int

	// MaxExecutionSteps is applied to builds that do not set their
	// own. Zero is unlimited.
	MaxExecutionSteps uint64

	Clock  clock.Clock
	Logger *slog.Logger
}

// Script is one script to run, with a name for logs and errors.
type Script struct {
	Name   string
	Source []byte
}

// BuildParams describes a playlist build.
type BuildParams struct {
	Script Script

	// TrackCount is the playlist length wanted. Zero selects the
	// worker's default.
	TrackCount int

	// Pruners run in order before the build, each in its own worker.
	// Each pruner's surviving ids replace the working set.
	Pruners []Script

	// FirstTrackBuilder, if set and FirstTrack is empty, runs in
	// first-track-only mode and its track is pinned for the build.
	FirstTrackBuilder *Script

	// FirstTrack pins the first track.
	FirstTrack string

	// PrunedIDs restricts the corpus before any pruner runs.
	PrunedIDs []string

	// AdditionalTracks are merged into the corpus for this build.
	AdditionalTracks []track.Record

	// Seed seeds the scripts' random helpers. Zero draws one.
	Seed uint64

	MaxExecutionSteps uint64

	// Progress, if set, receives the overall fraction complete in
	// (0,1]. Calls are sequential.
	Progress func(percent float64)
}

// Playlist is a successful build.
type Playlist struct {
	Tracks     []track.Record
	Dimensions []string

	// ScriptDigest identifies the main script that ran.
	ScriptDigest string

	// Seed is the seed the build ran with, so it can be replayed.
	Seed uint64
}

// PruneParams describes a standalone prune.
type PruneParams struct {
	Script            Script
	PrunedIDs         []string
	AdditionalTracks  []track.Record
	Seed              uint64
	MaxExecutionSteps uint64
	Progress          func(percent float64)
}

// PruneResult is a successful prune.
type PruneResult struct {
	PrunedTrackIDs []string
	Dimensions     []string
	ScriptDigest   string
	Seed           uint64
}

// Orchestrator runs builds in freshly spawned workers, one build at a
// time.
type Orchestrator struct {
	config Config
	logger *slog.Logger
	blob   []byte

	mu     sync.Mutex
	active *activeBuild
}

// activeBuild lets TerminateActiveBuild reach the running stage.
type activeBuild struct {
	cancel context.CancelCauseFunc

	mu     sync.Mutex
	signal *channel.InterruptSender
}

func (a *activeBuild) setSignal(sender *channel.InterruptSender) {
	a.mu.Lock()
	a.signal = sender
	a.mu.Unlock()
}

func (a *activeBuild) terminate(logger *slog.Logger) {
	a.mu.Lock()
	sender := a.signal
	a.mu.Unlock()
	if sender != nil {
		if err := sender.Send(ipc.Signal{Type: ipc.SignalTerminate}); err != nil {
			logger.Debug("termination signal not delivered", "error", err)
		}
	}
	// The worker is destroyed whether or not it heard the signal.
	a.cancel(errTerminated)
}

// New encodes the corpus and returns an orchestrator.
func New(config Config) (*Orchestrator, error) {
	if config.Spawner == nil {
		return nil, errors.New("orchestrator: no spawner")
	}
	if config.Corpus == nil {
		return nil, errors.New("orchestrator: no corpus")
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if config.MaxScriptBytes <= 0 {
		config.MaxScriptBytes = DefaultMaxScriptBytes
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	blob, err := track.EncodeCorpus(config.Corpus, track.EncodingCBOR, track.CompressionZstd)
	if err != nil {
		return nil, fmt.Errorf("encoding corpus: %w", err)
	}
	config.Logger.Debug("corpus encoded", "tracks", config.Corpus.Len(), "bytes", len(blob))
	return &Orchestrator{config: config, logger: config.Logger, blob: blob}, nil
}

// TerminateActiveBuild stops the running build, if any. The current
// worker is sent a terminate signal and then destroyed; the build
// returns ipc.ErrCancelled. It does not wait.
func (o *Orchestrator) TerminateActiveBuild() {
	o.mu.Lock()
	active := o.active
	o.mu.Unlock()
	if active == nil {
		return
	}
	o.logger.Info("terminating active build")
	active.terminate(o.logger)
}

func (o *Orchestrator) begin(ctx context.Context) (context.Context, func(), error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != nil {
		return nil, nil, ErrBuildActive
	}
	buildCtx, cancel := context.WithCancelCause(ctx)
	active := &activeBuild{cancel: cancel}
	o.active = active
	end := func() {
		o.mu.Lock()
		if o.active == active {
			o.active = nil
		}
		o.mu.Unlock()
		cancel(nil)
	}
	return buildCtx, end, nil
}

func (o *Orchestrator) current() *activeBuild {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// BuildPlaylist runs the pruner chain, the first-track builder, and
// the build script, each in its own worker, and returns the playlist
// resolved against the authoritative corpus.
func (o *Orchestrator) BuildPlaylist(ctx context.Context, params BuildParams) (*Playlist, error) {
	scripts := append(slices.Clone(params.Pruners), params.Script)
	if params.FirstTrackBuilder != nil {
		scripts = append(scripts, *params.FirstTrackBuilder)
	}
	if err := o.checkScripts(scripts...); err != nil {
		return nil, err
	}
	authoritative, err := o.authoritative(params.AdditionalTracks)
	if err != nil {
		return nil, err
	}
	if params.FirstTrack != "" {
		if _, ok := authoritative.Get(params.FirstTrack); !ok {
			return nil, ipc.Errorf(ipc.CodeInvalidRequest, "first track %q is not in the corpus", params.FirstTrack)
		}
	}
	if params.TrackCount < 0 {
		return nil, ipc.Errorf(ipc.CodeInvalidRequest, "track count %d is negative", params.TrackCount)
	}

	buildCtx, end, err := o.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer end()

	seed, err := seedOrRandom(params.Seed)
	if err != nil {
		return nil, err
	}
	steps := params.MaxExecutionSteps
	if steps == 0 {
		steps = o.config.MaxExecutionSteps
	}

	firstTrack := params.FirstTrack
	stages := len(params.Pruners) + 1
	if params.FirstTrackBuilder != nil && firstTrack == "" {
		stages++
	}
	progress := newStageProgress(stages, params.Progress)

	ids := params.PrunedIDs
	for i, pruner := range params.Pruners {
		result, err := o.runStage(buildCtx, stage{
			requestType: ipc.TypePruneTracks,
			build: ipc.BuildRequest{
				Script:            pruner.Source,
				ScriptName:        pruner.Name,
				PrunedIDs:         ids,
				Seed:              seed,
				MaxExecutionSteps: steps,
			},
			additional: params.AdditionalTracks,
			progress:   progress.stage(i),
		})
		if err != nil {
			return nil, fmt.Errorf("pruner %s: %w", pruner.Name, err)
		}
		pruned, err := verifyPrune(result.PrunedTrackIDs, ids, authoritative)
		if err != nil {
			return nil, fmt.Errorf("pruner %s: %w", pruner.Name, err)
		}
		if len(pruned) == 0 {
			return nil, ipc.Errorf(ipc.CodeBuilderIncomplete, "pruner %s left no tracks", pruner.Name)
		}
		o.logger.Info("pruned tracks", "pruner", pruner.Name, "before", workingSize(ids, authoritative), "after", len(pruned))
		ids = pruned
	}

	if params.FirstTrackBuilder != nil && firstTrack == "" {
		builder := *params.FirstTrackBuilder
		result, err := o.runStage(buildCtx, stage{
			requestType: ipc.TypeBuildPlaylist,
			build: ipc.BuildRequest{
				Script:            builder.Source,
				ScriptName:        builder.Name,
				PrunedIDs:         ids,
				FirstTrackOnly:    true,
				Seed:              seed,
				MaxExecutionSteps: steps,
			},
			additional: params.AdditionalTracks,
			progress:   progress.stage(len(params.Pruners)),
		})
		if err != nil {
			return nil, fmt.Errorf("first track builder %s: %w", builder.Name, err)
		}
		first, err := resolvePlaylist(result.Playlist, ids, authoritative, 1)
		if err != nil {
			return nil, fmt.Errorf("first track builder %s: %w", builder.Name, err)
		}
		if len(first) != 1 {
			return nil, ipc.Errorf(ipc.CodeBuilderIncomplete, "first track builder %s returned %d tracks", builder.Name, len(first))
		}
		firstTrack = first[0].ID()
		o.logger.Debug("first track chosen", "builder", builder.Name, "track", firstTrack)
	}

	result, err := o.runStage(buildCtx, stage{
		requestType: ipc.TypeBuildPlaylist,
		build: ipc.BuildRequest{
			Script:            params.Script.Source,
			ScriptName:        params.Script.Name,
			TrackCount:        params.TrackCount,
			PrunedIDs:         ids,
			FirstTrack:        firstTrack,
			Seed:              seed,
			MaxExecutionSteps: steps,
		},
		additional: params.AdditionalTracks,
		progress:   progress.stage(stages - 1),
	})
	if err != nil {
		return nil, err
	}
	tracks, err := resolvePlaylist(result.Playlist, ids, authoritative, params.TrackCount)
	if err != nil {
		return nil, err
	}
	if firstTrack != "" && (len(tracks) == 0 || tracks[0].ID() != firstTrack) {
		return nil, ipc.Errorf(ipc.CodeUntrustedResult, "playlist does not start with the pinned track %q", firstTrack)
	}
	progress.finish()

	o.logger.Info("playlist built",
		"script", params.Script.Name,
		"digest", binhash.Script(params.Script.Source).Short(),
		"tracks", len(tracks),
		"seed", seed,
	)
	return &Playlist{
		Tracks:       tracks,
		Dimensions:   result.Dimensions,
		ScriptDigest: binhash.Script(params.Script.Source).Short(),
		Seed:         seed,
	}, nil
}

// PruneTracks runs one prune script in its own worker.
func (o *Orchestrator) PruneTracks(ctx context.Context, params PruneParams) (*PruneResult, error) {
	if err := o.checkScripts(params.Script); err != nil {
		return nil, err
	}
	authoritative, err := o.authoritative(params.AdditionalTracks)
	if err != nil {
		return nil, err
	}
	buildCtx, end, err := o.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer end()

	seed, err := seedOrRandom(params.Seed)
	if err != nil {
		return nil, err
	}
	steps := params.MaxExecutionSteps
	if steps == 0 {
		steps = o.config.MaxExecutionSteps
	}
	progress := newStageProgress(1, params.Progress)

	result, err := o.runStage(buildCtx, stage{
		requestType: ipc.TypePruneTracks,
		build: ipc.BuildRequest{
			Script:            params.Script.Source,
			ScriptName:        params.Script.Name,
			PrunedIDs:         params.PrunedIDs,
			Seed:              seed,
			MaxExecutionSteps: steps,
		},
		additional: params.AdditionalTracks,
		progress:   progress.stage(0),
	})
	if err != nil {
		return nil, err
	}
	pruned, err := verifyPrune(result.PrunedTrackIDs, params.PrunedIDs, authoritative)
	if err != nil {
		return nil, err
	}
	progress.finish()
	return &PruneResult{
		PrunedTrackIDs: pruned,
		Dimensions:     result.Dimensions,
		ScriptDigest:   binhash.Script(params.Script.Source).Short(),
		Seed:           seed,
	}, nil
}

func (o *Orchestrator) checkScripts(scripts ...Script) error {
	for _, script := range scripts {
		if len(script.Source) == 0 {
			return ipc.Errorf(ipc.CodeInvalidRequest, "script %q is empty", script.Name)
		}
		if len(script.Source) > o.config.MaxScriptBytes {
			return ipc.Errorf(ipc.CodeInvalidRequest, "script %q is %d bytes, limit %d",
				script.Name, len(script.Source), o.config.MaxScriptBytes)
		}
	}
	return nil
}

// authoritative returns the corpus results are checked against: the
// configured corpus plus this build's additional tracks.
func (o *Orchestrator) authoritative(additional []track.Record) (*track.Corpus, error) {
	if len(additional) == 0 {
		return o.config.Corpus, nil
	}
	merged := o.config.Corpus.Clone()
	for _, record := range additional {
		if err := merged.Add(record); err != nil {
			return nil, ipc.Errorf(ipc.CodeInvalidRequest, "additional track: %v", err)
		}
	}
	return merged, nil
}

// stage is one script run in one worker.
type stage struct {
	requestType string
	build       ipc.BuildRequest
	additional  []track.Record
	progress    func(percent float64)
}

// runStage spawns a worker, loads it, runs one build or prune, and
// destroys the worker. The returned result carries no Error and has
// passed the secret check.
func (o *Orchestrator) runStage(ctx context.Context, s stage) (*ipc.Result, error) {
	buildSecret, err := secret.NewRandom(SecretSize)
	if err != nil {
		return nil, fmt.Errorf("drawing build secret: %w", err)
	}
	defer buildSecret.Close()
	s.build.Secret = buildSecret.Clone()

	logger := o.logger.With("script", s.build.ScriptName, "type", s.requestType, "secret", buildSecret.Fingerprint())

	instance, err := o.config.Spawner.Spawn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: spawning worker: %w", ErrEngineUnavailable, err)
	}
	defer func() {
		if err := instance.Destroy(); err != nil {
			logger.Debug("worker teardown", "error", err)
		}
	}()

	ch, err := channel.Knock(ctx, channel.Config{
		Origin:  ipc.HostOrigin,
		Expect:  ipc.WorkerOrigin,
		Timeout: o.config.HandshakeTimeout,
		Clock:   o.config.Clock,
		Logger:  o.logger,
	}, instance.Link())
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}
		return nil, fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
	}
	defer ch.Close()

	result, err := o.exchange(ctx, ch, s, buildSecret, logger)
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}
		return nil, err
	}
	return result, nil
}

func (o *Orchestrator) exchange(ctx context.Context, ch *channel.Channel, s stage, buildSecret *secret.Buffer, logger *slog.Logger) (*ipc.Result, error) {
	var ack ipc.Ack
	if err := request(ctx, ch, ipc.Request{Type: ipc.TypeLoadTracks, Corpus: o.blob}, &ack); err != nil {
		return nil, err
	}
	for _, record := range s.additional {
		if err := request(ctx, ch, ipc.Request{Type: ipc.TypeLoadAdditionalTrack, Record: &record}, &ack); err != nil {
			return nil, err
		}
	}
	logger.Debug("worker loaded", "tracks", ack.Tracks)

	if s.progress != nil {
		report := s.progress
		_, err := ch.OpenInterrupt(ctx, ipc.Request{Type: ipc.TypeOpenProgress}, func(raw codec.RawMessage) {
			var update ipc.Progress
			if err := codec.Unmarshal(raw, &update); err != nil {
				logger.Warn("malformed progress update", "error", err)
				return
			}
			if !buildSecret.Equal(update.Secret) {
				logger.Warn("dropping progress update with a foreign secret")
				return
			}
			if update.Percent < 0 || update.Percent > 1 {
				return
			}
			report(update.Percent)
		})
		if err != nil {
			return nil, fmt.Errorf("opening progress port: %w", err)
		}
	}

	termination, err := ch.Request(ctx, ipc.Request{Type: ipc.TypeTerminationChannel})
	if err != nil {
		return nil, fmt.Errorf("opening termination port: %w", err)
	}
	if termination.Interrupt == nil {
		return nil, ipc.Errorf(ipc.CodeUntrustedResult, "worker opened no termination port")
	}
	if active := o.current(); active != nil {
		active.setSignal(termination.Interrupt)
		defer active.setSignal(nil)
	}

	build := s.build
	var result ipc.Result
	if err := request(ctx, ch, ipc.Request{Type: s.requestType, Build: &build}, &result); err != nil {
		return nil, err
	}
	if !buildSecret.Equal(result.Secret) {
		logger.Error("worker answered with a foreign secret")
		return nil, ipc.Errorf(ipc.CodeUntrustedResult, "result secret does not match the build")
	}
	if result.Error != nil {
		return nil, result.Error
	}
	if result.ScriptDigest != "" && result.ScriptDigest != binhash.Script(build.Script).Short() {
		return nil, ipc.Errorf(ipc.CodeUntrustedResult, "worker ran a different script")
	}
	return &result, nil
}

func request(ctx context.Context, ch *channel.Channel, message ipc.Request, target any) error {
	response, err := ch.Request(ctx, message)
	if err != nil {
		return fmt.Errorf("%s: %w", message.Type, err)
	}
	if err := response.Decode(target); err != nil {
		return fmt.Errorf("decoding %s response: %w", message.Type, err)
	}
	return nil
}

func cancelled(ctx context.Context) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, errTerminated) {
		return ipc.Errorf(ipc.CodeCancelled, "terminated by host")
	}
	return fmt.Errorf("%w: %w", ipc.ErrCancelled, cause)
}

// verifyPrune checks a worker's prune result against the set it was
// given: allowed, or the whole corpus when allowed is empty.
func verifyPrune(pruned, allowed []string, authoritative *track.Corpus) ([]string, error) {
	var permitted map[string]bool
	if len(allowed) > 0 {
		permitted = make(map[string]bool, len(allowed))
		for _, id := range allowed {
			permitted[id] = true
		}
	}
	seen := make(map[string]bool, len(pruned))
	out := make([]string, 0, len(pruned))
	for _, id := range pruned {
		if _, ok := authoritative.Get(id); !ok {
			return nil, ipc.Errorf(ipc.CodeUntrustedResult, "pruned id %q is not in the corpus", id)
		}
		if permitted != nil && !permitted[id] {
			return nil, ipc.Errorf(ipc.CodeUntrustedResult, "pruned id %q was not in the working set", id)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}

// resolvePlaylist replaces the worker's records with the host's own,
// rejecting ids outside the working set and playlists longer than
// asked for.
func resolvePlaylist(playlist []track.Record, allowed []string, authoritative *track.Corpus, limit int) ([]track.Record, error) {
	if limit > 0 && len(playlist) > limit {
		return nil, ipc.Errorf(ipc.CodeUntrustedResult, "playlist has %d tracks, %d requested", len(playlist), limit)
	}
	var permitted map[string]bool
	if len(allowed) > 0 {
		permitted = make(map[string]bool, len(allowed))
		for _, id := range allowed {
			permitted[id] = true
		}
	}
	resolved := make([]track.Record, 0, len(playlist))
	for _, entry := range playlist {
		id := entry.ID()
		record, ok := authoritative.Get(id)
		if !ok {
			return nil, ipc.Errorf(ipc.CodeUntrustedResult, "playlist track %q is not in the corpus", id)
		}
		if permitted != nil && !permitted[id] {
			return nil, ipc.Errorf(ipc.CodeUntrustedResult, "playlist track %q was pruned", id)
		}
		resolved = append(resolved, record)
	}
	return resolved, nil
}

func workingSize(ids []string, corpus *track.Corpus) int {
	if len(ids) == 0 {
		return corpus.Len()
	}
	return len(ids)
}

func seedOrRandom(seed uint64) (uint64, error) {
	for seed == 0 {
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, fmt.Errorf("drawing seed: %w", err)
		}
		seed = binary.LittleEndian.Uint64(buf[:])
	}
	return seed, nil
}
