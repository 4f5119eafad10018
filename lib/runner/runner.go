// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phosphorescence/eos/lib/binhash"
	"github.com/phosphorescence/eos/lib/capability"
	"github.com/phosphorescence/eos/lib/clock"
	"github.com/phosphorescence/eos/lib/ipc"
	"github.com/phosphorescence/eos/lib/track"
)

// DefaultTrackCount is the playlist length when neither the request
// nor the config names one.
const DefaultTrackCount = 20

// errTerminated is the cancellation cause of a build stopped by
// Terminate.
var errTerminated = errors.New("terminated by host")

// Config configures a Runner.
type Config struct {
	// ProgressInterval is the minimum time between progress reports.
	// Zero reports every step.
	ProgressInterval time.Duration

	// DefaultTrackCount replaces a zero BuildRequest.TrackCount.
	DefaultTrackCount int

	Clock  clock.Clock
	Logger *slog.Logger

	// ScriptLogger receives the script's print output. Defaults to
	// Logger.
	ScriptLogger *slog.Logger

	// Trace, if set, observes every state transition of every build.
	Trace func(State)
}

// Runner holds the corpus of one execution context and runs builds
// against it, one at a time.
type Runner struct {
	config Config
	logger *slog.Logger

	mu         sync.Mutex
	corpus     *track.Corpus
	cancel     context.CancelCauseFunc
	terminated bool
}

// New returns a runner with an empty corpus.
func New(config Config) *Runner {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.ScriptLogger == nil {
		config.ScriptLogger = config.Logger
	}
	if config.DefaultTrackCount <= 0 {
		config.DefaultTrackCount = DefaultTrackCount
	}
	return &Runner{
		config: config,
		logger: config.Logger,
		corpus: track.NewCorpus(),
	}
}

// LoadCorpus replaces the corpus and returns its size.
func (r *Runner) LoadCorpus(corpus *track.Corpus) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.corpus = corpus.Clone()
	return r.corpus.Len()
}

// AddTrack merges one extra record into the corpus and its tag index,
// and returns the corpus size.
func (r *Runner) AddTrack(record track.Record) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.corpus.Add(record); err != nil {
		return 0, err
	}
	return r.corpus.Len(), nil
}

// Len returns the corpus size.
func (r *Runner) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.corpus.Len()
}

// Terminate cancels the running build, if any, and every build started
// afterwards. A terminated runner is finished: the host discards the
// whole execution context. Safe to call from any goroutine.
func (r *Runner) Terminate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminated = true
	if r.cancel != nil {
		r.cancel(errTerminated)
	}
}

// Build runs request as a playlist build.
func (r *Runner) Build(ctx context.Context, request ipc.BuildRequest, progress ProgressFunc) ipc.Result {
	return r.run(ctx, request, progress, (*build).buildPlaylist)
}

// Prune runs only the script's prune hook and returns the surviving
// ids.
func (r *Runner) Prune(ctx context.Context, request ipc.BuildRequest, progress ProgressFunc) ipc.Result {
	return r.run(ctx, request, progress, (*build).prune)
}

func (r *Runner) run(ctx context.Context, request ipc.BuildRequest, progress ProgressFunc, body func(*build) (ipc.Result, error)) ipc.Result {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	r.mu.Lock()
	if r.terminated {
		r.mu.Unlock()
		return ipc.Result{Secret: request.Secret, Error: ipc.Errorf(ipc.CodeCancelled, "%v", errTerminated)}
	}
	r.cancel = cancel
	corpus := r.corpus
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
	}()

	b := &build{
		ctx:     ctx,
		request: request,
		name:    request.ScriptName,
		digest:  binhash.Script(request.Script).Short(),
		loaded:  corpus,
		trace:   r.config.Trace,
		progress: &throttle{
			clock:    r.config.Clock,
			interval: r.config.ProgressInterval,
			report:   progress,
		},
	}
	if b.name == "" {
		b.name = "script.star"
	}
	b.logger = r.logger.With("script", b.name, "digest", b.digest)
	b.env = capability.New(capability.Options{
		Seed:              request.Seed,
		MaxExecutionSteps: request.MaxExecutionSteps,
		Logger:            r.config.ScriptLogger.With("script", b.name),
	})
	stop := context.AfterFunc(ctx, func() {
		b.env.Cancel(context.Cause(ctx).Error())
	})
	defer stop()

	goal := request.TrackCount
	if goal == 0 {
		goal = r.config.DefaultTrackCount
	}
	if request.FirstTrackOnly {
		goal = 1
	}
	b.goal = goal

	started := r.config.Clock.Now()
	result, err := b.start(body)
	result.Secret = request.Secret
	result.ScriptDigest = b.digest
	if err != nil {
		result = ipc.Result{Secret: request.Secret, ScriptDigest: b.digest, Error: b.classify(err)}
		b.transition(Failed)
		b.logger.Info("build failed",
			"state", b.failedIn,
			"code", result.Error.Code,
			"error", result.Error.Message,
			"steps", b.env.Steps(),
		)
		return result
	}
	b.transition(Done)
	b.logger.Info("build finished",
		"tracks", len(result.Playlist),
		"pruned", len(result.PrunedTrackIDs),
		"steps", b.env.Steps(),
		"duration", r.config.Clock.Now().Sub(started),
	)
	return result
}

// classify maps a build failure to the error reported to the host.
// Anything that happened after cancellation is a cancellation.
func (b *build) classify(err error) *ipc.BuildError {
	if b.ctx.Err() != nil {
		return ipc.Errorf(ipc.CodeCancelled, "%v", context.Cause(b.ctx))
	}
	var buildErr *ipc.BuildError
	if errors.As(err, &buildErr) {
		return buildErr
	}
	var scriptErr *capability.ScriptError
	if errors.As(err, &scriptErr) {
		message := scriptErr.Message
		if scriptErr.Backtrace != "" {
			message = fmt.Sprintf("%s\n%s", scriptErr.Message, scriptErr.Backtrace)
		}
		return &ipc.BuildError{Code: ipc.CodeScriptError, Message: message}
	}
	return ipc.AsBuildError(err)
}
