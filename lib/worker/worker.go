// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phosphorescence/eos/lib/capability"
	"github.com/phosphorescence/eos/lib/channel"
	"github.com/phosphorescence/eos/lib/codec"
	"github.com/phosphorescence/eos/lib/ipc"
	"github.com/phosphorescence/eos/lib/runner"
	"github.com/phosphorescence/eos/lib/track"
)

// Config configures a Worker.
type Config struct {
	// Channel configures the acceptor end. Origin and Expect default
	// to ipc.WorkerOrigin and ipc.HostOrigin.
	Channel channel.Config

	Runner runner.Config
	Logger *slog.Logger

	// SelfCheck probes the lockdown. Defaults to the capability
	// table's own self-check.
	SelfCheck func() ipc.SelfCheckReport
}

// handlerFunc serves one request type. body is the decoded request.
type handlerFunc func(ctx context.Context, request channel.Request, body ipc.Request) (channel.Reply, error)

// Worker serves one host connection.
type Worker struct {
	config   Config
	logger   *slog.Logger
	runner   *runner.Runner
	handlers map[string]handlerFunc
	lockdown ipc.SelfCheckReport

	mu       sync.Mutex
	progress *channel.InterruptSender
}

// New runs the lockdown self-check and returns a worker ready to
// serve.
func New(config Config) *Worker {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Channel.Origin == "" {
		config.Channel.Origin = ipc.WorkerOrigin
	}
	if config.Channel.Expect == "" {
		config.Channel.Expect = ipc.HostOrigin
	}
	if config.Channel.Logger == nil {
		config.Channel.Logger = config.Logger
	}
	if config.Runner.Logger == nil {
		config.Runner.Logger = config.Logger
	}
	if config.SelfCheck == nil {
		config.SelfCheck = func() ipc.SelfCheckReport {
			return capability.New(capability.Options{}).SelfCheck()
		}
	}

	w := &Worker{
		config:   config,
		logger:   config.Logger,
		runner:   runner.New(config.Runner),
		handlers: make(map[string]handlerFunc),
	}
	w.lockdown = config.SelfCheck()
	if !w.lockdown.Passed {
		for _, probe := range w.lockdown.Probes {
			if !probe.Locked {
				w.logger.Error("lockdown probe failed", "probe", probe.Name, "detail", probe.Detail)
			}
		}
	}

	w.handle(ipc.TypeLoadTracks, w.handleLoadTracks)
	w.handle(ipc.TypeLoadAdditionalTrack, w.handleLoadAdditionalTrack)
	w.handle(ipc.TypeOpenProgress, w.handleOpenProgress)
	w.handle(ipc.TypeTerminationChannel, w.handleTerminationChannel)
	w.handle(ipc.TypeBuildPlaylist, w.handleBuild)
	w.handle(ipc.TypePruneTracks, w.handleBuild)
	w.handle(ipc.TypeSelfCheck, w.handleSelfCheck)
	return w
}

func (w *Worker) handle(requestType string, handler handlerFunc) {
	if _, exists := w.handlers[requestType]; exists {
		panic(fmt.Sprintf("worker: duplicate handler for %q", requestType))
	}
	w.handlers[requestType] = handler
}

// Locked reports whether the startup self-check passed.
func (w *Worker) Locked() bool { return w.lockdown.Passed }

// Serve accepts the host's knock on link and serves requests until the
// channel closes or ctx ends.
func (w *Worker) Serve(ctx context.Context, link *channel.Link) error {
	ch, err := channel.Listen(ctx, link, w.config.Channel)
	if err != nil {
		return err
	}
	w.logger.Info("worker ready", "locked", w.lockdown.Passed)
	return ch.Serve(ctx, w.dispatch)
}

func (w *Worker) dispatch(ctx context.Context, request channel.Request) (channel.Reply, error) {
	var body ipc.Request
	if err := request.Decode(&body); err != nil {
		return channel.Reply{}, fmt.Errorf("decoding request: %w", err)
	}
	handler, ok := w.handlers[body.Type]
	if !ok {
		w.logger.Warn("unknown request type", "type", body.Type)
		return channel.Reply{}, fmt.Errorf("invalid request type %q", body.Type)
	}
	w.logger.Debug("handling request", "type", body.Type)
	return handler(ctx, request, body)
}

func (w *Worker) handleLoadTracks(_ context.Context, _ channel.Request, body ipc.Request) (channel.Reply, error) {
	corpus, err := track.DecodeCorpus(body.Corpus)
	if err != nil {
		return channel.Reply{}, fmt.Errorf("loading tracks: %w", err)
	}
	count := w.runner.LoadCorpus(corpus)
	w.logger.Info("loaded tracks", "tracks", count, "bytes", len(body.Corpus))
	return channel.Reply{Body: ipc.Ack{OK: true, Tracks: count}}, nil
}

func (w *Worker) handleLoadAdditionalTrack(_ context.Context, _ channel.Request, body ipc.Request) (channel.Reply, error) {
	if body.Record == nil {
		return channel.Reply{}, errors.New("load-additional-track carries no record")
	}
	count, err := w.runner.AddTrack(*body.Record)
	if err != nil {
		return channel.Reply{}, fmt.Errorf("loading additional track: %w", err)
	}
	return channel.Reply{Body: ipc.Ack{OK: true, Tracks: count}}, nil
}

func (w *Worker) handleOpenProgress(_ context.Context, request channel.Request, _ ipc.Request) (channel.Reply, error) {
	if request.Interrupt == nil {
		return channel.Reply{}, errors.New("open-progress carries no interrupt port")
	}
	w.mu.Lock()
	w.progress = request.Interrupt
	w.mu.Unlock()
	return channel.Reply{Body: ipc.Ack{OK: true}}, nil
}

func (w *Worker) handleTerminationChannel(context.Context, channel.Request, ipc.Request) (channel.Reply, error) {
	return channel.Reply{
		Body: ipc.Ack{OK: true},
		Listen: func(raw codec.RawMessage) {
			var signal ipc.Signal
			if err := codec.Unmarshal(raw, &signal); err != nil {
				w.logger.Warn("malformed termination signal", "error", err)
				return
			}
			if signal.Type != ipc.SignalTerminate {
				w.logger.Warn("unknown termination signal", "type", signal.Type)
				return
			}
			w.logger.Info("terminating build")
			w.runner.Terminate()
		},
	}, nil
}

func (w *Worker) handleBuild(ctx context.Context, _ channel.Request, body ipc.Request) (channel.Reply, error) {
	if body.Build == nil {
		return channel.Reply{}, fmt.Errorf("%s carries no build parameters", body.Type)
	}
	build := *body.Build
	if !w.lockdown.Passed {
		return channel.Reply{Body: ipc.Result{
			Secret: build.Secret,
			Error:  ipc.Errorf(ipc.CodeLockdownFailed, "sandbox self-check failed; refusing to run scripts"),
		}}, nil
	}

	progress := w.reportProgress(build.Secret)
	var result ipc.Result
	if body.Type == ipc.TypePruneTracks {
		result = w.runner.Prune(ctx, build, progress)
	} else {
		result = w.runner.Build(ctx, build, progress)
	}
	return channel.Reply{Body: result}, nil
}

// reportProgress returns a progress function that sends on the port
// opened by the latest open-progress, or nil when none was opened.
func (w *Worker) reportProgress(secret []byte) runner.ProgressFunc {
	w.mu.Lock()
	sender := w.progress
	w.mu.Unlock()
	if sender == nil {
		return nil
	}
	return func(percent float64) {
		if err := sender.Send(ipc.Progress{Secret: secret, Percent: percent}); err != nil {
			w.logger.Debug("dropping progress update", "error", err)
		}
	}
}

func (w *Worker) handleSelfCheck(context.Context, channel.Request, ipc.Request) (channel.Reply, error) {
	return channel.Reply{Body: w.config.SelfCheck()}, nil
}
