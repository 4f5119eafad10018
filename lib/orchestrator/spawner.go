// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/phosphorescence/eos/lib/channel"
	"github.com/phosphorescence/eos/lib/worker"
	"github.com/phosphorescence/eos/sandbox"
)

// teardownTimeout bounds how long Destroy waits for a worker to exit
// after it has been killed.
const teardownTimeout = 5 * time.Second

// Instance is one running worker: an execution context that serves
// exactly one channel.
type Instance interface {
	// Link is the host's end of the byte stream to the worker.
	Link() *channel.Link

	// Destroy kills the worker and releases the link. It is safe to
	// call more than once.
	Destroy() error
}

// Spawner starts workers.
type Spawner interface {
	Spawn(ctx context.Context) (Instance, error)
}

// InProcess serves a worker.Worker on a goroutine, connected by an
// in-memory pipe. Scripts run in the host's address space, so this is
// for development and tests only.
type InProcess struct {
	Worker worker.Config
	Logger *slog.Logger
}

// Spawn implements Spawner.
func (s *InProcess) Spawn(ctx context.Context) (Instance, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hostConn, workerConn := net.Pipe()
	instance := &inProcessInstance{
		link:       channel.NewLink(hostConn, logger),
		workerLink: channel.NewLink(workerConn, logger),
		served:     make(chan error, 1),
		logger:     logger,
	}

	// The worker outlives the spawn request; Destroy ends it.
	serveCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	instance.cancel = cancel
	w := worker.New(s.Worker)
	go func() { instance.served <- w.Serve(serveCtx, instance.workerLink) }()
	return instance, nil
}

type inProcessInstance struct {
	link       *channel.Link
	workerLink *channel.Link
	cancel     context.CancelFunc
	served     chan error
	logger     *slog.Logger
	once       sync.Once
}

func (i *inProcessInstance) Link() *channel.Link { return i.link }

func (i *inProcessInstance) Destroy() error {
	i.once.Do(func() {
		i.cancel()
		i.link.Close()
		i.workerLink.Close()
		select {
		case err := <-i.served:
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, channel.ErrChannelClosed) {
				i.logger.Debug("in-process worker stopped", "error", err)
			}
		case <-time.After(teardownTimeout):
			i.logger.Warn("in-process worker did not stop", "timeout", teardownTimeout)
		}
	})
	return nil
}

// Process starts `<Binary> worker` as a child process, wrapped by the
// sandbox when one is configured. The channel runs over the child's
// stdin and stdout; its stderr carries JSON log lines that are relayed
// into Logger.
type Process struct {
	// Binary is the eos executable.
	Binary string

	// Sandbox is the resolved sandbox configuration. Each spawn gets
	// its own systemd scope name. Nil runs the worker unwrapped.
	Sandbox *sandbox.Config

	// Args follow "worker" on the command line.
	Args []string

	// Env is added to the worker's environment, inside the sandbox
	// when there is one.
	Env []string

	Logger *slog.Logger

	spawned atomic.Uint64
}

// Spawn implements Spawner.
func (p *Process) Spawn(ctx context.Context) (Instance, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if p.Binary == "" {
		return nil, errors.New("worker binary not configured")
	}
	sequence := p.spawned.Add(1)
	scope := fmt.Sprintf("eos-worker-%d-%d", os.Getpid(), sequence)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cmd, isolated, err := p.command(runCtx, scope, logger)
	if err != nil {
		cancel()
		return nil, err
	}

	// The child's ends are handed over and closed here after Start,
	// so Wait never races the link for our ends.
	stdinRead, stdinWrite, err := os.Pipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdoutRead, stdoutWrite, err := os.Pipe()
	if err != nil {
		cancel()
		closeAll(stdinRead, stdinWrite)
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderrRead, stderrWrite, err := os.Pipe()
	if err != nil {
		cancel()
		closeAll(stdinRead, stdinWrite, stdoutRead, stdoutWrite)
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	cmd.Stdin = stdinRead
	cmd.Stdout = stdoutWrite
	cmd.Stderr = stderrWrite

	if err := cmd.Start(); err != nil {
		cancel()
		closeAll(stdinRead, stdinWrite, stdoutRead, stdoutWrite, stderrRead, stderrWrite)
		return nil, fmt.Errorf("starting worker: %w", err)
	}
	closeAll(stdinRead, stdoutWrite, stderrWrite)

	workerLogger := logger.With("context", "sandbox", "pid", cmd.Process.Pid)
	logger.Debug("worker started", "pid", cmd.Process.Pid, "isolated", isolated, "scope", scope)

	instance := &processInstance{
		cmd:    cmd,
		cancel: cancel,
		link:   channel.NewLink(&pipeConn{reader: stdoutRead, writer: stdinWrite}, logger),
		exited: make(chan struct{}),
		logger: logger,
	}
	relayed := make(chan struct{})
	go func() {
		defer close(relayed)
		relayLogs(stderrRead, workerLogger)
		stderrRead.Close()
	}()
	go instance.reap(relayed)
	return instance, nil
}

func (p *Process) command(ctx context.Context, scope string, logger *slog.Logger) (*exec.Cmd, bool, error) {
	argv := append([]string{p.Binary, "worker"}, p.Args...)
	if p.Sandbox == nil {
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Env = append([]string{"PATH=/usr/local/bin:/usr/bin:/bin"}, p.Env...)
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		cmd.Cancel = func() error { return sandbox.KillGroup(cmd) }
		cmd.WaitDelay = teardownTimeout
		return cmd, false, nil
	}

	config := *p.Sandbox
	config.ScopeName = scope
	if len(p.Env) > 0 {
		config.ExtraEnv = maps.Clone(config.ExtraEnv)
		if config.ExtraEnv == nil {
			config.ExtraEnv = make(map[string]string, len(p.Env))
		}
		for _, entry := range p.Env {
			key, value, _ := strings.Cut(entry, "=")
			config.ExtraEnv[key] = value
		}
	}
	if config.Logger == nil {
		config.Logger = logger
	}
	sb, err := sandbox.New(config)
	if err != nil {
		return nil, false, err
	}
	return sb.Command(ctx, argv)
}

type processInstance struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	link   *channel.Link
	logger *slog.Logger

	exited    chan struct{}
	exitErr   error
	destroyed atomic.Bool
	once      sync.Once
}

func (i *processInstance) Link() *channel.Link { return i.link }

// reap waits for the worker to exit. A worker that dies on its own
// takes the link down with it.
func (i *processInstance) reap(relayed <-chan struct{}) {
	err := i.cmd.Wait()
	<-relayed
	if err != nil && !i.destroyed.Load() {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			err = &sandbox.ExitError{Code: exitErr.ExitCode()}
		}
		i.logger.Warn("worker exited", "pid", i.cmd.Process.Pid, "error", err)
		i.exitErr = err
	}
	i.link.Close()
	close(i.exited)
}

func (i *processInstance) Destroy() error {
	i.once.Do(func() {
		i.destroyed.Store(true)
		i.link.Close()
		i.cancel()
		select {
		case <-i.exited:
		case <-time.After(2 * teardownTimeout):
			i.logger.Error("worker did not exit after kill", "pid", i.cmd.Process.Pid)
		}
	})
	select {
	case <-i.exited:
		return i.exitErr
	default:
		return nil
	}
}

// pipeConn joins the worker's stdout and stdin into one stream.
type pipeConn struct {
	reader *os.File
	writer *os.File
}

func (c *pipeConn) Read(p []byte) (int, error)  { return c.reader.Read(p) }
func (c *pipeConn) Write(p []byte) (int, error) { return c.writer.Write(p) }

func (c *pipeConn) Close() error {
	return errors.Join(c.writer.Close(), c.reader.Close())
}

func closeAll(files ...*os.File) {
	for _, file := range files {
		file.Close()
	}
}
