// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"slices"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Fallback policies for missing isolation tooling.
const (
	FallbackSkip  = "skip"
	FallbackWarn  = "warn"
	FallbackError = "error"
)

// ErrUnavailable is returned when isolation tooling is missing and the
// fallback policy is FallbackError.
var ErrUnavailable = errors.New("sandbox unavailable")

// Sandbox wraps worker commands in bubblewrap and, when the profile
// sets limits, a systemd scope.
type Sandbox struct {
	profile    *Profile
	variables  Variables
	scopeName  string
	extraBinds []string
	extraEnv   map[string]string
	noBwrap    string
	noSystemd  string
	caps       *Capabilities
	logger     *slog.Logger
}

// Config holds configuration for creating a new Sandbox.
type Config struct {
	// Profile is the resolved, unexpanded profile.
	Profile *Profile

	// Variables expand ${VAR} references in the profile. See
	// WorkerVariables.
	Variables Variables

	// ScopeName is the systemd unit name for resource tracking.
	ScopeName string

	// ExtraBinds are additional bind mounts (source:dest[:mode]).
	ExtraBinds []string

	// ExtraEnv are additional environment variables.
	ExtraEnv map[string]string

	// NoBwrap and NoSystemd are the fallback policies ("skip",
	// "warn", "error") for missing bwrap and missing systemd-run.
	// Empty means "error" for bwrap and "skip" for systemd.
	NoBwrap   string
	NoSystemd string

	// Capabilities describes the host. Nil detects on first use.
	Capabilities *Capabilities

	Logger *slog.Logger
}

// New creates a new Sandbox.
func New(config Config) (*Sandbox, error) {
	if config.Profile == nil {
		return nil, errors.New("profile is required")
	}
	if config.NoBwrap == "" {
		config.NoBwrap = FallbackError
	}
	if config.NoSystemd == "" {
		config.NoSystemd = FallbackSkip
	}
	for _, policy := range []string{config.NoBwrap, config.NoSystemd} {
		switch policy {
		case FallbackSkip, FallbackWarn, FallbackError:
		default:
			return nil, fmt.Errorf("invalid fallback policy %q (must be skip, warn, or error)", policy)
		}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sandbox{
		profile:    config.Profile,
		variables:  config.Variables,
		scopeName:  config.ScopeName,
		extraBinds: config.ExtraBinds,
		extraEnv:   config.ExtraEnv,
		noBwrap:    config.NoBwrap,
		noSystemd:  config.NoSystemd,
		caps:       config.Capabilities,
		logger:     logger,
	}, nil
}

// Profile returns the sandbox's profile.
func (s *Sandbox) Profile() *Profile {
	return s.profile
}

func (s *Sandbox) capabilities() *Capabilities {
	if s.caps == nil {
		s.caps = DetectCapabilities()
	}
	return s.caps
}

// Wrap returns the full argv that runs command under the profile,
// applying the fallback policies when tooling is missing. The second
// result reports whether bwrap isolation is in effect.
func (s *Sandbox) Wrap(command []string) ([]string, bool, error) {
	if len(command) == 0 {
		return nil, false, errors.New("command is required")
	}
	caps := s.capabilities()
	profile := s.variables.ExpandProfile(s.profile)

	full := command
	isolated := false
	if caps.CanRunSandbox() {
		args, err := NewBwrapBuilder().Build(&BwrapOptions{
			Profile:    profile,
			ExtraBinds: s.extraBinds,
			ExtraEnv:   s.extraEnv,
			Command:    command,
		})
		if err != nil {
			return nil, false, fmt.Errorf("building bwrap command: %w", err)
		}
		full = append([]string{caps.BwrapPath}, args...)
		isolated = true
	} else if err := s.fallback(s.noBwrap, "running worker without bwrap isolation", caps.SkipReason()); err != nil {
		return nil, false, err
	}

	if profile.Resources.HasLimits() {
		if caps.CanLimitResources() {
			full = NewSystemdScope(s.scopeName, profile.Resources).WrapCommand(full)
		} else if err := s.fallback(s.noSystemd, "resource limits will not be enforced", "systemd user scopes unavailable"); err != nil {
			return nil, false, err
		}
	}

	return full, isolated, nil
}

func (s *Sandbox) fallback(policy, consequence, reason string) error {
	switch policy {
	case FallbackError:
		return fmt.Errorf("%w: %s", ErrUnavailable, reason)
	case FallbackWarn:
		s.logger.Warn(consequence, "reason", reason, "profile", s.profile.Name)
	}
	return nil
}

// Command returns an exec.Cmd running command under the sandbox. The
// process leads its own process group; cancelling ctx kills the whole
// group.
func (s *Sandbox) Command(ctx context.Context, command []string) (*exec.Cmd, bool, error) {
	full, isolated, err := s.Wrap(command)
	if err != nil {
		return nil, false, err
	}

	cmd := exec.CommandContext(ctx, full[0], full[1:]...)

	// An unset Env inherits ours, and the bwrap process's
	// /proc/<pid>/environ is readable from inside the sandbox.
	cmd.Env = []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"TERM=" + os.Getenv("TERM"),
	}
	if !isolated {
		for _, key := range slices.Sorted(maps.Keys(s.extraEnv)) {
			cmd.Env = append(cmd.Env, key+"="+s.extraEnv[key])
		}
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return KillGroup(cmd) }
	cmd.WaitDelay = 5 * time.Second
	return cmd, isolated, nil
}

// DryRun returns the argv Command would run, without starting it.
func (s *Sandbox) DryRun(command []string) ([]string, error) {
	full, _, err := s.Wrap(command)
	return full, err
}

// KillGroup sends SIGKILL to the process group led by cmd.
func KillGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}

// ExitError reports a worker process that exited non-zero.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("worker exited with code %d", e.Code)
}

// IsExitError checks if an error is an ExitError and returns the code.
func IsExitError(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}
