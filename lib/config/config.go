// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Isolation selects how a sandbox execution context is created.
type Isolation string

const (
	// IsolationProcess re-executes the eos binary as `eos worker`,
	// wrapped in bubblewrap when available.
	IsolationProcess Isolation = "process"

	// IsolationInProcess runs the worker on a goroutine connected by an
	// in-memory pipe. Only the interpreter lockdown applies; for tests
	// and trusted scripts.
	IsolationInProcess Isolation = "inprocess"
)

// Config is the master configuration.
type Config struct {
	Environment Environment   `yaml:"environment"`
	Paths       PathsConfig   `yaml:"paths"`
	Engine      EngineConfig  `yaml:"engine"`
	Sandbox     SandboxConfig `yaml:"sandbox"`

	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Paths   *PathsConfig   `yaml:"paths,omitempty"`
	Engine  *EngineConfig  `yaml:"engine,omitempty"`
	Sandbox *SandboxConfig `yaml:"sandbox,omitempty"`
}

// PathsConfig configures file locations.
type PathsConfig struct {
	// Root is the base directory for eos data.
	Root string `yaml:"root"`

	// Corpus is the default track corpus blob used when a command is
	// not given one explicitly.
	Corpus string `yaml:"corpus"`

	// Builders is an optional directory of additional .star builder
	// scripts, listed alongside the embedded official builders.
	Builders string `yaml:"builders"`
}

// EngineConfig configures build execution.
type EngineConfig struct {
	// HandshakeTimeout bounds the wait for a fresh sandbox context to
	// complete the channel handshake. Default: 10s
	HandshakeTimeout string `yaml:"handshake_timeout"`

	// ProgressInterval is the minimum time between progress updates
	// sent by the runner. Default: 100ms
	ProgressInterval string `yaml:"progress_interval"`

	// DefaultTrackCount is the playlist length when a request does not
	// name one. Default: 20
	DefaultTrackCount int `yaml:"default_track_count"`

	// MaxScriptBytes rejects larger scripts before a context is
	// started. Default: 1 MiB
	MaxScriptBytes int `yaml:"max_script_bytes"`

	// MaxExecutionSteps caps the Starlark step counter per build. Zero
	// means unlimited: only explicit cancellation stops a script.
	MaxExecutionSteps uint64 `yaml:"max_execution_steps"`
}

// SandboxConfig configures execution context isolation.
type SandboxConfig struct {
	// Isolation is "process" or "inprocess". Default: process
	Isolation Isolation `yaml:"isolation"`

	// Profile is the sandbox profile applied to worker processes.
	// Default: eos-worker
	Profile string `yaml:"profile"`

	// ProfilesFile overrides the embedded sandbox profiles.
	ProfilesFile string `yaml:"profiles_file"`

	// WorkerBinary is the executable started as `<binary> worker`.
	// Empty means the running executable.
	WorkerBinary string `yaml:"worker_binary"`

	// Fallback configures behavior when sandbox tooling is missing.
	Fallback FallbackConfig `yaml:"fallback"`
}

// FallbackConfig configures graceful degradation. Values: "skip",
// "warn", "error".
type FallbackConfig struct {
	// NoBwrap applies when bubblewrap is not installed.
	// Default: warn (development), error (production)
	NoBwrap string `yaml:"no_bwrap"`

	// NoSystemd applies when resource limits need systemd-run but
	// systemd is not running. Default: skip
	NoSystemd string `yaml:"no_systemd"`
}

// Default returns a usable development configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "share", "eos")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:     defaultRoot,
			Corpus:   filepath.Join(defaultRoot, "corpus.cbor.zst"),
			Builders: filepath.Join(defaultRoot, "builders"),
		},
		Engine: EngineConfig{
			HandshakeTimeout:  "10s",
			ProgressInterval:  "100ms",
			DefaultTrackCount: 20,
			MaxScriptBytes:    1 << 20,
		},
		Sandbox: SandboxConfig{
			Isolation: IsolationProcess,
			Profile:   "eos-worker",
			Fallback: FallbackConfig{
				NoBwrap:   "warn",
				NoSystemd: "skip",
			},
		},
	}
}

// Load loads configuration from the file named by EOS_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv("EOS_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("EOS_CONFIG environment variable not set; " +
			"set it to the path of your eos.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path, applies the matching
// environment overrides, expands path variables, and validates.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &ConfigOverrides{
				Engine: &EngineConfig{
					MaxExecutionSteps: 50_000_000,
				},
				Sandbox: &SandboxConfig{
					Isolation: IsolationProcess,
					Fallback:  FallbackConfig{NoBwrap: "error"},
				},
			}
		}
	}

	if overrides == nil {
		return
	}

	if paths := overrides.Paths; paths != nil {
		overrideString(&c.Paths.Root, paths.Root)
		overrideString(&c.Paths.Corpus, paths.Corpus)
		overrideString(&c.Paths.Builders, paths.Builders)
	}

	if engine := overrides.Engine; engine != nil {
		overrideString(&c.Engine.HandshakeTimeout, engine.HandshakeTimeout)
		overrideString(&c.Engine.ProgressInterval, engine.ProgressInterval)
		if engine.DefaultTrackCount != 0 {
			c.Engine.DefaultTrackCount = engine.DefaultTrackCount
		}
		if engine.MaxScriptBytes != 0 {
			c.Engine.MaxScriptBytes = engine.MaxScriptBytes
		}
		if engine.MaxExecutionSteps != 0 {
			c.Engine.MaxExecutionSteps = engine.MaxExecutionSteps
		}
	}

	if sandbox := overrides.Sandbox; sandbox != nil {
		if sandbox.Isolation != "" {
			c.Sandbox.Isolation = sandbox.Isolation
		}
		overrideString(&c.Sandbox.Profile, sandbox.Profile)
		overrideString(&c.Sandbox.ProfilesFile, sandbox.ProfilesFile)
		overrideString(&c.Sandbox.WorkerBinary, sandbox.WorkerBinary)
		overrideString(&c.Sandbox.Fallback.NoBwrap, sandbox.Fallback.NoBwrap)
		overrideString(&c.Sandbox.Fallback.NoSystemd, sandbox.Fallback.NoSystemd)
	}
}

func overrideString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"EOS_ROOT": c.Paths.Root,
		"HOME":     os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["EOS_ROOT"] = c.Paths.Root

	c.Paths.Corpus = expandVars(c.Paths.Corpus, vars)
	c.Paths.Builders = expandVars(c.Paths.Builders, vars)
	c.Sandbox.ProfilesFile = expandVars(c.Sandbox.ProfilesFile, vars)
	c.Sandbox.WorkerBinary = expandVars(c.Sandbox.WorkerBinary, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}, consulting vars before
// the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if !slices.Contains([]Environment{Development, Staging, Production}, c.Environment) {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if _, err := c.Engine.HandshakeTimeoutDuration(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Engine.ProgressIntervalDuration(); err != nil {
		errs = append(errs, err)
	}
	if c.Engine.DefaultTrackCount <= 0 {
		errs = append(errs, fmt.Errorf("engine.default_track_count must be positive, got %d", c.Engine.DefaultTrackCount))
	}
	if c.Engine.MaxScriptBytes <= 0 {
		errs = append(errs, fmt.Errorf("engine.max_script_bytes must be positive, got %d", c.Engine.MaxScriptBytes))
	}
	if c.Sandbox.Isolation != IsolationProcess && c.Sandbox.Isolation != IsolationInProcess {
		errs = append(errs, fmt.Errorf("sandbox.isolation must be %q or %q, got %q",
			IsolationProcess, IsolationInProcess, c.Sandbox.Isolation))
	}
	if c.Sandbox.Profile == "" {
		errs = append(errs, fmt.Errorf("sandbox.profile is required"))
	}

	fallbackValues := []string{"skip", "warn", "error"}
	if !slices.Contains(fallbackValues, c.Sandbox.Fallback.NoBwrap) {
		errs = append(errs, fmt.Errorf("sandbox.fallback.no_bwrap must be one of: %v", fallbackValues))
	}
	if !slices.Contains(fallbackValues, c.Sandbox.Fallback.NoSystemd) {
		errs = append(errs, fmt.Errorf("sandbox.fallback.no_systemd must be one of: %v", fallbackValues))
	}

	return errors.Join(errs...)
}

// HandshakeTimeoutDuration parses HandshakeTimeout.
func (e EngineConfig) HandshakeTimeoutDuration() (time.Duration, error) {
	return parsePositiveDuration("engine.handshake_timeout", e.HandshakeTimeout)
}

// ProgressIntervalDuration parses ProgressInterval. Zero disables
// throttling.
func (e EngineConfig) ProgressIntervalDuration() (time.Duration, error) {
	duration, err := time.ParseDuration(e.ProgressInterval)
	if err != nil {
		return 0, fmt.Errorf("engine.progress_interval: %w", err)
	}
	if duration < 0 {
		return 0, fmt.Errorf("engine.progress_interval must not be negative, got %s", e.ProgressInterval)
	}
	return duration, nil
}

func parsePositiveDuration(field, value string) (time.Duration, error) {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", field, value)
	}
	return duration, nil
}

// HasSystemd reports whether systemd is running on this system.
func (c *Config) HasSystemd() bool {
	_, err := os.Stat("/run/systemd/system")
	return err == nil
}

// WorkerPath returns the executable started for sandbox workers:
// Sandbox.WorkerBinary when set (resolved through PATH if it has no
// slash), otherwise the running executable.
func (c *Config) WorkerPath() (string, error) {
	if c.Sandbox.WorkerBinary == "" {
		return os.Executable()
	}
	path, err := exec.LookPath(c.Sandbox.WorkerBinary)
	if err != nil {
		return "", fmt.Errorf("sandbox.worker_binary: %w", err)
	}
	return filepath.Abs(path)
}
