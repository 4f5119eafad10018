// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/phosphorescence/eos/lib/config"
	"github.com/phosphorescence/eos/lib/orchestrator"
	"github.com/phosphorescence/eos/lib/runner"
	"github.com/phosphorescence/eos/lib/track"
	"github.com/phosphorescence/eos/lib/worker"
	"github.com/phosphorescence/eos/sandbox"
)

// engineFlags are shared by the commands that run scripts.
type engineFlags struct {
	configPath string
	corpusPath string
	additional []string
	isolation  string
	maxSteps   uint64
}

func (f *engineFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&f.configPath, "config", "", "path to eos.yaml (default: $EOS_CONFIG)")
	flags.StringVar(&f.corpusPath, "corpus", "", "corpus blob (default: paths.corpus)")
	flags.StringArrayVar(&f.additional, "additional", nil, "extra track record file added for this run, repeatable")
	flags.StringVar(&f.isolation, "isolation", "", "override sandbox.isolation: process or inprocess")
	flags.Uint64Var(&f.maxSteps, "max-steps", 0, "override engine.max_execution_steps (0 keeps the configured value)")
}

// engine is an orchestrator with the configuration it was made from.
type engine struct {
	config       *config.Config
	orchestrator *orchestrator.Orchestrator
	additional   []track.Record
}

func (f *engineFlags) open(logger *slog.Logger) (*engine, error) {
	cfg, err := loadConfig(f.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if f.isolation != "" {
		cfg.Sandbox.Isolation = config.Isolation(f.isolation)
		if err := cfg.Validate(); err != nil {
			return nil, usagef("--isolation: %v", err)
		}
	}
	if f.maxSteps != 0 {
		cfg.Engine.MaxExecutionSteps = f.maxSteps
	}

	corpusPath := f.corpusPath
	if corpusPath == "" {
		corpusPath = cfg.Paths.Corpus
	}
	corpus, err := readCorpus(corpusPath)
	if err != nil {
		return nil, err
	}
	additional, err := readRecords(f.additional)
	if err != nil {
		return nil, err
	}

	spawner, err := newSpawner(cfg, logger)
	if err != nil {
		return nil, err
	}
	handshake, err := cfg.Engine.HandshakeTimeoutDuration()
	if err != nil {
		return nil, err
	}
	o, err := orchestrator.New(orchestrator.Config{
		Spawner:           spawner,
		Corpus:            corpus,
		HandshakeTimeout:  handshake,
		MaxScriptBytes:    cfg.Engine.MaxScriptBytes,
		MaxExecutionSteps: cfg.Engine.MaxExecutionSteps,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("corpus loaded", "path", corpusPath, "tracks", corpus.Len(), "additional", len(additional))
	return &engine{config: cfg, orchestrator: o, additional: additional}, nil
}

// newSpawner returns the spawner sandbox.isolation selects.
func newSpawner(cfg *config.Config, logger *slog.Logger) (orchestrator.Spawner, error) {
	interval, err := cfg.Engine.ProgressIntervalDuration()
	if err != nil {
		return nil, err
	}

	if cfg.Sandbox.Isolation == config.IsolationInProcess {
		logger.Warn("scripts run in-process: only the interpreter lockdown applies")
		return &orchestrator.InProcess{
			Worker: worker.Config{
				Runner: runner.Config{
					ProgressInterval:  interval,
					DefaultTrackCount: cfg.Engine.DefaultTrackCount,
				},
				Logger: logger.With("context", "sandbox"),
			},
			Logger: logger,
		}, nil
	}

	binary, err := cfg.WorkerPath()
	if err != nil {
		return nil, err
	}
	sandboxConfig, err := workerSandbox(cfg, binary, logger)
	if err != nil {
		return nil, err
	}
	var env []string
	if debug := os.Getenv("EOS_DEBUG"); debug != "" {
		env = append(env, "EOS_DEBUG="+debug)
	}
	return &orchestrator.Process{
		Binary:  binary,
		Sandbox: sandboxConfig,
		Args: []string{
			"--progress-interval", interval.String(),
			"--default-track-count", strconv.Itoa(cfg.Engine.DefaultTrackCount),
		},
		Env:    env,
		Logger: logger,
	}, nil
}

// workerSandbox resolves the configured profile for worker processes.
func workerSandbox(cfg *config.Config, binary string, logger *slog.Logger) (*sandbox.Config, error) {
	loader, err := sandbox.LoadProfiles(cfg.Sandbox.ProfilesFile, logger)
	if err != nil {
		return nil, fmt.Errorf("loading sandbox profiles: %w", err)
	}
	profile, err := loader.Resolve(cfg.Sandbox.Profile)
	if err != nil {
		return nil, err
	}
	noSystemd := cfg.Sandbox.Fallback.NoSystemd
	if profile.Resources.HasLimits() && !cfg.HasSystemd() {
		logger.Debug("systemd not running, resource limits follow the fallback policy", "policy", noSystemd)
	}
	return &sandbox.Config{
		Profile:   profile,
		Variables: sandbox.WorkerVariables(binary),
		NoBwrap:   cfg.Sandbox.Fallback.NoBwrap,
		NoSystemd: noSystemd,
		Logger:    logger,
	}, nil
}

func readCorpus(path string) (*track.Corpus, error) {
	if path == "" {
		return nil, usagef("no corpus: pass --corpus or set paths.corpus")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading corpus: %w", err)
	}
	corpus, err := track.DecodeCorpus(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return corpus, nil
}

func readRecords(paths []string) ([]track.Record, error) {
	records := make([]track.Record, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading additional track: %w", err)
		}
		record, err := track.DecodeRecord(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		records = append(records, record)
	}
	return records, nil
}
