// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

// eos builds playlists by running untrusted Starlark builder scripts
// against a track corpus, each script in a freshly started, locked-down
// worker process.
//
// Usage:
//
//	eos build [flags] [script.star]
//	eos prune [flags] <script.star>
//	eos corpus pack|inspect
//	eos builders
//	eos selfcheck
//	eos sandbox show-profile|dry-run
//	eos version
//
// "eos worker" is the sandbox side of a build. The host starts it; it
// is not meant to be run by hand.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/phosphorescence/eos/lib/config"
	"github.com/phosphorescence/eos/lib/process"
	"github.com/phosphorescence/eos/lib/version"
	"github.com/phosphorescence/eos/sandbox"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(process.ExitUsage)
	}

	level := slog.LevelInfo
	if os.Getenv("EOS_DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "build":
		err = buildCmd(args, logger)
	case "prune":
		err = pruneCmd(args, logger)
	case "corpus":
		err = corpusCmd(args)
	case "builders":
		err = buildersCmd(args)
	case "selfcheck":
		err = selfcheckCmd(args, logger)
	case "sandbox":
		err = sandboxCmd(args, logger)
	case "worker":
		err = workerCmd(args, level)
	case "version", "--version":
		fmt.Printf("eos %s\n", version.Full())
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", command)
		printUsage()
		os.Exit(process.ExitUsage)
	}

	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return
	}
	if code, ok := sandbox.IsExitError(err); ok {
		os.Exit(code)
	}
	var usage *usageError
	if errors.As(err, &usage) {
		process.FatalCode(err, process.ExitUsage)
	}
	process.Fatal(err)
}

func printUsage() {
	fmt.Fprint(os.Stderr, `eos - sandboxed playlist builder

USAGE
    eos <command> [flags]

COMMANDS
    build           Build a playlist from a builder script
    prune           Run a pruner script and print the surviving track ids
    corpus          Pack or inspect a track corpus blob
    builders        List the official and local builder scripts
    selfcheck       Verify the script lockdown and sandbox containment
    sandbox         Show the worker sandbox profile or its command line
    version         Show version information
    help            Show this help

ENVIRONMENT
    EOS_CONFIG      Path to eos.yaml (or use --config)
    EOS_DEBUG       Enable debug logging

Run "eos <command> --help" for the flags of a command.
`)
}

// usageError marks errors in how a command was invoked.
type usageError struct{ message string }

func (e *usageError) Error() string { return e.message }

func usagef(format string, args ...any) error {
	return &usageError{message: fmt.Sprintf(format, args...)}
}

// newFlagSet returns a flag set whose usage text leads with summary.
func newFlagSet(name, summary, usage string) *pflag.FlagSet {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.SortFlags = false
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "eos %s - %s\n\nUSAGE\n    eos %s\n\nFLAGS\n", name, summary, usage)
		flags.PrintDefaults()
	}
	return flags
}

// loadConfig reads the file named by --config, or EOS_CONFIG. With
// neither set, the built-in development defaults apply.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv("EOS_CONFIG") != "" {
		return config.Load()
	}
	return config.Default(), nil
}
