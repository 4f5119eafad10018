// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/phosphorescence/eos/lib/capability"
	"github.com/phosphorescence/eos/lib/channel"
	"github.com/phosphorescence/eos/lib/ipc"
	"github.com/phosphorescence/eos/lib/process"
	"github.com/phosphorescence/eos/lib/runner"
	"github.com/phosphorescence/eos/lib/worker"
	"github.com/phosphorescence/eos/sandbox"
)

// workerCmd implements "eos worker": one execution context serving one
// host over stdin and stdout. Logs go to stderr as JSON for the host to
// relay.
func workerCmd(args []string, level slog.Level) error {
	flags := newFlagSet("worker", "Serve one build host over stdin/stdout", "worker [flags]")
	progressInterval := flags.Duration("progress-interval", 100*time.Millisecond, "minimum time between progress updates")
	defaultTrackCount := flags.Int("default-track-count", 20, "playlist length when a build does not name one")
	isolated := flags.Bool("isolated", os.Getenv("EOS_SANDBOX") == "1", "also run the sandbox containment checks")
	if err := flags.Parse(args); err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	w := worker.New(worker.Config{
		Runner: runner.Config{
			ProgressInterval:  *progressInterval,
			DefaultTrackCount: *defaultTrackCount,
		},
		Logger:    logger,
		SelfCheck: selfCheck(ctx, *isolated),
	})
	link := channel.NewLink(stdio{}, logger)
	err := w.Serve(ctx, link)
	if err != nil && !errors.Is(err, channel.ErrChannelClosed) && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", "error", err)
		return &sandbox.ExitError{Code: process.ExitFailure}
	}
	return nil
}

// selfCheck returns the lockdown probe: the interpreter self-check,
// plus the containment checks when running inside the sandbox.
func selfCheck(ctx context.Context, isolated bool) func() ipc.SelfCheckReport {
	return func() ipc.SelfCheckReport {
		report := capability.New(capability.Options{}).SelfCheck()
		if !isolated {
			return report
		}
		for _, probe := range sandbox.RunContainmentChecks(ctx, sandbox.ContainmentChecks) {
			report.Probes = append(report.Probes, probe)
			if !probe.Locked {
				report.Passed = false
			}
		}
		return report
	}
}

// selfcheckCmd implements "eos selfcheck".
func selfcheckCmd(args []string, logger *slog.Logger) error {
	flags := newFlagSet("selfcheck", "Verify the script lockdown and sandbox containment", "selfcheck [flags]")
	isolated := flags.Bool("isolated", os.Getenv("EOS_SANDBOX") == "1", "also run the sandbox containment checks")
	capabilities := flags.Bool("capabilities", false, "also report which isolation tools this host offers")
	if err := flags.Parse(args); err != nil {
		return err
	}

	report := selfCheck(context.Background(), *isolated)()
	printReport(os.Stdout, report)
	if *capabilities {
		printCapabilities(os.Stdout, sandbox.DetectCapabilities())
	}
	if !report.Passed {
		logger.Error("self-check failed")
		return &sandbox.ExitError{Code: process.ExitLockdownFailed}
	}
	return nil
}

func printReport(w io.Writer, report ipc.SelfCheckReport) {
	table := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, probe := range report.Probes {
		status := "locked"
		if !probe.Locked {
			status = "OPEN"
		}
		fmt.Fprintf(table, "%s\t%s\t%s\n", probe.Name, status, probe.Detail)
	}
	table.Flush()
	if report.Passed {
		fmt.Fprintf(w, "\n%d probes, all locked\n", len(report.Probes))
	} else {
		fmt.Fprintf(w, "\nself-check FAILED\n")
	}
}

func printCapabilities(w io.Writer, caps *sandbox.Capabilities) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "bwrap:           %v %s\n", caps.BwrapAvailable, caps.BwrapVersion)
	fmt.Fprintf(w, "user namespaces: %v\n", caps.UserNamespacesEnabled)
	fmt.Fprintf(w, "systemd-run:     %v (user scopes: %v)\n", caps.SystemdRunAvailable, caps.SystemdUserScopesWork)
	if reason := caps.SkipReason(); reason != "" {
		fmt.Fprintf(w, "workers will run without bubblewrap: %s\n", reason)
	}
}

// stdio joins the process's stdin and stdout into the worker's end of
// the link.
type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }

func (stdio) Close() error {
	return errors.Join(os.Stdout.Close(), os.Stdin.Close())
}
