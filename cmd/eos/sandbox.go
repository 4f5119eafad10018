// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/phosphorescence/eos/sandbox"
)

// sandboxCmd implements "eos sandbox".
func sandboxCmd(args []string, logger *slog.Logger) error {
	if len(args) == 0 {
		return usagef("sandbox needs a subcommand: list-profiles, show-profile, or dry-run")
	}
	switch args[0] {
	case "list-profiles":
		return listProfilesCmd(args[1:], logger)
	case "show-profile":
		return showProfileCmd(args[1:], logger)
	case "dry-run":
		return dryRunCmd(args[1:], logger)
	}
	return usagef("unknown sandbox subcommand %q", args[0])
}

func listProfilesCmd(args []string, logger *slog.Logger) error {
	flags := newFlagSet("sandbox list-profiles", "List sandbox profiles", "sandbox list-profiles [flags]")
	configPath := flags.String("config", "", "path to eos.yaml (default: $EOS_CONFIG)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	loader, err := sandbox.LoadProfiles(cfg.Sandbox.ProfilesFile, logger)
	if err != nil {
		return fmt.Errorf("loading profiles: %w", err)
	}

	fmt.Println("Available profiles:")
	for _, name := range loader.List() {
		profile, err := loader.Resolve(name)
		if err != nil {
			fmt.Printf("  %s (error: %v)\n", name, err)
			continue
		}
		marker := " "
		if name == cfg.Sandbox.Profile {
			marker = "*"
		}
		fmt.Printf("%s %s - %s\n", marker, name, profile.Description)
	}
	return nil
}

func showProfileCmd(args []string, logger *slog.Logger) error {
	flags := newFlagSet("sandbox show-profile", "Show a resolved sandbox profile", "sandbox show-profile [flags] [name]")
	configPath := flags.String("config", "", "path to eos.yaml (default: $EOS_CONFIG)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	name := cfg.Sandbox.Profile
	if flags.NArg() > 0 {
		name = flags.Arg(0)
	}
	loader, err := sandbox.LoadProfiles(cfg.Sandbox.ProfilesFile, logger)
	if err != nil {
		return fmt.Errorf("loading profiles: %w", err)
	}
	profile, err := loader.Resolve(name)
	if err != nil {
		return err
	}
	printProfile(os.Stdout, profile)
	return nil
}

func printProfile(w io.Writer, profile *sandbox.Profile) {
	fmt.Fprintf(w, "Profile: %s\n", profile.Name)
	fmt.Fprintf(w, "Description: %s\n", profile.Description)
	if profile.Inherit != "" {
		fmt.Fprintf(w, "Inherits: %s\n", profile.Inherit)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Namespaces:")
	fmt.Fprintf(w, "  PID: %v\n", profile.Namespaces.PID)
	fmt.Fprintf(w, "  Net: %v\n", profile.Namespaces.Net)
	fmt.Fprintf(w, "  IPC: %v\n", profile.Namespaces.IPC)
	fmt.Fprintf(w, "  UTS: %v\n", profile.Namespaces.UTS)
	fmt.Fprintf(w, "  Cgroup: %v\n", profile.Namespaces.Cgroup)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Security:")
	fmt.Fprintf(w, "  New Session: %v\n", profile.Security.NewSession)
	fmt.Fprintf(w, "  Die With Parent: %v\n", profile.Security.DieWithParent)
	fmt.Fprintf(w, "  No New Privs: %v\n", profile.Security.NoNewPrivs)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Resources:")
	fmt.Fprintf(w, "  Tasks Max: %s\n", orUnlimited(profile.Resources.TasksMax > 0, fmt.Sprint(profile.Resources.TasksMax)))
	fmt.Fprintf(w, "  Memory Max: %s\n", orUnlimited(profile.Resources.MemoryMax != "", profile.Resources.MemoryMax))
	fmt.Fprintf(w, "  CPU Quota: %s\n", orUnlimited(profile.Resources.CPUQuota != "", profile.Resources.CPUQuota))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Filesystem:")
	for _, mount := range profile.Filesystem {
		switch {
		case mount.Type != "":
			fmt.Fprintf(w, "  %s (%s)\n", mount.Dest, mount.Type)
		default:
			optional := ""
			if mount.Optional {
				optional = " [optional]"
			}
			fmt.Fprintf(w, "  %s -> %s (%s)%s\n", mount.Source, mount.Dest, mount.Mode, optional)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Environment:")
	for _, key := range slices.Sorted(maps.Keys(profile.Environment)) {
		fmt.Fprintf(w, "  %s=%s\n", key, profile.Environment[key])
	}
}

func orUnlimited(set bool, value string) string {
	if !set {
		return "unlimited"
	}
	return value
}

// dryRunCmd prints the command line a worker would be started with.
func dryRunCmd(args []string, logger *slog.Logger) error {
	flags := newFlagSet("sandbox dry-run", "Print the worker's sandboxed command line", "sandbox dry-run [flags]")
	configPath := flags.String("config", "", "path to eos.yaml (default: $EOS_CONFIG)")
	scope := flags.String("name", "eos-worker-dry-run", "systemd scope name")
	if err := flags.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	binary, err := cfg.WorkerPath()
	if err != nil {
		return err
	}
	config, err := workerSandbox(cfg, binary, logger)
	if err != nil {
		return err
	}
	config.ScopeName = *scope
	sb, err := sandbox.New(*config)
	if err != nil {
		return err
	}
	full, err := sb.DryRun([]string{binary, "worker"})
	if err != nil {
		return err
	}
	fmt.Println(strings.Join(full, " \\\n  "))
	return nil
}
