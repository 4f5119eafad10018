// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// SystemdScope wraps a command in a transient systemd scope so the
// profile's resource limits apply to the whole worker process tree.
type SystemdScope struct {
	// Name is the unit name, e.g. "eos-worker-3f2a".
	Name string

	Resources ResourceConfig

	// User runs the scope in the user manager (--user).
	User bool
}

// NewSystemdScope creates a user scope wrapper.
func NewSystemdScope(name string, resources ResourceConfig) *SystemdScope {
	return &SystemdScope{
		Name:      name,
		Resources: resources,
		User:      true,
	}
}

// SystemdRunAvailable reports whether systemd-run is on PATH.
func SystemdRunAvailable() bool {
	_, err := exec.LookPath("systemd-run")
	return err == nil
}

// WrapCommand prefixes cmd with systemd-run. A scope with no limits
// returns cmd unchanged. Availability is the caller's concern.
func (s *SystemdScope) WrapCommand(cmd []string) []string {
	if !s.Resources.HasLimits() {
		return cmd
	}

	args := []string{"systemd-run"}
	if s.User {
		args = append(args, "--user")
	}
	args = append(args, "--scope", "--quiet", "--collect")
	if s.Name != "" {
		args = append(args, "--unit="+s.Name)
	}

	if s.Resources.TasksMax > 0 {
		args = append(args, fmt.Sprintf("--property=TasksMax=%d", s.Resources.TasksMax))
	}
	if s.Resources.MemoryMax != "" {
		args = append(args, "--property=MemoryMax="+s.Resources.MemoryMax)
	}
	if s.Resources.CPUQuota != "" {
		args = append(args, "--property=CPUQuota="+s.Resources.CPUQuota)
	}
	if s.Resources.CPUWeight > 0 {
		args = append(args, fmt.Sprintf("--property=CPUWeight=%d", s.Resources.CPUWeight))
	}

	args = append(args, "--")
	return append(args, cmd...)
}

// ParseMemoryLimit parses a memory limit such as "2G" or "512M" into
// bytes. Empty and "infinity" mean unlimited and return 0.
func ParseMemoryLimit(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "infinity" {
		return 0, nil
	}

	multipliers := map[byte]uint64{
		'K': 1 << 10,
		'M': 1 << 20,
		'G': 1 << 30,
		'T': 1 << 40,
	}
	number := s
	var multiplier uint64 = 1
	if m, ok := multipliers[s[len(s)-1]]; ok {
		multiplier = m
		number = s[:len(s)-1]
	}
	value, err := strconv.ParseUint(number, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid memory limit %q", s)
	}
	return value * multiplier, nil
}

// ParseCPUQuota parses a CPU quota such as "200%" into a percentage.
// Empty and "infinity" mean unlimited and return 0.
func ParseCPUQuota(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "infinity" {
		return 0, nil
	}
	value, err := strconv.Atoi(strings.TrimSuffix(s, "%"))
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid CPU quota %q", s)
	}
	return value, nil
}
