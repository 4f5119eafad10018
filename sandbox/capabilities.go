// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"os"
	"os/exec"
	"strings"
)

// Capabilities describes which isolation tools this host offers.
type Capabilities struct {
	BwrapAvailable bool
	BwrapPath      string
	BwrapVersion   string

	// UserNamespacesEnabled is true if unprivileged user namespaces
	// work, which bwrap needs when it is not setuid.
	UserNamespacesEnabled bool

	SystemdRunAvailable bool

	// SystemdUserScopesWork is true if a transient user scope could
	// actually be created.
	SystemdUserScopesWork bool
}

// DetectCapabilities probes the host. It runs bwrap and systemd-run,
// so callers should detect once and reuse the result.
func DetectCapabilities() *Capabilities {
	caps := &Capabilities{}

	if path, err := BwrapPath(); err == nil {
		caps.BwrapAvailable = true
		caps.BwrapPath = path
		if out, err := exec.Command(path, "--version").Output(); err == nil {
			caps.BwrapVersion = strings.TrimSpace(string(out))
		}
		caps.UserNamespacesEnabled = checkUserNamespaces(path)
	}

	if SystemdRunAvailable() {
		caps.SystemdRunAvailable = true
		if exec.Command("systemd-run", "--user", "--scope", "--quiet", "--", "true").Run() == nil {
			caps.SystemdUserScopesWork = true
		}
	}

	return caps
}

// CanRunSandbox returns true if bwrap can start a sandbox here.
func (c *Capabilities) CanRunSandbox() bool {
	return c.BwrapAvailable && c.UserNamespacesEnabled
}

// CanLimitResources returns true if resource limits can be applied.
func (c *Capabilities) CanLimitResources() bool {
	return c.SystemdRunAvailable && c.SystemdUserScopesWork
}

func checkUserNamespaces(bwrap string) bool {
	data, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone")
	if err == nil && strings.TrimSpace(string(data)) == "0" {
		return false
	}
	return exec.Command(bwrap, "--unshare-user", "--ro-bind", "/", "/", "--", "true").Run() == nil
}

// SkipReason returns why sandboxing is unavailable, or "" if it is
// available.
func (c *Capabilities) SkipReason() string {
	if !c.BwrapAvailable {
		return "bubblewrap not installed"
	}
	if !c.UserNamespacesEnabled {
		return "unprivileged user namespaces not enabled (set kernel.unprivileged_userns_clone=1)"
	}
	return ""
}
