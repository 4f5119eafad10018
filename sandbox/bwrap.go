// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// BwrapOptions holds options for building a bwrap command.
type BwrapOptions struct {
	// Profile is the resolved and expanded profile to use.
	Profile *Profile

	// ExtraBinds are additional bind mounts in "source:dest[:mode]"
	// form.
	ExtraBinds []string

	// ExtraEnv are additional environment variables. They override
	// the profile's.
	ExtraEnv map[string]string

	// Command is the command to run inside the sandbox.
	Command []string
}

// BwrapBuilder builds bubblewrap command-line arguments.
type BwrapBuilder struct {
	args []string
	env  map[string]string
}

// NewBwrapBuilder creates a new builder.
func NewBwrapBuilder() *BwrapBuilder {
	return &BwrapBuilder{}
}

// Build constructs the bwrap arguments from options. The environment
// is always cleared; only the profile's and ExtraEnv's variables reach
// the command.
func (b *BwrapBuilder) Build(opts *BwrapOptions) ([]string, error) {
	if opts.Profile == nil {
		return nil, errors.New("profile is required")
	}
	if len(opts.Command) == 0 {
		return nil, errors.New("command is required")
	}

	b.args = []string{}
	b.env = make(map[string]string)

	b.addNamespaces(opts.Profile.Namespaces)
	b.addSecurity(opts.Profile.Security)
	b.args = append(b.args, "--proc", "/proc", "--dev", "/dev")

	if err := b.addProfileMounts(opts.Profile); err != nil {
		return nil, err
	}
	if err := b.addExtraBinds(opts.ExtraBinds); err != nil {
		return nil, err
	}

	for _, dir := range opts.Profile.CreateDirs {
		b.args = append(b.args, "--dir", dir)
	}

	b.args = append(b.args, "--clearenv")
	for key, value := range opts.Profile.Environment {
		b.env[key] = value
	}
	for key, value := range opts.ExtraEnv {
		b.env[key] = value
	}
	keys := make([]string, 0, len(b.env))
	for key := range b.env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		b.args = append(b.args, "--setenv", key, b.env[key])
	}

	b.args = append(b.args, "--")
	b.args = append(b.args, opts.Command...)
	return b.args, nil
}

func (b *BwrapBuilder) addNamespaces(ns NamespaceConfig) {
	if ns.PID {
		b.args = append(b.args, "--unshare-pid")
	}
	if ns.Net {
		b.args = append(b.args, "--unshare-net")
	}
	if ns.IPC {
		b.args = append(b.args, "--unshare-ipc")
	}
	if ns.UTS {
		b.args = append(b.args, "--unshare-uts")
	}
	if ns.Cgroup {
		b.args = append(b.args, "--unshare-cgroup")
	}
	if ns.User {
		b.args = append(b.args, "--unshare-user")
	}
}

// addSecurity adds hardening flags. bwrap always drops capabilities
// and sets PR_SET_NO_NEW_PRIVS, so NoNewPrivs needs no flag.
func (b *BwrapBuilder) addSecurity(sec SecurityConfig) {
	if sec.NewSession {
		b.args = append(b.args, "--new-session")
	}
	if sec.DieWithParent {
		b.args = append(b.args, "--die-with-parent")
	}
}

func (b *BwrapBuilder) addProfileMounts(profile *Profile) error {
	for _, mount := range profile.Filesystem {
		if strings.Contains(mount.Source, "${") || strings.Contains(mount.Dest, "${") {
			return fmt.Errorf("mount %q -> %q has an unexpanded variable", mount.Source, mount.Dest)
		}

		switch mount.Type {
		case MountTypeTmpfs:
			b.args = append(b.args, "--tmpfs", mount.Dest)

		case MountTypeProc:
			b.args = append(b.args, "--proc", mount.Dest)

		case MountTypeDev:
			b.args = append(b.args, "--dev", mount.Dest)

		case MountTypeDevBind:
			if mount.Optional && !exists(mount.Source) {
				continue
			}
			b.args = append(b.args, "--dev-bind", mount.Source, mount.Dest)

		default:
			if mount.Glob {
				matches, err := filepath.Glob(mount.Source)
				if err != nil {
					return fmt.Errorf("invalid glob pattern %q: %w", mount.Source, err)
				}
				for _, match := range matches {
					b.bind(match, filepath.Join(mount.Dest, filepath.Base(match)), mount.Mode)
				}
				continue
			}
			if mount.Optional && !exists(mount.Source) {
				continue
			}
			b.bind(mount.Source, mount.Dest, mount.Mode)
		}
	}
	return nil
}

func (b *BwrapBuilder) bind(source, dest, mode string) {
	if mode == MountModeRO {
		b.args = append(b.args, "--ro-bind", source, dest)
	} else {
		b.args = append(b.args, "--bind", source, dest)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (b *BwrapBuilder) addExtraBinds(binds []string) error {
	for _, spec := range binds {
		source, dest, mode, err := parseBindSpec(spec)
		if err != nil {
			return err
		}
		b.bind(source, dest, mode)
	}
	return nil
}

// parseBindSpec parses "source:dest[:mode]". Paths may not contain
// colons. The mode defaults to read-only.
func parseBindSpec(spec string) (source, dest, mode string, err error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return "", "", "", fmt.Errorf("invalid bind spec %q: must be source:dest[:mode]", spec)
	}
	mode = MountModeRO
	if len(parts) == 3 {
		if parts[2] != MountModeRO && parts[2] != MountModeRW {
			return "", "", "", fmt.Errorf("invalid bind mode %q: must be ro or rw", parts[2])
		}
		mode = parts[2]
	}
	return parts[0], parts[1], mode, nil
}

// BwrapPath returns the path to the bwrap executable.
func BwrapPath() (string, error) {
	for _, path := range []string{"/usr/bin/bwrap", "/usr/local/bin/bwrap", "/bin/bwrap"} {
		if exists(path) {
			return path, nil
		}
	}
	return "", errors.New("bwrap not found in standard locations")
}
