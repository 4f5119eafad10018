// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func TestBwrapBuilder(t *testing.T) {
	existing := t.TempDir()
	profile := &Profile{
		Name: "test",
		Filesystem: []Mount{
			{Source: existing, Dest: "/data", Mode: "ro"},
			{Source: "/nonexistent/optional", Dest: "/opt/missing", Mode: "ro", Optional: true},
			{Dest: "/tmp", Type: MountTypeTmpfs},
		},
		Namespaces: NamespaceConfig{PID: true, Net: true, IPC: true, Cgroup: true},
		Security:   SecurityConfig{NewSession: true, DieWithParent: true},
		Environment: map[string]string{
			"PATH": "/usr/bin",
			"HOME": "/tmp",
		},
		CreateDirs: []string{"/var/tmp"},
	}

	args, err := NewBwrapBuilder().Build(&BwrapOptions{
		Profile:  profile,
		ExtraEnv: map[string]string{"HOME": "/override", "EOS_DEBUG": "1"},
		Command:  []string{"/usr/bin/eos", "worker", "--isolated"},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	argStr := strings.Join(args, " ")

	for _, want := range []string{
		"--unshare-pid", "--unshare-net", "--unshare-ipc", "--unshare-cgroup",
		"--new-session", "--die-with-parent",
		"--proc /proc", "--dev /dev",
		"--ro-bind " + existing + " /data",
		"--tmpfs /tmp",
		"--dir /var/tmp",
		"--clearenv",
	} {
		if !strings.Contains(argStr, want) {
			t.Errorf("args missing %q: %s", want, argStr)
		}
	}
	for _, unwanted := range []string{"--unshare-uts", "/opt/missing"} {
		if strings.Contains(argStr, unwanted) {
			t.Errorf("args contain %q: %s", unwanted, argStr)
		}
	}

	// Environment is sorted and ExtraEnv wins.
	if !strings.Contains(argStr, "--setenv EOS_DEBUG 1 --setenv HOME /override --setenv PATH /usr/bin") {
		t.Errorf("environment not sorted or not overridden: %s", argStr)
	}

	separator := slices.Index(args, "--")
	if separator < 0 || !slices.Equal(args[separator+1:], []string{"/usr/bin/eos", "worker", "--isolated"}) {
		t.Errorf("command not after the separator: %v", args)
	}
}

func TestBwrapBuilderGlob(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.so", "b.so", "c.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	profile := &Profile{Filesystem: []Mount{{Source: filepath.Join(dir, "*.so"), Dest: "/lib/extra", Mode: "ro", Glob: true}}}

	args, err := NewBwrapBuilder().Build(&BwrapOptions{Profile: profile, Command: []string{"true"}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	argStr := strings.Join(args, " ")
	for _, want := range []string{
		"--ro-bind " + filepath.Join(dir, "a.so") + " /lib/extra/a.so",
		"--ro-bind " + filepath.Join(dir, "b.so") + " /lib/extra/b.so",
	} {
		if !strings.Contains(argStr, want) {
			t.Errorf("args missing %q", want)
		}
	}
	if strings.Contains(argStr, "c.txt") {
		t.Errorf("glob matched c.txt: %s", argStr)
	}
}

func TestBwrapBuilderExtraBinds(t *testing.T) {
	args, err := NewBwrapBuilder().Build(&BwrapOptions{
		Profile:    &Profile{Name: "test"},
		ExtraBinds: []string{"/srv/corpus:/corpus", "/srv/out:/out:rw"},
		Command:    []string{"true"},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	argStr := strings.Join(args, " ")
	if !strings.Contains(argStr, "--ro-bind /srv/corpus /corpus") {
		t.Error("extra bind without a mode is not read-only")
	}
	if !strings.Contains(argStr, "--bind /srv/out /out") {
		t.Error("missing rw extra bind")
	}
}

func TestBwrapBuilderValidation(t *testing.T) {
	tests := []struct {
		name string
		opts BwrapOptions
	}{
		{"no profile", BwrapOptions{Command: []string{"true"}}},
		{"no command", BwrapOptions{Profile: &Profile{}}},
		{"unexpanded variable", BwrapOptions{
			Profile: &Profile{Filesystem: []Mount{{Source: "${WORKER_BINARY}", Dest: "${WORKER_BINARY}", Mode: "ro"}}},
			Command: []string{"true"},
		}},
		{"bad extra bind", BwrapOptions{Profile: &Profile{}, ExtraBinds: []string{"/only-source"}, Command: []string{"true"}}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := NewBwrapBuilder().Build(&test.opts); err == nil {
				t.Fatal("Build succeeded")
			}
		})
	}
}

func TestParseBindSpec(t *testing.T) {
	tests := []struct {
		spec               string
		source, dest, mode string
		wantErr            bool
	}{
		{spec: "/a:/b", source: "/a", dest: "/b", mode: "ro"},
		{spec: "/a:/b:ro", source: "/a", dest: "/b", mode: "ro"},
		{spec: "/a:/b:rw", source: "/a", dest: "/b", mode: "rw"},
		{spec: "/a:/b:rx", wantErr: true},
		{spec: "/a", wantErr: true},
		{spec: ":/b", wantErr: true},
		{spec: "/a:/b:ro:extra", wantErr: true},
	}
	for _, test := range tests {
		source, dest, mode, err := parseBindSpec(test.spec)
		if test.wantErr {
			if err == nil {
				t.Errorf("parseBindSpec(%q) succeeded", test.spec)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseBindSpec(%q): %v", test.spec, err)
			continue
		}
		if source != test.source || dest != test.dest || mode != test.mode {
			t.Errorf("parseBindSpec(%q) = %q, %q, %q", test.spec, source, dest, mode)
		}
	}
}
