// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"slices"
	"testing"
)

func TestSystemdScopeWrapCommand(t *testing.T) {
	scope := NewSystemdScope("eos-worker-test", ResourceConfig{
		TasksMax:  16,
		MemoryMax: "512M",
		CPUQuota:  "50%",
		CPUWeight: 20,
	})
	got := scope.WrapCommand([]string{"bwrap", "--", "eos", "worker"})
	want := []string{
		"systemd-run", "--user", "--scope", "--quiet", "--collect",
		"--unit=eos-worker-test",
		"--property=TasksMax=16",
		"--property=MemoryMax=512M",
		"--property=CPUQuota=50%",
		"--property=CPUWeight=20",
		"--", "bwrap", "--", "eos", "worker",
	}
	if !slices.Equal(got, want) {
		t.Fatalf("WrapCommand =\n  %v\nwant\n  %v", got, want)
	}
}

func TestSystemdScopeWithoutLimits(t *testing.T) {
	command := []string{"eos", "worker"}
	if got := NewSystemdScope("x", ResourceConfig{}).WrapCommand(command); !slices.Equal(got, command) {
		t.Fatalf("WrapCommand = %v, want the command unchanged", got)
	}
}

func TestParseMemoryLimit(t *testing.T) {
	tests := []struct {
		input   string
		want    uint64
		wantErr bool
	}{
		{"", 0, false},
		{"infinity", 0, false},
		{"1024", 1024, false},
		{"4K", 4 << 10, false},
		{"512M", 512 << 20, false},
		{"2G", 2 << 30, false},
		{"1T", 1 << 40, false},
		{" 8M ", 8 << 20, false},
		{"lots", 0, true},
		{"G", 0, true},
		{"-1G", 0, true},
	}
	for _, test := range tests {
		got, err := ParseMemoryLimit(test.input)
		if (err != nil) != test.wantErr {
			t.Errorf("ParseMemoryLimit(%q) error = %v, wantErr %v", test.input, err, test.wantErr)
			continue
		}
		if got != test.want {
			t.Errorf("ParseMemoryLimit(%q) = %d, want %d", test.input, got, test.want)
		}
	}
}

func TestParseCPUQuota(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{"", 0, false},
		{"infinity", 0, false},
		{"100%", 100, false},
		{"250%", 250, false},
		{"75", 75, false},
		{"fast", 0, true},
		{"-5%", 0, true},
	}
	for _, test := range tests {
		got, err := ParseCPUQuota(test.input)
		if (err != nil) != test.wantErr {
			t.Errorf("ParseCPUQuota(%q) error = %v, wantErr %v", test.input, err, test.wantErr)
			continue
		}
		if got != test.want {
			t.Errorf("ParseCPUQuota(%q) = %d, want %d", test.input, got, test.want)
		}
	}
}
