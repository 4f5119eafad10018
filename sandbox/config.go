// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile defines the isolation applied to one kind of worker process.
type Profile struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Inherit     string            `yaml:"inherit,omitempty"`
	Filesystem  []Mount           `yaml:"filesystem,omitempty"`
	Namespaces  NamespaceConfig   `yaml:"namespaces,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`
	Resources   ResourceConfig    `yaml:"resources,omitempty"`
	Security    SecurityConfig    `yaml:"security,omitempty"`
	CreateDirs  []string          `yaml:"create_dirs,omitempty"`
}

// Mount defines a filesystem mount in the sandbox.
type Mount struct {
	Source   string `yaml:"source,omitempty"`
	Dest     string `yaml:"dest"`
	Mode     string `yaml:"mode,omitempty"`
	Type     string `yaml:"type,omitempty"`
	Optional bool   `yaml:"optional,omitempty"`
	Glob     bool   `yaml:"glob,omitempty"`
}

// MountType constants for the Type field.
const (
	MountTypeBind    = ""         // Default: bind mount
	MountTypeTmpfs   = "tmpfs"    // tmpfs mount
	MountTypeProc    = "proc"     // /proc
	MountTypeDev     = "dev"      // /dev (minimal)
	MountTypeDevBind = "dev-bind" // Device node bind
)

// MountMode constants for the Mode field.
const (
	MountModeRO = "ro"
	MountModeRW = "rw"
)

// NamespaceConfig defines which namespaces to unshare.
type NamespaceConfig struct {
	PID    bool `yaml:"pid"`
	Net    bool `yaml:"net"`
	IPC    bool `yaml:"ipc"`
	UTS    bool `yaml:"uts"`
	Cgroup bool `yaml:"cgroup"`
	User   bool `yaml:"user"`
}

// ResourceConfig defines resource limits applied through a systemd
// scope around the worker.
type ResourceConfig struct {
	TasksMax  int    `yaml:"tasks_max,omitempty"`
	MemoryMax string `yaml:"memory_max,omitempty"`
	CPUQuota  string `yaml:"cpu_quota,omitempty"`

	// CPUWeight is the cgroup v2 cpu.weight value (1-10000). Zero
	// leaves the cgroup default.
	CPUWeight int `yaml:"cpu_weight,omitempty"`
}

// HasLimits returns true if any resource limits are configured.
func (r ResourceConfig) HasLimits() bool {
	return r.TasksMax > 0 || r.MemoryMax != "" || r.CPUQuota != "" || r.CPUWeight > 0
}

// SecurityConfig defines process-level hardening flags.
type SecurityConfig struct {
	NewSession    bool `yaml:"new_session"`
	DieWithParent bool `yaml:"die_with_parent"`
	NoNewPrivs    bool `yaml:"no_new_privs"`
}

// ProfilesConfig is the top level of a profiles YAML file.
type ProfilesConfig struct {
	Profiles map[string]*Profile `yaml:"profiles"`
}

// ParseProfilesConfig parses a profiles file. Each profile's Name is
// set from its key; a Name written in the file is ignored.
func ParseProfilesConfig(data []byte) (*ProfilesConfig, error) {
	var config ProfilesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing profiles: %w", err)
	}
	for name, profile := range config.Profiles {
		if profile == nil {
			return nil, fmt.Errorf("profile %q is empty", name)
		}
		profile.Name = name
		if err := profile.Validate(); err != nil {
			return nil, err
		}
	}
	return &config, nil
}

// LoadProfilesConfig reads and parses a profiles file.
func LoadProfilesConfig(path string) (*ProfilesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profiles file: %w", err)
	}
	config, err := ParseProfilesConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// Clone creates a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	clone := &Profile{
		Name:        p.Name,
		Description: p.Description,
		Inherit:     p.Inherit,
		Namespaces:  p.Namespaces,
		Resources:   p.Resources,
		Security:    p.Security,
	}
	if p.Filesystem != nil {
		clone.Filesystem = append([]Mount(nil), p.Filesystem...)
	}
	if p.CreateDirs != nil {
		clone.CreateDirs = append([]string(nil), p.CreateDirs...)
	}
	if p.Environment != nil {
		clone.Environment = make(map[string]string, len(p.Environment))
		for k, v := range p.Environment {
			clone.Environment[k] = v
		}
	}
	return clone
}

// mergeProfiles applies child on top of parent. A child mount replaces
// the parent mount with the same dest in place; new mounts are
// appended in the child's order.
func mergeProfiles(parent, child *Profile) *Profile {
	result := parent.Clone()
	result.Name = child.Name
	result.Inherit = ""

	if child.Description != "" {
		result.Description = child.Description
	}

	for _, mount := range child.Filesystem {
		replaced := false
		for i := range result.Filesystem {
			if result.Filesystem[i].Dest == mount.Dest {
				result.Filesystem[i] = mount
				replaced = true
				break
			}
		}
		if !replaced {
			result.Filesystem = append(result.Filesystem, mount)
		}
	}

	if child.Namespaces != (NamespaceConfig{}) {
		result.Namespaces = child.Namespaces
	}

	if len(child.Environment) > 0 {
		if result.Environment == nil {
			result.Environment = make(map[string]string)
		}
		for k, v := range child.Environment {
			result.Environment[k] = v
		}
	}

	if child.Resources.TasksMax != 0 {
		result.Resources.TasksMax = child.Resources.TasksMax
	}
	if child.Resources.MemoryMax != "" {
		result.Resources.MemoryMax = child.Resources.MemoryMax
	}
	if child.Resources.CPUQuota != "" {
		result.Resources.CPUQuota = child.Resources.CPUQuota
	}
	if child.Resources.CPUWeight != 0 {
		result.Resources.CPUWeight = child.Resources.CPUWeight
	}

	if child.Security != (SecurityConfig{}) {
		result.Security = child.Security
	}

	for _, dir := range child.CreateDirs {
		if !containsString(result.CreateDirs, dir) {
			result.CreateDirs = append(result.CreateDirs, dir)
		}
	}

	return result
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// Variables holds the values substituted for ${VAR} in profiles.
type Variables map[string]string

var variablePattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Expand expands ${VAR} references. Names missing from v fall back to
// the environment; names missing from both are left as written.
func (v Variables) Expand(s string) string {
	return variablePattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if value, ok := v[name]; ok {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return match
	})
}

// ExpandProfile returns a copy of p with every path, environment
// value, and created directory expanded.
func (v Variables) ExpandProfile(p *Profile) *Profile {
	result := p.Clone()
	for i := range result.Filesystem {
		result.Filesystem[i].Source = v.Expand(result.Filesystem[i].Source)
		result.Filesystem[i].Dest = v.Expand(result.Filesystem[i].Dest)
	}
	for key, value := range result.Environment {
		result.Environment[key] = v.Expand(value)
	}
	for i := range result.CreateDirs {
		result.CreateDirs[i] = v.Expand(result.CreateDirs[i])
	}
	return result
}

// WorkerVariables returns the variables available to profiles when
// wrapping the worker binary at workerPath.
func WorkerVariables(workerPath string) Variables {
	root := os.Getenv("EOS_ROOT")
	if root == "" {
		root = os.ExpandEnv("$HOME/.local/share/eos")
	}
	return Variables{
		"EOS_ROOT":      root,
		"WORKER_BINARY": workerPath,
		"WORKER_DIR":    filepath.Dir(workerPath),
		"TERM":          os.Getenv("TERM"),
	}
}

// Validate checks that a profile is well formed.
func (p *Profile) Validate() error {
	var problems []string

	for i, m := range p.Filesystem {
		if m.Dest == "" {
			problems = append(problems, fmt.Sprintf("filesystem[%d]: dest is required", i))
		}
		switch m.Type {
		case MountTypeBind, MountTypeDevBind:
			if m.Source == "" {
				problems = append(problems, fmt.Sprintf("filesystem[%d]: source is required for bind mounts", i))
			}
		case MountTypeTmpfs, MountTypeProc, MountTypeDev:
		default:
			problems = append(problems, fmt.Sprintf("filesystem[%d]: unknown mount type %q", i, m.Type))
		}
		if m.Mode != "" && m.Mode != MountModeRO && m.Mode != MountModeRW {
			problems = append(problems, fmt.Sprintf("filesystem[%d]: invalid mode %q (must be ro or rw)", i, m.Mode))
		}
	}

	if p.Resources.TasksMax < 0 {
		problems = append(problems, "resources.tasks_max must be >= 0")
	}
	if p.Resources.CPUWeight < 0 || p.Resources.CPUWeight > 10000 {
		problems = append(problems, "resources.cpu_weight must be between 0 and 10000")
	}
	if _, err := ParseMemoryLimit(p.Resources.MemoryMax); err != nil {
		problems = append(problems, "resources.memory_max: "+err.Error())
	}
	if _, err := ParseCPUQuota(p.Resources.CPUQuota); err != nil {
		problems = append(problems, "resources.cpu_quota: "+err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("profile %q validation failed:\n  %s", p.Name, strings.Join(problems, "\n  "))
	}
	return nil
}
