// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	_ "embed"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// DefaultProfile is the profile applied to worker processes when the
// configuration names none.
const DefaultProfile = "eos-worker"

//go:embed profiles.yaml
var defaultProfilesYAML []byte

// ProfileLoader loads and resolves sandbox profiles.
type ProfileLoader struct {
	configs  []*ProfilesConfig
	resolved map[string]*Profile
	logger   *slog.Logger
}

// NewProfileLoader creates a new profile loader.
func NewProfileLoader() *ProfileLoader {
	return &ProfileLoader{
		resolved: make(map[string]*Profile),
	}
}

// SetLogger enables logging of which files are loaded and how
// inheritance resolves.
func (l *ProfileLoader) SetLogger(logger *slog.Logger) {
	l.logger = logger
}

func (l *ProfileLoader) log(msg string, args ...any) {
	if l.logger != nil {
		l.logger.Debug(msg, args...)
	}
}

// LoadDefaults loads the built-in profiles.
func (l *ProfileLoader) LoadDefaults() error {
	config, err := ParseProfilesConfig(defaultProfilesYAML)
	if err != nil {
		return fmt.Errorf("parsing built-in profiles: %w", err)
	}
	l.add(config)
	l.log("loaded built-in profiles", "count", len(config.Profiles))
	return nil
}

// LoadFile loads profiles from a YAML file. Profiles in later files
// replace same-named profiles from earlier ones.
func (l *ProfileLoader) LoadFile(path string) error {
	config, err := LoadProfilesConfig(path)
	if err != nil {
		return err
	}
	l.add(config)
	l.log("loaded profiles from file", "path", path, "count", len(config.Profiles))
	return nil
}

func (l *ProfileLoader) add(config *ProfilesConfig) {
	l.configs = append(l.configs, config)
	clear(l.resolved)
}

// Resolve resolves a profile by name, applying inheritance.
func (l *ProfileLoader) Resolve(name string) (*Profile, error) {
	return l.resolve(name, nil)
}

func (l *ProfileLoader) resolve(name string, chain []string) (*Profile, error) {
	if profile, ok := l.resolved[name]; ok {
		return profile, nil
	}
	if containsString(chain, name) {
		return nil, fmt.Errorf("profile inheritance cycle: %s -> %s", strings.Join(chain, " -> "), name)
	}

	var base *Profile
	for _, config := range l.configs {
		if profile, ok := config.Profiles[name]; ok {
			base = profile
		}
	}
	if base == nil {
		return nil, fmt.Errorf("profile not found: %s", name)
	}

	var profile *Profile
	if base.Inherit != "" {
		parent, err := l.resolve(base.Inherit, append(chain, name))
		if err != nil {
			return nil, fmt.Errorf("resolving parent of %q: %w", name, err)
		}
		profile = mergeProfiles(parent, base)
		l.log("merged profile", "name", name, "parent", base.Inherit)
	} else {
		profile = base.Clone()
	}

	l.resolved[name] = profile
	return profile, nil
}

// List returns all available profile names, sorted.
func (l *ProfileLoader) List() []string {
	names := make(map[string]bool)
	for _, config := range l.configs {
		for name := range config.Profiles {
			names[name] = true
		}
	}
	result := make([]string, 0, len(names))
	for name := range names {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// LoadProfiles returns a loader holding the built-in profiles, plus
// those in profilesFile when it is set. There is no search path: a
// profiles file is used only when the configuration names it.
func LoadProfiles(profilesFile string, logger *slog.Logger) (*ProfileLoader, error) {
	loader := NewProfileLoader()
	loader.SetLogger(logger)
	if err := loader.LoadDefaults(); err != nil {
		return nil, err
	}
	if profilesFile != "" {
		if err := loader.LoadFile(profilesFile); err != nil {
			return nil, err
		}
	}
	return loader, nil
}
