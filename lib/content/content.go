// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

// Package content provides the official playlist builders and pruners,
// embedded at compile time, and loads additional ones from a builders
// directory. Builders are Starlark scripts; see lib/capability for the
// surface they run against.
//
// Scripts are parsed here, never run: listing a directory of builders
// must not execute untrusted code on the host.
package content

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/phosphorescence/eos/lib/binhash"
	"github.com/phosphorescence/eos/lib/capability"
)

//go:embed builders/*.star
var builderFiles embed.FS

// Kind is what a script is for.
type Kind string

const (
	// KindBuilder scripts select tracks: they define get_first_track
	// or get_next_track.
	KindBuilder Kind = "builder"

	// KindPruner scripts only narrow the corpus: they define prune
	// and no selection hook.
	KindPruner Kind = "pruner"
)

// ErrNotFound is returned by Find for an unknown name.
var ErrNotFound = errors.New("builder not found")

// Builder is one script with its metadata.
type Builder struct {
	// Name is the filename without the .star extension.
	Name string

	Kind Kind

	// Title is the first line of the script's leading comment.
	Title string

	// Hooks lists the hooks the script defines.
	Hooks []string

	Source []byte

	// Digest is the short BLAKE3 digest of Source.
	Digest string

	// Path is the file the script was loaded from, or empty for an
	// embedded builder.
	Path string
}

// Embedded reports whether the builder ships with eos.
func (b Builder) Embedded() bool { return b.Path == "" }

// Builders returns the embedded builders sorted by name. An error
// means the embedded content is broken, which is a build bug.
func Builders() ([]Builder, error) {
	entries, err := builderFiles.ReadDir("builders")
	if err != nil {
		return nil, fmt.Errorf("reading embedded builders: %w", err)
	}
	var builders []Builder
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".star" {
			continue
		}
		source, err := builderFiles.ReadFile("builders/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading embedded builder %s: %w", entry.Name(), err)
		}
		builder, err := Parse(entry.Name(), source)
		if err != nil {
			return nil, fmt.Errorf("embedded builder: %w", err)
		}
		builders = append(builders, builder)
	}
	return builders, nil
}

// LoadDir returns the .star scripts in dir sorted by name. A missing
// dir yields no builders.
func LoadDir(dir string) ([]Builder, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading builders directory: %w", err)
	}
	var builders []Builder
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".star" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		source, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		builder, err := Parse(entry.Name(), source)
		if err != nil {
			return nil, err
		}
		builder.Path = path
		builders = append(builders, builder)
	}
	return builders, nil
}

// All returns the embedded builders and those in dir. A builder in dir
// replaces an embedded one of the same name.
func All(dir string) ([]Builder, error) {
	embedded, err := Builders()
	if err != nil {
		return nil, err
	}
	local, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]Builder, len(embedded)+len(local))
	for _, builder := range embedded {
		byName[builder.Name] = builder
	}
	for _, builder := range local {
		byName[builder.Name] = builder
	}
	all := make([]Builder, 0, len(byName))
	for _, builder := range byName {
		all = append(all, builder)
	}
	slices.SortFunc(all, func(a, b Builder) int { return strings.Compare(a.Name, b.Name) })
	return all, nil
}

// Find returns the builder called name from All(dir).
func Find(name, dir string) (Builder, error) {
	name = strings.TrimSuffix(name, ".star")
	all, err := All(dir)
	if err != nil {
		return Builder{}, err
	}
	for _, builder := range all {
		if builder.Name == name {
			return builder, nil
		}
	}
	return Builder{}, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Parse describes one script. filename is used for the name and in
// syntax errors.
func Parse(filename string, source []byte) (Builder, error) {
	hooks, err := capability.Hooks(filename, source)
	if err != nil {
		return Builder{}, fmt.Errorf("parsing %s: %w", filename, err)
	}
	kind := KindBuilder
	if slices.Contains(hooks, capability.HookPrune) &&
		!slices.Contains(hooks, capability.HookFirstTrack) &&
		!slices.Contains(hooks, capability.HookNextTrack) {
		kind = KindPruner
	}
	if len(hooks) == 0 {
		return Builder{}, fmt.Errorf("%s defines no hooks", filename)
	}
	return Builder{
		Name:   strings.TrimSuffix(filepath.Base(filename), ".star"),
		Kind:   kind,
		Title:  title(source),
		Hooks:  hooks,
		Source: source,
		Digest: binhash.Script(source).Short(),
	}, nil
}

// title returns the first line of the leading comment block.
func title(source []byte) string {
	for _, line := range strings.Split(string(source), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "#") {
			return ""
		}
		if text := strings.TrimSpace(strings.TrimLeft(line, "#")); text != "" {
			return text
		}
	}
	return ""
}
