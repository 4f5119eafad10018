// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/phosphorescence/eos/lib/content"
	"github.com/phosphorescence/eos/lib/orchestrator"
	"github.com/phosphorescence/eos/lib/track"
)

// buildCmd implements "eos build".
func buildCmd(args []string, logger *slog.Logger) error {
	flags := newFlagSet("build", "Build a playlist from a builder script", "build [flags] [script.star]")
	var engineFlags engineFlags
	engineFlags.register(flags)
	builder := flags.String("builder", "", "official or local builder name, instead of a script file")
	trackCount := flags.Int("tracks", 0, "playlist length (default: engine.default_track_count)")
	pruners := flags.StringArray("pruner", nil, "pruner script or name run before the build, repeatable, in order")
	firstTrackBuilder := flags.String("first-track-builder", "", "script or name that picks the first track")
	firstTrack := flags.String("first-track", "", "pin the first track by id")
	only := flags.StringSlice("only", nil, "restrict the corpus to these track ids")
	seed := flags.Uint64("seed", 0, "seed for the script's random helpers (0 draws one)")
	jsonOutput := flags.Bool("json", false, "print the playlist as JSON")
	noProgress := flags.Bool("no-progress", false, "do not draw a progress bar")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if *firstTrack != "" && *firstTrackBuilder != "" {
		return usagef("--first-track and --first-track-builder are mutually exclusive")
	}
	if *trackCount < 0 {
		return usagef("--tracks must not be negative")
	}

	scriptRef := *builder
	switch {
	case *builder != "" && flags.NArg() > 0:
		return usagef("pass a script file or --builder, not both")
	case *builder == "" && flags.NArg() == 1:
		scriptRef = flags.Arg(0)
	case *builder == "":
		return usagef("build needs exactly one script (or --builder)")
	}

	e, err := engineFlags.open(logger)
	if err != nil {
		return err
	}
	buildersDir := e.config.Paths.Builders
	script, err := resolveScript(scriptRef, buildersDir)
	if err != nil {
		return err
	}

	params := orchestrator.BuildParams{
		Script:           script,
		TrackCount:       *trackCount,
		FirstTrack:       *firstTrack,
		PrunedIDs:        *only,
		AdditionalTracks: e.additional,
		Seed:             *seed,
	}
	for _, ref := range *pruners {
		pruner, err := resolveScript(ref, buildersDir)
		if err != nil {
			return err
		}
		params.Pruners = append(params.Pruners, pruner)
	}
	if *firstTrackBuilder != "" {
		firstTrackScript, err := resolveScript(*firstTrackBuilder, buildersDir)
		if err != nil {
			return err
		}
		params.FirstTrackBuilder = &firstTrackScript
	}

	bar := newProgressBar(script.Name, *noProgress)
	params.Progress = bar.callback()

	ctx, stop := interruptible(e.orchestrator, logger)
	defer stop()
	playlist, err := e.orchestrator.BuildPlaylist(ctx, params)
	bar.done()
	if err != nil {
		return err
	}

	logger.Info("playlist built",
		"script", script.Name,
		"digest", playlist.ScriptDigest,
		"tracks", len(playlist.Tracks),
		"seed", playlist.Seed,
	)
	if *jsonOutput {
		return writeJSON(os.Stdout, playlistJSON(playlist))
	}
	printPlaylist(os.Stdout, playlist.Tracks)
	return nil
}

// pruneCmd implements "eos prune".
func pruneCmd(args []string, logger *slog.Logger) error {
	flags := newFlagSet("prune", "Run a pruner and print the surviving track ids", "prune [flags] <script.star|name>")
	var engineFlags engineFlags
	engineFlags.register(flags)
	only := flags.StringSlice("only", nil, "restrict the corpus to these track ids")
	seed := flags.Uint64("seed", 0, "seed for the script's random helpers (0 draws one)")
	jsonOutput := flags.Bool("json", false, "print the result as JSON")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return usagef("prune needs exactly one script")
	}

	e, err := engineFlags.open(logger)
	if err != nil {
		return err
	}
	script, err := resolveScript(flags.Arg(0), e.config.Paths.Builders)
	if err != nil {
		return err
	}

	ctx, stop := interruptible(e.orchestrator, logger)
	defer stop()
	result, err := e.orchestrator.PruneTracks(ctx, orchestrator.PruneParams{
		Script:           script,
		PrunedIDs:        *only,
		AdditionalTracks: e.additional,
		Seed:             *seed,
	})
	if err != nil {
		return err
	}

	logger.Info("prune finished", "script", script.Name, "digest", result.ScriptDigest, "kept", len(result.PrunedTrackIDs))
	if *jsonOutput {
		return writeJSON(os.Stdout, map[string]any{
			"pruned_track_ids": result.PrunedTrackIDs,
			"dimensions":       result.Dimensions,
			"script_digest":    result.ScriptDigest,
			"seed":             result.Seed,
		})
	}
	for _, id := range result.PrunedTrackIDs {
		fmt.Println(id)
	}
	return nil
}

// resolveScript reads ref as a script file when it names one, and
// otherwise looks it up among the builders.
func resolveScript(ref, buildersDir string) (orchestrator.Script, error) {
	if strings.HasSuffix(ref, ".star") || strings.ContainsRune(ref, filepath.Separator) {
		source, err := os.ReadFile(ref)
		if err == nil {
			return orchestrator.Script{Name: filepath.Base(ref), Source: source}, nil
		}
		if !os.IsNotExist(err) {
			return orchestrator.Script{}, fmt.Errorf("reading script: %w", err)
		}
	}
	builder, err := content.Find(ref, buildersDir)
	if err != nil {
		return orchestrator.Script{}, err
	}
	return orchestrator.Script{Name: builder.Name + ".star", Source: builder.Source}, nil
}

// interruptible returns a context for one build. The first SIGINT or
// SIGTERM terminates the active build; a second abandons it.
func interruptible(o *orchestrator.Orchestrator, logger *slog.Logger) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			logger.Info("terminating build")
			o.TerminateActiveBuild()
		case <-ctx.Done():
			return
		}
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(signals)
		cancel()
	}
}

type trackJSON struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Artists []string `json:"artists"`
	URI     string   `json:"uri,omitempty"`
}

func playlistJSON(playlist *orchestrator.Playlist) any {
	tracks := make([]trackJSON, 0, len(playlist.Tracks))
	for _, record := range playlist.Tracks {
		tracks = append(tracks, trackJSON{
			ID:      record.ID(),
			Name:    record.Track.Name,
			Artists: artistNames(record),
			URI:     record.Track.URI,
		})
	}
	return map[string]any{
		"tracks":        tracks,
		"dimensions":    playlist.Dimensions,
		"script_digest": playlist.ScriptDigest,
		"seed":          playlist.Seed,
	}
}

func printPlaylist(w io.Writer, tracks []track.Record) {
	for i, record := range tracks {
		fmt.Fprintf(w, "%3d. %s - %s (%s)\n", i+1, record.Track.Name, strings.Join(artistNames(record), ", "), record.ID())
	}
}

func artistNames(record track.Record) []string {
	names := make([]string, 0, len(record.Track.Artists))
	for _, artist := range record.Track.Artists {
		names = append(names, artist.Name)
	}
	return names
}

func writeJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
