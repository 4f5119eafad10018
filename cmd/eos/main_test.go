// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/phosphorescence/eos/lib/content"
	"github.com/phosphorescence/eos/lib/ipc"
	"github.com/phosphorescence/eos/lib/testutil"
	"github.com/phosphorescence/eos/lib/track"
	"github.com/phosphorescence/eos/lib/track/tracktest"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// captureStdout runs fn with os.Stdout redirected and returns what it
// wrote.
func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()
	reader, writer, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	saved := os.Stdout
	os.Stdout = writer
	collected := make(chan string)
	go func() {
		data, _ := io.ReadAll(reader)
		collected <- string(data)
	}()

	runErr := fn()
	os.Stdout = saved
	writer.Close()
	output := <-collected
	reader.Close()
	return output, runErr
}

func writeCorpus(t *testing.T, corpus *track.Corpus, encoding track.Encoding, compression track.Compression) string {
	t.Helper()
	blob, err := track.EncodeCorpus(corpus, encoding, compression)
	if err != nil {
		t.Fatalf("EncodeCorpus: %v", err)
	}
	return testutil.WriteFile(t, "corpus.blob", blob)
}

func TestResolveScript(t *testing.T) {
	t.Parallel()

	path := testutil.WriteFile(t, "local.star", []byte("def get_first_track(ctx):\n    return None\n"))
	script, err := resolveScript(path, "")
	if err != nil {
		t.Fatalf("resolveScript(file): %v", err)
	}
	if script.Name != "local.star" || !strings.Contains(string(script.Source), "get_first_track") {
		t.Errorf("file script = %+v", script)
	}

	script, err = resolveScript("randomwalk", "")
	if err != nil {
		t.Fatalf("resolveScript(name): %v", err)
	}
	if script.Name != "randomwalk.star" || len(script.Source) == 0 {
		t.Errorf("builder script = %+v", script)
	}

	if _, err := resolveScript("no-such-builder", ""); !errors.Is(err, content.ErrNotFound) {
		t.Errorf("unknown builder error = %v, want ErrNotFound", err)
	}
	if _, err := resolveScript(filepath.Join(t.TempDir(), "missing.star"), ""); !errors.Is(err, content.ErrNotFound) {
		t.Errorf("missing file error = %v, want ErrNotFound", err)
	}
}

func TestCorpusPackAndInspect(t *testing.T) {
	input := writeCorpus(t, tracktest.Grid(3), track.EncodingJSON, track.CompressionNone)
	extra, err := json.Marshal(tracktest.Record("x1", "Extra", "Someone", 0.5, 0.5))
	if err != nil {
		t.Fatal(err)
	}
	record := testutil.WriteFile(t, "extra.json", extra)
	output := filepath.Join(t.TempDir(), "packed.cbor.gz")

	if err := corpusPackCmd([]string{"--compression", "gzip", "-o", output, input, record}); err != nil {
		t.Fatalf("corpus pack: %v", err)
	}

	var report bytes.Buffer
	if err := corpusInspectCmd([]string{output}, &report); err != nil {
		t.Fatalf("corpus inspect: %v", err)
	}
	for _, want := range []string{"Compression:  gzip", "Encoding:     cbor", "Tracks:       10", "Tags:         10", "Duplicates:   0"} {
		if !strings.Contains(report.String(), want) {
			t.Errorf("inspect output missing %q:\n%s", want, report.String())
		}
	}
}

func TestCorpusPackRejectsBadFlags(t *testing.T) {
	t.Parallel()

	input := writeCorpus(t, tracktest.Grid(2), track.EncodingCBOR, track.CompressionNone)
	output := filepath.Join(t.TempDir(), "out")
	tests := []struct {
		name string
		args []string
	}{
		{"no input", []string{"-o", output}},
		{"no output", []string{input}},
		{"bad compression", []string{"--compression", "brotli", "-o", output, input}},
		{"bad encoding", []string{"--encoding", "xml", "-o", output, input}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var usage *usageError
			if err := corpusPackCmd(test.args); !errors.As(err, &usage) {
				t.Fatalf("error = %v, want a usage error", err)
			}
		})
	}
}

func TestProgressBarRender(t *testing.T) {
	t.Parallel()

	bar := &progressBar{width: 40, label: "x"}
	line := bar.render(50)
	if len(line) != 39 {
		t.Errorf("len(%q) = %d, want 39", line, len(line))
	}
	if filled := strings.Count(line, "#"); filled != 15 {
		t.Errorf("filled cells = %d, want 15", filled)
	}
	if !strings.HasSuffix(line, "  50%") {
		t.Errorf("line = %q", line)
	}

	narrow := &progressBar{width: 10, label: "x"}
	if line := narrow.render(7); line != "x 7%" {
		t.Errorf("narrow line = %q", line)
	}
}

func TestProgressBarReport(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	bar := &progressBar{out: &out, width: 30, label: "walk", percent: -1}
	bar.report(0.101)
	bar.report(0.104)
	bar.report(1)
	if got := strings.Count(out.String(), "\r"); got != 2 {
		t.Errorf("redraws = %d, want 2 (repeated percent skipped): %q", got, out.String())
	}
	bar.done()
	if !strings.HasSuffix(out.String(), "\r") {
		t.Errorf("done did not return the cursor: %q", out.String())
	}

	var disabled *progressBar
	disabled.report(0.5)
	disabled.done()
	if disabled.callback() != nil {
		t.Error("nil bar has a callback")
	}
}

func TestListBuilders(t *testing.T) {
	t.Parallel()

	builders, err := content.Builders()
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := listBuilders(&out, builders); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"NAME", "randomwalk", "pruner", "embedded", "get_next_track"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("listing missing %q:\n%s", want, out.String())
		}
	}
}

func TestPrintReport(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	printReport(&out, ipc.SelfCheckReport{Passed: false, Probes: []ipc.Probe{
		{Name: "open", Locked: true, Detail: "open is not available"},
		{Name: "sandbox/network-external", Locked: false, Detail: "connected to 1.1.1.1:443"},
	}})
	for _, want := range []string{"locked", "OPEN", "connected to 1.1.1.1:443", "self-check FAILED"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("report missing %q:\n%s", want, out.String())
		}
	}
}

func TestInterpreterSelfCheckPasses(t *testing.T) {
	t.Parallel()

	report := selfCheck(t.Context(), false)()
	if !report.Passed {
		t.Fatalf("self-check failed: %+v", report.Probes)
	}
	for _, probe := range report.Probes {
		if strings.HasPrefix(probe.Name, "sandbox/") {
			t.Errorf("containment probe %s ran outside the sandbox", probe.Name)
		}
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("EOS_CONFIG", "")
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Engine.DefaultTrackCount != 20 || cfg.Sandbox.Profile != "eos-worker" {
		t.Errorf("defaults = %+v", cfg)
	}
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing --config file loaded")
	}
}

func TestBuildInProcess(t *testing.T) {
	t.Setenv("EOS_CONFIG", "")
	corpus := writeCorpus(t, tracktest.Grid(4), track.EncodingCBOR, track.CompressionZstd)

	output, err := captureStdout(t, func() error {
		return buildCmd([]string{
			"--isolation", "inprocess",
			"--corpus", corpus,
			"--builder", "randomwalk",
			"--tracks", "5",
			"--seed", "7",
			"--no-progress",
			"--json",
		}, quietLogger())
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	var playlist struct {
		Tracks []struct {
			ID string `json:"id"`
		} `json:"tracks"`
		ScriptDigest string `json:"script_digest"`
		Seed         uint64 `json:"seed"`
	}
	if err := json.Unmarshal([]byte(output), &playlist); err != nil {
		t.Fatalf("decoding output %q: %v", output, err)
	}
	if len(playlist.Tracks) != 5 {
		t.Fatalf("tracks = %d, want 5", len(playlist.Tracks))
	}
	seen := make(map[string]bool)
	for _, entry := range playlist.Tracks {
		if seen[entry.ID] {
			t.Errorf("track %s repeated", entry.ID)
		}
		seen[entry.ID] = true
	}
	if playlist.Seed != 7 || len(playlist.ScriptDigest) != 12 {
		t.Errorf("seed = %d, digest = %q", playlist.Seed, playlist.ScriptDigest)
	}
}

func TestPruneInProcess(t *testing.T) {
	t.Setenv("EOS_CONFIG", "")
	corpus := writeCorpus(t, tracktest.Grid(3), track.EncodingCBOR, track.CompressionNone)
	script := testutil.WriteFile(t, "left.star", []byte(`
def prune(ctx):
    return [id for id, t in ctx.tracks.items() if t.evocativeness.aetherealness < 0.25]
`))

	output, err := captureStdout(t, func() error {
		return pruneCmd([]string{"--isolation", "inprocess", "--corpus", corpus, script}, quietLogger())
	})
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if got := strings.Fields(output); !slices.Equal(got, []string{"t00", "t10", "t20"}) {
		t.Fatalf("pruned ids = %v, want [t00 t10 t20]", got)
	}
}

func TestBuildUsageErrors(t *testing.T) {
	t.Setenv("EOS_CONFIG", "")
	corpus := writeCorpus(t, tracktest.Grid(2), track.EncodingCBOR, track.CompressionNone)
	tests := []struct {
		name string
		args []string
	}{
		{"no script", []string{"--corpus", corpus}},
		{"script and builder", []string{"--corpus", corpus, "--builder", "randomwalk", "walk.star"}},
		{"both first track options", []string{"--corpus", corpus, "--first-track", "t00", "--first-track-builder", "hits", "--builder", "randomwalk"}},
		{"negative tracks", []string{"--corpus", corpus, "--tracks", "-1", "--builder", "randomwalk"}},
		{"bad isolation", []string{"--corpus", corpus, "--isolation", "vm", "--builder", "randomwalk"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var usage *usageError
			if err := buildCmd(test.args, quietLogger()); !errors.As(err, &usage) {
				t.Fatalf("error = %v, want a usage error", err)
			}
		})
	}
}

func TestShowSource(t *testing.T) {
	t.Parallel()

	source := []byte("def prune(ctx):\n    return []\n")
	var plain, highlighted bytes.Buffer
	if err := showSource(&plain, source, false); err != nil {
		t.Fatal(err)
	}
	if plain.String() != string(source) {
		t.Errorf("plain output = %q", plain.String())
	}
	if err := showSource(&highlighted, source, true); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(highlighted.String(), "\x1b[") || !strings.Contains(highlighted.String(), "prune") {
		t.Errorf("highlighted output = %q", highlighted.String())
	}
}
