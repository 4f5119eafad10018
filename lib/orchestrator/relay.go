// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"unicode"
)

// maxLogLine caps one worker log line. A longer line stops the relay
// and the rest of the stream is discarded.
const maxLogLine = 1024 * 1024

// maxUnstructured caps how much of a non-JSON line is repeated.
const maxUnstructured = 256

// relayLogs re-emits the JSON log lines a worker writes to stderr
// through logger. The worker never reaches the host's terminal
// directly: its level and message are parsed, its attributes become
// ordinary attributes, and anything that is not a JSON object is
// logged as a quoted, truncated string.
func relayLogs(r io.Reader, logger *slog.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLogLine)
	for scanner.Scan() {
		relayLine(scanner.Bytes(), logger)
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("worker log stream unreadable", "error", err)
		io.Copy(io.Discard, r)
	}
}

func relayLine(line []byte, logger *slog.Logger) {
	if len(strings.TrimSpace(string(line))) == 0 {
		return
	}
	var record map[string]any
	if err := json.Unmarshal(line, &record); err != nil {
		logger.Warn("unstructured worker output", "line", truncate(string(line), maxUnstructured))
		return
	}

	level := slog.LevelInfo
	if text, ok := record[slog.LevelKey].(string); ok {
		if err := level.UnmarshalText([]byte(text)); err != nil {
			level = slog.LevelInfo
		}
	}
	message, _ := record[slog.MessageKey].(string)
	delete(record, slog.LevelKey)
	delete(record, slog.MessageKey)
	delete(record, slog.TimeKey)

	attrs := make([]any, 0, 2*len(record))
	for _, key := range slices.Sorted(maps.Keys(record)) {
		attrs = append(attrs, sanitize(key), record[key])
	}
	logger.Log(context.Background(), level, sanitize(message), attrs...)
}

// sanitize drops control characters so a worker cannot move the
// cursor or clear the screen of a terminal showing host logs.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return sanitize(s)
	}
	return sanitize(s[:limit]) + "..."
}
