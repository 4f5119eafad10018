// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

// Package tracktest builds small corpora for tests.
package tracktest

import (
	"fmt"

	"github.com/phosphorescence/eos/lib/track"
)

// Record returns a record with the given id, title, and primary artist,
// positioned at (aetherealness, primordialness). Audio features get
// plausible fixed values.
func Record(id, title, artist string, aetherealness, primordialness float64) track.Record {
	return track.Record{
		Track: track.Info{
			ID:         id,
			Name:       title,
			Artists:    []track.Artist{{Name: artist}},
			Popularity: 50,
		},
		Features: track.Features{
			Key:           5,
			Mode:          1,
			Tempo:         128,
			Energy:        0.8,
			Valence:       0.4,
			Loudness:      -6,
			TimeSignature: 4,
			DurationMS:    420_000,
		},
		Evocativeness: track.Evocativeness{
			Aetherealness:  aetherealness,
			Primordialness: primordialness,
		},
	}
}

// Tagged returns Record with an explicit tag, bypassing title hashing.
func Tagged(id, tag string, aetherealness, primordialness float64) track.Record {
	record := Record(id, "Track "+id, "Artist "+id, aetherealness, primordialness)
	record.Tag = tag
	return record
}

// Corpus adds every record to a new corpus. Panics on invalid records.
func Corpus(records ...track.Record) *track.Corpus {
	corpus := track.NewCorpus()
	for _, record := range records {
		if err := corpus.Add(record); err != nil {
			panic(fmt.Sprintf("tracktest: %v", err))
		}
	}
	return corpus
}

// Grid returns a corpus of n*n distinctly tagged tracks laid out on an
// evenly spaced grid over the unit square, with ids "t00", "t01", ...
func Grid(n int) *track.Corpus {
	corpus := track.NewCorpus()
	step := 1.0
	if n > 1 {
		step = 1.0 / float64(n-1)
	}
	for row := range n {
		for column := range n {
			id := fmt.Sprintf("t%d%d", row, column)
			corpus.Add(Tagged(id, "tag-"+id, float64(column)*step, float64(row)*step))
		}
	}
	return corpus
}
