// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package track

// Artist is a credited artist on a track.
type Artist struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// Info is catalog metadata for a track.
type Info struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Artists    []Artist `json:"artists"`
	URI        string   `json:"uri,omitempty"`
	Popularity float64  `json:"popularity"`
}

// Features are the audio features of a track. Field names match the
// upstream feature feed so JSON corpora decode without translation. Key
// is -1 when no key was detected.
type Features struct {
	Key              int     `json:"key"`
	Mode             int     `json:"mode"`
	Tempo            float64 `json:"tempo"`
	Energy           float64 `json:"energy"`
	Valence          float64 `json:"valence"`
	Loudness         float64 `json:"loudness"`
	Speechiness      float64 `json:"speechiness"`
	Acousticness     float64 `json:"acousticness"`
	Danceability     float64 `json:"danceability"`
	Instrumentalness float64 `json:"instrumentalness"`
	Liveness         float64 `json:"liveness"`
	TimeSignature    int     `json:"time_signature"`
	DurationMS       int     `json:"duration_ms"`
}

// Evocativeness holds the model-derived scores, each in [0,1].
type Evocativeness struct {
	Aetherealness  float64 `json:"aetherealness"`
	Primordialness float64 `json:"primordialness"`
}

// Record is one track as supplied by the feature pipeline. Tag is only
// set on records added individually; corpus records are tagged through
// the corpus index.
type Record struct {
	Track         Info          `json:"track"`
	Features      Features      `json:"features"`
	Evocativeness Evocativeness `json:"evocativeness"`
	Tag           string        `json:"tag,omitempty"`
}

// ID returns the catalog id.
func (r Record) ID() string { return r.Track.ID }
