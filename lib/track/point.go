// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package track

import (
	"fmt"
	"slices"
)

// Dimension names one numeric feature of a Point.
type Dimension string

const (
	Aetherealness    Dimension = "aetherealness"
	Primordialness   Dimension = "primordialness"
	Key              Dimension = "key"
	Mode             Dimension = "mode"
	Tempo            Dimension = "tempo"
	Valence          Dimension = "valence"
	Energy           Dimension = "energy"
	Danceability     Dimension = "danceability"
	Loudness         Dimension = "loudness"
	Speechiness      Dimension = "speechiness"
	Acousticness     Dimension = "acousticness"
	Instrumentalness Dimension = "instrumentalness"
	Liveness         Dimension = "liveness"
	TimeSignature    Dimension = "timeSignature"
	Duration         Dimension = "duration"
	Popularity       Dimension = "popularity"
)

// AllDimensions lists every dimension in a stable order.
var AllDimensions = []Dimension{
	Aetherealness, Primordialness, Key, Mode, Tempo, Valence, Energy,
	Danceability, Loudness, Speechiness, Acousticness, Instrumentalness,
	Liveness, TimeSignature, Duration, Popularity,
}

// DefaultDimensions are the dimensions of the index built when a script
// does not define its own.
var DefaultDimensions = []Dimension{Aetherealness, Primordialness}

// ParseDimension validates a dimension name.
func ParseDimension(name string) (Dimension, error) {
	dimension := Dimension(name)
	if !slices.Contains(AllDimensions, dimension) {
		return "", fmt.Errorf("unknown dimension %q", name)
	}
	return dimension, nil
}

// Point is the per-build view of a track. Points are values: an index
// never mutates one it was given.
type Point struct {
	ID  string
	Tag string

	Aetherealness    float64
	Primordialness   float64
	Key              float64
	Mode             float64
	Tempo            float64
	Valence          float64
	Energy           float64
	Danceability     float64
	Loudness         float64
	Speechiness      float64
	Acousticness     float64
	Instrumentalness float64
	Liveness         float64
	TimeSignature    float64
	Duration         float64
	Popularity       float64
}

// NewPoint projects a record into a point.
func NewPoint(id, tag string, record Record) Point {
	features := record.Features
	return Point{
		ID:               id,
		Tag:              tag,
		Aetherealness:    record.Evocativeness.Aetherealness,
		Primordialness:   record.Evocativeness.Primordialness,
		Key:              float64(features.Key),
		Mode:             float64(features.Mode),
		Tempo:            features.Tempo,
		Valence:          features.Valence,
		Energy:           features.Energy,
		Danceability:     features.Danceability,
		Loudness:         features.Loudness,
		Speechiness:      features.Speechiness,
		Acousticness:     features.Acousticness,
		Instrumentalness: features.Instrumentalness,
		Liveness:         features.Liveness,
		TimeSignature:    float64(features.TimeSignature),
		Duration:         float64(features.DurationMS),
		Popularity:       record.Track.Popularity,
	}
}

// field returns the address of the value for dimension, or nil.
func (p *Point) field(dimension Dimension) *float64 {
	switch dimension {
	case Aetherealness:
		return &p.Aetherealness
	case Primordialness:
		return &p.Primordialness
	case Key:
		return &p.Key
	case Mode:
		return &p.Mode
	case Tempo:
		return &p.Tempo
	case Valence:
		return &p.Valence
	case Energy:
		return &p.Energy
	case Danceability:
		return &p.Danceability
	case Loudness:
		return &p.Loudness
	case Speechiness:
		return &p.Speechiness
	case Acousticness:
		return &p.Acousticness
	case Instrumentalness:
		return &p.Instrumentalness
	case Liveness:
		return &p.Liveness
	case TimeSignature:
		return &p.TimeSignature
	case Duration:
		return &p.Duration
	case Popularity:
		return &p.Popularity
	}
	return nil
}

// Value returns the value of dimension. Unknown dimensions read as 0.
func (p Point) Value(dimension Dimension) float64 {
	if field := p.field(dimension); field != nil {
		return *field
	}
	return 0
}

// With returns a copy of p with dimension set to value.
func (p Point) With(dimension Dimension, value float64) Point {
	if field := p.field(dimension); field != nil {
		*field = value
	}
	return p
}
