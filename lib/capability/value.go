// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"fmt"
	"math"
	"slices"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/phosphorescence/eos/lib/track"
)

// pointAttrs maps script attribute names to dimensions.
var pointAttrs = map[string]track.Dimension{
	"aetherealness":    track.Aetherealness,
	"primordialness":   track.Primordialness,
	"key":              track.Key,
	"mode":             track.Mode,
	"tempo":            track.Tempo,
	"valence":          track.Valence,
	"energy":           track.Energy,
	"danceability":     track.Danceability,
	"loudness":         track.Loudness,
	"speechiness":      track.Speechiness,
	"acousticness":     track.Acousticness,
	"instrumentalness": track.Instrumentalness,
	"liveness":         track.Liveness,
	"time_signature":   track.TimeSignature,
	"duration":         track.Duration,
	"popularity":       track.Popularity,
}

// integral dimensions are exposed as ints.
var integral = map[track.Dimension]bool{
	track.Key:           true,
	track.Mode:          true,
	track.TimeSignature: true,
	track.Duration:      true,
}

// Point is a track.Point as a script value. Attributes are the point's
// id, tag, and one per dimension; p[DIMENSION] reads a dimension by its
// constant.
type Point struct {
	point track.Point
}

var (
	_ starlark.HasAttrs   = Point{}
	_ starlark.Mapping    = Point{}
	_ starlark.Comparable = Point{}
)

// NewPoint wraps p.
func NewPoint(p track.Point) Point { return Point{point: p} }

// Unwrap returns the underlying point.
func (p Point) Unwrap() track.Point { return p.point }

func (p Point) String() string        { return fmt.Sprintf("point(%q)", p.point.ID) }
func (p Point) Type() string          { return "point" }
func (p Point) Freeze()               {}
func (p Point) Truth() starlark.Bool  { return starlark.True }
func (p Point) Hash() (uint32, error) { return starlark.String(p.point.ID).Hash() }

func (p Point) Attr(name string) (starlark.Value, error) {
	switch name {
	case "id":
		return starlark.String(p.point.ID), nil
	case "tag":
		return starlark.String(p.point.Tag), nil
	}
	dimension, ok := pointAttrs[name]
	if !ok {
		return nil, nil
	}
	return dimensionValue(dimension, p.point.Value(dimension)), nil
}

func (p Point) AttrNames() []string {
	names := []string{"id", "tag"}
	for name := range pointAttrs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (p Point) Get(key starlark.Value) (starlark.Value, bool, error) {
	name, ok := starlark.AsString(key)
	if !ok {
		return nil, false, fmt.Errorf("point index must be a dimension name, not %s", key.Type())
	}
	dimension, err := track.ParseDimension(name)
	if err != nil {
		return nil, false, err
	}
	return dimensionValue(dimension, p.point.Value(dimension)), true, nil
}

func (p Point) CompareSameType(op syntax.Token, other starlark.Value, depth int) (bool, error) {
	same := p.point.ID == other.(Point).point.ID
	switch op {
	case syntax.EQL:
		return same, nil
	case syntax.NEQ:
		return !same, nil
	}
	return false, fmt.Errorf("%s %s %s not supported", p.Type(), op, other.Type())
}

func dimensionValue(dimension track.Dimension, value float64) starlark.Value {
	if integral[dimension] && !math.IsNaN(value) && !math.IsInf(value, 0) {
		return starlark.MakeInt64(int64(value))
	}
	return starlark.Float(value)
}

// Track is a corpus record as a script value.
type Track struct {
	record track.Record
	tag    string
}

var _ starlark.HasAttrs = Track{}

func newTrack(record track.Record, tag string) Track { return Track{record: record, tag: tag} }

func (t Track) String() string        { return fmt.Sprintf("track(%q)", t.record.ID()) }
func (t Track) Type() string          { return "track" }
func (t Track) Freeze()               {}
func (t Track) Truth() starlark.Bool  { return starlark.True }
func (t Track) Hash() (uint32, error) { return starlark.String(t.record.ID()).Hash() }

// Point projects the track the same way the corpus does.
func (t Track) Point() track.Point { return track.NewPoint(t.record.ID(), t.tag, t.record) }

func (t Track) Attr(name string) (starlark.Value, error) {
	info := t.record.Track
	switch name {
	case "id":
		return starlark.String(info.ID), nil
	case "name":
		return starlark.String(info.Name), nil
	case "uri":
		return starlark.String(info.URI), nil
	case "tag":
		return starlark.String(t.tag), nil
	case "popularity":
		return starlark.Float(info.Popularity), nil
	case "artists":
		names := make([]starlark.Value, len(info.Artists))
		for i, artist := range info.Artists {
			names[i] = starlark.String(artist.Name)
		}
		return starlark.Tuple(names), nil
	case "point":
		return NewPoint(t.Point()), nil
	case "features":
		features := t.record.Features
		return starlarkstruct.FromStringDict(starlark.String("features"), starlark.StringDict{
			"key":              starlark.MakeInt(features.Key),
			"mode":             starlark.MakeInt(features.Mode),
			"tempo":            starlark.Float(features.Tempo),
			"energy":           starlark.Float(features.Energy),
			"valence":          starlark.Float(features.Valence),
			"loudness":         starlark.Float(features.Loudness),
			"speechiness":      starlark.Float(features.Speechiness),
			"acousticness":     starlark.Float(features.Acousticness),
			"danceability":     starlark.Float(features.Danceability),
			"instrumentalness": starlark.Float(features.Instrumentalness),
			"liveness":         starlark.Float(features.Liveness),
			"time_signature":   starlark.MakeInt(features.TimeSignature),
			"duration_ms":      starlark.MakeInt(features.DurationMS),
		}), nil
	case "evocativeness":
		return starlarkstruct.FromStringDict(starlark.String("evocativeness"), starlark.StringDict{
			"aetherealness":  starlark.Float(t.record.Evocativeness.Aetherealness),
			"primordialness": starlark.Float(t.record.Evocativeness.Primordialness),
		}), nil
	}
	return nil, nil
}

func (t Track) AttrNames() []string {
	return []string{"artists", "evocativeness", "features", "id", "name", "point", "popularity", "tag", "uri"}
}

// node is what tree queries return: a struct with a point field and,
// for nearest-neighbor results, a distance field.
func node(point track.Point) *starlarkstruct.Struct {
	return starlarkstruct.FromStringDict(starlark.String("node"), starlark.StringDict{
		"point": NewPoint(point),
	})
}

func neighborNode(point track.Point, distance float64) *starlarkstruct.Struct {
	return starlarkstruct.FromStringDict(starlark.String("node"), starlark.StringDict{
		"point":    NewPoint(point),
		"distance": starlark.Float(distance),
	})
}

// ResolveID extracts the track id a script value refers to. It accepts
// a point, a track, a node (anything with a point attribute), a dict
// with a "point" or "id" entry, or a bare id string. The id is only a
// claim; the caller must look it up in the corpus.
func ResolveID(value starlark.Value) (string, bool) {
	return resolveID(value, 0)
}

func resolveID(value starlark.Value, depth int) (string, bool) {
	if depth > 2 {
		return "", false
	}
	switch v := value.(type) {
	case Point:
		return v.point.ID, true
	case Track:
		return v.record.ID(), true
	case starlark.String:
		return string(v), string(v) != ""
	case *starlark.Dict:
		for _, key := range []string{"point", "id"} {
			if inner, found, err := v.Get(starlark.String(key)); err == nil && found {
				return resolveID(inner, depth+1)
			}
		}
		return "", false
	case starlark.HasAttrs:
		inner, err := v.Attr("point")
		if err != nil || inner == nil {
			return "", false
		}
		return resolveID(inner, depth+1)
	}
	return "", false
}

// toPoint accepts a point, a track, or a node.
func toPoint(value starlark.Value) (track.Point, error) {
	switch v := value.(type) {
	case Point:
		return v.point, nil
	case Track:
		return v.Point(), nil
	case starlark.HasAttrs:
		if inner, err := v.Attr("point"); err == nil && inner != nil {
			if point, ok := inner.(Point); ok {
				return point.point, nil
			}
		}
	}
	return track.Point{}, fmt.Errorf("want point, track, or node, got %s", value.Type())
}

// toFloat accepts an int or a float.
func toFloat(value starlark.Value) (float64, error) {
	switch v := value.(type) {
	case starlark.Float:
		return float64(v), nil
	case starlark.Int:
		return float64(v.Float()), nil
	}
	return 0, fmt.Errorf("want number, got %s", value.Type())
}
