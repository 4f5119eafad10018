// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"errors"
	"fmt"
	"math"

	"go.starlark.net/starlark"

	"github.com/phosphorescence/eos/lib/kdtree"
	"github.com/phosphorescence/eos/lib/track"
)

// Tree is a k-d tree as a script value. Scripts build one with
// kdtree() inside build_tree and return it; the runner then routes the
// global tree functions to it.
type Tree struct {
	index *kdtree.Index
}

var _ starlark.HasAttrs = (*Tree)(nil)

// NewTree wraps index.
func NewTree(index *kdtree.Index) *Tree { return &Tree{index: index} }

// Index returns the underlying index.
func (t *Tree) Index() *kdtree.Index { return t.index }

func (t *Tree) String() string        { return fmt.Sprintf("<kdtree: %d points>", t.index.Len()) }
func (t *Tree) Type() string          { return "kdtree" }
func (t *Tree) Freeze()               {}
func (t *Tree) Truth() starlark.Bool  { return starlark.True }
func (t *Tree) Hash() (uint32, error) { return 0, errors.New("unhashable type: kdtree") }

func (t *Tree) Attr(name string) (starlark.Value, error) {
	switch name {
	case "size":
		return starlark.MakeInt(t.index.Len()), nil
	case "dimensions":
		dimensions := t.index.Dimensions()
		values := make([]starlark.Value, len(dimensions))
		for i, dimension := range dimensions {
			values[i] = starlark.String(dimension)
		}
		return starlark.Tuple(values), nil
	}
	return nil, nil
}

func (t *Tree) AttrNames() []string { return []string{"dimensions", "size"} }

// DefaultDistance is the distance of the index built when a script
// does not build its own: Euclidean over the index dimensions.
func DefaultDistance(dimensions []track.Dimension) kdtree.DistanceFunc {
	return func(query, candidate track.Point) (float64, error) {
		differences := make([]float64, len(dimensions))
		for i, dimension := range dimensions {
			differences[i] = candidate.Value(dimension) - query.Value(dimension)
		}
		return EuclideanDistance(differences...), nil
	}
}

// scriptDistance adapts a script callable to a distance function. The
// callable runs on thread, so cancelling the thread stops a search.
func scriptDistance(thread *starlark.Thread, fn starlark.Callable) kdtree.DistanceFunc {
	return func(query, candidate track.Point) (float64, error) {
		result, err := starlark.Call(thread, fn, starlark.Tuple{NewPoint(query), NewPoint(candidate)}, nil)
		if err != nil {
			return 0, err
		}
		distance, err := toFloat(result)
		if err != nil {
			return 0, fmt.Errorf("distance function returned %s, want number", result.Type())
		}
		return distance, nil
	}
}

// newTreeBuiltin implements kdtree(points, dimensions, distance=None).
func newTreeBuiltin(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var pointsValue, dimensionsValue starlark.Value
	var distanceValue starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"points", &pointsValue, "dimensions", &dimensionsValue, "distance?", &distanceValue); err != nil {
		return nil, err
	}

	points, err := pointList(pointsValue)
	if err != nil {
		return nil, fmt.Errorf("%s: points: %w", b.Name(), err)
	}
	dimensions, err := dimensionList(dimensionsValue)
	if err != nil {
		return nil, fmt.Errorf("%s: dimensions: %w", b.Name(), err)
	}

	distance := DefaultDistance(dimensions)
	options := []kdtree.Option{kdtree.PlanePruning()}
	if distanceValue != starlark.None {
		fn, ok := distanceValue.(starlark.Callable)
		if !ok {
			return nil, fmt.Errorf("%s: distance must be callable, not %s", b.Name(), distanceValue.Type())
		}
		distance = scriptDistance(thread, fn)
		options = nil
	}

	index, err := kdtree.New(points, dimensions, distance, options...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return NewTree(index), nil
}

func pointList(value starlark.Value) ([]track.Point, error) {
	iterable, ok := value.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("want iterable of points, got %s", value.Type())
	}
	if mapping, ok := value.(*readOnlyMap); ok {
		// Iterating a track map yields ids; use its values.
		var points []track.Point
		for _, item := range mapping.Items() {
			point, err := toPoint(item[1])
			if err != nil {
				return nil, err
			}
			points = append(points, point)
		}
		return points, nil
	}
	iterator := iterable.Iterate()
	defer iterator.Done()
	var points []track.Point
	var element starlark.Value
	for iterator.Next(&element) {
		point, err := toPoint(element)
		if err != nil {
			return nil, err
		}
		points = append(points, point)
	}
	return points, nil
}

func dimensionList(value starlark.Value) ([]track.Dimension, error) {
	iterable, ok := value.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("want list of dimension names, got %s", value.Type())
	}
	iterator := iterable.Iterate()
	defer iterator.Done()
	var dimensions []track.Dimension
	var element starlark.Value
	for iterator.Next(&element) {
		name, ok := starlark.AsString(element)
		if !ok {
			return nil, fmt.Errorf("dimension must be a string, not %s", element.Type())
		}
		dimension, err := track.ParseDimension(name)
		if err != nil {
			return nil, err
		}
		dimensions = append(dimensions, dimension)
	}
	return dimensions, nil
}

// countArg floors a numeric k the way scripts expect: fractional pool
// sizes are common.
func countArg(value starlark.Value) (int, error) {
	k, err := toFloat(value)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(k) || k <= 0 {
		return 0, nil
	}
	if k > math.MaxInt32 {
		return math.MaxInt32, nil
	}
	return int(math.Floor(k)), nil
}
