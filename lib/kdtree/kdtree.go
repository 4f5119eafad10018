// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package kdtree

import (
	"cmp"
	"container/heap"
	"errors"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/phosphorescence/eos/lib/track"
)

// DistanceFunc measures the distance from a query point to a candidate.
type DistanceFunc func(query, candidate track.Point) (float64, error)

// Neighbor is one nearest-neighbor result.
type Neighbor struct {
	Point    track.Point
	Distance float64
}

// Option configures an [Index].
type Option func(*Index)

// PlanePruning lets Nearest skip subtrees beyond a splitting plane. It
// is only correct for metrics whose value grows with the per-dimension
// difference, such as Euclidean distance over the split dimensions.
// Without it every point is scored, so a distance function may use the
// 0 and +Inf sentinels anywhere in the space.
func PlanePruning() Option {
	return func(x *Index) { x.planePruning = true }
}

// Index is a k-d tree over a set of points. Not safe for concurrent
// use; each build owns its index exclusively.
type Index struct {
	dimensions   []track.Dimension
	distance     DistanceFunc
	planePruning bool

	// points is the working set ordered by id. Random and Scan read
	// it directly so their results do not depend on tree shape.
	points []track.Point
	root   *node
}

type node struct {
	point       track.Point
	dimension   track.Dimension
	left, right *node
}

// New builds an index over points. Later duplicates of an id replace
// earlier ones. An empty point set is valid and yields an index whose
// queries return nothing.
func New(points []track.Point, dimensions []track.Dimension, distance DistanceFunc, options ...Option) (*Index, error) {
	if len(dimensions) == 0 {
		return nil, errors.New("kdtree: at least one dimension is required")
	}
	if distance == nil {
		return nil, errors.New("kdtree: distance function is required")
	}

	byID := make(map[string]track.Point, len(points))
	for _, point := range points {
		byID[point.ID] = point
	}
	working := make([]track.Point, 0, len(byID))
	for _, point := range byID {
		working = append(working, point)
	}
	slices.SortFunc(working, func(a, b track.Point) int { return cmp.Compare(a.ID, b.ID) })

	index := &Index{
		dimensions: slices.Clone(dimensions),
		distance:   distance,
		points:     working,
	}
	for _, option := range options {
		option(index)
	}
	index.rebuild()
	return index, nil
}

func (x *Index) rebuild() {
	x.root = x.build(slices.Clone(x.points), 0)
}

func (x *Index) build(points []track.Point, depth int) *node {
	if len(points) == 0 {
		return nil
	}
	dimension := x.dimensions[depth%len(x.dimensions)]
	slices.SortStableFunc(points, func(a, b track.Point) int {
		return cmp.Compare(a.Value(dimension), b.Value(dimension))
	})
	median := len(points) / 2
	return &node{
		point:     points[median],
		dimension: dimension,
		left:      x.build(points[:median], depth+1),
		right:     x.build(points[median+1:], depth+1),
	}
}

// Len returns the number of points remaining.
func (x *Index) Len() int { return len(x.points) }

// Dimensions returns the dimensions the tree splits on.
func (x *Index) Dimensions() []track.Dimension { return slices.Clone(x.dimensions) }

// Contains reports whether id is in the working set.
func (x *Index) Contains(id string) bool {
	_, found := x.find(id)
	return found
}

func (x *Index) find(id string) (int, bool) {
	return slices.BinarySearchFunc(x.points, id, func(point track.Point, id string) int {
		return cmp.Compare(point.ID, id)
	})
}

// RemoveByID removes a point and rebuilds the tree. Reports whether the
// point was present.
func (x *Index) RemoveByID(id string) bool {
	position, found := x.find(id)
	if !found {
		return false
	}
	x.points = slices.Delete(x.points, position, position+1)
	x.rebuild()
	return true
}

// Random returns a uniformly chosen point, or false if the index is
// empty.
func (x *Index) Random(rng *rand.Rand) (track.Point, bool) {
	if len(x.points) == 0 {
		return track.Point{}, false
	}
	return x.points[rng.IntN(len(x.points))], true
}

// Scan returns every point matching predicate, ordered by id. A
// predicate error stops the scan.
func (x *Index) Scan(predicate func(track.Point) (bool, error)) ([]track.Point, error) {
	var matches []track.Point
	for _, point := range x.points {
		match, err := predicate(point)
		if err != nil {
			return nil, err
		}
		if match {
			matches = append(matches, point)
		}
	}
	return matches, nil
}

// ForEach calls fn for every point, ordered by id, stopping at the
// first error.
func (x *Index) ForEach(fn func(track.Point) error) error {
	for _, point := range slices.Clone(x.points) {
		if err := fn(point); err != nil {
			return err
		}
	}
	return nil
}

// Nearest returns up to k points closest to query, ascending by
// distance with ties ordered by id. k is clamped to Len. Candidates at
// +Inf or NaN distance are never returned.
func (x *Index) Nearest(k int, query track.Point) ([]Neighbor, error) {
	k = min(k, len(x.points))
	if k <= 0 || x.root == nil {
		return nil, nil
	}

	search := &nearestSearch{
		index: x,
		query: query,
		best:  neighborHeap{limit: k},
	}
	if err := search.visit(x.root); err != nil {
		return nil, err
	}

	results := search.best.items
	slices.SortFunc(results, compareNeighbors)
	return results, nil
}

type nearestSearch struct {
	index *Index
	query track.Point
	best  neighborHeap
}

func (s *nearestSearch) visit(current *node) error {
	own, err := s.index.distance(s.query, current.point)
	if err != nil {
		return err
	}

	if current.left == nil && current.right == nil {
		s.best.offer(Neighbor{Point: current.point, Distance: own})
		return nil
	}

	near, far := current.left, current.right
	if near == nil || (far != nil && s.query.Value(current.dimension) >= current.point.Value(current.dimension)) {
		near, far = far, near
	}

	if near != nil {
		if err := s.visit(near); err != nil {
			return err
		}
	}
	s.best.offer(Neighbor{Point: current.point, Distance: own})

	if far == nil {
		return nil
	}
	if !s.index.planePruning {
		return s.visit(far)
	}
	// Distance from the candidate to the splitting plane, measured by
	// the caller's metric on a point that differs from the candidate
	// only along the split dimension.
	linear := current.point.With(current.dimension, s.query.Value(current.dimension))
	planeDistance, err := s.index.distance(linear, current.point)
	if err != nil {
		return err
	}
	if s.best.full() && isFinite(planeDistance) && math.Abs(planeDistance) >= s.best.worst() {
		return nil
	}
	return s.visit(far)
}

func isFinite(value float64) bool {
	return !math.IsInf(value, 0) && !math.IsNaN(value)
}

func compareNeighbors(a, b Neighbor) int {
	if order := cmp.Compare(a.Distance, b.Distance); order != 0 {
		return order
	}
	return cmp.Compare(a.Point.ID, b.Point.ID)
}

// neighborHeap is a bounded max-heap on distance: the root is the
// worst of the current best candidates.
type neighborHeap struct {
	items []Neighbor
	limit int
}

func (h *neighborHeap) Len() int           { return len(h.items) }
func (h *neighborHeap) Less(i, j int) bool { return compareNeighbors(h.items[i], h.items[j]) > 0 }
func (h *neighborHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *neighborHeap) Push(value any)     { h.items = append(h.items, value.(Neighbor)) }
func (h *neighborHeap) Pop() any {
	last := h.items[len(h.items)-1]
	h.items = h.items[:len(h.items)-1]
	return last
}

func (h *neighborHeap) full() bool { return len(h.items) >= h.limit }

func (h *neighborHeap) worst() float64 { return h.items[0].Distance }

func (h *neighborHeap) offer(candidate Neighbor) {
	if math.IsInf(candidate.Distance, 1) || math.IsNaN(candidate.Distance) {
		return
	}
	if !h.full() {
		heap.Push(h, candidate)
		return
	}
	if compareNeighbors(candidate, h.items[0]) < 0 {
		h.items[0] = candidate
		heap.Fix(h, 0)
	}
}
