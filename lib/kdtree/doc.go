// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

// Package kdtree is the spatial index a playlist builder searches.
//
// An [Index] holds the working set of track points for one build, split
// across a caller-chosen list of dimensions. The distance function is
// supplied by the builder script and may fail; the index propagates
// its errors. Two distance values are sentinels: +Inf means "never
// return this candidate" and 0 means "as close as possible". NaN is
// treated like +Inf. Because a script distance may prefer any point,
// Nearest scores every point unless the index was built with
// [PlanePruning] for a metric that respects the splitting planes.
//
// Removing a point rebuilds the tree from the remaining set. A build
// removes at most a few dozen points, and a balanced rebuild keeps
// every query correct without incremental rebalancing.
package kdtree
