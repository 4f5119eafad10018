// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import "math"

// Modes.
const (
	Minor = 0
	Major = 1
)

// Pitch classes, C = 0.
const (
	pitchC = iota
	pitchCSharp
	pitchD
	pitchDSharp
	pitchE
	pitchF
	pitchFSharp
	pitchG
	pitchGSharp
	pitchA
	pitchASharp
	pitchB
)

// pitchNames lists every script constant for each pitch class,
// enharmonic spellings included.
var pitchNames = [12][]string{
	{"C", "B_SHARP", "D_DOUBLE_FLAT"},
	{"C_SHARP", "D_FLAT", "B_DOUBLE_SHARP"},
	{"D", "C_DOUBLE_SHARP", "E_DOUBLE_FLAT"},
	{"D_SHARP", "E_FLAT", "F_DOUBLE_FLAT"},
	{"E", "D_DOUBLE_SHARP", "F_FLAT"},
	{"F", "E_SHARP", "G_DOUBLE_FLAT"},
	{"F_SHARP", "G_FLAT", "E_DOUBLE_SHARP"},
	{"G", "F_DOUBLE_SHARP", "A_DOUBLE_FLAT"},
	{"G_SHARP", "A_FLAT"},
	{"A", "G_DOUBLE_SHARP", "B_DOUBLE_FLAT"},
	{"A_SHARP", "B_FLAT", "C_DOUBLE_FLAT"},
	{"B", "A_DOUBLE_SHARP", "C_FLAT"},
}

// Positions on the circle of fifths. Relative keys share a position.
var (
	minorCircle = [12]int{pitchGSharp, pitchDSharp, pitchASharp, pitchF, pitchC, pitchG, pitchD, pitchA, pitchE, pitchB, pitchFSharp, pitchCSharp}
	majorCircle = [12]int{pitchB, pitchFSharp, pitchCSharp, pitchGSharp, pitchDSharp, pitchASharp, pitchF, pitchC, pitchG, pitchD, pitchA, pitchE}

	minorPosition = circlePositions(minorCircle)
	majorPosition = circlePositions(majorCircle)
)

func circlePositions(circle [12]int) [12]int {
	var positions [12]int
	for position, pitch := range circle {
		positions[pitch] = position
	}
	return positions
}

// Harmony is the key and mode of a track.
type Harmony struct {
	Key  int
	Mode int
}

func (h Harmony) known() bool {
	return h.Key >= 0 && h.Key < 12 && (h.Mode == Minor || h.Mode == Major)
}

func (h Harmony) position() int {
	if h.Mode == Minor {
		return minorPosition[h.Key]
	}
	return majorPosition[h.Key]
}

// circleDistance is the number of steps between two circle positions
// going the short way round.
func circleDistance(a, b int) int {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	if diff > 6 {
		diff = 12 - diff
	}
	return diff
}

// HarmonicDifference maps a key change to [0,1): 0 for the same key,
// growing with the distance around the circle of fifths. A change of
// mode costs one extra step. Tracks with no detected key or mode are
// maximally different.
func HarmonicDifference(a, b Harmony) float64 {
	if !a.known() || !b.known() {
		return 1
	}
	diff := circleDistance(a.position(), b.position())
	if a.Mode != b.Mode {
		diff++
	}
	if diff == 0 {
		return 0
	}
	return 1 - 1/(1+0.5*math.Pow(float64(diff), 3))
}

// SameHarmonics reports whether a and b share key and mode.
func SameHarmonics(a, b Harmony) bool {
	return a.Mode == b.Mode && a.Key == b.Key
}

// SameModeNeighborKey reports whether b is a fifth above or below a in
// the same mode.
func SameModeNeighborKey(a, b Harmony) bool {
	if a.Mode != b.Mode || !a.known() {
		return false
	}
	return (a.Key+7)%12 == b.Key || (a.Key+5)%12 == b.Key
}

// DifferentModeNeighborKey reports whether b is the relative minor of a
// major a, or the relative major of a minor a.
func DifferentModeNeighborKey(a, b Harmony) bool {
	if a.Mode == b.Mode || !a.known() {
		return false
	}
	if a.Mode == Major {
		return (a.Key+9)%12 == b.Key
	}
	return (a.Key+3)%12 == b.Key
}

// TempoDifference maps a BPM change to [0,1]. A missing tempo is
// maximally different.
func TempoDifference(a, b float64) float64 {
	if a == 0 || b == 0 {
		return 1
	}
	return math.Min(1, math.Max(0, 0.57*math.Log(math.Abs(b-a))))
}

// EuclideanDistance composes per-dimension differences. No inputs give
// 0, one input its magnitude, and an infinite input infinity.
func EuclideanDistance(differences ...float64) float64 {
	switch len(differences) {
	case 0:
		return 0
	case 1:
		return math.Abs(differences[0])
	}
	var sum float64
	for _, difference := range differences {
		if math.IsInf(difference, 0) {
			return math.Inf(1)
		}
		sum += difference * difference
	}
	return math.Sqrt(sum)
}

// RMS is the root mean square of values, 0 for none.
func RMS(values ...float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, value := range values {
		sum += value * value
	}
	return math.Sqrt(sum / float64(len(values)))
}
