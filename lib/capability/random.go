// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"fmt"
	"math/rand/v2"
)

// newRand returns the generator behind every random helper of one
// build. Equal seeds give equal sequences.
func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// randomInt returns an integer in [low, high], both inclusive.
func randomInt(rng *rand.Rand, low, high int64) (int64, error) {
	if high < low {
		return 0, fmt.Errorf("empty range [%d, %d]", low, high)
	}
	return low + rng.Int64N(high-low+1), nil
}

// rollDice reports whether a roll of a sides-sided die, numbered from
// zero, lands below minTarget. A target above the number of sides
// always succeeds.
func rollDice(rng *rand.Rand, minTarget, sides int64) bool {
	if minTarget > sides {
		return true
	}
	if sides <= 0 {
		return false
	}
	return rng.Int64N(sides) < minTarget
}
