// Package util provides common utility functions for price calculations.
package util

import "math"

// snapEpsilon absorbs float representation error when a value sits on a
// tick boundary, so FloorToTick(1.30, 0.05) stays 1.30 instead of dropping
// to 1.25. It is small enough not to swallow genuinely off-tick inputs.
const snapEpsilon = 1e-12

// RoundToTick rounds x to the nearest tick increment.
// For example, with tick=0.01, 1.2345 becomes 1.23 or 1.24 depending on rounding.
// Ties round away from zero. A zero tick returns x unchanged; a negative
// tick is treated as its absolute value.
func RoundToTick(x, tick float64) float64 {
	tick = math.Abs(tick)
	if tick == 0 {
		return x
	}
	return math.Round(x/tick) * tick
}

// FloorToTick rounds x down to the nearest tick increment.
func FloorToTick(x, tick float64) float64 {
	tick = math.Abs(tick)
	if tick == 0 {
		return x
	}
	return math.Floor(snapToTick(x/tick)) * tick
}

// CeilToTick rounds x up to the nearest tick increment.
func CeilToTick(x, tick float64) float64 {
	tick = math.Abs(tick)
	if tick == 0 {
		return x
	}
	return math.Ceil(snapToTick(x/tick)) * tick
}

func snapToTick(q float64) float64 {
	if r := math.Round(q); math.Abs(q-r) < snapEpsilon {
		return r
	}
	return q
}
