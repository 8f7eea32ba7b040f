// Package util provides common utility functions for price calculations.
package util

import "math"

// nickelTick is the increment spread credits are quoted at by the strategy.
// Exchanges accept penny increments on most underlyings; the nickel grid is
// a strategy convention carried over from the original rule set.
const nickelTick = 0.05

// RoundToTick rounds x to the nearest tick increment.
// For example, with tick=0.01, 1.2345 becomes 1.23 or 1.24 depending on rounding.
// A zero tick, NaN or infinite x returns x unchanged; negative ticks are
// treated by absolute value.
func RoundToTick(x, tick float64) float64 {
	if tick == 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	tick = math.Abs(tick)
	return math.Round(x/tick) * tick
}

// FloorToTick rounds x down to the nearest tick increment.
func FloorToTick(x, tick float64) float64 {
	if tick == 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	tick = math.Abs(tick)
	return math.Floor(x/tick) * tick
}

// CeilToTick rounds x up to the nearest tick increment.
func CeilToTick(x, tick float64) float64 {
	if tick == 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	tick = math.Abs(tick)
	return math.Ceil(x/tick) * tick
}

// RoundToNickel rounds a spread credit to the nearest $0.05. Idempotent:
// rounding an already-rounded value returns it unchanged.
func RoundToNickel(x float64) float64 {
	return RoundToTick(x, nickelTick)
}
