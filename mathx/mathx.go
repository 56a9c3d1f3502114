// Package mathx provides small numeric helpers shared by the conditioning and
// calibration packages: rounding, clamping, and polynomials in the
// highest-power-first coefficient order used throughout the spectrometer.
package mathx

import "math"

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
func Round(x, unit float64) float64 {
	return math.Round(x/unit) * unit
}

// Clamp limits x to the inclusive range [lo, hi]
func Clamp(x, lo, hi float64) float64 {
	if lo > hi {
		lo, hi = hi, lo
	}
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// StepsBetween returns how many multiplicative steps of size factor (> 1)
// are needed to travel from lo to hi, rounded up.  It returns 0 if the
// range is empty or the inputs are not usable.
func StepsBetween(lo, hi, factor float64) int {
	if lo <= 0 || hi <= lo || factor <= 1 {
		return 0
	}
	return int(math.Ceil(math.Log(hi/lo) / math.Log(factor)))
}
