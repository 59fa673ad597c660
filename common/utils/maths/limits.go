package maths

import "math"

const LIMIT_EPSILON = 0.000001

func Saturate(val float64, min float64, max float64) float64 {
	if val < min {
		return min
	} else if val > max {
		return max
	} else {
		return val
	}
}

func Check_below_limit(val, limit float64) bool {
	return val < limit-LIMIT_EPSILON
}

func Check_above_limit(val, limit float64) bool {
	return val > limit+LIMIT_EPSILON
}

// Lround rounds half away from zero, like C's lround.
func Lround(val float64) int64 {
	return int64(math.Round(val))
}

func Sign(val float64) int {
	switch {
	case val > 0:
		return 1
	case val < 0:
		return -1
	}
	return 0
}

func Equal_within(a, b, tolerance float64) bool {
	return math.Abs(a-b) < tolerance
}
