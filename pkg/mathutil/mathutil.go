// Package mathutil provides common mathematical utility functions.
package mathutil

import (
	"math"

	"github.com/iwvelando/sales-forecast/pkg/constants"
)

// Round rounds a value to two decimals. Used for reporting ratios and totals.
func Round(val float64) float64 {
	return math.Round(val*constants.DecimalPrecision) / constants.DecimalPrecision
}

// NonNegativeRound clamps val at zero and rounds it to the nearest integer,
// halves rounding up.
func NonNegativeRound(val float64) float64 {
	return math.Round(math.Max(0, val))
}

// WithinTolerance checks if two values are within a specified tolerance
func WithinTolerance(val1, val2, tolerance float64) bool {
	return math.Abs(val1-val2) <= tolerance
}

// Sum adds up values.
func Sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return Sum(values) / float64(len(values))
}

// MinMax returns the smallest and largest value. Both are 0 for an empty slice.
func MinMax(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// Tail returns a copy of the last n values (all of them if fewer exist).
func Tail(values []float64, n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	if n > len(values) {
		n = len(values)
	}
	out := make([]float64, n)
	copy(out, values[len(values)-n:])
	return out
}

// DecayWeightedAverage averages values ordered newest first with linearly
// decaying weights: the k-th value weighs (n-k)/n, and the weighted sum is
// divided by n. Returns 0 for an empty slice.
func DecayWeightedAverage(newestFirst []float64) float64 {
	n := float64(len(newestFirst))
	if n == 0 {
		return 0
	}
	total := 0.0
	for k, v := range newestFirst {
		total += v * (n - float64(k)) / n
	}
	return total / n
}

// Reverse returns a reversed copy of values.
func Reverse(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[len(values)-1-i] = v
	}
	return out
}

// IsFinite reports whether val is neither NaN nor infinite.
func IsFinite(val float64) bool {
	return !math.IsNaN(val) && !math.IsInf(val, 0)
}

// CalculatePercentage calculates what percentage value is of total
func CalculatePercentage(value, total float64) float64 {
	if total == 0 {
		return 0
	}
	return (value / total) * 100
}
