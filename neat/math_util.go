package neat

import (
	"cmp"
	"maps"
	"math"
	"slices"
)

// clamp restricts a value to a given range [minVal, maxVal].
func clamp(value, minVal, maxVal float64) float64 {
	return math.Max(minVal, math.Min(value, maxVal))
}

// sortedKeys returns the keys of m in ascending order.
// Every map walk that draws random numbers goes through here so seeded runs repeat.
func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	return slices.Sorted(maps.Keys(m))
}

// --- Statistical Functions ---

// Mean calculates the average of a slice of float64 values.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0.0
	}
	return Sum(values) / float64(len(values))
}

// Stdev calculates the sample standard deviation of a slice of float64 values.
func Stdev(values []float64) float64 {
	if len(values) < 2 {
		return 0.0
	}
	mean := Mean(values)
	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	return math.Sqrt(variance / float64(len(values)-1))
}

// Sum calculates the sum of a slice of float64 values.
func Sum(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum
}

// MaxFloat returns the maximum value, or negative infinity for an empty slice.
func MaxFloat(values []float64) float64 {
	maxVal := math.Inf(-1)
	for _, v := range values {
		if v > maxVal {
			maxVal = v
		}
	}
	return maxVal
}
