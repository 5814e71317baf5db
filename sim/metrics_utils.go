package sim

import (
	"math"
	"sort"
)

// IntOrFloat64 constrains the metric helpers to the value types meters
// record.
type IntOrFloat64 interface {
	int | int64 | float64
}

// CalculatePercentile returns the p-th percentile of data using linear
// interpolation between closest ranks. The input is copied, not modified,
// and need not be sorted.
func CalculatePercentile[T IntOrFloat64](data []T, p float64) float64 {
	n := len(data)
	if n == 0 {
		return 0
	}
	s := make([]float64, n)
	for i, v := range data {
		s[i] = float64(v)
	}
	sort.Float64s(s)

	rank := p / 100.0 * float64(n-1)
	lowerIdx := int(math.Floor(rank))
	upperIdx := int(math.Ceil(rank))
	if lowerIdx == upperIdx {
		return s[lowerIdx]
	}
	return s[lowerIdx] + (s[upperIdx]-s[lowerIdx])*(rank-float64(lowerIdx))
}

// CalculateMean returns the mean of a data list, 0 for an empty list.
func CalculateMean[T IntOrFloat64](numbers []T) float64 {
	if len(numbers) == 0 {
		return 0.0
	}
	sum := 0.0
	for _, number := range numbers {
		sum += float64(number)
	}
	return sum / float64(len(numbers))
}
