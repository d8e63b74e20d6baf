package analytics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Deciles reported for every DAO distribution.
var Deciles = []float64{10, 20, 30, 40, 50, 60, 70, 80, 90}

// Summary is the describe-style view of one distribution.
type Summary struct {
	Count  int
	Mean   float64
	Std    float64             // sample standard deviation, NaN for fewer than 2 values
	Points map[float64]float64 // percentile (0-100) -> value
}

// Describe summarises values at the requested percentiles (0-100).
func Describe(values []float64, percentiles []float64) Summary {
	s := Summary{
		Count:  len(values),
		Mean:   math.NaN(),
		Std:    math.NaN(),
		Points: make(map[float64]float64, len(percentiles)),
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	if len(sorted) > 0 {
		s.Mean = stat.Mean(sorted, nil)
	}
	if len(sorted) > 1 {
		s.Std = stat.StdDev(sorted, nil)
	}
	for _, p := range percentiles {
		s.Points[p] = quantileLinear(sorted, p/100)
	}
	return s
}

// quantileLinear interpolates linearly between the two closest ranks:
// h = (n−1)·q, value = x[⌊h⌋] + (h−⌊h⌋)·(x[⌊h⌋+1] − x[⌊h⌋]).
func quantileLinear(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return sorted[0]
	}

	h := float64(n-1) * q
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := h - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
