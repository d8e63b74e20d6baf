package analytics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
)

// Concentration of Voting Power
//
// Three complementary views of how decentralised a DAO's voting power is,
// all computed over the per-voter maximum voting power (a voter's holdings
// are approximated by the largest power they ever voted with, so repeated
// votes are not double counted):
//
//   - Gini index:        0 = every voter holds the same power, →1 = one voter holds it all
//   - Nakamoto coefficient: smallest number of top holders controlling ≥ 50%
//   - Minimum entropy:   Shannon entropy (bits) of the power share distribution
//
// References:
//   - Srinivasan & Lee, "Quantifying Decentralization" (2017), Nakamoto coefficient
//   - Fritsch, Müller & Wattenhofer, "Analyzing Voting Power in DAO Governance" (2022)

// entropyEpsilon keeps log2 defined for zero shares.
const entropyEpsilon = 1e-10

// nakamotoThreshold is the share of total power the top holders must reach.
const nakamotoThreshold = 0.5

// Gini computes the Gini index of a nonnegative power distribution as
// 1 − 2·(area under the Lorenz curve). The Lorenz curve is anchored at the
// origin and integrated with the trapezoidal rule over a uniform x-axis.
//
// Returns NaN for an empty distribution or when the total power is zero.
func Gini(powers []float64) float64 {
	n := len(powers)
	if n == 0 {
		return math.NaN()
	}

	sorted := append([]float64(nil), powers...)
	sort.Float64s(sorted)

	total := floats.Sum(sorted)
	if total <= 0 {
		return math.NaN()
	}

	x := make([]float64, n+1)
	lorenz := make([]float64, n+1)
	cumulative := 0.0
	for i, v := range sorted {
		cumulative += v
		lorenz[i+1] = cumulative / total
	}
	for i := range x {
		x[i] = float64(i) / float64(n)
	}

	gini := 1 - 2*integrate.Trapezoidal(x, lorenz)
	return clamp01(gini)
}

// NakamotoCoefficient returns the 1-based count of the largest holders whose
// cumulative power first reaches half of the total.
//
// Returns 0 when it is undefined (no holders or zero total power).
func NakamotoCoefficient(powers []float64) int {
	if len(powers) == 0 {
		return 0
	}

	sorted := append([]float64(nil), powers...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	total := floats.Sum(sorted)
	if total <= 0 {
		return 0
	}

	threshold := nakamotoThreshold * total
	cumulative := 0.0
	for i, v := range sorted {
		cumulative += v
		if cumulative >= threshold {
			return i + 1
		}
	}
	return len(sorted)
}

// MinEntropy normalises powers into shares p and returns −Σ p·log2(p + ε).
// The epsilon term can push a fully concentrated distribution a hair below
// zero; that rounding noise is reported as 0.
//
// Returns NaN for an empty distribution or when the total power is zero.
func MinEntropy(powers []float64) float64 {
	if len(powers) == 0 {
		return math.NaN()
	}

	total := floats.Sum(powers)
	if total <= 0 {
		return math.NaN()
	}

	h := 0.0
	for _, v := range powers {
		p := v / total
		h -= p * math.Log2(p+entropyEpsilon)
	}

	if h < 0 {
		return 0
	}
	return h
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
