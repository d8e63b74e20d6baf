package clustering

import (
	"errors"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	gapReferences = 5
	gapNInit      = 10
)

var errZeroDispersion = errors.New("zero within-cluster dispersion")

// dispersionFunc fits k clusters to rows and returns their dispersion.
type dispersionFunc func(rows [][]float64, k int, rng *rand.Rand) (float64, error)

// kmeansDispersion is the mean squared distance to the nearest centroid.
func kmeansDispersion(rows [][]float64, k int, rng *rand.Rand) (float64, error) {
	m, err := kmeans(rows, k, gapNInit, rng)
	if err != nil {
		return 0, err
	}
	return m.inertia / float64(len(rows)), nil
}

// wardDispersion is the mean squared distance to the own-cluster centroid of
// a ward partition.
func wardDispersion(rows [][]float64, k int, _ *rand.Rand) (float64, error) {
	labels, err := agglomerate(rows, k, Ward)
	if err != nil {
		return 0, err
	}
	dim := len(rows[0])
	centroids := make([][]float64, k)
	sizes := make([]int, k)
	for c := range centroids {
		centroids[c] = make([]float64, dim)
	}
	for i, r := range rows {
		floats.Add(centroids[labels[i]], r)
		sizes[labels[i]]++
	}
	for c := range centroids {
		floats.Scale(1/float64(sizes[c]), centroids[c])
	}
	total := 0.0
	for i, r := range rows {
		total += sqDist(r, centroids[labels[i]])
	}
	return total / float64(len(rows)), nil
}

// uniformReference draws a dataset of the same shape from U[0,1).
func uniformReference(n, dim int, rng *rand.Rand) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, dim)
		for d := range out[i] {
			out[i][d] = rng.Float64()
		}
	}
	return out
}

// gap computes log(mean reference dispersion) - log(real dispersion).
func gap(rows [][]float64, k int, dispersion dispersionFunc, rng *rand.Rand) (float64, error) {
	observed, err := dispersion(rows, k, rng)
	if err != nil {
		return math.NaN(), err
	}
	if observed == 0 {
		return math.NaN(), errZeroDispersion
	}

	refs := make([]float64, gapReferences)
	for r := range refs {
		ref := uniformReference(len(rows), len(rows[0]), rng)
		if refs[r], err = dispersion(ref, k, rng); err != nil {
			return math.NaN(), err
		}
	}
	return math.Log(stat.Mean(refs, nil)) - math.Log(observed), nil
}
