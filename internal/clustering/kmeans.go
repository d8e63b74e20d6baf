// Package clustering fits the five candidate clustering families to a voter
// feature matrix and selects the best configuration of each by a validity
// criterion.
package clustering

import (
	"errors"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

const (
	defaultSeed  = 42
	maxLloydIter = 300
)

// ErrTooFewSamples is returned when a configuration asks for more clusters
// than there are voters.
var ErrTooFewSamples = errors.New("fewer samples than clusters")

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

func sqDist(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}

type kmeansModel struct {
	labels    []int
	centroids [][]float64
	inertia   float64
}

// kmeans runs Lloyd's algorithm from nInit k-means++ seedings and keeps the
// fit with the lowest inertia.
func kmeans(rows [][]float64, k, nInit int, rng *rand.Rand) (*kmeansModel, error) {
	if k < 1 || k > len(rows) {
		return nil, ErrTooFewSamples
	}
	var best *kmeansModel
	for run := 0; run < max(1, nInit); run++ {
		m := lloyd(rows, seedCentroids(rows, k, rng))
		if best == nil || m.inertia < best.inertia {
			best = m
		}
	}
	return best, nil
}

// seedCentroids picks k initial centroids with k-means++.
func seedCentroids(rows [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(rows)
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, append([]float64(nil), rows[rng.IntN(n)]...))

	closest := make([]float64, n)
	for i, r := range rows {
		closest[i] = sqDist(r, centroids[0])
	}

	for len(centroids) < k {
		total := floats.Sum(closest)
		next := rng.IntN(n)
		if total > 0 {
			target := rng.Float64() * total
			acc := 0.0
			for i, d := range closest {
				acc += d
				if acc >= target && d > 0 {
					next = i
					break
				}
			}
		}
		c := append([]float64(nil), rows[next]...)
		centroids = append(centroids, c)
		for i, r := range rows {
			closest[i] = math.Min(closest[i], sqDist(r, c))
		}
	}
	return centroids
}

func lloyd(rows [][]float64, centroids [][]float64) *kmeansModel {
	n, k := len(rows), len(centroids)
	dim := len(rows[0])
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}

	for iter := 0; iter < maxLloydIter; iter++ {
		changed := false
		for i, r := range rows {
			c := nearest(r, centroids)
			if c != labels[i] {
				labels[i] = c
				changed = true
			}
		}
		if !changed {
			break
		}

		sizes := make([]int, k)
		next := make([][]float64, k)
		for c := range next {
			next[c] = make([]float64, dim)
		}
		for i, r := range rows {
			floats.Add(next[labels[i]], r)
			sizes[labels[i]]++
		}
		for c := range next {
			if sizes[c] == 0 {
				// re-seed an empty cluster on the point worst served by its centroid
				far, farDist := 0, -1.0
				for i, r := range rows {
					if d := sqDist(r, centroids[labels[i]]); d > farDist {
						far, farDist = i, d
					}
				}
				copy(next[c], rows[far])
				labels[far] = c
				continue
			}
			floats.Scale(1/float64(sizes[c]), next[c])
		}
		centroids = next
	}

	m := &kmeansModel{labels: labels, centroids: centroids}
	for i, r := range rows {
		m.inertia += sqDist(r, centroids[labels[i]])
	}
	return m
}

func nearest(row []float64, centroids [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := sqDist(row, centroid); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}
