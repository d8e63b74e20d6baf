package metrics

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ErrDegenerateLabels is returned when a labeling has fewer than two
// distinct labels, or one label per sample, so no validity index is defined.
var ErrDegenerateLabels = errors.New("need between 2 and n-1 distinct labels")

func checkLabels(n int, labels []int) ([]int, error) {
	if n != len(labels) {
		return nil, errors.New("labels and rows differ in length")
	}
	distinct := distinctLabels(labels)
	if len(distinct) < 2 || len(distinct) > n-1 {
		return nil, ErrDegenerateLabels
	}
	return distinct, nil
}

// Silhouette computes the mean silhouette coefficient of rows under d.
func Silhouette(rows [][]float64, labels []int, d Distance) (float64, error) {
	if _, err := checkLabels(len(rows), labels); err != nil {
		return math.NaN(), err
	}
	return SilhouetteFromDistances(Pairwise(rows, d), labels)
}

// SilhouetteFromDistances is Silhouette over a precomputed distance matrix.
// Every label, including the noise label, is treated as a cluster. Samples in
// singleton clusters score 0.
func SilhouetteFromDistances(dist [][]float64, labels []int) (float64, error) {
	distinct, err := checkLabels(len(dist), labels)
	if err != nil {
		return math.NaN(), err
	}

	idx := labelIndex(labels)
	sizes := make([]int, len(distinct))
	for _, l := range labels {
		sizes[idx[l]]++
	}

	total := 0.0
	sums := make([]float64, len(distinct))
	for i := range dist {
		for c := range sums {
			sums[c] = 0
		}
		for j, v := range dist[i] {
			sums[idx[labels[j]]] += v
		}

		own := idx[labels[i]]
		if sizes[own] == 1 {
			continue
		}
		a := sums[own] / float64(sizes[own]-1)
		b := math.Inf(1)
		for c, s := range sums {
			if c == own {
				continue
			}
			b = math.Min(b, s/float64(sizes[c]))
		}
		if m := math.Max(a, b); m > 0 {
			total += (b - a) / m
		}
	}
	return total / float64(len(dist)), nil
}

type partition struct {
	labels    []int
	index     map[int]int
	sizes     []int
	centroids [][]float64
	center    []float64
}

func newPartition(rows [][]float64, labels []int, distinct []int) *partition {
	dim := len(rows[0])
	p := &partition{
		labels:    labels,
		index:     labelIndex(labels),
		sizes:     make([]int, len(distinct)),
		centroids: make([][]float64, len(distinct)),
		center:    make([]float64, dim),
	}
	for c := range p.centroids {
		p.centroids[c] = make([]float64, dim)
	}
	for i, row := range rows {
		c := p.index[labels[i]]
		p.sizes[c]++
		floats.Add(p.centroids[c], row)
		floats.Add(p.center, row)
	}
	for c := range p.centroids {
		floats.Scale(1/float64(p.sizes[c]), p.centroids[c])
	}
	floats.Scale(1/float64(len(rows)), p.center)
	return p
}

// DaviesBouldin computes the Davies–Bouldin index (lower is better) with
// Euclidean distances. Coincident centroids contribute no similarity.
func DaviesBouldin(rows [][]float64, labels []int) (float64, error) {
	distinct, err := checkLabels(len(rows), labels)
	if err != nil {
		return math.NaN(), err
	}
	p := newPartition(rows, labels, distinct)
	k := len(distinct)

	scatter := make([]float64, k)
	for i, row := range rows {
		c := p.index[labels[i]]
		scatter[c] += floats.Distance(row, p.centroids[c], 2)
	}
	allZero := true
	for c := range scatter {
		scatter[c] /= float64(p.sizes[c])
		if scatter[c] != 0 {
			allZero = false
		}
	}
	if allZero {
		return 0, nil
	}

	var db float64
	for i := 0; i < k; i++ {
		worst := 0.0
		for j := 0; j < k; j++ {
			if i == j {
				continue
			}
			sep := floats.Distance(p.centroids[i], p.centroids[j], 2)
			if sep == 0 {
				continue
			}
			worst = math.Max(worst, (scatter[i]+scatter[j])/sep)
		}
		db += worst
	}
	return db / float64(k), nil
}

// CalinskiHarabasz computes the variance ratio criterion (higher is better).
// A partition with zero within-cluster dispersion scores 1.
func CalinskiHarabasz(rows [][]float64, labels []int) (float64, error) {
	distinct, err := checkLabels(len(rows), labels)
	if err != nil {
		return math.NaN(), err
	}
	p := newPartition(rows, labels, distinct)
	n, k := len(rows), len(distinct)

	var between, within float64
	for c, centroid := range p.centroids {
		d := floats.Distance(centroid, p.center, 2)
		between += float64(p.sizes[c]) * d * d
	}
	for i, row := range rows {
		d := floats.Distance(row, p.centroids[p.index[labels[i]]], 2)
		within += d * d
	}
	if within == 0 {
		return 1, nil
	}
	return between * float64(n-k) / (within * float64(k-1)), nil
}
