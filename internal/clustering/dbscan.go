package clustering

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/rawblock/dao-analytics/pkg/models"
)

const (
	epsPoints = 50
	epsLow    = 1e-2
	epsHigh   = 1e2
)

// EpsGrid returns the log-spaced neighbourhood radii swept by DBSCAN.
func EpsGrid() []float64 {
	return floats.LogSpan(make([]float64, epsPoints), epsLow, epsHigh)
}

// dbscan labels rows from a precomputed distance matrix. A point is core
// when at least minSamples points, itself included, lie within eps.
// Unreachable points get the noise label.
func dbscan(dist [][]float64, eps float64, minSamples int) []int {
	n := len(dist)
	labels := make([]int, n)
	neighbors := make([][]int, n)
	for i := range labels {
		labels[i] = models.NoiseLabel
		for j, d := range dist[i] {
			if d <= eps {
				neighbors[i] = append(neighbors[i], j)
			}
		}
	}
	core := func(i int) bool { return len(neighbors[i]) >= minSamples }

	visited := make([]bool, n)
	cluster := 0
	for i := 0; i < n; i++ {
		if visited[i] || !core(i) {
			continue
		}
		visited[i] = true
		labels[i] = cluster
		queue := append([]int(nil), neighbors[i]...)
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]
			if labels[j] == models.NoiseLabel {
				labels[j] = cluster
			}
			if visited[j] {
				continue
			}
			visited[j] = true
			if core(j) {
				queue = append(queue, neighbors[j]...)
			}
		}
		cluster++
	}
	return labels
}

// realClusters counts the distinct non-noise labels.
func realClusters(labels []int) int {
	seen := make(map[int]struct{})
	for _, l := range labels {
		if l != models.NoiseLabel {
			seen[l] = struct{}{}
		}
	}
	return len(seen)
}

// kDistanceEps picks eps at the knee of the sorted distances from each point
// to its minSamples-th nearest other point: the curve point farthest from
// the chord joining its ends.
func kDistanceEps(dist [][]float64, minSamples int) float64 {
	n := len(dist)
	if n < 2 {
		return 0
	}
	kth := min(minSamples, n-1)
	curve := make([]float64, n)
	row := make([]float64, n)
	for i := range dist {
		copy(row, dist[i])
		sort.Float64s(row)
		curve[i] = row[kth]
	}
	sort.Float64s(curve)

	x0, y0 := 0.0, curve[0]
	x1, y1 := float64(n-1), curve[n-1]
	chord := math.Hypot(x1-x0, y1-y0)
	if chord == 0 {
		return curve[0]
	}

	knee, best := 0, -1.0
	for i, y := range curve {
		d := math.Abs((y1-y0)*float64(i)-(x1-x0)*y+x1*y0-y1*x0) / chord
		if d > best {
			knee, best = i, d
		}
	}
	return curve[knee]
}
