package clustering

import (
	"fmt"
	"math"
	"sort"

	"github.com/rawblock/dao-analytics/internal/metrics"
)

// Linkage is the inter-cluster dissimilarity of agglomerative clustering.
type Linkage string

const (
	Ward     Linkage = "ward"
	Complete Linkage = "complete"
	Average  Linkage = "average"
	Single   Linkage = "single"
)

// Linkages in grid order.
var Linkages = []Linkage{Ward, Complete, Average, Single}

type merge struct {
	a, b int
	dist float64
}

// linkageDistances returns the initial dissimilarities for a linkage. Ward
// works on squared Euclidean distances; every other linkage uses cosine
// distance.
func linkageDistances(rows [][]float64, linkage Linkage) [][]float64 {
	if linkage == Ward {
		return metrics.Pairwise(rows, metrics.SqEuclidean)
	}
	return metrics.Pairwise(rows, metrics.Cosine)
}

// agglomerate cuts the dendrogram of rows at k clusters.
func agglomerate(rows [][]float64, k int, linkage Linkage) ([]int, error) {
	if k < 1 || k > len(rows) {
		return nil, ErrTooFewSamples
	}
	merges, err := dendrogram(linkageDistances(rows, linkage), linkage)
	if err != nil {
		return nil, err
	}
	return cut(len(rows), merges, k), nil
}

// dendrogram builds the full merge list with the nearest-neighbour chain
// algorithm and returns it sorted by merge height. dist is consumed.
func dendrogram(dist [][]float64, linkage Linkage) ([]merge, error) {
	n := len(dist)
	update, err := lanceWilliams(linkage)
	if err != nil {
		return nil, err
	}

	active := make([]bool, n)
	size := make([]int, n)
	for i := range active {
		active[i] = true
		size[i] = 1
	}

	merges := make([]merge, 0, n-1)
	chain := make([]int, 0, n)

	for remaining := n; remaining > 1; remaining-- {
		if len(chain) == 0 {
			for i := range active {
				if active[i] {
					chain = append(chain, i)
					break
				}
			}
		}

		var a, b int
		for {
			a = chain[len(chain)-1]
			prev := -1
			best := math.Inf(1)
			if len(chain) > 1 {
				prev = chain[len(chain)-2]
				best = dist[a][prev]
			}
			b = prev
			for c := range active {
				if active[c] && c != a && dist[a][c] < best {
					b, best = c, dist[a][c]
				}
			}
			if b == prev {
				break
			}
			chain = append(chain, b)
		}
		chain = chain[:len(chain)-2]

		if a > b {
			a, b = b, a
		}
		merges = append(merges, merge{a: a, b: b, dist: dist[a][b]})

		for c := range active {
			if !active[c] || c == a || c == b {
				continue
			}
			d := update(dist[a][c], dist[b][c], dist[a][b], size[a], size[b], size[c])
			dist[a][c] = d
			dist[c][a] = d
		}
		active[b] = false
		size[a] += size[b]
	}

	sort.SliceStable(merges, func(i, j int) bool { return merges[i].dist < merges[j].dist })
	return merges, nil
}

type lwUpdate func(dik, djk, dij float64, ni, nj, nk int) float64

func lanceWilliams(linkage Linkage) (lwUpdate, error) {
	switch linkage {
	case Single:
		return func(dik, djk, _ float64, _, _, _ int) float64 { return math.Min(dik, djk) }, nil
	case Complete:
		return func(dik, djk, _ float64, _, _, _ int) float64 { return math.Max(dik, djk) }, nil
	case Average:
		return func(dik, djk, _ float64, ni, nj, _ int) float64 {
			return (float64(ni)*dik + float64(nj)*djk) / float64(ni+nj)
		}, nil
	case Ward:
		return func(dik, djk, dij float64, ni, nj, nk int) float64 {
			fi, fj, fk := float64(ni), float64(nj), float64(nk)
			return ((fi+fk)*dik + (fj+fk)*djk - fk*dij) / (fi + fj + fk)
		}, nil
	default:
		return nil, fmt.Errorf("unknown linkage %q", linkage)
	}
}

// cut applies the n-k lowest merges and labels the components 0..k-1 in order
// of their first member.
func cut(n int, merges []merge, k int) []int {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	find := func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	for _, m := range merges[:n-k] {
		ra, rb := find(m.a), find(m.b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	labels := make([]int, n)
	ids := make(map[int]int)
	for i := range labels {
		root := find(i)
		id, ok := ids[root]
		if !ok {
			id = len(ids)
			ids[root] = id
		}
		labels[i] = id
	}
	return labels
}
