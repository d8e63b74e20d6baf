// Package metrics holds the distance functions, internal validity indices
// and partition comparison measures used to select and audit voter
// clusterings.
package metrics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Distance names a pairwise dissimilarity between feature rows.
type Distance string

const (
	Euclidean   Distance = "euclidean"
	SqEuclidean Distance = "sqeuclidean"
	Cosine      Distance = "cosine"
	Manhattan   Distance = "manhattan"
)

// ParseDistance validates a metric name. Empty means euclidean.
func ParseDistance(name string) (Distance, error) {
	switch d := Distance(name); d {
	case "":
		return Euclidean, nil
	case Euclidean, SqEuclidean, Cosine, Manhattan:
		return d, nil
	default:
		return "", fmt.Errorf("unknown distance metric %q", name)
	}
}

// Between returns the distance from a to b. Rows must have equal length.
func (d Distance) Between(a, b []float64) float64 {
	switch d {
	case SqEuclidean:
		e := floats.Distance(a, b, 2)
		return e * e
	case Cosine:
		return cosineDistance(a, b)
	case Manhattan:
		return floats.Distance(a, b, 1)
	default:
		return floats.Distance(a, b, 2)
	}
}

// cosineDistance treats a zero row as orthogonal to everything.
func cosineDistance(a, b []float64) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 1
	}
	sim := floats.Dot(a, b) / (na * nb)
	return math.Max(0, 1-sim)
}

// Pairwise returns the symmetric n×n distance matrix of rows.
func Pairwise(rows [][]float64, d Distance) [][]float64 {
	n := len(rows)
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			v := d.Between(rows[i], rows[j])
			out[i][j] = v
			out[j][i] = v
		}
	}
	return out
}
