package clustering

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/rawblock/dao-analytics/internal/metrics"
)

// Affinity is the similarity graph used by spectral clustering.
type Affinity string

const (
	RBF              Affinity = "rbf"
	NearestNeighbors Affinity = "nearest-neighbors"
	CosineAffinity   Affinity = "cosine"
)

// Affinities in grid order.
var Affinities = []Affinity{RBF, NearestNeighbors, CosineAffinity}

const (
	spectralNeighbors = 10
	rbfGamma          = 1.0
	spectralNInit     = 10
)

// spectralBasis is the eigendecomposition of the normalized affinity of one
// dataset, shared by every k.
type spectralBasis struct {
	vectors *mat.Dense // columns sorted by ascending eigenvalue
	invSqrt []float64  // 1/sqrt(degree)
}

func affinityMatrix(rows [][]float64, affinity Affinity) (*mat.SymDense, error) {
	n := len(rows)
	a := mat.NewSymDense(n, nil)

	switch affinity {
	case RBF:
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				a.SetSym(i, j, math.Exp(-rbfGamma*sqDist(rows[i], rows[j])))
			}
		}
	case CosineAffinity:
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				a.SetSym(i, j, math.Max(0, 1-metrics.Cosine.Between(rows[i], rows[j])))
			}
		}
	case NearestNeighbors:
		// symmetrized k-nearest-neighbour connectivity, each point its own neighbour
		m := min(spectralNeighbors, n)
		conn := make([][]float64, n)
		order := make([]int, n)
		for i := 0; i < n; i++ {
			conn[i] = make([]float64, n)
			d := make([]float64, n)
			for j := range d {
				d[j] = sqDist(rows[i], rows[j])
				order[j] = j
			}
			sort.SliceStable(order, func(x, y int) bool {
				if order[x] == i || order[y] == i {
					return order[x] == i && order[y] != i
				}
				return d[order[x]] < d[order[y]]
			})
			for _, j := range order[:m] {
				conn[i][j] = 1
			}
		}
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				a.SetSym(i, j, 0.5*(conn[i][j]+conn[j][i]))
			}
		}
	default:
		return nil, fmt.Errorf("unknown affinity %q", affinity)
	}
	return a, nil
}

// newSpectralBasis decomposes D^-1/2 A D^-1/2 once so every k can read its
// embedding from the top eigenvectors.
func newSpectralBasis(rows [][]float64, affinity Affinity) (*spectralBasis, error) {
	a, err := affinityMatrix(rows, affinity)
	if err != nil {
		return nil, err
	}
	n := len(rows)

	invSqrt := make([]float64, n)
	for i := 0; i < n; i++ {
		deg := 0.0
		for j := 0; j < n; j++ {
			deg += a.At(i, j)
		}
		if deg > 0 {
			invSqrt[i] = 1 / math.Sqrt(deg)
		}
	}

	norm := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			norm.SetSym(i, j, invSqrt[i]*a.At(i, j)*invSqrt[j])
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(norm, true); !ok {
		return nil, fmt.Errorf("spectral embedding: eigendecomposition did not converge")
	}
	var vectors mat.Dense
	eig.VectorsTo(&vectors)
	return &spectralBasis{vectors: &vectors, invSqrt: invSqrt}, nil
}

// embed returns the k-dimensional spectral embedding with a deterministic
// sign per column.
func (b *spectralBasis) embed(k int) [][]float64 {
	n, cols := b.vectors.Dims()
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, k)
	}
	for c := 0; c < k; c++ {
		col := cols - 1 - c
		sign, peak := 1.0, 0.0
		for i := 0; i < n; i++ {
			if v := b.vectors.At(i, col); math.Abs(v) > peak {
				peak = math.Abs(v)
				sign = math.Copysign(1, v)
			}
		}
		for i := 0; i < n; i++ {
			out[i][c] = sign * b.vectors.At(i, col) * b.invSqrt[i]
		}
	}
	return out
}

func (b *spectralBasis) cluster(k int, rng *rand.Rand) ([]int, error) {
	n, _ := b.vectors.Dims()
	if k < 1 || k > n {
		return nil, ErrTooFewSamples
	}
	m, err := kmeans(b.embed(k), k, spectralNInit, rng)
	if err != nil {
		return nil, err
	}
	return m.labels, nil
}
