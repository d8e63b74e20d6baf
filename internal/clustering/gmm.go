package clustering

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Covariance is the covariance structure of a Gaussian mixture.
type Covariance string

const (
	Full      Covariance = "full"
	Tied      Covariance = "tied"
	Diag      Covariance = "diag"
	Spherical Covariance = "spherical"
)

// Covariances in grid order.
var Covariances = []Covariance{Full, Tied, Diag, Spherical}

const (
	gmmRegCovar = 1e-6
	gmmMaxIter  = 100
	gmmTol      = 1e-3
	testShare   = 0.2
	machEps     = 0x1p-52
)

// ErrIllConditioned is returned when a fitted covariance is not positive
// definite.
var ErrIllConditioned = errors.New("covariance is not positive definite")

type gaussianMixture struct {
	k, dim    int
	cov       Covariance
	weights   []float64
	means     [][]float64
	chols     []*mat.Cholesky // full: one per component, tied: one shared
	variances [][]float64     // diag: per component and dimension, spherical: one per component
}

// fitGMM runs EM initialised from a k-means partition.
func fitGMM(rows [][]float64, k int, cov Covariance, rng *rand.Rand) (*gaussianMixture, error) {
	if k < 1 || k > len(rows) {
		return nil, ErrTooFewSamples
	}
	switch cov {
	case Full, Tied, Diag, Spherical:
	default:
		return nil, fmt.Errorf("unknown covariance type %q", cov)
	}

	start, err := kmeans(rows, k, 1, rng)
	if err != nil {
		return nil, err
	}
	resp := make([][]float64, len(rows))
	for i, l := range start.labels {
		resp[i] = make([]float64, k)
		resp[i][l] = 1
	}

	g := &gaussianMixture{k: k, dim: len(rows[0]), cov: cov}
	if err := g.maximize(rows, resp); err != nil {
		return nil, err
	}

	prev := math.Inf(-1)
	for iter := 0; iter < gmmMaxIter; iter++ {
		bound := g.expect(rows, resp)
		if err := g.maximize(rows, resp); err != nil {
			return nil, err
		}
		if math.Abs(bound-prev) < gmmTol {
			break
		}
		prev = bound
	}
	return g, nil
}

// expect fills resp with posterior responsibilities and returns the mean
// log-likelihood.
func (g *gaussianMixture) expect(rows [][]float64, resp [][]float64) float64 {
	total := 0.0
	for i, x := range rows {
		lp := g.weightedLogProb(x)
		norm := floats.LogSumExp(lp)
		for c := range lp {
			resp[i][c] = math.Exp(lp[c] - norm)
		}
		total += norm
	}
	return total / float64(len(rows))
}

func (g *gaussianMixture) maximize(rows [][]float64, resp [][]float64) error {
	n := float64(len(rows))
	nk := make([]float64, g.k)
	g.means = make([][]float64, g.k)
	for c := 0; c < g.k; c++ {
		g.means[c] = make([]float64, g.dim)
		for i, x := range rows {
			nk[c] += resp[i][c]
			floats.AddScaled(g.means[c], resp[i][c], x)
		}
		nk[c] += 10 * machEps
		floats.Scale(1/nk[c], g.means[c])
	}

	g.weights = make([]float64, g.k)
	for c := range nk {
		g.weights[c] = nk[c] / n
	}

	switch g.cov {
	case Full:
		g.chols = make([]*mat.Cholesky, g.k)
		for c := 0; c < g.k; c++ {
			s := mat.NewSymDense(g.dim, nil)
			for i, x := range rows {
				addOuter(s, resp[i][c]/nk[c], x, g.means[c])
			}
			chol, err := regularizedCholesky(s)
			if err != nil {
				return err
			}
			g.chols[c] = chol
		}
	case Tied:
		s := mat.NewSymDense(g.dim, nil)
		for c := 0; c < g.k; c++ {
			for i, x := range rows {
				addOuter(s, resp[i][c]/n, x, g.means[c])
			}
		}
		chol, err := regularizedCholesky(s)
		if err != nil {
			return err
		}
		g.chols = []*mat.Cholesky{chol}
	case Diag, Spherical:
		g.variances = make([][]float64, g.k)
		for c := 0; c < g.k; c++ {
			v := make([]float64, g.dim)
			for i, x := range rows {
				for d := range v {
					diff := x[d] - g.means[c][d]
					v[d] += resp[i][c] * diff * diff
				}
			}
			for d := range v {
				v[d] = v[d]/nk[c] + gmmRegCovar
			}
			if g.cov == Spherical {
				v = []float64{floats.Sum(v) / float64(g.dim)}
			}
			g.variances[c] = v
		}
	}
	return nil
}

func addOuter(s *mat.SymDense, w float64, x, mean []float64) {
	for a := range x {
		da := x[a] - mean[a]
		for b := a; b < len(x); b++ {
			s.SetSym(a, b, s.At(a, b)+w*da*(x[b]-mean[b]))
		}
	}
}

func regularizedCholesky(s *mat.SymDense) (*mat.Cholesky, error) {
	n := s.SymmetricDim()
	for i := 0; i < n; i++ {
		s.SetSym(i, i, s.At(i, i)+gmmRegCovar)
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(s); !ok {
		return nil, ErrIllConditioned
	}
	return &chol, nil
}

// weightedLogProb returns log(w_c) + log N(x | c) for every component.
func (g *gaussianMixture) weightedLogProb(x []float64) []float64 {
	out := make([]float64, g.k)
	log2Pi := float64(g.dim) * math.Log(2*math.Pi)
	diff := mat.NewVecDense(g.dim, nil)
	solved := mat.NewVecDense(g.dim, nil)

	for c := 0; c < g.k; c++ {
		var logDet, maha float64
		switch g.cov {
		case Full, Tied:
			chol := g.chols[0]
			if g.cov == Full {
				chol = g.chols[c]
			}
			for d := range x {
				diff.SetVec(d, x[d]-g.means[c][d])
			}
			if err := chol.SolveVecTo(solved, diff); err != nil {
				out[c] = math.Inf(-1)
				continue
			}
			logDet = chol.LogDet()
			maha = mat.Dot(diff, solved)
		default:
			for d := range x {
				v := g.variances[c][0]
				if g.cov == Diag {
					v = g.variances[c][d]
				}
				diffD := x[d] - g.means[c][d]
				maha += diffD * diffD / v
				logDet += math.Log(v)
			}
		}
		out[c] = math.Log(g.weights[c]) - 0.5*(log2Pi+logDet+maha)
	}
	return out
}

// score is the mean per-sample log-likelihood of rows.
func (g *gaussianMixture) score(rows [][]float64) float64 {
	total := 0.0
	for _, x := range rows {
		total += floats.LogSumExp(g.weightedLogProb(x))
	}
	return total / float64(len(rows))
}

func (g *gaussianMixture) predict(rows [][]float64) []int {
	labels := make([]int, len(rows))
	for i, x := range rows {
		labels[i] = floats.MaxIdx(g.weightedLogProb(x))
	}
	return labels
}

func (g *gaussianMixture) numParams() int {
	d := g.dim
	var covParams int
	switch g.cov {
	case Full:
		covParams = g.k * d * (d + 1) / 2
	case Tied:
		covParams = d * (d + 1) / 2
	case Diag:
		covParams = g.k * d
	case Spherical:
		covParams = g.k
	}
	return g.k*d + g.k - 1 + covParams
}

func (g *gaussianMixture) bic(rows [][]float64) float64 {
	n := float64(len(rows))
	return -2*g.score(rows)*n + float64(g.numParams())*math.Log(n)
}

func (g *gaussianMixture) aic(rows [][]float64) float64 {
	n := float64(len(rows))
	return -2*g.score(rows)*n + 2*float64(g.numParams())
}

// trainTestSplit shuffles row indices and holds out ceil(20%) of them.
func trainTestSplit(rows [][]float64, rng *rand.Rand) (train, test [][]float64) {
	n := len(rows)
	nTest := int(math.Ceil(testShare * float64(n)))
	perm := rng.Perm(n)
	for i, idx := range perm {
		if i < nTest {
			test = append(test, rows[idx])
		} else {
			train = append(train, rows[idx])
		}
	}
	return train, test
}
