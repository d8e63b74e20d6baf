package clustering

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/rs/zerolog"

	"github.com/rawblock/dao-analytics/internal/metrics"
	"github.com/rawblock/dao-analytics/internal/observability"
)

const (
	defaultMinK = 2
	defaultMaxK = 10
)

// Request describes one model selection run.
type Request struct {
	Family    Family
	Criterion Criterion
	// Distance is used to fit DBSCAN neighbourhoods.
	Distance metrics.Distance
	// ScoreDistance is used by the silhouette criterion. Empty means Distance.
	ScoreDistance metrics.Distance
}

func (r Request) scoreDistance() metrics.Distance {
	if r.ScoreDistance != "" {
		return r.ScoreDistance
	}
	if r.Distance != "" {
		return r.Distance
	}
	return metrics.Euclidean
}

// Params is one point of a family's hyperparameter grid.
type Params struct {
	Family     Family     `json:"family"`
	K          int        `json:"k,omitempty"`
	Linkage    Linkage    `json:"linkage,omitempty"`
	Covariance Covariance `json:"covariance,omitempty"`
	Affinity   Affinity   `json:"affinity,omitempty"`
	Eps        float64    `json:"eps,omitempty"`
	MinSamples int        `json:"minSamples,omitempty"`
}

func (p Params) String() string {
	switch p.Family {
	case Hierarchical:
		return fmt.Sprintf("%s(k=%d, linkage=%s)", p.Family, p.K, p.Linkage)
	case GMM:
		return fmt.Sprintf("%s(k=%d, covariance=%s)", p.Family, p.K, p.Covariance)
	case Spectral:
		return fmt.Sprintf("%s(k=%d, affinity=%s)", p.Family, p.K, p.Affinity)
	case DBSCAN:
		return fmt.Sprintf("%s(eps=%.4g, min_samples=%d)", p.Family, p.Eps, p.MinSamples)
	default:
		return fmt.Sprintf("%s(k=%d)", p.Family, p.K)
	}
}

// Result is the winning configuration of a selection.
type Result struct {
	Params    Params    `json:"params"`
	Criterion Criterion `json:"criterion"`
	Direction Direction `json:"direction"`
	Score     float64   `json:"score"`
	Scored    int       `json:"scored"`
	Evaluated int       `json:"evaluated"`
}

// Config tunes a Selector.
type Config struct {
	Workers int
	Seed    uint64
	MinK    int
	MaxK    int
	// HonorSpectralAffinity fits spectral candidates with their own affinity.
	// When false every spectral fit uses the nearest-neighbours graph and the
	// affinity only labels the grid point.
	HonorSpectralAffinity bool
}

// Selector sweeps hyperparameter grids on a bounded worker pool.
type Selector struct {
	cfg    Config
	logger *zerolog.Logger
}

// NewSelector fills unset Config fields with defaults.
func NewSelector(cfg Config, logger *zerolog.Logger) *Selector {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Seed == 0 {
		cfg.Seed = defaultSeed
	}
	if cfg.MinK <= 0 {
		cfg.MinK = defaultMinK
	}
	if cfg.MaxK < cfg.MinK {
		cfg.MaxK = max(defaultMaxK, cfg.MinK)
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Selector{cfg: cfg, logger: logger}
}

type candidate struct {
	params Params
	eval   func(rng *rand.Rand) (float64, error)
}

// Select evaluates every grid point of req.Family and returns the best one
// under req.Criterion. Ties go to the first candidate in grid order. When no
// candidate can be scored the result is nil with a nil error.
func (s *Selector) Select(ctx context.Context, rows [][]float64, req Request) (*Result, error) {
	dir, err := DirectionFor(req.Family, req.Criterion)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 || len(rows[0]) == 0 {
		s.logger.Warn().Int("rows", len(rows)).Str("family", string(req.Family)).Msg("not enough voters to cluster")
		return nil, nil
	}

	start := time.Now()
	g, err := s.newGrid(rows, req)
	if err != nil {
		return nil, err
	}
	candidates := g.candidates()

	scores := make([]float64, len(candidates))
	scored := make([]bool, len(candidates))

	pool := pond.NewPool(s.cfg.Workers)
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for i, c := range candidates {
		group.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}
			v, err := c.eval(newRand(s.cfg.Seed))
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return
			}
			scores[i] = v
			scored[i] = true
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("evaluate %s grid: %w", req.Family, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var best *Result
	count := 0
	for i, c := range candidates {
		if !scored[i] {
			continue
		}
		count++
		if best == nil || dir.better(scores[i], best.Score) {
			best = &Result{Params: c.params, Criterion: req.Criterion, Direction: dir, Score: scores[i]}
		}
	}

	elapsed := time.Since(start)
	observability.SelectionDuration.WithLabelValues(string(req.Family)).Observe(elapsed.Seconds())
	observability.SelectionCandidates.WithLabelValues(string(req.Family), "scored").Add(float64(count))
	observability.SelectionCandidates.WithLabelValues(string(req.Family), "skipped").Add(float64(len(candidates) - count))

	log := s.logger.Info().
		Str("family", string(req.Family)).
		Str("criterion", string(req.Criterion)).
		Int("candidates", len(candidates)).
		Int("scored", count).
		Dur("elapsed", elapsed)
	if best == nil {
		log.Msg("no scorable clustering configuration")
		return nil, nil
	}
	best.Scored = count
	best.Evaluated = len(candidates)
	log.Str("params", best.Params.String()).Float64("score", best.Score).Msg("selected clustering configuration")
	return best, nil
}

// Fit refits params on rows and returns one label per row. DBSCAN noise is
// labelled -1.
func (s *Selector) Fit(rows [][]float64, params Params, req Request) ([]int, error) {
	if len(rows) == 0 {
		return nil, ErrTooFewSamples
	}
	rng := newRand(s.cfg.Seed)

	switch params.Family {
	case KMeans:
		m, err := kmeans(rows, params.K, 1, rng)
		if err != nil {
			return nil, err
		}
		return m.labels, nil
	case Hierarchical:
		linkage := params.Linkage
		if linkage == "" {
			linkage = Ward
		}
		return agglomerate(rows, params.K, linkage)
	case GMM:
		train, _ := trainTestSplit(rows, newRand(s.cfg.Seed))
		g, err := fitGMM(train, params.K, params.Covariance, rng)
		if err != nil {
			return nil, err
		}
		return g.predict(rows), nil
	case Spectral:
		basis, err := newSpectralBasis(rows, s.fitAffinity(params.Affinity))
		if err != nil {
			return nil, err
		}
		return basis.cluster(params.K, rng)
	case DBSCAN:
		d := req.Distance
		if d == "" {
			d = metrics.Euclidean
		}
		return dbscan(metrics.Pairwise(rows, d), params.Eps, params.MinSamples), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFamily, params.Family)
	}
}

func (s *Selector) fitAffinity(a Affinity) Affinity {
	if s.cfg.HonorSpectralAffinity && a != "" {
		return a
	}
	return NearestNeighbors
}

// grid holds what every candidate of one selection shares read-only.
type grid struct {
	s         *Selector
	rows      [][]float64
	req       Request
	scoreDist [][]float64
	fitDist   [][]float64
	merges    map[Linkage][]merge
	bases     map[Affinity]*spectralBasis
	train     [][]float64
	test      [][]float64
}

func (s *Selector) newGrid(rows [][]float64, req Request) (*grid, error) {
	g := &grid{s: s, rows: rows, req: req}

	if req.Criterion == Silhouette || req.Family == DBSCAN {
		g.scoreDist = metrics.Pairwise(rows, req.scoreDistance())
	}

	switch req.Family {
	case Hierarchical:
		if req.Criterion == GapStatistic {
			break
		}
		g.merges = make(map[Linkage][]merge, len(Linkages))
		for _, l := range Linkages {
			m, err := dendrogram(linkageDistances(rows, l), l)
			if err != nil {
				return nil, err
			}
			g.merges[l] = m
		}
	case GMM:
		g.train, g.test = trainTestSplit(rows, newRand(s.cfg.Seed))
	case Spectral:
		g.bases = make(map[Affinity]*spectralBasis)
		for _, a := range Affinities {
			fa := s.fitAffinity(a)
			if _, ok := g.bases[fa]; ok {
				continue
			}
			b, err := newSpectralBasis(rows, fa)
			if err != nil {
				return nil, err
			}
			g.bases[fa] = b
		}
	case DBSCAN:
		d := req.Distance
		if d == "" {
			d = metrics.Euclidean
		}
		if d == req.scoreDistance() {
			g.fitDist = g.scoreDist
		} else {
			g.fitDist = metrics.Pairwise(rows, d)
		}
	}
	return g, nil
}

// candidates enumerates the grid in its fixed iteration order.
func (g *grid) candidates() []candidate {
	var out []candidate
	ks := make([]int, 0, g.s.cfg.MaxK-g.s.cfg.MinK+1)
	for k := g.s.cfg.MinK; k <= g.s.cfg.MaxK; k++ {
		ks = append(ks, k)
	}

	switch g.req.Family {
	case KMeans:
		for _, k := range ks {
			p := Params{Family: KMeans, K: k}
			if g.req.Criterion == GapStatistic {
				out = append(out, candidate{p, func(rng *rand.Rand) (float64, error) {
					return gap(g.rows, k, kmeansDispersion, rng)
				}})
				continue
			}
			out = append(out, candidate{p, func(rng *rand.Rand) (float64, error) {
				m, err := kmeans(g.rows, k, 1, rng)
				if err != nil {
					return math.NaN(), err
				}
				return g.scoreLabels(m.labels)
			}})
		}

	case Hierarchical:
		if g.req.Criterion == GapStatistic {
			for _, k := range ks {
				out = append(out, candidate{Params{Family: Hierarchical, K: k, Linkage: Ward}, func(rng *rand.Rand) (float64, error) {
					return gap(g.rows, k, wardDispersion, rng)
				}})
			}
			break
		}
		for _, l := range Linkages {
			for _, k := range ks {
				out = append(out, candidate{Params{Family: Hierarchical, K: k, Linkage: l}, func(*rand.Rand) (float64, error) {
					if k > len(g.rows) {
						return math.NaN(), ErrTooFewSamples
					}
					return g.scoreLabels(cut(len(g.rows), g.merges[l], k))
				}})
			}
		}

	case GMM:
		for _, cov := range Covariances {
			for _, k := range ks {
				out = append(out, candidate{Params{Family: GMM, K: k, Covariance: cov}, func(rng *rand.Rand) (float64, error) {
					m, err := fitGMM(g.train, k, cov, rng)
					if err != nil {
						return math.NaN(), err
					}
					switch g.req.Criterion {
					case BIC:
						return m.bic(g.test), nil
					case AIC:
						return m.aic(g.test), nil
					case LogLikelihood:
						return m.score(g.test), nil
					default:
						return g.scoreLabels(m.predict(g.rows))
					}
				}})
			}
		}

	case Spectral:
		for _, a := range Affinities {
			basis := g.bases[g.s.fitAffinity(a)]
			for _, k := range ks {
				out = append(out, candidate{Params{Family: Spectral, K: k, Affinity: a}, func(rng *rand.Rand) (float64, error) {
					labels, err := basis.cluster(k, rng)
					if err != nil {
						return math.NaN(), err
					}
					return g.scoreLabels(labels)
				}})
			}
		}

	case DBSCAN:
		if g.req.Criterion == KDistance {
			for _, ms := range ks {
				eps := kDistanceEps(g.fitDist, ms)
				if eps <= 0 {
					continue
				}
				out = append(out, g.dbscanCandidate(eps, ms))
			}
			break
		}
		for _, eps := range EpsGrid() {
			for _, ms := range ks {
				out = append(out, g.dbscanCandidate(eps, ms))
			}
		}
	}
	return out
}

func (g *grid) dbscanCandidate(eps float64, minSamples int) candidate {
	return candidate{Params{Family: DBSCAN, Eps: eps, MinSamples: minSamples}, func(*rand.Rand) (float64, error) {
		labels := dbscan(g.fitDist, eps, minSamples)
		if realClusters(labels) < 2 {
			return math.NaN(), metrics.ErrDegenerateLabels
		}
		return metrics.SilhouetteFromDistances(g.scoreDist, labels)
	}}
}

// scoreLabels applies a label-based criterion.
func (g *grid) scoreLabels(labels []int) (float64, error) {
	switch g.req.Criterion {
	case DaviesBouldin:
		return metrics.DaviesBouldin(g.rows, labels)
	case CalinskiHarabasz:
		return metrics.CalinskiHarabasz(g.rows, labels)
	default:
		return metrics.SilhouetteFromDistances(g.scoreDist, labels)
	}
}

// ClusterCount returns the number of real clusters in labels.
func ClusterCount(labels []int) int {
	return realClusters(labels)
}
