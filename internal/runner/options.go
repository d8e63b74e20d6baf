package runner

import (
	"github.com/rawblock/dao-analytics/internal/clustering"
	"github.com/rawblock/dao-analytics/internal/features"
	"github.com/rawblock/dao-analytics/internal/metrics"
)

// ClusterSpec is the textual form of a clustering run as it arrives from
// flags or a request body. Empty fields take defaults.
type ClusterSpec struct {
	Algorithm     string `json:"algorithm"`
	Criterion     string `json:"criterion"`
	Distance      string `json:"distance"`
	ScoreDistance string `json:"scoreDistance"`
	Scaler        string `json:"scaler"`
	Entropy       string `json:"entropy"`
	DAOID         string `json:"daoId"`
	MaxProposals  int    `json:"maxProposals"`
	Overwrite     bool   `json:"overwrite"`
}

// Options validates the fields and resolves it against base feature options.
func (s ClusterSpec) Options(base features.Options) (ClusterOptions, error) {
	algorithm := s.Algorithm
	if algorithm == "" {
		algorithm = string(clustering.KMeans)
	}
	family, err := clustering.ParseFamily(algorithm)
	if err != nil {
		return ClusterOptions{}, err
	}
	criterion, err := clustering.ParseCriterion(family, s.Criterion)
	if err != nil {
		return ClusterOptions{}, err
	}
	distance, err := metrics.ParseDistance(s.Distance)
	if err != nil {
		return ClusterOptions{}, err
	}
	scoreDistance := distance
	if s.ScoreDistance != "" {
		if scoreDistance, err = metrics.ParseDistance(s.ScoreDistance); err != nil {
			return ClusterOptions{}, err
		}
	}
	scaler, err := features.ParseScaler(s.Scaler)
	if err != nil {
		return ClusterOptions{}, err
	}
	entropy, err := metrics.ParseEntropy(s.Entropy)
	if err != nil {
		return ClusterOptions{}, err
	}

	opts := base
	if s.DAOID != "" {
		opts.Scope.DAOID = s.DAOID
	}
	if s.MaxProposals > 0 {
		opts.Scope.MaxProposals = s.MaxProposals
	}
	return ClusterOptions{
		Features: opts,
		Scaler:   scaler,
		Request: clustering.Request{
			Family:        family,
			Criterion:     criterion,
			Distance:      distance,
			ScoreDistance: scoreDistance,
		},
		Entropy:   entropy,
		Overwrite: s.Overwrite,
	}, nil
}
