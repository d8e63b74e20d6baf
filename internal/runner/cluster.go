package runner

import (
	"context"
	"errors"
	"time"

	"github.com/rawblock/dao-analytics/internal/clustering"
	"github.com/rawblock/dao-analytics/internal/features"
	"github.com/rawblock/dao-analytics/internal/metrics"
	"github.com/rawblock/dao-analytics/internal/observability"
	"github.com/rawblock/dao-analytics/pkg/models"
)

// ErrNoConfiguration is returned when no grid point of the requested family
// could be scored on the data.
var ErrNoConfiguration = errors.New("no scorable clustering configuration")

// ClusterOptions configures a clustering run.
type ClusterOptions struct {
	Features  features.Options
	Scaler    features.Scaler
	Request   clustering.Request
	Entropy   metrics.EntropyFunc
	Overwrite bool // replace an existing cluster_data
}

type ClusterReport struct {
	RunID      string                 `json:"runId"`
	DAOID      string                 `json:"daoId"`
	Voters     int                    `json:"voters"`
	Proposals  int                    `json:"proposals"`
	Selection  *clustering.Result     `json:"selection"`
	Clusters   int                    `json:"clusters"`
	Noise      int                    `json:"noise"`
	Saved      bool                   `json:"saved"` // false when existing cluster data was kept
	Parameters models.ParameterRecord `json:"parameters"`
}

func (r *Runner) cluster(ctx context.Context, runID string, opts ClusterOptions) (report *ClusterReport, err error) {
	started := time.Now()
	defer func() { r.finish(runID, KindCluster, started, report, err) }()

	r.stageTo(runID, KindCluster, "loading", "loading votes and proposals")
	votes, err := r.source.LoadVotes(ctx)
	if err != nil {
		return nil, stepErr("load votes", err)
	}
	r.votesLoaded.Store(int64(len(votes)))
	observability.VotesLoaded.Set(float64(len(votes)))
	proposals, err := r.source.LoadProposals(ctx)
	if err != nil {
		return nil, stepErr("load proposals", err)
	}

	r.stageTo(runID, KindCluster, "features", "building voter feature matrix")
	matrix, err := features.Build(votes, proposals, opts.Features)
	if err != nil {
		return nil, stepErr("build features", err)
	}
	rows := features.Scale(matrix.Rows, opts.Scaler)
	voters, cols := matrix.Dims()

	r.stageTo(runID, KindCluster, "selecting", "searching "+string(opts.Request.Family)+" configurations")
	res, err := r.selector.Select(ctx, rows, opts.Request)
	if err != nil {
		return nil, stepErr("select", err)
	}
	if res == nil {
		return nil, ErrNoConfiguration
	}

	r.stageTo(runID, KindCluster, "fitting", "fitting "+res.Params.String())
	labels, err := r.selector.Fit(rows, res.Params, opts.Request)
	if err != nil {
		return nil, stepErr("fit", err)
	}
	assignments, err := matrix.Assignments(labels)
	if err != nil {
		return nil, err
	}

	rec := models.ParameterRecord{
		RunID:                  runID,
		DAOID:                  matrix.DAOID,
		ClusteringMethod:       string(res.Params.Family),
		DistanceClustering:     string(opts.Request.Distance),
		Scaler:                 string(opts.Scaler),
		OptimalClusterMethod:   string(res.Criterion),
		DistanceOptimalCluster: string(opts.Request.ScoreDistance),
		OptimalClusters:        res.Params.String(),
		NumClustersSelected:    clustering.ClusterCount(labels),
		Score:                  res.Score,
		EntropyFunction:        string(opts.Entropy),
		VBE:                    metrics.VotingBlocEntropy(labels, opts.Entropy),
		CreatedAt:              time.Now().UTC(),
	}

	previous, err := r.sink.LoadClusterLabels(ctx)
	if err != nil {
		return nil, stepErr("load previous clustering", err)
	}
	rec.StabilityARI, rec.StabilityVI = stability(matrix.Voters, labels, previous)

	r.stageTo(runID, KindCluster, "saving", "saving cluster data and parameters")
	saved := true
	err = r.sink.SaveClusterData(ctx, runID, assignments, opts.Overwrite)
	switch {
	case errors.Is(err, models.ErrClusterDataExists):
		saved = false
		r.logger.Warn().Str("run_id", runID).Msg("cluster data exists and overwrite is off, keeping it")
	case err != nil:
		return nil, stepErr("save cluster data", err)
	default:
		r.wrote("cluster_data", len(assignments))
	}

	if err := r.sink.AppendParameters(ctx, rec); err != nil {
		return nil, stepErr("save parameters", err)
	}
	r.wrote("parameters", 1)
	observability.LastVBE.WithLabelValues(rec.DAOID, rec.EntropyFunction).Set(rec.VBE)

	noise := 0
	for _, l := range labels {
		if l == models.NoiseLabel {
			noise++
		}
	}
	return &ClusterReport{
		RunID:      runID,
		DAOID:      matrix.DAOID,
		Voters:     voters,
		Proposals:  cols,
		Selection:  res,
		Clusters:   rec.NumClustersSelected,
		Noise:      noise,
		Saved:      saved,
		Parameters: rec,
	}, nil
}

// stability compares labels with the previous clustering over the voters
// both runs assigned. Fewer than two shared voters yields nil.
func stability(voters []string, labels []int, previous map[string]int) (*float64, *float64) {
	var current, reference []int
	for i, v := range voters {
		if prev, ok := previous[v]; ok {
			current = append(current, labels[i])
			reference = append(reference, prev)
		}
	}
	if len(current) < 2 {
		return nil, nil
	}
	ari := metrics.AdjustedRandIndex(current, reference)
	vi := metrics.VariationOfInformation(current, reference)
	return &ari, &vi
}
