package runner

import (
	"context"
	"time"

	"github.com/rawblock/dao-analytics/internal/analytics"
	"github.com/rawblock/dao-analytics/internal/dataset"
	"github.com/rawblock/dao-analytics/internal/observability"
	"github.com/rawblock/dao-analytics/pkg/models"
)

// AnalyticsOptions selects which aggregations an analytics run performs.
type AnalyticsOptions struct {
	DAO       bool `json:"dao"`
	Proposals bool `json:"proposals"`
	Strict    bool `json:"strict"`
}

type AnalyticsReport struct {
	RunID          string              `json:"runId"`
	Merge          dataset.MergeReport `json:"merge"`
	DAOStats       int                 `json:"daoStats"`
	DAOPercentiles int                 `json:"daoPercentiles"`
	ProposalStats  int                 `json:"proposalStats"`
	SkippedAlready int                 `json:"skippedProposals"`
}

func (r *Runner) analytics(ctx context.Context, runID string, opts AnalyticsOptions) (report *AnalyticsReport, err error) {
	started := time.Now()
	defer func() { r.finish(runID, KindAnalytics, started, report, err) }()

	merged, mergeReport, err := r.loadMerged(ctx, runID, opts.Strict)
	if err != nil {
		return nil, err
	}
	report = &AnalyticsReport{RunID: runID, Merge: mergeReport}

	if opts.DAO {
		r.stageTo(runID, KindAnalytics, "dao_stats", "generating DAO level analytics")
		stats, percentiles := analytics.ComputeDAOStats(merged)
		if err := r.sink.ReplaceDAOStats(ctx, stats, percentiles); err != nil {
			return nil, stepErr("save dao stats", err)
		}
		r.wrote("dao_stats", len(stats))
		r.wrote("dao_percentile", len(percentiles))
		report.DAOStats, report.DAOPercentiles = len(stats), len(percentiles)
	}

	if opts.Proposals {
		r.stageTo(runID, KindAnalytics, "proposal_stats", "generating proposal level analytics")
		ids, err := r.sink.LoadProcessedProposalIDs(ctx)
		if err != nil {
			return nil, stepErr("load processed proposals", err)
		}
		processed := analytics.ProcessedSet(ids)
		report.SkippedAlready = len(processed)

		stats := analytics.ComputeProposalStats(merged, processed)
		if len(stats) > 0 {
			if err := r.sink.AppendProposalStats(ctx, stats); err != nil {
				return nil, stepErr("save proposal stats", err)
			}
		}
		r.wrote("proposal_stats", len(stats))
		report.ProposalStats = len(stats)
	}
	return report, nil
}

// loadMerged loads the three governance tables and joins them.
func (r *Runner) loadMerged(ctx context.Context, runID string, strict bool) ([]models.MergedVote, dataset.MergeReport, error) {
	r.stageTo(runID, KindAnalytics, "loading", "loading votes, proposals and DAOs")
	votes, err := r.source.LoadVotes(ctx)
	if err != nil {
		return nil, dataset.MergeReport{}, stepErr("load votes", err)
	}
	r.votesLoaded.Store(int64(len(votes)))
	observability.VotesLoaded.Set(float64(len(votes)))

	proposals, err := r.source.LoadProposals(ctx)
	if err != nil {
		return nil, dataset.MergeReport{}, stepErr("load proposals", err)
	}
	daos, err := r.source.LoadDAOs(ctx)
	if err != nil {
		return nil, dataset.MergeReport{}, stepErr("load daos", err)
	}

	r.stageTo(runID, KindAnalytics, "merging", "merging voters, proposals and DAOs")
	merged, report, err := dataset.Merge(votes, proposals, daos, dataset.MergeOptions{Strict: strict})
	if err != nil {
		return nil, report, stepErr("merge", err)
	}
	observability.UnmatchedReferences.WithLabelValues("proposals").Add(float64(report.UnmatchedProposals))
	observability.UnmatchedReferences.WithLabelValues("dao").Add(float64(report.UnmatchedDAOs))
	if report.UnmatchedProposals > 0 || report.UnmatchedDAOs > 0 {
		r.logger.Warn().
			Str("run_id", runID).
			Int("unmatched_proposals", report.UnmatchedProposals).
			Int("unmatched_daos", report.UnmatchedDAOs).
			Msg("votes reference unknown proposals or DAOs")
	}
	return merged, report, nil
}
