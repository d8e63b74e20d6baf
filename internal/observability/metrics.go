// Package observability holds the engine's Prometheus collectors.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dao_engine_runs_total",
		Help: "The total number of engine runs by kind and outcome",
	}, []string{"kind", "status"})

	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dao_engine_run_duration_seconds",
		Help:    "Duration of engine runs",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"kind"})

	RunInProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dao_engine_run_in_progress",
		Help: "1 while a run is executing",
	})

	VotesLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dao_engine_votes_loaded",
		Help: "Number of votes loaded by the last run",
	})

	UnmatchedReferences = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dao_engine_unmatched_references_total",
		Help: "Votes whose proposal or DAO was not found during the merge",
	}, []string{"table"})

	RowsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dao_engine_rows_written_total",
		Help: "Rows written to output tables",
	}, []string{"table"})

	SelectionCandidates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dao_engine_selection_candidates_total",
		Help: "Grid points evaluated during model selection",
	}, []string{"family", "outcome"})

	SelectionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dao_engine_selection_duration_seconds",
		Help:    "Duration of a model selection sweep",
		Buckets: prometheus.DefBuckets,
	}, []string{"family"})

	LastVBE = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dao_engine_last_vbe",
		Help: "Voting bloc entropy of the last clustering run",
	}, []string{"dao", "entropy"})
)
