// Package runner executes analytics and clustering runs against a pluggable
// source and sink, one run at a time.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rawblock/dao-analytics/internal/clustering"
	"github.com/rawblock/dao-analytics/internal/observability"
	"github.com/rawblock/dao-analytics/pkg/models"
)

// ErrBusy is returned when a run is requested while another is executing.
var ErrBusy = errors.New("a run is already in progress")

// Source supplies the governance tables.
type Source interface {
	LoadVotes(ctx context.Context) ([]models.Vote, error)
	LoadProposals(ctx context.Context) ([]models.Proposal, error)
	LoadDAOs(ctx context.Context) ([]models.DAO, error)
}

// Sink persists the output tables. It also answers what earlier runs left
// behind: processed proposals and the last clustering.
type Sink interface {
	LoadProcessedProposalIDs(ctx context.Context) ([]string, error)
	ReplaceDAOStats(ctx context.Context, stats []models.DAOStats, percentiles []models.DAOPercentile) error
	AppendProposalStats(ctx context.Context, stats []models.ProposalStat) error
	LoadClusterLabels(ctx context.Context) (map[string]int, error)
	SaveClusterData(ctx context.Context, runID string, rows []models.ClusterAssignment, overwrite bool) error
	AppendParameters(ctx context.Context, rec models.ParameterRecord) error
}

type Kind string

const (
	KindAnalytics Kind = "analytics"
	KindCluster   Kind = "cluster"
)

// Event is a notification emitted as a run moves through its stages.
type Event struct {
	RunID     string `json:"runId"`
	Kind      Kind   `json:"kind"`
	Stage     string `json:"stage"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	Result    any    `json:"result,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Progress represents the runner's current state for the API
type Progress struct {
	IsRunning   bool   `json:"isRunning"`
	RunID       string `json:"runId,omitempty"`
	Kind        Kind   `json:"kind,omitempty"`
	Stage       string `json:"stage,omitempty"`
	VotesLoaded int64  `json:"votesLoaded"`
	RowsWritten int64  `json:"rowsWritten"`
	LastError   string `json:"lastError,omitempty"`
}

// Runner executes runs and tracks their progress.
type Runner struct {
	source   Source
	sink     Sink
	selector *clustering.Selector
	logger   *zerolog.Logger
	emit     func(Event) // Optional broadcast callback

	// Progress tracking (atomic for safe concurrent reads)
	isRunning   atomic.Bool
	votesLoaded atomic.Int64
	rowsWritten atomic.Int64

	mu        sync.RWMutex
	runID     string
	kind      Kind
	stage     string
	lastError string
}

func New(source Source, sink Sink, selector *clustering.Selector, logger *zerolog.Logger, emit func(Event)) *Runner {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Runner{source: source, sink: sink, selector: selector, logger: logger, emit: emit}
}

// GetProgress returns the current run state (thread-safe)
func (r *Runner) GetProgress() Progress {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Progress{
		IsRunning:   r.isRunning.Load(),
		RunID:       r.runID,
		Kind:        r.kind,
		Stage:       r.stage,
		VotesLoaded: r.votesLoaded.Load(),
		RowsWritten: r.rowsWritten.Load(),
		LastError:   r.lastError,
	}
}

// begin claims the runner for a new run.
func (r *Runner) begin(kind Kind) (string, error) {
	if !r.isRunning.CompareAndSwap(false, true) {
		return "", ErrBusy
	}
	runID := uuid.NewString()

	r.mu.Lock()
	r.runID, r.kind, r.stage, r.lastError = runID, kind, "started", ""
	r.mu.Unlock()
	r.votesLoaded.Store(0)
	r.rowsWritten.Store(0)

	observability.RunInProgress.Set(1)
	r.publish(Event{RunID: runID, Kind: kind, Stage: "started"})
	return runID, nil
}

func (r *Runner) finish(runID string, kind Kind, started time.Time, result any, err error) {
	status := "success"
	ev := Event{RunID: runID, Kind: kind, Stage: "finished", Result: result}
	if err != nil {
		status = "error"
		ev.Stage = "failed"
		ev.Error = err.Error()
	}

	r.mu.Lock()
	r.stage = ev.Stage
	if err != nil {
		r.lastError = err.Error()
	}
	r.mu.Unlock()

	observability.RunsTotal.WithLabelValues(string(kind), status).Inc()
	observability.RunDuration.WithLabelValues(string(kind)).Observe(time.Since(started).Seconds())
	observability.RunInProgress.Set(0)

	log := r.logger.Info()
	if err != nil {
		log = r.logger.Error().Err(err)
	}
	log.Str("run_id", runID).Str("kind", string(kind)).Dur("elapsed", time.Since(started)).Msg("run " + status)

	r.publish(ev)
	r.isRunning.Store(false)
}

// stageTo records the stage and broadcasts it.
func (r *Runner) stageTo(runID string, kind Kind, stage, msg string) {
	r.mu.Lock()
	r.stage = stage
	r.mu.Unlock()
	r.logger.Debug().Str("run_id", runID).Str("stage", stage).Msg(msg)
	r.publish(Event{RunID: runID, Kind: kind, Stage: stage, Message: msg})
}

func (r *Runner) publish(ev Event) {
	if r.emit == nil {
		return
	}
	ev.Timestamp = time.Now().UTC().Format(time.RFC3339)
	r.emit(ev)
}

func (r *Runner) wrote(table string, n int) {
	r.rowsWritten.Add(int64(n))
	observability.RowsWritten.WithLabelValues(table).Add(float64(n))
}

// StartAnalytics launches an analytics run in the background and returns its
// id. The run outlives the request that started it.
func (r *Runner) StartAnalytics(opts AnalyticsOptions) (string, error) {
	runID, err := r.begin(KindAnalytics)
	if err != nil {
		return "", err
	}
	go func() {
		_, _ = r.analytics(context.Background(), runID, opts)
	}()
	return runID, nil
}

// StartCluster launches a clustering run in the background.
func (r *Runner) StartCluster(opts ClusterOptions) (string, error) {
	runID, err := r.begin(KindCluster)
	if err != nil {
		return "", err
	}
	go func() {
		_, _ = r.cluster(context.Background(), runID, opts)
	}()
	return runID, nil
}

// RunAnalytics executes an analytics run and waits for it.
func (r *Runner) RunAnalytics(ctx context.Context, opts AnalyticsOptions) (*AnalyticsReport, error) {
	runID, err := r.begin(KindAnalytics)
	if err != nil {
		return nil, err
	}
	return r.analytics(ctx, runID, opts)
}

// RunCluster executes a clustering run and waits for it.
func (r *Runner) RunCluster(ctx context.Context, opts ClusterOptions) (*ClusterReport, error) {
	runID, err := r.begin(KindCluster)
	if err != nil {
		return nil, err
	}
	return r.cluster(ctx, runID, opts)
}

func stepErr(step string, err error) error {
	return fmt.Errorf("%s: %w", step, err)
}
