package db

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"github.com/rawblock/dao-analytics/internal/dataset"
	"github.com/rawblock/dao-analytics/migrations"
	"github.com/rawblock/dao-analytics/pkg/models"
)

const (
	migrationLockID = 1000
	maxPageSize     = 500
	defaultPageSize = 50
)

type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zerolog.Logger
}

// Connect initializes the connection pool to PostgreSQL using pgx
func Connect(ctx context.Context, connStr string, logger *zerolog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}

	logger.Info().Msg("connected to PostgreSQL")
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Close gracefully closes the connection pool
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping reports whether the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type gooseLogger struct {
	logger *zerolog.Logger
}

func (l *gooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Fatal().Msgf(format, v...)
}

func (l *gooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Info().Msgf(format, v...)
}

// Migrate applies the embedded goose migrations. An advisory lock keeps
// concurrent engines from migrating at the same time.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID)
	}()

	dbSQL := stdlib.OpenDB(*s.pool.Config().ConnConfig)
	defer func() {
		_ = dbSQL.Close()
	}()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(&gooseLogger{logger: s.logger})

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, dbSQL, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// LoadVotes reads every ballot. Voting power is coerced from its stored text.
func (s *PostgresStore) LoadVotes(ctx context.Context) ([]models.Vote, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT voter_address, proposal_id, dao_id, choice, COALESCE(voting_power, ''), created_at
		FROM votes
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query votes: %w", err)
	}
	defer rows.Close()

	votes := make([]models.Vote, 0)
	for rows.Next() {
		var v models.Vote
		var ts pgtype.Timestamptz
		if err := rows.Scan(&v.VoterAddress, &v.ProposalID, &v.DAOID, &v.Choice, &v.RawPower, &ts); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		v.VotingPower = dataset.ParsePower(v.RawPower)
		if ts.Valid {
			v.Timestamp = ts.Time
		}
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

// LoadProposals reads proposals in insertion order, which the feature
// builder relies on to pick its DAO and proposal window.
func (s *PostgresStore) LoadProposals(ctx context.Context) ([]models.Proposal, error) {
	rows, err := s.pool.Query(ctx, `SELECT proposal_id, dao_id, choices FROM proposals ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query proposals: %w", err)
	}
	defer rows.Close()

	proposals := make([]models.Proposal, 0)
	for rows.Next() {
		var p models.Proposal
		var raw string
		if err := rows.Scan(&p.ProposalID, &p.DAOID, &raw); err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		if p.Choices, err = dataset.ParseChoices(raw); err != nil {
			return nil, fmt.Errorf("proposal %s: %w", p.ProposalID, err)
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}

func (s *PostgresStore) LoadDAOs(ctx context.Context) ([]models.DAO, error) {
	rows, err := s.pool.Query(ctx, `SELECT dao_id, dao_name FROM dao ORDER BY dao_id`)
	if err != nil {
		return nil, fmt.Errorf("query dao: %w", err)
	}
	defer rows.Close()

	daos := make([]models.DAO, 0)
	for rows.Next() {
		var d models.DAO
		if err := rows.Scan(&d.DAOID, &d.DAOName); err != nil {
			return nil, fmt.Errorf("scan dao: %w", err)
		}
		daos = append(daos, d)
	}
	return daos, rows.Err()
}

// LoadProcessedProposalIDs returns the proposals proposal_stats already covers.
func (s *PostgresStore) LoadProcessedProposalIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT proposal_id FROM proposal_stats`)
	if err != nil {
		return nil, fmt.Errorf("query processed proposals: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReplaceDAOStats swaps the content of dao_stats and dao_percentile in one
// transaction.
func (s *PostgresStore) ReplaceDAOStats(ctx context.Context, stats []models.DAOStats, percentiles []models.DAOPercentile) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM dao_stats`); err != nil {
		return fmt.Errorf("clear dao_stats: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM dao_percentile`); err != nil {
		return fmt.Errorf("clear dao_percentile: %w", err)
	}

	_, err = tx.CopyFrom(ctx, pgx.Identifier{"dao_stats"},
		[]string{"id", "protocol", "dao_name", "unique_voters", "total_proposals", "total_votes_cast",
			"avg_votes_on_proposal", "avg_votes_voter", "avg_vp_voter", "avg_voter_participation",
			"gini_index", "nakamoto_coefficient", "min_entropy"},
		pgx.CopyFromSlice(len(stats), func(i int) ([]any, error) {
			r := stats[i]
			return []any{r.ID, r.Protocol, r.DAOName, r.UniqueVoters, r.TotalProposals, r.TotalVotesCast,
				nullFloat(r.AvgVotesOnProposal), nullFloat(r.AvgVotesPerVoter), nullFloat(r.AvgVotingPowerVoter),
				nullFloat(r.AvgVoterParticipation), nullFloat(r.GiniIndex), r.NakamotoCoefficient, nullFloat(r.MinEntropy)}, nil
		}))
	if err != nil {
		return fmt.Errorf("copy dao_stats: %w", err)
	}

	_, err = tx.CopyFrom(ctx, pgx.Identifier{"dao_percentile"},
		[]string{"id", "protocol", "measure", "mean", "std", "percentile", "value"},
		pgx.CopyFromSlice(len(percentiles), func(i int) ([]any, error) {
			r := percentiles[i]
			return []any{r.ID, r.Protocol, r.Measure, nullFloat(r.Mean), nullFloat(r.Std), r.Percentile, nullFloat(r.Value)}, nil
		}))
	if err != nil {
		return fmt.Errorf("copy dao_percentile: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.logger.Info().Int("dao_stats", len(stats)).Int("dao_percentile", len(percentiles)).Msg("replaced DAO analytics")
	return nil
}

// AppendProposalStats adds rows to proposal_stats. Row ids restart at 1 on
// every run, so they are shifted past the current maximum.
func (s *PostgresStore) AppendProposalStats(ctx context.Context, stats []models.ProposalStat) error {
	if len(stats) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `LOCK TABLE proposal_stats IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return fmt.Errorf("lock proposal_stats: %w", err)
	}
	var offset int64
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM proposal_stats`).Scan(&offset); err != nil {
		return fmt.Errorf("read proposal_stats offset: %w", err)
	}

	batch := &pgx.Batch{}
	query := `INSERT INTO proposal_stats (id, proposal_id, choice, measure, value) VALUES ($1, $2, $3, $4, $5)`
	for _, r := range stats {
		batch.Queue(query, offset+int64(r.ID), r.ProposalID, r.Choice, r.Measure, nullFloat(r.Value))
	}
	if err := execBatch(ctx, tx, batch); err != nil {
		return fmt.Errorf("insert proposal_stats: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.logger.Info().Int("rows", len(stats)).Int64("offset", offset).Msg("appended proposal stats")
	return nil
}

func execBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return err
		}
	}
	return br.Close()
}

// SaveClusterData writes the voter assignments of one run. Existing rows are
// only replaced when overwrite is set.
func (s *PostgresStore) SaveClusterData(ctx context.Context, runID string, rows []models.ClusterAssignment, overwrite bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var existing int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM cluster_data`).Scan(&existing); err != nil {
		return fmt.Errorf("count cluster_data: %w", err)
	}
	if existing > 0 {
		if !overwrite {
			return fmt.Errorf("%w: %d rows", models.ErrClusterDataExists, existing)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM cluster_data`); err != nil {
			return fmt.Errorf("clear cluster_data: %w", err)
		}
	}

	id := toUUID(runID)
	_, err = tx.CopyFrom(ctx, pgx.Identifier{"cluster_data"},
		[]string{"voter_address", "voting_power", "cluster", "features", "run_id"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			r := rows[i]
			return []any{r.VoterAddress, nullFloat(r.VotingPower), r.Cluster, r.Features, id}, nil
		}))
	if err != nil {
		return fmt.Errorf("copy cluster_data: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.logger.Info().Str("run_id", runID).Int("voters", len(rows)).Bool("overwrote", existing > 0).Msg("saved cluster data")
	return nil
}

// LoadClusterLabels returns the stored cluster of every voter.
func (s *PostgresStore) LoadClusterLabels(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT voter_address, cluster FROM cluster_data`)
	if err != nil {
		return nil, fmt.Errorf("query cluster_data: %w", err)
	}
	defer rows.Close()

	labels := make(map[string]int)
	for rows.Next() {
		var voter string
		var cluster int
		if err := rows.Scan(&voter, &cluster); err != nil {
			return nil, err
		}
		labels[voter] = cluster
	}
	return labels, rows.Err()
}

func (s *PostgresStore) AppendParameters(ctx context.Context, rec models.ParameterRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO parameters
			(run_id, dao_id, clustering_method, distance_clustering, scaler, optimal_cluster_method,
			 distance_optimal_cluster, optimal_clusters, num_clusters_selected, score,
			 entropy_function, vbe, stability_ari, stability_vi, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		toUUID(rec.RunID), rec.DAOID, rec.ClusteringMethod, rec.DistanceClustering, rec.Scaler, rec.OptimalClusterMethod,
		rec.DistanceOptimalCluster, rec.OptimalClusters, rec.NumClustersSelected, nullFloat(rec.Score),
		rec.EntropyFunction, nullFloat(rec.VBE), rec.StabilityARI, rec.StabilityVI, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert parameters: %w", err)
	}
	return nil
}

// ListDAOStats returns dao_stats rows, optionally for a single protocol.
func (s *PostgresStore) ListDAOStats(ctx context.Context, protocol string) ([]models.DAOStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, protocol, dao_name, unique_voters, total_proposals, total_votes_cast,
			avg_votes_on_proposal, avg_votes_voter, avg_vp_voter, avg_voter_participation,
			gini_index, nakamoto_coefficient, min_entropy
		FROM dao_stats
		WHERE $1 = '' OR protocol = $1
		ORDER BY id`, protocol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.DAOStats, 0)
	for rows.Next() {
		var r models.DAOStats
		var avgProp, avgVotes, avgVP, avgPart, gini, entropy *float64
		if err := rows.Scan(&r.ID, &r.Protocol, &r.DAOName, &r.UniqueVoters, &r.TotalProposals, &r.TotalVotesCast,
			&avgProp, &avgVotes, &avgVP, &avgPart, &gini, &r.NakamotoCoefficient, &entropy); err != nil {
			return nil, err
		}
		r.AvgVotesOnProposal = fromNull(avgProp)
		r.AvgVotesPerVoter = fromNull(avgVotes)
		r.AvgVotingPowerVoter = fromNull(avgVP)
		r.AvgVoterParticipation = fromNull(avgPart)
		r.GiniIndex = fromNull(gini)
		r.MinEntropy = fromNull(entropy)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListDAOPercentiles(ctx context.Context, protocol, measure string) ([]models.DAOPercentile, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, protocol, measure, mean, std, percentile, value
		FROM dao_percentile
		WHERE ($1 = '' OR protocol = $1) AND ($2 = '' OR measure = $2)
		ORDER BY id`, protocol, measure)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.DAOPercentile, 0)
	for rows.Next() {
		var r models.DAOPercentile
		var mean, std, value *float64
		if err := rows.Scan(&r.ID, &r.Protocol, &r.Measure, &mean, &std, &r.Percentile, &value); err != nil {
			return nil, err
		}
		r.Mean, r.Std, r.Value = fromNull(mean), fromNull(std), fromNull(value)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListProposalStats pages through proposal_stats, optionally for one
// proposal. The total row count is returned alongside the page.
func (s *PostgresStore) ListProposalStats(ctx context.Context, proposalID string, page, limit int) ([]models.ProposalStat, int, error) {
	limit, offset := pageBounds(page, limit)

	var total int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM proposal_stats WHERE $1 = '' OR proposal_id = $1`, proposalID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, proposal_id, choice, measure, value
		FROM proposal_stats
		WHERE $1 = '' OR proposal_id = $1
		ORDER BY id
		LIMIT $2 OFFSET $3`, proposalID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]models.ProposalStat, 0)
	for rows.Next() {
		var r models.ProposalStat
		var id int64
		var value *float64
		if err := rows.Scan(&id, &r.ProposalID, &r.Choice, &r.Measure, &value); err != nil {
			return nil, 0, err
		}
		r.ID = int(id)
		r.Value = fromNull(value)
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// ListClusterData pages through the stored voter assignments.
func (s *PostgresStore) ListClusterData(ctx context.Context, page, limit int) ([]models.ClusterAssignment, int, error) {
	limit, offset := pageBounds(page, limit)

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM cluster_data`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT voter_address, voting_power, cluster, features
		FROM cluster_data
		ORDER BY cluster, voter_address
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]models.ClusterAssignment, 0)
	for rows.Next() {
		var r models.ClusterAssignment
		var vp *float64
		if err := rows.Scan(&r.VoterAddress, &vp, &r.Cluster, &r.Features); err != nil {
			return nil, 0, err
		}
		r.VotingPower = fromNull(vp)
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// ListParameters returns the newest audit rows first.
func (s *PostgresStore) ListParameters(ctx context.Context, limit int) ([]models.ParameterRecord, error) {
	limit, _ = pageBounds(1, limit)
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, dao_id, clustering_method, distance_clustering, scaler, optimal_cluster_method,
			distance_optimal_cluster, optimal_clusters, num_clusters_selected, score,
			entropy_function, vbe, stability_ari, stability_vi, created_at
		FROM parameters
		ORDER BY id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.ParameterRecord, 0)
	for rows.Next() {
		var r models.ParameterRecord
		var runID pgtype.UUID
		var score, vbe *float64
		if err := rows.Scan(&runID, &r.DAOID, &r.ClusteringMethod, &r.DistanceClustering, &r.Scaler, &r.OptimalClusterMethod,
			&r.DistanceOptimalCluster, &r.OptimalClusters, &r.NumClustersSelected, &score,
			&r.EntropyFunction, &vbe, &r.StabilityARI, &r.StabilityVI, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.RunID = fromUUID(runID)
		r.Score, r.VBE = fromNull(score), fromNull(vbe)
		out = append(out, r)
	}
	return out, rows.Err()
}

func pageBounds(page, limit int) (int, int) {
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	if page < 1 {
		page = 1
	}
	return limit, (page - 1) * limit
}

// NaN statistics are stored as NULL.
func nullFloat(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func fromNull(f *float64) float64 {
	if f == nil {
		return math.NaN()
	}
	return *f
}

func toUUID(id string) pgtype.UUID {
	u, err := uuid.Parse(id)
	if err != nil {
		return pgtype.UUID{Valid: false}
	}
	return pgtype.UUID{Bytes: u, Valid: true}
}

func fromUUID(uid pgtype.UUID) string {
	if !uid.Valid {
		return ""
	}
	return uuid.UUID(uid.Bytes).String()
}
