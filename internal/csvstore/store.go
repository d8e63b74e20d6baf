// Package csvstore reads the governance exports and writes the engine's
// output tables as CSV files.
package csvstore

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/rawblock/dao-analytics/internal/dataset"
	"github.com/rawblock/dao-analytics/pkg/models"
)

// File names inside the input and output directories.
const (
	VotesFile         = "votes.csv"
	ProposalsFile     = "proposals.csv"
	DAOFile           = "dao.csv"
	DAOStatsFile      = "dao_stats.csv"
	DAOPercentileFile = "dao_percentile.csv"
	ProposalStatsFile = "proposal_stats.csv"
	ClusterDataFile   = "cluster_data.csv"
	ParametersFile    = "parameters.csv"
)

// ErrMissingColumn is returned when a required header is absent.
var ErrMissingColumn = errors.New("missing column")

var (
	daoStatsHeader = []string{"id", "protocol", "dao_name", "unique_voters", "total_proposals", "total_votes_cast",
		"avg_votes_on_proposal", "avg_votes_voter", "avg_vp_voter", "avg_voter_participation",
		"gini_index", "nakamoto_coefficient", "min_entropy"}
	daoPercentileHeader = []string{"id", "protocol", "measure", "mean", "std", "percentile", "value"}
	proposalStatsHeader = []string{"id", "proposal_id", "choice", "measure", "value"}
	parametersHeader    = []string{
		"Run ID",
		"DAO",
		"Clustering method",
		"Distance method (clustering)",
		"Scaler",
		"Optimal cluster method",
		"Distance method (optimal cluster)",
		"Optimal clusters",
		"# of clusters selected",
		"Score",
		"Entropy function",
		"VBE",
		"Stability ARI",
		"Stability VI",
		"Created at",
	}
)

// Store loads inputs from InputDir and writes outputs to OutputDir.
type Store struct {
	inputDir  string
	outputDir string
	logger    *zerolog.Logger
}

func New(inputDir, outputDir string, logger *zerolog.Logger) *Store {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Store{inputDir: inputDir, outputDir: outputDir, logger: logger}
}

// table is a header-addressed CSV file held in memory.
type table struct {
	path    string
	columns map[string]int
	records [][]string
}

func readTable(path string, required ...string) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: empty file", path)
		}
		return nil, fmt.Errorf("%s: read header: %w", path, err)
	}

	t := &table{path: path, columns: make(map[string]int, len(header))}
	for i, h := range header {
		if i == 0 {
			h = trimBOM(h)
		}
		t.columns[h] = i
	}
	for _, col := range required {
		if _, ok := t.columns[col]; !ok {
			return nil, fmt.Errorf("%s: %w %q", path, ErrMissingColumn, col)
		}
	}

	if t.records, err = r.ReadAll(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

func trimBOM(s string) string {
	if len(s) >= 3 && s[:3] == "\xef\xbb\xbf" {
		return s[3:]
	}
	return s
}

// get returns the cell of column col, or "" when the row is short or the
// column is absent.
func (t *table) get(rec []string, col string) string {
	i, ok := t.columns[col]
	if !ok || i >= len(rec) {
		return ""
	}
	return rec[i]
}

func (s *Store) LoadVotes(_ context.Context) ([]models.Vote, error) {
	t, err := readTable(filepath.Join(s.inputDir, VotesFile), "voter_address", "proposal_id", "dao_id", "choice", "voting_power")
	if err != nil {
		return nil, err
	}
	votes := make([]models.Vote, 0, len(t.records))
	for _, rec := range t.records {
		v := models.Vote{
			VoterAddress: t.get(rec, "voter_address"),
			ProposalID:   t.get(rec, "proposal_id"),
			DAOID:        t.get(rec, "dao_id"),
			Choice:       t.get(rec, "choice"),
			RawPower:     t.get(rec, "voting_power"),
		}
		v.VotingPower = dataset.ParsePower(v.RawPower)
		if ts, err := time.Parse(time.RFC3339, t.get(rec, "created")); err == nil {
			v.Timestamp = ts
		}
		votes = append(votes, v)
	}
	s.logger.Debug().Int("votes", len(votes)).Str("dir", s.inputDir).Msg("loaded votes")
	return votes, nil
}

func (s *Store) LoadProposals(_ context.Context) ([]models.Proposal, error) {
	t, err := readTable(filepath.Join(s.inputDir, ProposalsFile), "proposal_id", "dao_id", "choices")
	if err != nil {
		return nil, err
	}
	proposals := make([]models.Proposal, 0, len(t.records))
	for line, rec := range t.records {
		p := models.Proposal{ProposalID: t.get(rec, "proposal_id"), DAOID: t.get(rec, "dao_id")}
		if p.Choices, err = dataset.ParseChoices(t.get(rec, "choices")); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", t.path, line+2, err)
		}
		proposals = append(proposals, p)
	}
	return proposals, nil
}

func (s *Store) LoadDAOs(_ context.Context) ([]models.DAO, error) {
	t, err := readTable(filepath.Join(s.inputDir, DAOFile), "dao_id")
	if err != nil {
		return nil, err
	}
	daos := make([]models.DAO, 0, len(t.records))
	for _, rec := range t.records {
		daos = append(daos, models.DAO{DAOID: t.get(rec, "dao_id"), DAOName: t.get(rec, "dao_name")})
	}
	return daos, nil
}

// LoadProcessedProposalIDs reads proposal ids from an existing
// proposal_stats.csv. A missing file means nothing was processed yet.
func (s *Store) LoadProcessedProposalIDs(_ context.Context) ([]string, error) {
	t, err := readTable(filepath.Join(s.outputDir, ProposalStatsFile), "proposal_id")
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(t.records))
	for _, rec := range t.records {
		ids = append(ids, t.get(rec, "proposal_id"))
	}
	return ids, nil
}

// ReplaceDAOStats overwrites dao_stats.csv and dao_percentile.csv.
func (s *Store) ReplaceDAOStats(_ context.Context, stats []models.DAOStats, percentiles []models.DAOPercentile) error {
	rows := make([][]string, 0, len(stats))
	for _, r := range stats {
		rows = append(rows, []string{
			strconv.Itoa(r.ID), r.Protocol, r.DAOName,
			strconv.Itoa(r.UniqueVoters), strconv.Itoa(r.TotalProposals), strconv.Itoa(r.TotalVotesCast),
			formatFloat(r.AvgVotesOnProposal), formatFloat(r.AvgVotesPerVoter), formatFloat(r.AvgVotingPowerVoter),
			formatFloat(r.AvgVoterParticipation), formatFloat(r.GiniIndex),
			strconv.Itoa(r.NakamotoCoefficient), formatFloat(r.MinEntropy),
		})
	}
	if err := s.writeFile(DAOStatsFile, daoStatsHeader, rows); err != nil {
		return err
	}

	rows = make([][]string, 0, len(percentiles))
	for _, r := range percentiles {
		rows = append(rows, []string{
			strconv.Itoa(r.ID), r.Protocol, r.Measure,
			formatFloat(r.Mean), formatFloat(r.Std), formatFloat(r.Percentile), formatFloat(r.Value),
		})
	}
	if err := s.writeFile(DAOPercentileFile, daoPercentileHeader, rows); err != nil {
		return err
	}
	s.logger.Info().Int("dao_stats", len(stats)).Int("dao_percentile", len(percentiles)).Str("dir", s.outputDir).Msg("wrote DAO analytics")
	return nil
}

// AppendProposalStats appends to proposal_stats.csv, shifting row ids past
// the largest id already in the file.
func (s *Store) AppendProposalStats(_ context.Context, stats []models.ProposalStat) error {
	if len(stats) == 0 {
		return nil
	}
	path := filepath.Join(s.outputDir, ProposalStatsFile)

	offset := 0
	t, err := readTable(path, "id")
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return err
	default:
		for _, rec := range t.records {
			if id, err := strconv.Atoi(t.get(rec, "id")); err == nil && id > offset {
				offset = id
			}
		}
	}

	rows := make([][]string, 0, len(stats))
	for _, r := range stats {
		rows = append(rows, []string{strconv.Itoa(offset + r.ID), r.ProposalID, r.Choice, r.Measure, formatFloat(r.Value)})
	}
	if err := s.appendFile(ProposalStatsFile, proposalStatsHeader, rows); err != nil {
		return err
	}
	s.logger.Info().Int("rows", len(stats)).Int("offset", offset).Msg("appended proposal stats")
	return nil
}

// SaveClusterData writes cluster_data.csv: voter, cluster, voting power and
// one column per proposal. An existing file is kept unless overwrite is set.
func (s *Store) SaveClusterData(_ context.Context, runID string, rows []models.ClusterAssignment, overwrite bool) error {
	path := filepath.Join(s.outputDir, ClusterDataFile)
	_, statErr := os.Stat(path)
	exists := statErr == nil
	if exists && !overwrite {
		return fmt.Errorf("%w: %s", models.ErrClusterDataExists, path)
	}

	var proposals []string
	if len(rows) > 0 {
		for id := range rows[0].Features {
			proposals = append(proposals, id)
		}
		slices.Sort(proposals)
	}

	header := append([]string{"voter_address", "cluster", "voting_power", "run_id"}, proposals...)
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		rec := make([]string, 0, len(header))
		rec = append(rec, r.VoterAddress, strconv.Itoa(r.Cluster), formatFloat(r.VotingPower), runID)
		for _, id := range proposals {
			rec = append(rec, formatFloat(r.Features[id]))
		}
		records = append(records, rec)
	}
	if err := s.writeFile(ClusterDataFile, header, records); err != nil {
		return err
	}
	s.logger.Info().Str("path", path).Int("voters", len(rows)).Bool("overwrote", exists).Msg("wrote cluster data")
	return nil
}

// LoadClusterLabels reads the cluster of every voter from cluster_data.csv.
// A missing file yields an empty map.
func (s *Store) LoadClusterLabels(_ context.Context) (map[string]int, error) {
	t, err := readTable(filepath.Join(s.outputDir, ClusterDataFile), "voter_address", "cluster")
	if errors.Is(err, os.ErrNotExist) {
		return map[string]int{}, nil
	}
	if err != nil {
		return nil, err
	}
	labels := make(map[string]int, len(t.records))
	for line, rec := range t.records {
		c, err := strconv.Atoi(t.get(rec, "cluster"))
		if err != nil {
			return nil, fmt.Errorf("%s line %d: cluster: %w", t.path, line+2, err)
		}
		labels[t.get(rec, "voter_address")] = c
	}
	return labels, nil
}

// AppendParameters adds one audit row to parameters.csv, writing the header
// when the file is new.
func (s *Store) AppendParameters(_ context.Context, rec models.ParameterRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	row := []string{
		rec.RunID,
		rec.DAOID,
		rec.ClusteringMethod,
		rec.DistanceClustering,
		rec.Scaler,
		rec.OptimalClusterMethod,
		rec.DistanceOptimalCluster,
		rec.OptimalClusters,
		strconv.Itoa(rec.NumClustersSelected),
		formatFloat(rec.Score),
		rec.EntropyFunction,
		formatFloat(rec.VBE),
		formatOptional(rec.StabilityARI),
		formatOptional(rec.StabilityVI),
		rec.CreatedAt.Format(time.RFC3339),
	}
	return s.appendFile(ParametersFile, parametersHeader, [][]string{row})
}

func (s *Store) writeFile(name string, header []string, rows [][]string) error {
	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(s.outputDir, name)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := writeRows(f, header, rows); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func (s *Store) appendFile(name string, header []string, rows [][]string) error {
	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(s.outputDir, name)
	_, statErr := os.Stat(path)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if statErr == nil {
		header = nil
	}
	if err := writeRows(f, header, rows); err != nil {
		f.Close()
		return fmt.Errorf("append %s: %w", path, err)
	}
	return f.Close()
}

func writeRows(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if header != nil {
		if err := cw.Write(header); err != nil {
			return err
		}
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

// Undefined statistics are written as empty cells.
func formatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ""
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func formatOptional(f *float64) string {
	if f == nil {
		return ""
	}
	return formatFloat(*f)
}
