// Package analytics computes the DAO-level and proposal-level reporting
// tables from the merged voting dataset.
package analytics

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/rawblock/dao-analytics/pkg/models"
)

// daoSlice accumulates everything one DAO contributes in a single pass.
type daoSlice struct {
	id         string
	name       string
	rows       int
	voters     []string // first-appearance order
	voteCounts map[string]int
	maxPower   map[string]float64 // only voters with at least one numeric power
	proposals  []string
	proposalVs map[string]map[string]struct{} // proposal -> distinct voters
}

func newDAOSlice(row models.MergedVote) *daoSlice {
	return &daoSlice{
		id:         row.DAOID,
		name:       row.DAOName,
		voteCounts: make(map[string]int),
		maxPower:   make(map[string]float64),
		proposalVs: make(map[string]map[string]struct{}),
	}
}

func (d *daoSlice) add(row models.MergedVote) {
	d.rows++

	if _, seen := d.voteCounts[row.VoterAddress]; !seen {
		d.voters = append(d.voters, row.VoterAddress)
	}
	d.voteCounts[row.VoterAddress]++

	if row.VotingPower != nil {
		if cur, ok := d.maxPower[row.VoterAddress]; !ok || *row.VotingPower > cur {
			d.maxPower[row.VoterAddress] = *row.VotingPower
		}
	}

	if row.ProposalID == "" {
		return
	}
	voters, ok := d.proposalVs[row.ProposalID]
	if !ok {
		voters = make(map[string]struct{})
		d.proposalVs[row.ProposalID] = voters
		d.proposals = append(d.proposals, row.ProposalID)
	}
	voters[row.VoterAddress] = struct{}{}
}

// powers returns per-voter maxima in voter order, skipping voters whose
// power was missing on every vote.
func (d *daoSlice) powers() []float64 {
	out := make([]float64, 0, len(d.maxPower))
	for _, v := range d.voters {
		if p, ok := d.maxPower[v]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (d *daoSlice) counts() []float64 {
	out := make([]float64, 0, len(d.voters))
	for _, v := range d.voters {
		out = append(out, float64(d.voteCounts[v]))
	}
	return out
}

// ComputeDAOStats builds the dao_stats and dao_percentile tables.
//
// DAOs are visited in order of first appearance; rows without a dao_id are
// ignored. Both tables are built from scratch on every call, and row ids are
// 1-based and monotonic within each table.
func ComputeDAOStats(merged []models.MergedVote) ([]models.DAOStats, []models.DAOPercentile) {
	var order []*daoSlice
	byID := make(map[string]*daoSlice)

	for _, row := range merged {
		if row.DAOID == "" {
			continue
		}
		slice, ok := byID[row.DAOID]
		if !ok {
			slice = newDAOSlice(row)
			byID[row.DAOID] = slice
			order = append(order, slice)
		}
		slice.add(row)
	}

	stats := make([]models.DAOStats, 0, len(order))
	var percentiles []models.DAOPercentile

	for _, d := range order {
		if d.rows == 0 {
			continue
		}

		powers := d.powers()
		counts := d.counts()
		row := summarizeDAO(d, powers, counts)
		row.ID = len(stats) + 1
		stats = append(stats, row)

		percentiles = appendDeciles(percentiles, d.id, models.MeasureVotingPower, Describe(powers, Deciles))
		percentiles = appendDeciles(percentiles, d.id, models.MeasureVoteCounts, Describe(counts, Deciles))
	}

	return stats, percentiles
}

func summarizeDAO(d *daoSlice, powers, counts []float64) models.DAOStats {
	uniqueVoters := len(d.voters)
	totalProposals := len(d.proposals)

	row := models.DAOStats{
		Protocol:              d.id,
		DAOName:               d.name,
		UniqueVoters:          uniqueVoters,
		TotalProposals:        totalProposals,
		TotalVotesCast:        d.rows,
		AvgVotesOnProposal:    math.NaN(),
		AvgVotesPerVoter:      stat.Mean(counts, nil),
		AvgVotingPowerVoter:   math.NaN(),
		AvgVoterParticipation: math.NaN(),
		GiniIndex:             Gini(powers),
		NakamotoCoefficient:   NakamotoCoefficient(powers),
		MinEntropy:            MinEntropy(powers),
	}

	if len(powers) > 0 {
		row.AvgVotingPowerVoter = stat.Mean(powers, nil)
	}

	if totalProposals > 0 {
		row.AvgVotesOnProposal = float64(d.rows) / float64(totalProposals)

		participation := make([]float64, 0, totalProposals)
		for _, p := range d.proposals {
			participation = append(participation, float64(len(d.proposalVs[p]))/float64(uniqueVoters))
		}
		row.AvgVoterParticipation = stat.Mean(participation, nil)
	}

	return row
}

func appendDeciles(rows []models.DAOPercentile, protocol, measure string, s Summary) []models.DAOPercentile {
	for _, p := range Deciles {
		rows = append(rows, models.DAOPercentile{
			ID:         len(rows) + 1,
			Protocol:   protocol,
			Measure:    measure,
			Mean:       s.Mean,
			Std:        s.Std,
			Percentile: p,
			Value:      s.Points[p],
		})
	}
	return rows
}
