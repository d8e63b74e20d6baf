package analytics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawblock/dao-analytics/pkg/models"
)

func mv(voter, proposal, dao, choice string, power *float64) models.MergedVote {
	return models.MergedVote{
		Vote: models.Vote{
			VoterAddress: voter,
			ProposalID:   proposal,
			DAOID:        dao,
			Choice:       choice,
			VotingPower:  power,
		},
		DAOName:     dao + " name",
		HasProposal: true,
		HasDAO:      true,
	}
}

func pw(v float64) *float64 { return &v }

func TestGini(t *testing.T) {
	tests := []struct {
		name   string
		powers []float64
		want   float64
	}{
		{"Single voter", []float64{42}, 0},
		{"Identical holders", []float64{5, 5, 5, 5}, 0},
		{"One of three holds all", []float64{0, 0, 9}, 2.0 / 3.0},
		{"A=100 B=50 C=0", []float64{100, 50, 0}, 4.0 / 9.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Gini(tt.powers), 1e-9)
		})
	}

	assert.True(t, math.IsNaN(Gini(nil)))
	assert.True(t, math.IsNaN(Gini([]float64{0, 0})))
}

func TestGini_StaysInUnitInterval(t *testing.T) {
	distributions := [][]float64{
		{1, 2, 3, 4, 5},
		{1000, 1, 1, 1},
		{0.001, 0.002, 1e6},
		{7, 0, 0, 0, 0, 0, 0, 0},
	}
	for _, d := range distributions {
		g := Gini(d)
		assert.GreaterOrEqual(t, g, 0.0)
		assert.LessOrEqual(t, g, 1.0)
	}
}

func TestNakamotoCoefficient(t *testing.T) {
	tests := []struct {
		name   string
		powers []float64
		want   int
	}{
		{"Whale alone reaches half", []float64{100, 50, 0}, 1},
		{"Two needed", []float64{30, 30, 20, 20}, 2},
		{"Equal five", []float64{1, 1, 1, 1, 1}, 3},
		{"Exactly half counts", []float64{50, 25, 25}, 1},
		{"Empty", nil, 0},
		{"Zero total", []float64{0, 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NakamotoCoefficient(tt.powers))
		})
	}
}

func TestNakamotoCoefficient_Definition(t *testing.T) {
	powers := []float64{9, 1, 7, 3, 3, 2, 8, 4}
	n := NakamotoCoefficient(powers)
	require.Positive(t, n)
	require.LessOrEqual(t, n, len(powers))

	// sorted desc: 9 8 7 4 3 3 2 1 (total 37)
	sorted := []float64{9, 8, 7, 4, 3, 3, 2, 1}
	top := 0.0
	for i := 0; i < n; i++ {
		top += sorted[i]
	}
	assert.GreaterOrEqual(t, top, 0.5*37)
	assert.Less(t, top-sorted[n-1], 0.5*37)
}

func TestMinEntropy(t *testing.T) {
	assert.InDelta(t, 0.0, MinEntropy([]float64{1000}), 1e-9)
	assert.InDelta(t, 0.0, MinEntropy([]float64{1e12, 0, 0}), 1e-6)
	assert.InDelta(t, 2.0, MinEntropy([]float64{1, 1, 1, 1}), 1e-6)
	assert.GreaterOrEqual(t, MinEntropy([]float64{100, 50, 0}), 0.0)
	assert.True(t, math.IsNaN(MinEntropy(nil)))
	assert.True(t, math.IsNaN(MinEntropy([]float64{0})))
}

func TestDescribe(t *testing.T) {
	s := Describe([]float64{4, 1, 3, 2}, []float64{10, 50, 90})
	assert.Equal(t, 4, s.Count)
	assert.InDelta(t, 2.5, s.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(5.0/3.0), s.Std, 1e-12)
	assert.InDelta(t, 1.3, s.Points[10], 1e-12)
	assert.InDelta(t, 2.5, s.Points[50], 1e-12)
	assert.InDelta(t, 3.7, s.Points[90], 1e-12)

	single := Describe([]float64{7}, Deciles)
	assert.True(t, math.IsNaN(single.Std))
	assert.Equal(t, 7.0, single.Points[30])

	empty := Describe(nil, Deciles)
	assert.True(t, math.IsNaN(empty.Mean))
	assert.True(t, math.IsNaN(empty.Points[50]))
}

func TestComputeDAOStats_ThreeVoterExample(t *testing.T) {
	merged := []models.MergedVote{
		mv("A", "p1", "dao", "For", pw(100)),
		mv("A", "p2", "dao", "For", pw(60)),
		mv("B", "p1", "dao", "Against", pw(50)),
		mv("C", "p2", "dao", "For", pw(0)),
	}

	stats, percentiles := ComputeDAOStats(merged)
	require.Len(t, stats, 1)
	s := stats[0]

	assert.Equal(t, 1, s.ID)
	assert.Equal(t, "dao", s.Protocol)
	assert.Equal(t, "dao name", s.DAOName)
	assert.Equal(t, 3, s.UniqueVoters)
	assert.Equal(t, 2, s.TotalProposals)
	assert.Equal(t, 4, s.TotalVotesCast)
	assert.InDelta(t, 2.0, s.AvgVotesOnProposal, 1e-12)
	assert.InDelta(t, 4.0/3.0, s.AvgVotesPerVoter, 1e-12)
	assert.InDelta(t, 50.0, s.AvgVotingPowerVoter, 1e-12) // maxima 100, 50, 0
	assert.InDelta(t, 2.0/3.0, s.AvgVoterParticipation, 1e-12)
	assert.Equal(t, 1, s.NakamotoCoefficient)
	assert.Greater(t, s.GiniIndex, 0.0)
	assert.False(t, math.IsNaN(s.MinEntropy))
	assert.False(t, math.IsInf(s.MinEntropy, 0))

	require.Len(t, percentiles, 2*len(Deciles))
	for i, p := range percentiles {
		assert.Equal(t, i+1, p.ID)
		assert.Equal(t, "dao", p.Protocol)
	}
	assert.Equal(t, models.MeasureVotingPower, percentiles[0].Measure)
	assert.Equal(t, models.MeasureVoteCounts, percentiles[len(Deciles)].Measure)
	assert.InDelta(t, 50.0, percentiles[4].Value, 1e-12) // median of 0, 50, 100
	assert.InDelta(t, 50.0, percentiles[0].Mean, 1e-12)
	assert.Equal(t, percentiles[0].Std, percentiles[8].Std)
}

func TestComputeDAOStats_ParticipationBoundsAndMissingPower(t *testing.T) {
	merged := []models.MergedVote{
		mv("A", "p1", "x", "For", nil),
		mv("B", "p1", "x", "For", pw(10)),
		mv("A", "p2", "x", "For", nil),
		mv("C", "p3", "x", "For", pw(10)),
		mv("A", "q1", "y", "For", pw(1)),
		mv("Z", "", "", "For", pw(1)), // no DAO: ignored
	}

	stats, _ := ComputeDAOStats(merged)
	require.Len(t, stats, 2)

	x := stats[0]
	assert.Equal(t, "x", x.Protocol)
	assert.Equal(t, 3, x.UniqueVoters)
	assert.InDelta(t, 10.0, x.AvgVotingPowerVoter, 1e-12) // A has no numeric power
	assert.InDelta(t, 0.0, x.GiniIndex, 1e-9)
	assert.Equal(t, 1, x.NakamotoCoefficient)
	assert.InDelta(t, 1.0, x.MinEntropy, 1e-6)

	for _, s := range stats {
		assert.GreaterOrEqual(t, s.AvgVoterParticipation, 0.0)
		assert.LessOrEqual(t, s.AvgVoterParticipation, 1.0)
	}
	assert.Equal(t, 2, stats[1].ID)
}

func TestComputeDAOStats_NoProposalIDs(t *testing.T) {
	stats, _ := ComputeDAOStats([]models.MergedVote{mv("A", "", "dao", "For", pw(1))})
	require.Len(t, stats, 1)
	assert.Equal(t, 0, stats[0].TotalProposals)
	assert.True(t, math.IsNaN(stats[0].AvgVotesOnProposal))
	assert.True(t, math.IsNaN(stats[0].AvgVoterParticipation))
}

func TestComputeProposalStats(t *testing.T) {
	merged := []models.MergedVote{
		mv("A", "p1", "dao", "For", pw(10)),
		mv("B", "p1", "dao", "For", pw(30)),
		mv("B", "p1", "dao", "For", nil),
		mv("C", "p1", "dao", "Against", nil),
		mv("D", "p2", "dao", "Yes", pw(5)),
	}

	rows := ComputeProposalStats(merged, nil)
	require.Len(t, rows, 9)

	byKey := make(map[string]float64)
	for i, r := range rows {
		assert.Equal(t, i+1, r.ID)
		byKey[r.ProposalID+"/"+r.Choice+"/"+r.Measure] = r.Value
	}

	assert.Equal(t, 2.0, byKey["p1/For/sum_choice"])
	assert.Equal(t, 40.0, byKey["p1/For/sum_voting_power"])
	assert.Equal(t, 20.0, byKey["p1/For/avg_voting_power"])

	// all powers non-numeric: both sum and average are exactly zero
	assert.Equal(t, 1.0, byKey["p1/Against/sum_choice"])
	assert.Equal(t, 0.0, byKey["p1/Against/sum_voting_power"])
	assert.Equal(t, 0.0, byKey["p1/Against/avg_voting_power"])

	assert.Equal(t, "p1", rows[0].ProposalID)
	assert.Equal(t, models.MeasureSumChoice, rows[0].Measure)
	assert.Equal(t, "p2", rows[8].ProposalID)
}

func TestComputeProposalStats_SkipsProcessed(t *testing.T) {
	merged := []models.MergedVote{
		mv("A", "p1", "dao", "For", pw(10)),
		mv("B", "p2", "dao", "For", pw(10)),
	}

	rows := ComputeProposalStats(merged, ProcessedSet([]string{"p1"}))
	require.Len(t, rows, 3)
	assert.Equal(t, "p2", rows[0].ProposalID)

	all := ProcessedSet([]string{"p1", "p2"})
	assert.Empty(t, ComputeProposalStats(merged, all))
	assert.Empty(t, ComputeProposalStats(merged, all))
}
