package models

// Percentile measures reported per DAO.
const (
	MeasureVotingPower = "voting_power"
	MeasureVoteCounts  = "vote_counts"
)

// Proposal choice measures.
const (
	MeasureSumChoice      = "sum_choice"
	MeasureSumVotingPower = "sum_voting_power"
	MeasureAvgVotingPower = "avg_voting_power"
)

// ProposalMeasures lists the per-choice measures in emission order.
var ProposalMeasures = []string{MeasureSumChoice, MeasureSumVotingPower, MeasureAvgVotingPower}

// DAOStats is one row of the dao_stats table.
type DAOStats struct {
	ID                    int     `json:"id"`
	Protocol              string  `json:"protocol"` // dao_id
	DAOName               string  `json:"daoName"`
	UniqueVoters          int     `json:"uniqueVoters"`
	TotalProposals        int     `json:"totalProposals"`
	TotalVotesCast        int     `json:"totalVotesCast"`
	AvgVotesOnProposal    float64 `json:"avgVotesOnProposal"`
	AvgVotesPerVoter      float64 `json:"avgVotesVoter"`
	AvgVotingPowerVoter   float64 `json:"avgVpVoter"`
	AvgVoterParticipation float64 `json:"avgVoterParticipation"`
	GiniIndex             float64 `json:"giniIndex"`
	NakamotoCoefficient   int     `json:"nakamotoCoefficient"` // 0 when undefined
	MinEntropy            float64 `json:"minEntropy"`
}

// DAOPercentile is one decile row of the dao_percentile table. Mean and Std
// describe the whole distribution and repeat on every decile row.
type DAOPercentile struct {
	ID         int     `json:"id"`
	Protocol   string  `json:"protocol"`
	Measure    string  `json:"measure"`
	Mean       float64 `json:"mean"`
	Std        float64 `json:"std"`
	Percentile float64 `json:"percentile"`
	Value      float64 `json:"value"`
}

// ProposalStat is one (proposal, choice, measure) row of proposal_stats.
type ProposalStat struct {
	ID         int     `json:"id"`
	ProposalID string  `json:"proposalId"`
	Choice     string  `json:"choice"`
	Measure    string  `json:"measure"`
	Value      float64 `json:"value"`
}
