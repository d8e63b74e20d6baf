package models

import "time"

// Vote is a single ballot cast by a voter on a proposal.
type Vote struct {
	VoterAddress string    `json:"voterAddress"`
	ProposalID   string    `json:"proposalId"`
	DAOID        string    `json:"daoId"`
	Choice       string    `json:"choice"`                // Label of the selected option
	RawPower     string    `json:"rawPower"`              // Voting power exactly as stored
	VotingPower  *float64  `json:"votingPower,omitempty"` // nil when RawPower is not numeric
	Timestamp    time.Time `json:"timestamp,omitempty"`
}

// HasPower reports whether the vote carries a usable numeric voting power.
func (v Vote) HasPower() bool {
	return v.VotingPower != nil
}

// Proposal is a governance proposal and its ordered option labels.
type Proposal struct {
	ProposalID string   `json:"proposalId"`
	DAOID      string   `json:"daoId"`
	Choices    []string `json:"choices"`
}

// ChoicePosition returns the 1-based position of label within the proposal's
// choices, or 0 when the label is not one of them.
func (p Proposal) ChoicePosition(label string) int {
	for i, c := range p.Choices {
		if c == label {
			return i + 1
		}
	}
	return 0
}

// DAO identifies a decentralized organisation.
type DAO struct {
	DAOID   string `json:"daoId"`
	DAOName string `json:"daoName"`
}

// MergedVote is one row of the votes -> proposals -> dao left join.
// Vote-side columns always win over right-hand duplicates.
type MergedVote struct {
	Vote
	Choices     []string `json:"choices,omitempty"`
	DAOName     string   `json:"daoName,omitempty"`
	HasProposal bool     `json:"hasProposal"` // false when proposal_id matched no proposal
	HasDAO      bool     `json:"hasDao"`      // false when dao_id matched no DAO
}
