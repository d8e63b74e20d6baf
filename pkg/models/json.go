package models

import (
	"encoding/json"
	"math"
)

// Undefined statistics are NaN in memory and null on the wire.
func nullable(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func (s DAOStats) MarshalJSON() ([]byte, error) {
	type alias DAOStats
	return json.Marshal(struct {
		alias
		AvgVotesOnProposal    *float64 `json:"avgVotesOnProposal"`
		AvgVotesPerVoter      *float64 `json:"avgVotesVoter"`
		AvgVotingPowerVoter   *float64 `json:"avgVpVoter"`
		AvgVoterParticipation *float64 `json:"avgVoterParticipation"`
		GiniIndex             *float64 `json:"giniIndex"`
		MinEntropy            *float64 `json:"minEntropy"`
	}{
		alias:                 alias(s),
		AvgVotesOnProposal:    nullable(s.AvgVotesOnProposal),
		AvgVotesPerVoter:      nullable(s.AvgVotesPerVoter),
		AvgVotingPowerVoter:   nullable(s.AvgVotingPowerVoter),
		AvgVoterParticipation: nullable(s.AvgVoterParticipation),
		GiniIndex:             nullable(s.GiniIndex),
		MinEntropy:            nullable(s.MinEntropy),
	})
}

func (p DAOPercentile) MarshalJSON() ([]byte, error) {
	type alias DAOPercentile
	return json.Marshal(struct {
		alias
		Mean  *float64 `json:"mean"`
		Std   *float64 `json:"std"`
		Value *float64 `json:"value"`
	}{alias(p), nullable(p.Mean), nullable(p.Std), nullable(p.Value)})
}

func (p ProposalStat) MarshalJSON() ([]byte, error) {
	type alias ProposalStat
	return json.Marshal(struct {
		alias
		Value *float64 `json:"value"`
	}{alias(p), nullable(p.Value)})
}

func (a ClusterAssignment) MarshalJSON() ([]byte, error) {
	type alias ClusterAssignment
	return json.Marshal(struct {
		alias
		VotingPower *float64 `json:"votingPower"`
	}{alias(a), nullable(a.VotingPower)})
}

func (r ParameterRecord) MarshalJSON() ([]byte, error) {
	type alias ParameterRecord
	return json.Marshal(struct {
		alias
		Score *float64 `json:"score"`
		VBE   *float64 `json:"vbe"`
	}{alias(r), nullable(r.Score), nullable(r.VBE)})
}
