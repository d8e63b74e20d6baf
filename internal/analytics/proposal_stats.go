package analytics

import (
	"github.com/rawblock/dao-analytics/pkg/models"
)

type choiceTally struct {
	voters     map[string]struct{}
	powerSum   float64
	powerCount int
}

type proposalSlice struct {
	id      string
	choices []string
	tallies map[string]*choiceTally
}

// ComputeProposalStats tallies every choice of every proposal that is not in
// processed. Proposals already present in a previous run's output are skipped
// outright, even if their votes changed since.
//
// For each (proposal, choice) three rows are emitted:
//   - sum_choice:       distinct voters who picked the choice
//   - sum_voting_power: sum of numeric voting powers (0 when none are numeric)
//   - avg_voting_power: mean of numeric voting powers (0 when none are numeric)
//
// Rows with an empty proposal id or choice are ignored.
func ComputeProposalStats(merged []models.MergedVote, processed map[string]struct{}) []models.ProposalStat {
	var order []*proposalSlice
	byID := make(map[string]*proposalSlice)

	for _, row := range merged {
		if row.ProposalID == "" || row.Choice == "" {
			continue
		}
		if _, done := processed[row.ProposalID]; done {
			continue
		}

		p, ok := byID[row.ProposalID]
		if !ok {
			p = &proposalSlice{id: row.ProposalID, tallies: make(map[string]*choiceTally)}
			byID[row.ProposalID] = p
			order = append(order, p)
		}

		t, ok := p.tallies[row.Choice]
		if !ok {
			t = &choiceTally{voters: make(map[string]struct{})}
			p.tallies[row.Choice] = t
			p.choices = append(p.choices, row.Choice)
		}

		t.voters[row.VoterAddress] = struct{}{}
		if row.VotingPower != nil {
			t.powerSum += *row.VotingPower
			t.powerCount++
		}
	}

	var rows []models.ProposalStat
	for _, p := range order {
		for _, choice := range p.choices {
			t := p.tallies[choice]
			for _, measure := range models.ProposalMeasures {
				rows = append(rows, models.ProposalStat{
					ID:         len(rows) + 1,
					ProposalID: p.id,
					Choice:     choice,
					Measure:    measure,
					Value:      t.value(measure),
				})
			}
		}
	}
	return rows
}

func (t *choiceTally) value(measure string) float64 {
	switch measure {
	case models.MeasureSumChoice:
		return float64(len(t.voters))
	case models.MeasureSumVotingPower:
		return t.powerSum
	case models.MeasureAvgVotingPower:
		if t.powerCount == 0 {
			return 0
		}
		return t.powerSum / float64(t.powerCount)
	default:
		return 0
	}
}

// ProcessedSet builds the skip set from a previous proposal_stats output.
func ProcessedSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
