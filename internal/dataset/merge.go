// Package dataset joins the raw votes, proposals and DAO tables into the wide
// table every analytics component consumes.
package dataset

import (
	"errors"
	"fmt"

	"github.com/rawblock/dao-analytics/pkg/models"
)

var (
	// ErrMissingReference is returned in strict mode when a vote points at a
	// proposal or DAO that is not present.
	ErrMissingReference = errors.New("missing reference")
	// ErrDuplicateKey is returned when a right-hand table repeats its key.
	ErrDuplicateKey = errors.New("duplicate key")
)

// ReferenceError locates the record that broke referential integrity.
type ReferenceError struct {
	Table        string
	DAOID        string
	ProposalID   string
	VoterAddress string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s not found (dao_id=%q proposal_id=%q voter_address=%q)",
		e.Table, e.DAOID, e.ProposalID, e.VoterAddress)
}

func (e *ReferenceError) Unwrap() error { return ErrMissingReference }

// MergeOptions tunes the join.
type MergeOptions struct {
	// Strict fails the merge on the first unmatched foreign key instead of
	// keeping the row with empty proposal/DAO attributes.
	Strict bool
}

// MergeReport counts rows whose foreign keys matched nothing.
type MergeReport struct {
	Rows               int `json:"rows"`
	UnmatchedProposals int `json:"unmatchedProposals"`
	UnmatchedDAOs      int `json:"unmatchedDaos"`
}

// IndexProposals maps proposal_id to its record.
func IndexProposals(proposals []models.Proposal) (map[string]models.Proposal, error) {
	idx := make(map[string]models.Proposal, len(proposals))
	for _, p := range proposals {
		if _, dup := idx[p.ProposalID]; dup {
			return nil, fmt.Errorf("proposals: proposal_id %q: %w", p.ProposalID, ErrDuplicateKey)
		}
		idx[p.ProposalID] = p
	}
	return idx, nil
}

func indexDAOs(daos []models.DAO) (map[string]models.DAO, error) {
	idx := make(map[string]models.DAO, len(daos))
	for _, d := range daos {
		if _, dup := idx[d.DAOID]; dup {
			return nil, fmt.Errorf("dao: dao_id %q: %w", d.DAOID, ErrDuplicateKey)
		}
		idx[d.DAOID] = d
	}
	return idx, nil
}

// Merge left-joins votes to proposals on proposal_id and then to DAOs on the
// vote's dao_id. The output has exactly one row per vote, in vote order.
// Where both sides carry a column (dao_id) the vote-side value is kept.
func Merge(votes []models.Vote, proposals []models.Proposal, daos []models.DAO, opts MergeOptions) ([]models.MergedVote, MergeReport, error) {
	report := MergeReport{Rows: len(votes)}

	proposalIdx, err := IndexProposals(proposals)
	if err != nil {
		return nil, report, err
	}
	daoIdx, err := indexDAOs(daos)
	if err != nil {
		return nil, report, err
	}

	merged := make([]models.MergedVote, 0, len(votes))
	for _, v := range votes {
		row := models.MergedVote{Vote: v}

		if p, ok := proposalIdx[v.ProposalID]; ok {
			row.HasProposal = true
			row.Choices = p.Choices
		} else {
			report.UnmatchedProposals++
			if opts.Strict {
				return nil, report, &ReferenceError{Table: "proposals", DAOID: v.DAOID, ProposalID: v.ProposalID, VoterAddress: v.VoterAddress}
			}
		}

		if d, ok := daoIdx[v.DAOID]; ok {
			row.HasDAO = true
			row.DAOName = d.DAOName
		} else {
			report.UnmatchedDAOs++
			if opts.Strict {
				return nil, report, &ReferenceError{Table: "dao", DAOID: v.DAOID, ProposalID: v.ProposalID, VoterAddress: v.VoterAddress}
			}
		}

		merged = append(merged, row)
	}

	return merged, report, nil
}
