// Package features turns raw ballots into the dense voter × proposal matrix
// consumed by the clustering selector.
package features

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/rawblock/dao-analytics/pkg/models"
)

// DefaultMaxProposals caps how many proposals of the reference DAO are used.
const DefaultMaxProposals = 11

var (
	// ErrNoProposals is returned when there is no proposal to anchor the scope.
	ErrNoProposals = errors.New("no proposals in scope")
	// ErrUnknownChoice is returned when a vote's label is not one of its
	// proposal's choices.
	ErrUnknownChoice = errors.New("choice not in proposal choices")
)

// ChoiceError locates a ballot whose label could not be positioned.
type ChoiceError struct {
	DAOID        string
	ProposalID   string
	VoterAddress string
	Choice       string
}

func (e *ChoiceError) Error() string {
	return fmt.Sprintf("choice %q of voter %q on proposal %q (dao %q): %v",
		e.Choice, e.VoterAddress, e.ProposalID, e.DAOID, ErrUnknownChoice)
}

func (e *ChoiceError) Unwrap() error { return ErrUnknownChoice }

// Scope selects the proposal universe.
type Scope struct {
	DAOID        string // empty: DAO of the first proposal record
	MaxProposals int    // <= 0: no cap
}

// Options configures Build.
type Options struct {
	Scope Scope
	// AbsentValue fills cells of proposals a voter did not vote on. The
	// default 0 is indistinguishable from a choice position of 0.
	AbsentValue float64
}

// DefaultOptions reproduces the historical scope: first DAO, 11 proposals,
// abstention encoded as 0.
func DefaultOptions() Options {
	return Options{Scope: Scope{MaxProposals: DefaultMaxProposals}}
}

// Matrix is the voter × proposal feature matrix with its row and column index.
type Matrix struct {
	DAOID       string
	Voters      []string    // row index, sorted
	VotingPower []float64   // per-row mean numeric voting power (NaN if the voter never had one)
	Proposals   []string    // column index, sorted
	Rows        [][]float64 // Rows[i][j] = choice position of Voters[i] on Proposals[j]
}

// Dims returns rows and columns.
func (m *Matrix) Dims() (int, int) {
	return len(m.Voters), len(m.Proposals)
}

// Dense copies the cells into a gonum matrix.
func (m *Matrix) Dense() *mat.Dense {
	r, c := m.Dims()
	if r == 0 || c == 0 {
		return &mat.Dense{}
	}
	d := mat.NewDense(r, c, nil)
	for i, row := range m.Rows {
		d.SetRow(i, row)
	}
	return d
}

// Assignments attaches cluster labels to the matrix rows.
func (m *Matrix) Assignments(labels []int) ([]models.ClusterAssignment, error) {
	if len(labels) != len(m.Voters) {
		return nil, fmt.Errorf("labels: got %d, want %d", len(labels), len(m.Voters))
	}
	out := make([]models.ClusterAssignment, len(m.Voters))
	for i, voter := range m.Voters {
		cells := make(map[string]float64, len(m.Proposals))
		for j, p := range m.Proposals {
			cells[p] = m.Rows[i][j]
		}
		out[i] = models.ClusterAssignment{
			VoterAddress: voter,
			VotingPower:  m.VotingPower[i],
			Cluster:      labels[i],
			Features:     cells,
		}
	}
	return out, nil
}

type cell struct {
	sum   float64
	count int
}

// Build constructs the feature matrix.
//
// Algorithm:
//  1. Resolve the reference DAO and keep at most MaxProposals of its proposals (file order)
//  2. Inner-join votes to that proposal set
//  3. Map each label to its 1-based position in the proposal's choices
//  4. Cross every distinct voter with every proposal that received a vote;
//     missing cells get AbsentValue
//  5. Impute each voter's voting power with the mean of their numeric powers
//  6. Pivot: rows sorted by voter, columns sorted by proposal id
func Build(votes []models.Vote, proposals []models.Proposal, opts Options) (*Matrix, error) {
	if len(proposals) == 0 {
		return nil, ErrNoProposals
	}

	daoID := opts.Scope.DAOID
	if daoID == "" {
		daoID = proposals[0].DAOID
	}

	inScope := make(map[string]models.Proposal)
	for _, p := range proposals {
		if p.DAOID != daoID {
			continue
		}
		if opts.Scope.MaxProposals > 0 && len(inScope) >= opts.Scope.MaxProposals {
			break
		}
		if _, dup := inScope[p.ProposalID]; !dup {
			inScope[p.ProposalID] = p
		}
	}
	if len(inScope) == 0 {
		return nil, fmt.Errorf("dao %q: %w", daoID, ErrNoProposals)
	}

	cells := make(map[string]map[string]*cell)
	powerSum := make(map[string]float64)
	powerCount := make(map[string]int)
	voterSet := make(map[string]struct{})
	proposalSet := make(map[string]struct{})

	for _, v := range votes {
		p, ok := inScope[v.ProposalID]
		if !ok {
			continue
		}

		pos := p.ChoicePosition(v.Choice)
		if pos == 0 {
			return nil, &ChoiceError{DAOID: daoID, ProposalID: v.ProposalID, VoterAddress: v.VoterAddress, Choice: v.Choice}
		}

		voterSet[v.VoterAddress] = struct{}{}
		proposalSet[v.ProposalID] = struct{}{}

		row, ok := cells[v.VoterAddress]
		if !ok {
			row = make(map[string]*cell)
			cells[v.VoterAddress] = row
		}
		c, ok := row[v.ProposalID]
		if !ok {
			c = &cell{}
			row[v.ProposalID] = c
		}
		c.sum += float64(pos)
		c.count++

		if v.VotingPower != nil {
			powerSum[v.VoterAddress] += *v.VotingPower
			powerCount[v.VoterAddress]++
		}
	}

	m := &Matrix{
		DAOID:     daoID,
		Voters:    sortedKeys(voterSet),
		Proposals: sortedKeys(proposalSet),
	}
	m.Rows = make([][]float64, len(m.Voters))
	m.VotingPower = make([]float64, len(m.Voters))

	for i, voter := range m.Voters {
		row := make([]float64, len(m.Proposals))
		for j, p := range m.Proposals {
			if c, ok := cells[voter][p]; ok {
				row[j] = c.sum / float64(c.count)
			} else {
				row[j] = opts.AbsentValue
			}
		}
		m.Rows[i] = row

		if n := powerCount[voter]; n > 0 {
			m.VotingPower[i] = powerSum[voter] / float64(n)
		} else {
			m.VotingPower[i] = math.NaN()
		}
	}

	return m, nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
