package dataset

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawblock/dao-analytics/pkg/models"
)

func TestParsePower(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want *float64
	}{
		{"Integer", "100", ptr(100)},
		{"Padded decimal", "  12.5 ", ptr(12.5)},
		{"Scientific", "1e3", ptr(1000)},
		{"Zero is a value", "0", ptr(0)},
		{"Empty", "", nil},
		{"Text", "n/a", nil},
		{"Negative", "-4", nil},
		{"NaN literal", "NaN", nil},
		{"Infinity", "inf", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParsePower(tt.raw)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.want, *got, 1e-12)
		})
	}
}

func TestParseChoices(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"JSON array", `["For","Against","Abstain"]`, []string{"For", "Against", "Abstain"}},
		{"Python list", `['For', 'Against']`, []string{"For", "Against"}},
		{"Python mixed quotes", `["Don't", 'Yes']`, []string{"Don't", "Yes"}},
		{"Postgres array", `{For,Against,"Abstain, maybe"}`, []string{"For", "Against", "Abstain, maybe"}},
		{"Empty list", `[]`, []string{}},
		{"Blank", ``, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseChoices(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseChoices("For;Against")
	assert.Error(t, err)

	_, err = ParseChoices(`['For`)
	assert.Error(t, err)
}

func TestMerge_KeepsEveryVoteAndPrefersVoteColumns(t *testing.T) {
	votes := []models.Vote{
		{VoterAddress: "0xA", ProposalID: "p1", DAOID: "dao.eth", Choice: "For"},
		{VoterAddress: "0xB", ProposalID: "p-missing", DAOID: "dao.eth", Choice: "For"},
		{VoterAddress: "0xC", ProposalID: "p1", DAOID: "ghost.eth", Choice: "Against"},
	}
	proposals := []models.Proposal{
		// dao_id on the proposal side disagrees and must be ignored
		{ProposalID: "p1", DAOID: "other.eth", Choices: []string{"For", "Against"}},
	}
	daos := []models.DAO{{DAOID: "dao.eth", DAOName: "Dao"}, {DAOID: "other.eth", DAOName: "Other"}}

	merged, report, err := Merge(votes, proposals, daos, MergeOptions{})
	require.NoError(t, err)
	require.Len(t, merged, 3)

	assert.Equal(t, "dao.eth", merged[0].DAOID)
	assert.Equal(t, "Dao", merged[0].DAOName)
	assert.Equal(t, []string{"For", "Against"}, merged[0].Choices)
	assert.True(t, merged[0].HasProposal)

	assert.False(t, merged[1].HasProposal)
	assert.Nil(t, merged[1].Choices)
	assert.True(t, merged[1].HasDAO)

	assert.False(t, merged[2].HasDAO)
	assert.Empty(t, merged[2].DAOName)

	assert.Equal(t, MergeReport{Rows: 3, UnmatchedProposals: 1, UnmatchedDAOs: 1}, report)
}

func TestMerge_StrictReportsContext(t *testing.T) {
	votes := []models.Vote{{VoterAddress: "0xB", ProposalID: "p-missing", DAOID: "dao.eth"}}
	_, _, err := Merge(votes, nil, []models.DAO{{DAOID: "dao.eth"}}, MergeOptions{Strict: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingReference))

	var refErr *ReferenceError
	require.ErrorAs(t, err, &refErr)
	assert.Equal(t, "proposals", refErr.Table)
	assert.Equal(t, "0xB", refErr.VoterAddress)
	assert.Contains(t, err.Error(), "p-missing")
}

func TestMerge_DuplicateProposal(t *testing.T) {
	proposals := []models.Proposal{{ProposalID: "p1"}, {ProposalID: "p1"}}
	_, _, err := Merge(nil, proposals, nil, MergeOptions{})
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func ptr(v float64) *float64 { return &v }
