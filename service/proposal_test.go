package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"governance-ledger/models"
)

func TestCreateProposal(t *testing.T) {
	h := newHarness(t)
	author := h.register(t, "author", "")

	proposal := h.createProposal(t, author, []string{"raises costs", "improves transparency"})

	assert.Equal(t, models.StateDraft, proposal.State)
	assert.Len(t, proposal.ID, 32)
	require.Len(t, proposal.Versions, 1)
	assert.Equal(t, 1, proposal.Versions[0].Version)
	assert.Len(t, proposal.Versions[0].TextHash, 64)
	assert.Equal(t, models.JurisdictionGlobal, proposal.Jurisdiction)
}

func TestCreateProposalValidation(t *testing.T) {
	h := newHarness(t)
	author := h.register(t, "author", "")

	// No implications.
	_, err := h.proposals.Create(CreateProposalRequest{
		Type:      models.ProposalLaw,
		Title:     "t",
		FullText:  "f",
		AuthorFp:  author.fp,
		AuthorKey: author.priv,
	})
	assert.ErrorIs(t, err, models.ErrValidation)

	// Unknown type.
	_, err = h.proposals.Create(CreateProposalRequest{
		Type:         "DECREE",
		Title:        "t",
		FullText:     "f",
		Implications: []string{"x"},
		AuthorFp:     author.fp,
		AuthorKey:    author.priv,
	})
	assert.ErrorIs(t, err, models.ErrValidation)

	// Unregistered author.
	_, err = h.proposals.Create(CreateProposalRequest{
		Type:         models.ProposalLaw,
		Title:        "t",
		FullText:     "f",
		Implications: []string{"x"},
		AuthorFp:     "nobody",
		AuthorKey:    author.priv,
	})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCreateProposalRevokedAuthor(t *testing.T) {
	h := newHarness(t)
	author := h.register(t, "author", "")
	require.NoError(t, h.identities.Revoke(author.fp, author.priv))

	_, err := h.proposals.Create(CreateProposalRequest{
		Type:         models.ProposalLaw,
		Title:        "t",
		FullText:     "f",
		Implications: []string{"x"},
		AuthorFp:     author.fp,
		AuthorKey:    author.priv,
	})
	assert.ErrorIs(t, err, models.ErrAuth)
}

func TestStateMachineTransitions(t *testing.T) {
	legal := []struct {
		from models.ProposalState
		to   models.ProposalState
	}{
		{models.StateDraft, models.StatePetition},
		{models.StateDraft, models.StateOpen},
		{models.StatePetition, models.StateOpen},
		{models.StatePetition, models.StateExpired},
		{models.StateOpen, models.StateVoting},
		{models.StateOpen, models.StateExpired},
		{models.StateVoting, models.StateTallying},
		{models.StateTallying, models.StateEnacted},
		{models.StateTallying, models.StateRejected},
		{models.StateEnacted, models.StateAmended},
	}
	for _, tc := range legal {
		assert.True(t, transitionAllowed(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	illegal := []struct {
		from models.ProposalState
		to   models.ProposalState
	}{
		{models.StateDraft, models.StateVoting},
		{models.StateDraft, models.StateEnacted},
		{models.StateOpen, models.StateDraft},
		{models.StateVoting, models.StateOpen},
		{models.StateVoting, models.StateEnacted},
		{models.StateRejected, models.StateOpen},
		{models.StateExpired, models.StateOpen},
		{models.StateAmended, models.StateDraft},
	}
	for _, tc := range illegal {
		assert.False(t, transitionAllowed(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestIllegalTransitionDoesNotMutate(t *testing.T) {
	h := newHarness(t)
	author := h.register(t, "author", "")
	proposal := h.createProposal(t, author, []string{"x"})

	err := h.proposals.Transition(proposal.ID, models.StateEnacted, author.fp, author.priv)
	assert.ErrorIs(t, err, models.ErrState)

	got, err := h.proposals.Get(proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateDraft, got.State)
}

func TestAddVersionOnlyInDraftOrOpen(t *testing.T) {
	h := newHarness(t)
	author := h.register(t, "author", "")
	proposal := h.createProposal(t, author, []string{"x"})

	v2, err := h.proposals.AddVersion(proposal.ID, "new text", "new summary", []string{"y"}, author.fp, author.priv)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)

	got, err := h.proposals.Get(proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, "new text", got.FullText)
	assert.Equal(t, []string{"y"}, got.Implications)

	// Prior version untouched.
	assert.Equal(t, "All public datasets shall be published within 30 days.", got.Versions[0].FullText)

	require.NoError(t, h.proposals.Transition(proposal.ID, models.StatePetition, author.fp, author.priv))
	_, err = h.proposals.AddVersion(proposal.ID, "late", "late", []string{"z"}, author.fp, author.priv)
	assert.ErrorIs(t, err, models.ErrState)
}

func TestSetVotingConfigDefaults(t *testing.T) {
	h := newHarness(t)
	author := h.register(t, "author", "")
	proposal := h.createProposal(t, author, []string{"x"})

	require.NoError(t, h.proposals.SetVotingConfig(proposal.ID, models.VotingConfig{
		EligibleJurisdiction: "US-CA",
	}))

	got, err := h.proposals.Get(proposal.ID)
	require.NoError(t, err)
	require.NotNil(t, got.VotingConfig)
	assert.Equal(t, DefaultQuorumPercent, got.VotingConfig.QuorumPercent)
	assert.Equal(t, DefaultPassPercent, got.VotingConfig.PassPercent)
	assert.Equal(t, "US-CA", got.VotingConfig.EligibleJurisdiction)
}

func TestProposalEntriesEmitted(t *testing.T) {
	h := newHarness(t)
	author := h.register(t, "author", "")
	proposal := h.createProposal(t, author, []string{"x"})
	require.NoError(t, h.proposals.Transition(proposal.ID, models.StatePetition, author.fp, author.priv))
	h.commit(t)

	creates := h.ledger.GetEntriesByType(models.EntryProposalCreate)
	require.Len(t, creates, 1)
	assert.Equal(t, author.fp, creates[0].ActorID)

	changes := h.ledger.GetEntriesByType(models.EntryProposalStateChange)
	require.Len(t, changes, 1)
	assert.Equal(t, "DRAFT", changes[0].Payload["from"])
	assert.Equal(t, "PETITION", changes[0].Payload["to"])
}
