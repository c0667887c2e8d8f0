package service

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"governance-ledger/models"
)

// setupOpenProposal walks a proposal through petition into OPEN with the
// given participants signing.
func setupOpenProposal(t *testing.T, h *harness, author participant, signers []participant, implications []string) *models.Proposal {
	t.Helper()
	proposal := h.createProposal(t, author, implications)
	require.NoError(t, h.proposals.Transition(proposal.ID, models.StatePetition, author.fp, author.priv))
	_, err := h.petitions.CreatePetition(proposal.ID, len(signers))
	require.NoError(t, err)
	for _, signer := range signers {
		_, err := h.petitions.Sign(proposal.ID, signer.fp, signer.priv)
		require.NoError(t, err)
	}
	got, err := h.proposals.Get(proposal.ID)
	require.NoError(t, err)
	require.Equal(t, models.StateOpen, got.State)
	return got
}

func TestHappyPathVote(t *testing.T) {
	h := newHarness(t)
	author := h.register(t, "author", "")
	signers := make([]participant, 5)
	for i := range signers {
		signers[i] = h.register(t, fmt.Sprintf("signer-%d", i), "")
	}

	proposal := setupOpenProposal(t, h, author, signers,
		[]string{"cost increase", "new agency", "sunset clause"})

	session, err := h.voting.OpenVoting(proposal.ID, author.fp, author.priv)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseCommit, session.Phase())

	got, err := h.proposals.Get(proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateVoting, got.State)

	voters := append([]participant{author}, signers...)
	choices := []models.VoteChoice{
		models.ChoiceYea, models.ChoiceYea, models.ChoiceYea,
		models.ChoiceYea, models.ChoiceNay, models.ChoiceNay,
	}
	nonces := make([]string, len(voters))
	for i, voter := range voters {
		commitment, nonce, err := h.crypto.CreateCommitment(string(choices[i]), "")
		require.NoError(t, err)
		nonces[i] = nonce
		require.NoError(t, session.SubmitCommitment(voter.fp, commitment, voter.priv))
	}

	require.NoError(t, session.StartRevealPhase())
	for i, voter := range voters {
		_, err := session.RevealVote(voter.fp, choices[i], nonces[i], voter.priv)
		require.NoError(t, err)
	}

	tally, err := session.Tally()
	require.NoError(t, err)

	assert.Equal(t, 4, tally.Counts[models.ChoiceYea])
	assert.Equal(t, 2, tally.Counts[models.ChoiceNay])
	assert.Equal(t, 0, tally.Counts[models.ChoiceAbstain])
	assert.Equal(t, 6, tally.TotalRevealed)
	assert.Equal(t, 6, tally.EligibleVoters)
	assert.InDelta(t, 66.67, tally.PassPercent, 0.0001)
	assert.True(t, tally.QuorumMet)
	assert.True(t, tally.Passed)
	assert.Len(t, tally.BallotMerkleRoot, 64)
	assert.Equal(t, models.PhaseClosed, session.Phase())

	// Finalise was skipped; drive the proposal to its terminal state
	// manually the way Finalise would.
	require.NoError(t, h.proposals.Transition(proposal.ID, models.StateTallying, author.fp, author.priv))
	require.NoError(t, h.proposals.Transition(proposal.ID, models.StateEnacted, author.fp, author.priv))
}

func TestFinaliseDrivesProposalToEnacted(t *testing.T) {
	h := newHarness(t)
	author := h.register(t, "author", "")
	signers := make([]participant, 2)
	for i := range signers {
		signers[i] = h.register(t, fmt.Sprintf("s-%d", i), "")
	}
	proposal := setupOpenProposal(t, h, author, signers, []string{"x"})

	session, err := h.voting.OpenVoting(proposal.ID, author.fp, author.priv)
	require.NoError(t, err)

	voters := append([]participant{author}, signers...)
	nonces := make([]string, len(voters))
	for i, voter := range voters {
		commitment, nonce, err := h.crypto.CreateCommitment(string(models.ChoiceYea), "")
		require.NoError(t, err)
		nonces[i] = nonce
		require.NoError(t, session.SubmitCommitment(voter.fp, commitment, voter.priv))
	}
	require.NoError(t, session.StartRevealPhase())
	for i, voter := range voters {
		_, err := session.RevealVote(voter.fp, models.ChoiceYea, nonces[i], voter.priv)
		require.NoError(t, err)
	}

	tally, err := h.voting.Finalise(proposal.ID, author.fp, author.priv)
	require.NoError(t, err)
	assert.True(t, tally.Passed)

	got, err := h.proposals.Get(proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateEnacted, got.State)
	require.NotNil(t, got.TallyResult)
	assert.Equal(t, tally.BallotMerkleRoot, got.TallyResult.BallotMerkleRoot)
}

func TestFinaliseRejectsOnTie(t *testing.T) {
	h := newHarness(t)
	author := h.register(t, "author", "")
	signer := h.register(t, "signer", "")
	proposal := setupOpenProposal(t, h, author, []participant{signer}, []string{"x"})

	session, err := h.voting.OpenVoting(proposal.ID, author.fp, author.priv)
	require.NoError(t, err)

	voters := []participant{author, signer}
	choices := []models.VoteChoice{models.ChoiceYea, models.ChoiceNay}
	nonces := make([]string, 2)
	for i, voter := range voters {
		commitment, nonce, err := h.crypto.CreateCommitment(string(choices[i]), "")
		require.NoError(t, err)
		nonces[i] = nonce
		require.NoError(t, session.SubmitCommitment(voter.fp, commitment, voter.priv))
	}
	require.NoError(t, session.StartRevealPhase())
	for i, voter := range voters {
		_, err := session.RevealVote(voter.fp, choices[i], nonces[i], voter.priv)
		require.NoError(t, err)
	}

	tally, err := h.voting.Finalise(proposal.ID, author.fp, author.priv)
	require.NoError(t, err)

	// 1 yea / 1 nay: exactly 50 percent does not clear the strict bound.
	assert.InDelta(t, 50.0, tally.PassPercent, 0.0001)
	assert.True(t, tally.QuorumMet)
	assert.False(t, tally.Passed)

	got, err := h.proposals.Get(proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateRejected, got.State)
}

func TestCommitMismatchReveal(t *testing.T) {
	h := newHarness(t)
	author := h.register(t, "author", "")
	signer := h.register(t, "signer", "")
	proposal := setupOpenProposal(t, h, author, []participant{signer}, []string{"x"})

	session, err := h.voting.OpenVoting(proposal.ID, author.fp, author.priv)
	require.NoError(t, err)

	commitment, nonce, err := h.crypto.CreateCommitment(string(models.ChoiceYea), "")
	require.NoError(t, err)
	require.NoError(t, session.SubmitCommitment(signer.fp, commitment, signer.priv))
	require.NoError(t, session.StartRevealPhase())

	// Revealing NAY under a YEA commitment fails and records nothing.
	_, err = session.RevealVote(signer.fp, models.ChoiceNay, nonce, signer.priv)
	assert.ErrorIs(t, err, models.ErrAuth)

	tally, err := session.Tally()
	require.NoError(t, err)
	assert.Equal(t, 0, tally.TotalRevealed)
}

func TestJurisdictionFilter(t *testing.T) {
	h := newHarness(t)
	author := h.register(t, "author", "US-CA")
	signer := h.register(t, "signer", "US-CA")
	outsider := h.register(t, "outsider", "US-NY")

	proposal := setupOpenProposal(t, h, author, []participant{signer}, []string{"x"})
	require.NoError(t, h.proposals.SetVotingConfig(proposal.ID, models.VotingConfig{
		EligibleJurisdiction: "US-CA",
	}))

	session, err := h.voting.OpenVoting(proposal.ID, author.fp, author.priv)
	require.NoError(t, err)

	commitment, _, err := h.crypto.CreateCommitment(string(models.ChoiceYea), "")
	require.NoError(t, err)

	// Wrong jurisdiction is refused at commit.
	err = session.SubmitCommitment(outsider.fp, commitment, outsider.priv)
	assert.ErrorIs(t, err, models.ErrAuth)

	// Matching jurisdiction is accepted.
	require.NoError(t, session.SubmitCommitment(signer.fp, commitment, signer.priv))
}

func TestGlobalJurisdictionAcceptsAnyVoter(t *testing.T) {
	h := newHarness(t)
	author := h.register(t, "author", "US-CA")
	signer := h.register(t, "signer", "US-CA")
	outsider := h.register(t, "outsider", "US-NY")

	proposal := setupOpenProposal(t, h, author, []participant{signer}, []string{"x"})
	require.NoError(t, h.proposals.SetVotingConfig(proposal.ID, models.VotingConfig{
		EligibleJurisdiction: models.JurisdictionGlobal,
	}))

	session, err := h.voting.OpenVoting(proposal.ID, author.fp, author.priv)
	require.NoError(t, err)

	commitment, _, err := h.crypto.CreateCommitment(string(models.ChoiceYea), "")
	require.NoError(t, err)
	require.NoError(t, session.SubmitCommitment(outsider.fp, commitment, outsider.priv))
}

func TestPhaseGuards(t *testing.T) {
	h := newHarness(t)
	author := h.register(t, "author", "")
	signer := h.register(t, "signer", "")
	proposal := setupOpenProposal(t, h, author, []participant{signer}, []string{"x"})

	session, err := h.voting.OpenVoting(proposal.ID, author.fp, author.priv)
	require.NoError(t, err)

	// Reveal before the reveal phase.
	_, err = session.RevealVote(signer.fp, models.ChoiceYea, "0", signer.priv)
	assert.ErrorIs(t, err, models.ErrState)

	// Tally before the reveal phase.
	_, err = session.Tally()
	assert.ErrorIs(t, err, models.ErrState)

	commitment, nonce, err := h.crypto.CreateCommitment(string(models.ChoiceYea), "")
	require.NoError(t, err)
	require.NoError(t, session.SubmitCommitment(signer.fp, commitment, signer.priv))

	// Duplicate commitment.
	err = session.SubmitCommitment(signer.fp, commitment, signer.priv)
	assert.ErrorIs(t, err, models.ErrDuplicate)

	require.NoError(t, session.StartRevealPhase())

	// Commit after the commit phase.
	err = session.SubmitCommitment(author.fp, commitment, author.priv)
	assert.ErrorIs(t, err, models.ErrState)

	// Reveal phase cannot start twice.
	err = session.StartRevealPhase()
	assert.ErrorIs(t, err, models.ErrState)

	// Invalid choice.
	_, err = session.RevealVote(signer.fp, "MAYBE", nonce, signer.priv)
	assert.ErrorIs(t, err, models.ErrValidation)

	// Reveal without a commitment.
	_, err = session.RevealVote(author.fp, models.ChoiceYea, nonce, author.priv)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = session.RevealVote(signer.fp, models.ChoiceYea, nonce, signer.priv)
	require.NoError(t, err)

	// Duplicate reveal.
	_, err = session.RevealVote(signer.fp, models.ChoiceYea, nonce, signer.priv)
	assert.ErrorIs(t, err, models.ErrDuplicate)

	_, err = session.Tally()
	require.NoError(t, err)

	// Tally closed the session.
	_, err = session.Tally()
	assert.ErrorIs(t, err, models.ErrState)
}

func TestOpenVotingRequiresOpenState(t *testing.T) {
	h := newHarness(t)
	author := h.register(t, "author", "")
	proposal := h.createProposal(t, author, []string{"x"})

	_, err := h.voting.OpenVoting(proposal.ID, author.fp, author.priv)
	assert.ErrorIs(t, err, models.ErrState)
}

func TestQuorumNotMet(t *testing.T) {
	h := newHarness(t)
	author := h.register(t, "author", "")
	signer := h.register(t, "signer", "")
	// A crowd that will not vote, diluting turnout below quorum.
	for i := 0; i < 20; i++ {
		h.register(t, fmt.Sprintf("bystander-%d", i), "")
	}

	proposal := setupOpenProposal(t, h, author, []participant{signer}, []string{"x"})
	require.NoError(t, h.proposals.SetVotingConfig(proposal.ID, models.VotingConfig{
		QuorumPercent: 50,
	}))

	session, err := h.voting.OpenVoting(proposal.ID, author.fp, author.priv)
	require.NoError(t, err)

	commitment, nonce, err := h.crypto.CreateCommitment(string(models.ChoiceYea), "")
	require.NoError(t, err)
	require.NoError(t, session.SubmitCommitment(signer.fp, commitment, signer.priv))
	require.NoError(t, session.StartRevealPhase())
	_, err = session.RevealVote(signer.fp, models.ChoiceYea, nonce, signer.priv)
	require.NoError(t, err)

	tally, err := session.Tally()
	require.NoError(t, err)

	// 1 of 22 active identities revealed: far below the 50 percent quorum,
	// so a unanimous yea still fails.
	assert.False(t, tally.QuorumMet)
	assert.False(t, tally.Passed)
	assert.Equal(t, 22, tally.EligibleVoters)
}

func TestAbstentionsCountTowardQuorumOnly(t *testing.T) {
	h := newHarness(t)
	author := h.register(t, "author", "")
	signers := make([]participant, 3)
	for i := range signers {
		signers[i] = h.register(t, fmt.Sprintf("s-%d", i), "")
	}
	proposal := setupOpenProposal(t, h, author, signers, []string{"x"})

	session, err := h.voting.OpenVoting(proposal.ID, author.fp, author.priv)
	require.NoError(t, err)

	voters := append([]participant{author}, signers...)
	choices := []models.VoteChoice{
		models.ChoiceYea, models.ChoiceAbstain, models.ChoiceAbstain, models.ChoiceAbstain,
	}
	nonces := make([]string, len(voters))
	for i, voter := range voters {
		commitment, nonce, err := h.crypto.CreateCommitment(string(choices[i]), "")
		require.NoError(t, err)
		nonces[i] = nonce
		require.NoError(t, session.SubmitCommitment(voter.fp, commitment, voter.priv))
	}
	require.NoError(t, session.StartRevealPhase())
	for i, voter := range voters {
		_, err := session.RevealVote(voter.fp, choices[i], nonces[i], voter.priv)
		require.NoError(t, err)
	}

	tally, err := session.Tally()
	require.NoError(t, err)

	// All four revealed, so quorum counts 4; the pass denominator is the
	// single yea, which passes cleanly.
	assert.Equal(t, 4, tally.TotalRevealed)
	assert.True(t, tally.QuorumMet)
	assert.InDelta(t, 100.0, tally.PassPercent, 0.0001)
	assert.True(t, tally.Passed)
}
