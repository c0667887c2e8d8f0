package service

import (
	"fmt"
	"math"
	"sync"
	"time"

	"governance-ledger/encryption"
	"governance-ledger/ledger"
	"governance-ledger/models"
	"governance-ledger/registry"
)

// VotingSession is the per-proposal commit-reveal lifecycle. Commitments are
// only accepted in COMMIT, reveals only in REVEAL, and the tally runs once,
// closing the session.
type VotingSession struct {
	mu         sync.RWMutex
	crypto     *encryption.CryptoService
	ledger     *ledger.Ledger
	identities *registry.IdentityRegistry

	proposal    *models.Proposal
	phase       models.VotingPhase
	commitments map[string]string
	ballots     map[string]*models.Ballot
	revealOrder []string
	tallyResult *models.TallyResult
}

func newVotingSession(cs *encryption.CryptoService, l *ledger.Ledger, ids *registry.IdentityRegistry, proposal *models.Proposal) *VotingSession {
	return &VotingSession{
		crypto:      cs,
		ledger:      l,
		identities:  ids,
		proposal:    proposal,
		phase:       models.PhaseCommit,
		commitments: make(map[string]string),
		ballots:     make(map[string]*models.Ballot),
	}
}

// Phase returns the session's current phase.
func (vs *VotingSession) Phase() models.VotingPhase {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return vs.phase
}

// TallyResult returns the finished tally, if any.
func (vs *VotingSession) TallyResult() *models.TallyResult {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return vs.tallyResult
}

// jurisdictionFilter returns the active eligibility filter, empty when the
// config is absent or global.
func (vs *VotingSession) jurisdictionFilter() string {
	cfg := vs.proposal.VotingConfig
	if cfg == nil || cfg.EligibleJurisdiction == "" || cfg.EligibleJurisdiction == models.JurisdictionGlobal {
		return ""
	}
	return cfg.EligibleJurisdiction
}

// SubmitCommitment records a voter's sealed choice and emits a signed
// VOTE_COMMIT entry. One commitment per voter.
func (vs *VotingSession) SubmitCommitment(voterFp, commitment, voterKey string) error {
	if len(commitment) != 64 {
		return fmt.Errorf("commitment must be 64 hex characters: %w", models.ErrValidation)
	}
	voter, err := vs.identities.RequireActive(voterFp)
	if err != nil {
		return err
	}
	if filter := vs.jurisdictionFilter(); filter != "" && !voter.MatchesJurisdiction(filter) {
		return fmt.Errorf("voter %s jurisdiction %q not eligible for %q: %w",
			voterFp, voter.Jurisdiction, filter, models.ErrAuth)
	}

	vs.mu.Lock()
	defer vs.mu.Unlock()

	if vs.phase != models.PhaseCommit {
		return fmt.Errorf("commitments closed in phase %s: %w", vs.phase, models.ErrState)
	}
	if _, committed := vs.commitments[voterFp]; committed {
		return fmt.Errorf("voter %s already committed: %w", voterFp, models.ErrDuplicate)
	}

	entry, err := ledger.NewSignedEntry(vs.crypto, models.EntryVoteCommit, map[string]interface{}{
		"proposalId": vs.proposal.ID,
		"commitment": commitment,
	}, voterFp, voterKey)
	if err != nil {
		return err
	}
	if err := vs.ledger.AddEntry(entry); err != nil {
		return err
	}

	vs.commitments[voterFp] = commitment
	return nil
}

// StartRevealPhase moves COMMIT -> REVEAL. Any other starting phase fails.
func (vs *VotingSession) StartRevealPhase() error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if vs.phase != models.PhaseCommit {
		return fmt.Errorf("cannot start reveal from phase %s: %w", vs.phase, models.ErrState)
	}
	vs.phase = models.PhaseReveal
	return nil
}

// RevealVote opens a voter's commitment. The revealed choice and nonce must
// hash to the stored commitment; a mismatch leaves no ballot behind.
func (vs *VotingSession) RevealVote(voterFp string, choice models.VoteChoice, nonce, voterKey string) (*models.Ballot, error) {
	if !models.ValidChoice(choice) {
		return nil, fmt.Errorf("invalid ballot choice %q: %w", choice, models.ErrValidation)
	}

	vs.mu.Lock()
	defer vs.mu.Unlock()

	if vs.phase != models.PhaseReveal {
		return nil, fmt.Errorf("reveals closed in phase %s: %w", vs.phase, models.ErrState)
	}
	commitment, ok := vs.commitments[voterFp]
	if !ok {
		return nil, fmt.Errorf("no commitment by %s: %w", voterFp, models.ErrNotFound)
	}
	if _, revealed := vs.ballots[voterFp]; revealed {
		return nil, fmt.Errorf("voter %s already revealed: %w", voterFp, models.ErrDuplicate)
	}
	if !vs.crypto.OpenCommitment(string(choice), nonce, commitment) {
		return nil, fmt.Errorf("reveal by %s does not open its commitment: %w", voterFp, models.ErrAuth)
	}

	ballot := &models.Ballot{
		ID:               vs.crypto.GenerateID(),
		VoterFingerprint: voterFp,
		ProposalID:       vs.proposal.ID,
		Choice:           choice,
		Nonce:            nonce,
		Commitment:       commitment,
		Revealed:         true,
		Timestamp:        time.Now().UnixMilli(),
	}

	entry, err := ledger.NewSignedEntry(vs.crypto, models.EntryVoteReveal, map[string]interface{}{
		"proposalId": vs.proposal.ID,
		"choice":     string(choice),
		"nonce":      nonce,
		"ballotId":   ballot.ID,
	}, voterFp, voterKey)
	if err != nil {
		return nil, err
	}
	if err := vs.ledger.AddEntry(entry); err != nil {
		return nil, err
	}

	vs.ballots[voterFp] = ballot
	vs.revealOrder = append(vs.revealOrder, voterFp)
	return ballot, nil
}

func roundTwoDecimals(x float64) float64 {
	return math.Round(x*100) / 100
}

// Tally counts revealed ballots and closes the session. Abstentions count
// toward quorum but not toward the pass denominator; passing requires
// strictly more than the pass threshold, so a tied vote fails. A system
// VOTE_TALLY entry carries the full result including the ballot Merkle root.
func (vs *VotingSession) Tally() (*models.TallyResult, error) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if vs.phase != models.PhaseReveal {
		return nil, fmt.Errorf("cannot tally in phase %s: %w", vs.phase, models.ErrState)
	}
	vs.phase = models.PhaseTally

	counts := map[models.VoteChoice]int{
		models.ChoiceYea:     0,
		models.ChoiceNay:     0,
		models.ChoiceAbstain: 0,
	}
	leaves := make([]string, 0, len(vs.revealOrder))
	for _, voterFp := range vs.revealOrder {
		ballot := vs.ballots[voterFp]
		counts[ballot.Choice]++
		leaves = append(leaves, vs.crypto.Hash(map[string]interface{}{
			"voter":  ballot.VoterFingerprint,
			"choice": string(ballot.Choice),
			"nonce":  ballot.Nonce,
		}))
	}
	ballotRoot := encryption.NewMerkleTree(leaves).Root

	quorumPercent := DefaultQuorumPercent
	passThreshold := DefaultPassPercent
	if cfg := vs.proposal.VotingConfig; cfg != nil {
		quorumPercent = cfg.QuorumPercent
		passThreshold = cfg.PassPercent
	}

	eligible := vs.identities.ActiveCount(vs.jurisdictionFilter())
	totalRevealed := len(vs.ballots)
	turnout := float64(totalRevealed) / math.Max(float64(eligible), 1) * 100

	yea := counts[models.ChoiceYea]
	nay := counts[models.ChoiceNay]
	passPercent := 0.0
	if yea+nay > 0 {
		passPercent = roundTwoDecimals(float64(yea) / float64(yea+nay) * 100)
	}

	quorumMet := turnout >= quorumPercent
	tally := &models.TallyResult{
		ProposalID:       vs.proposal.ID,
		Counts:           counts,
		TotalRevealed:    totalRevealed,
		EligibleVoters:   eligible,
		TurnoutPercent:   roundTwoDecimals(turnout),
		QuorumMet:        quorumMet,
		PassPercent:      passPercent,
		Passed:           quorumMet && passPercent > passThreshold,
		BallotMerkleRoot: ballotRoot,
		TalliedAt:        time.Now().UnixMilli(),
	}

	entry := ledger.NewSystemEntry(vs.crypto, models.EntryVoteTally, map[string]interface{}{
		"proposalId":       tally.ProposalID,
		"counts":           map[string]interface{}{"YEA": yea, "NAY": nay, "ABSTAIN": counts[models.ChoiceAbstain]},
		"totalRevealed":    tally.TotalRevealed,
		"eligibleVoters":   tally.EligibleVoters,
		"turnoutPercent":   tally.TurnoutPercent,
		"quorumMet":        tally.QuorumMet,
		"passPercent":      tally.PassPercent,
		"passed":           tally.Passed,
		"ballotMerkleRoot": tally.BallotMerkleRoot,
	})
	if err := vs.ledger.AddEntry(entry); err != nil {
		return nil, err
	}

	vs.tallyResult = tally
	vs.phase = models.PhaseClosed
	return tally, nil
}
