package service

import (
	"fmt"
	"sync"

	"governance-ledger/encryption"
	"governance-ledger/ledger"
	"governance-ledger/models"
	"governance-ledger/registry"
)

// VotingManager opens and finalizes per-proposal voting sessions.
type VotingManager struct {
	mu         sync.RWMutex
	crypto     *encryption.CryptoService
	ledger     *ledger.Ledger
	identities *registry.IdentityRegistry
	proposals  *ProposalService
	sessions   map[string]*VotingSession
}

func NewVotingManager(cs *encryption.CryptoService, l *ledger.Ledger, ids *registry.IdentityRegistry, ps *ProposalService) *VotingManager {
	return &VotingManager{
		crypto:     cs,
		ledger:     l,
		identities: ids,
		proposals:  ps,
		sessions:   make(map[string]*VotingSession),
	}
}

// OpenVoting transitions an OPEN proposal to VOTING and creates its session
// in the COMMIT phase.
func (m *VotingManager) OpenVoting(proposalID, actorFp, actorKey string) (*VotingSession, error) {
	proposal, err := m.proposals.Get(proposalID)
	if err != nil {
		return nil, err
	}
	if _, err := m.identities.RequireActive(actorFp); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[proposalID]; exists {
		return nil, fmt.Errorf("voting session for %s already exists: %w", proposalID, models.ErrDuplicate)
	}

	if err := m.proposals.Transition(proposalID, models.StateVoting, actorFp, actorKey); err != nil {
		return nil, err
	}

	session := newVotingSession(m.crypto, m.ledger, m.identities, proposal)
	m.sessions[proposalID] = session
	return session, nil
}

// Session returns the live session for a proposal.
func (m *VotingManager) Session(proposalID string) (*VotingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[proposalID]
	if !ok {
		return nil, fmt.Errorf("voting session for %s: %w", proposalID, models.ErrNotFound)
	}
	return session, nil
}

// Finalise tallies a session and drives the proposal to its terminal state.
// A session still in COMMIT is advanced to REVEAL first; the proposal moves
// VOTING -> TALLYING -> ENACTED or REJECTED, and the tally is attached.
func (m *VotingManager) Finalise(proposalID, actorFp, actorKey string) (*models.TallyResult, error) {
	session, err := m.Session(proposalID)
	if err != nil {
		return nil, err
	}

	if session.Phase() == models.PhaseCommit {
		if err := session.StartRevealPhase(); err != nil {
			return nil, err
		}
	}

	tally, err := session.Tally()
	if err != nil {
		return nil, err
	}

	if err := m.proposals.Transition(proposalID, models.StateTallying, actorFp, actorKey); err != nil {
		return nil, err
	}
	outcome := models.StateRejected
	if tally.Passed {
		outcome = models.StateEnacted
	}
	if err := m.proposals.Transition(proposalID, outcome, actorFp, actorKey); err != nil {
		return nil, err
	}
	if err := m.proposals.AttachTally(proposalID, tally); err != nil {
		return nil, err
	}
	return tally, nil
}
