package service

import (
	"fmt"
	"sync"
	"time"

	"governance-ledger/encryption"
	"governance-ledger/ledger"
	"governance-ledger/models"
	"governance-ledger/registry"
)

// Defaults applied by SetVotingConfig when the caller leaves them zero.
const (
	DefaultQuorumPercent = 10.0
	DefaultPassPercent   = 50.0
)

// allowedTransitions is the proposal state machine. Absent pairs fail.
var allowedTransitions = map[models.ProposalState][]models.ProposalState{
	models.StateDraft:    {models.StatePetition, models.StateOpen},
	models.StatePetition: {models.StateOpen, models.StateExpired},
	models.StateOpen:     {models.StateVoting, models.StateExpired},
	models.StateVoting:   {models.StateTallying},
	models.StateTallying: {models.StateEnacted, models.StateRejected},
	models.StateEnacted:  {models.StateAmended},
}

func transitionAllowed(from, to models.ProposalState) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CreateProposalRequest carries a new proposal's content and authorship.
type CreateProposalRequest struct {
	Type         models.ProposalType
	Title        string
	FullText     string
	Summary      string
	Implications []string
	Jurisdiction string
	AmendmentOf  string
	AuthorFp     string
	AuthorKey    string
}

// ProposalService owns the proposal set, version history, and the lifecycle
// state machine. Every creation and transition emits a signed ledger entry.
type ProposalService struct {
	mu         sync.RWMutex
	crypto     *encryption.CryptoService
	ledger     *ledger.Ledger
	identities *registry.IdentityRegistry
	proposals  map[string]*models.Proposal
}

func NewProposalService(cs *encryption.CryptoService, l *ledger.Ledger, ids *registry.IdentityRegistry) *ProposalService {
	return &ProposalService{
		crypto:     cs,
		ledger:     l,
		identities: ids,
		proposals:  make(map[string]*models.Proposal),
	}
}

// Create registers a new proposal in DRAFT with its first version. The
// author must be registered and not revoked, and at least one implication
// must be stated.
func (s *ProposalService) Create(req CreateProposalRequest) (*models.Proposal, error) {
	if req.Title == "" || req.FullText == "" {
		return nil, fmt.Errorf("proposal requires title and full text: %w", models.ErrValidation)
	}
	if len(req.Implications) == 0 {
		return nil, fmt.Errorf("proposal requires at least one implication: %w", models.ErrValidation)
	}
	switch req.Type {
	case models.ProposalLaw, models.ProposalAmendment, models.ProposalRepeal, models.ProposalResolution:
	default:
		return nil, fmt.Errorf("unknown proposal type %q: %w", req.Type, models.ErrValidation)
	}
	if _, err := s.identities.RequireActive(req.AuthorFp); err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	jurisdiction := req.Jurisdiction
	if jurisdiction == "" {
		jurisdiction = models.JurisdictionGlobal
	}

	proposal := &models.Proposal{
		ID:                s.crypto.GenerateID(),
		Type:              req.Type,
		Title:             req.Title,
		FullText:          req.FullText,
		Summary:           req.Summary,
		Implications:      append([]string(nil), req.Implications...),
		Jurisdiction:      jurisdiction,
		AmendmentOf:       req.AmendmentOf,
		AuthorFingerprint: req.AuthorFp,
		State:             models.StateDraft,
		CreatedAt:         now,
	}
	proposal.Versions = []models.ProposalVersion{{
		Version:      1,
		FullText:     req.FullText,
		Summary:      req.Summary,
		Implications: proposal.Implications,
		TextHash:     s.versionHash(req.FullText, req.Summary, req.Implications),
		CreatedAt:    now,
	}}

	entry, err := ledger.NewSignedEntry(s.crypto, models.EntryProposalCreate, map[string]interface{}{
		"proposalId":   proposal.ID,
		"type":         string(proposal.Type),
		"title":        proposal.Title,
		"jurisdiction": proposal.Jurisdiction,
		"textHash":     proposal.Versions[0].TextHash,
	}, req.AuthorFp, req.AuthorKey)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.AddEntry(entry); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.proposals[proposal.ID] = proposal
	s.mu.Unlock()
	return proposal, nil
}

func (s *ProposalService) versionHash(fullText, summary string, implications []string) string {
	return s.crypto.Hash(map[string]interface{}{
		"fullText":     fullText,
		"summary":      summary,
		"implications": implications,
	})
}

// Get returns a proposal by id.
func (s *ProposalService) Get(id string) (*models.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	proposal, ok := s.proposals[id]
	if !ok {
		return nil, fmt.Errorf("proposal %s: %w", id, models.ErrNotFound)
	}
	return proposal, nil
}

// List returns every proposal.
func (s *ProposalService) List() []*models.Proposal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Proposal, 0, len(s.proposals))
	for _, p := range s.proposals {
		out = append(out, p)
	}
	return out
}

// AddVersion appends a new immutable revision. Permitted only while the
// proposal is in DRAFT or OPEN; the live text and implications move with it.
func (s *ProposalService) AddVersion(id, fullText, summary string, implications []string, actorFp, actorKey string) (*models.ProposalVersion, error) {
	if len(implications) == 0 {
		return nil, fmt.Errorf("version requires at least one implication: %w", models.ErrValidation)
	}
	if _, err := s.identities.RequireActive(actorFp); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	proposal, ok := s.proposals[id]
	if !ok {
		return nil, fmt.Errorf("proposal %s: %w", id, models.ErrNotFound)
	}
	if proposal.State != models.StateDraft && proposal.State != models.StateOpen {
		return nil, fmt.Errorf("cannot revise proposal in state %s: %w", proposal.State, models.ErrState)
	}

	version := models.ProposalVersion{
		Version:      len(proposal.Versions) + 1,
		FullText:     fullText,
		Summary:      summary,
		Implications: append([]string(nil), implications...),
		TextHash:     s.versionHash(fullText, summary, implications),
		CreatedAt:    time.Now().UnixMilli(),
	}
	proposal.Versions = append(proposal.Versions, version)
	proposal.FullText = fullText
	proposal.Summary = summary
	proposal.Implications = version.Implications
	return &proposal.Versions[len(proposal.Versions)-1], nil
}

// SetVotingConfig records the voting window parameters, applying defaults
// for quorum (10) and pass percent (50).
func (s *ProposalService) SetVotingConfig(id string, cfg models.VotingConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	proposal, ok := s.proposals[id]
	if !ok {
		return fmt.Errorf("proposal %s: %w", id, models.ErrNotFound)
	}
	if cfg.QuorumPercent == 0 {
		cfg.QuorumPercent = DefaultQuorumPercent
	}
	if cfg.PassPercent == 0 {
		cfg.PassPercent = DefaultPassPercent
	}
	proposal.VotingConfig = &cfg
	return nil
}

// Transition moves a proposal along the state machine, emitting a signed
// PROPOSAL_STATE_CHANGE entry. Illegal transitions fail without mutation.
func (s *ProposalService) Transition(id string, to models.ProposalState, actorFp, actorKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(id, to, actorFp, actorKey)
}

func (s *ProposalService) transitionLocked(id string, to models.ProposalState, actorFp, actorKey string) error {
	proposal, ok := s.proposals[id]
	if !ok {
		return fmt.Errorf("proposal %s: %w", id, models.ErrNotFound)
	}
	if !transitionAllowed(proposal.State, to) {
		return fmt.Errorf("transition %s -> %s not permitted: %w", proposal.State, to, models.ErrState)
	}

	entry, err := ledger.NewSignedEntry(s.crypto, models.EntryProposalStateChange, map[string]interface{}{
		"proposalId": id,
		"from":       string(proposal.State),
		"to":         string(to),
	}, actorFp, actorKey)
	if err != nil {
		return err
	}
	if err := s.ledger.AddEntry(entry); err != nil {
		return err
	}

	proposal.State = to
	return nil
}

// TransitionBySystem moves a proposal with a system entry instead of an
// actor signature. Used where the system itself is the cause, e.g. a
// petition threshold crossing.
func (s *ProposalService) TransitionBySystem(id string, to models.ProposalState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	proposal, ok := s.proposals[id]
	if !ok {
		return fmt.Errorf("proposal %s: %w", id, models.ErrNotFound)
	}
	if !transitionAllowed(proposal.State, to) {
		return fmt.Errorf("transition %s -> %s not permitted: %w", proposal.State, to, models.ErrState)
	}

	entry := ledger.NewSystemEntry(s.crypto, models.EntryProposalStateChange, map[string]interface{}{
		"proposalId": id,
		"from":       string(proposal.State),
		"to":         string(to),
	})
	if err := s.ledger.AddEntry(entry); err != nil {
		return err
	}

	proposal.State = to
	return nil
}

// AttachTally stores a finished tally on the proposal.
func (s *ProposalService) AttachTally(id string, tally *models.TallyResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	proposal, ok := s.proposals[id]
	if !ok {
		return fmt.Errorf("proposal %s: %w", id, models.ErrNotFound)
	}
	proposal.TallyResult = tally
	return nil
}
