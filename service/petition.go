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

// PetitionService collects implication-bound signatures per proposal and
// advances the proposal out of PETITION once the threshold is crossed.
type PetitionService struct {
	mu         sync.RWMutex
	crypto     *encryption.CryptoService
	ledger     *ledger.Ledger
	identities *registry.IdentityRegistry
	proposals  *ProposalService
	petitions  map[string]*models.Petition
}

func NewPetitionService(cs *encryption.CryptoService, l *ledger.Ledger, ids *registry.IdentityRegistry, ps *ProposalService) *PetitionService {
	return &PetitionService{
		crypto:     cs,
		ledger:     l,
		identities: ids,
		proposals:  ps,
		petitions:  make(map[string]*models.Petition),
	}
}

// CreatePetition opens signature collection for a proposal already in
// PETITION. A threshold of 0 means the default.
func (s *PetitionService) CreatePetition(proposalID string, threshold int) (*models.Petition, error) {
	proposal, err := s.proposals.Get(proposalID)
	if err != nil {
		return nil, err
	}
	if proposal.State != models.StatePetition {
		return nil, fmt.Errorf("proposal %s is in %s, not PETITION: %w", proposalID, proposal.State, models.ErrState)
	}
	if threshold <= 0 {
		threshold = models.DefaultPetitionThreshold
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.petitions[proposalID]; exists {
		return nil, fmt.Errorf("petition for %s already exists: %w", proposalID, models.ErrDuplicate)
	}

	petition := &models.Petition{
		ProposalID:   proposalID,
		Jurisdiction: proposal.Jurisdiction,
		Threshold:    threshold,
		Signatures:   make(map[string]*models.PetitionSignature),
		CreatedAt:    time.Now().UnixMilli(),
	}
	s.petitions[proposalID] = petition
	return petition, nil
}

// Get returns the petition for a proposal.
func (s *PetitionService) Get(proposalID string) (*models.Petition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	petition, ok := s.petitions[proposalID]
	if !ok {
		return nil, fmt.Errorf("petition for %s: %w", proposalID, models.ErrNotFound)
	}
	return petition, nil
}

// Sign records one signer's support. The signer produces two signatures:
// an acknowledgement over the implications hash, and the petition signature
// over the canonical sign action. Crossing the threshold emits a system
// entry and advances the proposal PETITION -> OPEN.
func (s *PetitionService) Sign(proposalID, signerFp, signerKey string) (*models.PetitionSignature, error) {
	signer, err := s.identities.RequireActive(signerFp)
	if err != nil {
		return nil, err
	}
	proposal, err := s.proposals.Get(proposalID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	petition, ok := s.petitions[proposalID]
	if !ok {
		return nil, fmt.Errorf("petition for %s: %w", proposalID, models.ErrNotFound)
	}
	if petition.ThresholdMet {
		return nil, fmt.Errorf("petition for %s already met its threshold: %w", proposalID, models.ErrState)
	}
	if _, signed := petition.Signatures[signerFp]; signed {
		return nil, fmt.Errorf("%s already signed petition for %s: %w", signerFp, proposalID, models.ErrDuplicate)
	}

	implicationsHash := s.crypto.Hash(proposal.Implications)

	acknowledgement, err := s.crypto.Sign(models.AcknowledgementPrefix+implicationsHash, signerKey)
	if err != nil {
		return nil, err
	}
	petitionSig, err := s.crypto.Sign(map[string]interface{}{
		"action":           "PETITION_SIGN",
		"proposalId":       proposalID,
		"implicationsHash": implicationsHash,
		"signer":           signerFp,
	}, signerKey)
	if err != nil {
		return nil, err
	}

	signature := &models.PetitionSignature{
		ID:                       s.crypto.GenerateID(),
		Signer:                   signer.Fingerprint,
		ImplicationsHash:         implicationsHash,
		AcknowledgementSignature: acknowledgement,
		PetitionSignature:        petitionSig,
		SignedAt:                 time.Now().UnixMilli(),
	}

	entry, err := ledger.NewSignedEntry(s.crypto, models.EntryPetitionSign, map[string]interface{}{
		"proposalId":       proposalID,
		"signatureId":      signature.ID,
		"implicationsHash": implicationsHash,
		"signatureCount":   len(petition.Signatures) + 1,
		"threshold":        petition.Threshold,
	}, signerFp, signerKey)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.AddEntry(entry); err != nil {
		return nil, err
	}

	petition.Signatures[signerFp] = signature

	if len(petition.Signatures) >= petition.Threshold && !petition.ThresholdMet {
		petition.ThresholdMet = true
		petition.ThresholdMetAt = time.Now().UnixMilli()

		thresholdEntry := ledger.NewSystemEntry(s.crypto, models.EntryPetitionThreshold, map[string]interface{}{
			"proposalId":     proposalID,
			"signatureCount": len(petition.Signatures),
			"threshold":      petition.Threshold,
		})
		if err := s.ledger.AddEntry(thresholdEntry); err != nil {
			return nil, err
		}
		if err := s.proposals.TransitionBySystem(proposalID, models.StateOpen); err != nil {
			return nil, err
		}
	}

	return signature, nil
}

// VerifySignature re-verifies a stored petition signature against the
// signer's currently registered public key, recomputing the implications
// hash from the proposal's live implications.
func (s *PetitionService) VerifySignature(proposalID, signerFp string) (*models.SignatureVerification, error) {
	proposal, err := s.proposals.Get(proposalID)
	if err != nil {
		return nil, err
	}
	signer, err := s.identities.Get(signerFp)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	petition, ok := s.petitions[proposalID]
	if !ok {
		s.mu.RUnlock()
		return nil, fmt.Errorf("petition for %s: %w", proposalID, models.ErrNotFound)
	}
	signature, ok := petition.Signatures[signerFp]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no signature by %s on %s: %w", signerFp, proposalID, models.ErrNotFound)
	}

	implicationsHash := s.crypto.Hash(proposal.Implications)

	ackValid := s.crypto.Verify(
		models.AcknowledgementPrefix+implicationsHash,
		signature.AcknowledgementSignature,
		signer.PublicKey,
	)
	sigValid := s.crypto.Verify(map[string]interface{}{
		"action":           "PETITION_SIGN",
		"proposalId":       proposalID,
		"implicationsHash": implicationsHash,
		"signer":           signerFp,
	}, signature.PetitionSignature, signer.PublicKey)

	return &models.SignatureVerification{
		Valid:                  ackValid && sigValid,
		AcknowledgementValid:   ackValid,
		PetitionSignatureValid: sigValid,
	}, nil
}
