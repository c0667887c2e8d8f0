package service

import (
	"fmt"
	"time"

	"governance-ledger/encryption"
	"governance-ledger/ledger"
	"governance-ledger/models"
	"governance-ledger/registry"
)

// ChainIntegrityReport pairs a full chain verification with chain stats.
type ChainIntegrityReport struct {
	Verification *models.ChainVerification `json:"verification"`
	Stats        *models.LedgerStats       `json:"stats"`
}

// InclusionReport is the outcome of checking an entry's Merkle proof.
type InclusionReport struct {
	Found bool                   `json:"found"`
	Valid bool                   `json:"valid"`
	Proof *models.InclusionProof `json:"proof,omitempty"`
}

// SignatureReport is the outcome of re-verifying an entry signature.
type SignatureReport struct {
	Found          bool   `json:"found"`
	ActorID        string `json:"actorId,omitempty"`
	SignatureValid bool   `json:"signatureValid"`
	Note           string `json:"note,omitempty"`
}

// EntrySummary is one row of an activity or history listing.
type EntrySummary struct {
	EntryID    string                 `json:"entryId"`
	Type       models.EntryType       `json:"type"`
	ActorID    string                 `json:"actorId"`
	Timestamp  int64                  `json:"timestamp"`
	BlockIndex int                    `json:"blockIndex"`
	Payload    map[string]interface{} `json:"payload"`
}

// RetallyReport compares an independent recount of VOTE_REVEAL entries
// against the session's recorded tally.
type RetallyReport struct {
	ProposalID string                    `json:"proposalId"`
	Match      bool                      `json:"match"`
	Recounted  map[models.VoteChoice]int `json:"recounted"`
	Reported   map[models.VoteChoice]int `json:"reported,omitempty"`
}

// TransparencyReport is a point-in-time public snapshot of the system.
type TransparencyReport struct {
	GeneratedAt   int64                     `json:"generatedAt"`
	Chain         *ChainIntegrityReport     `json:"chain"`
	Registry      *models.RegistryStats     `json:"registry"`
	Proposals     int                       `json:"proposals"`
	ProposalsByState map[models.ProposalState]int `json:"proposalsByState"`
	Operations    *MetricsSnapshot          `json:"operations,omitempty"`
}

// AuditService answers verification questions using only the ledger and the
// registries; it never mutates anything.
type AuditService struct {
	crypto     *encryption.CryptoService
	ledger     *ledger.Ledger
	identities *registry.IdentityRegistry
	proposals  *ProposalService
	voting     *VotingManager
	metrics    *MetricsCollector
}

func NewAuditService(cs *encryption.CryptoService, l *ledger.Ledger, ids *registry.IdentityRegistry, ps *ProposalService, vm *VotingManager, mc *MetricsCollector) *AuditService {
	return &AuditService{
		crypto:     cs,
		ledger:     l,
		identities: ids,
		proposals:  ps,
		voting:     vm,
		metrics:    mc,
	}
}

// VerifyChainIntegrity walks the whole chain and reports stats alongside.
func (a *AuditService) VerifyChainIntegrity() *ChainIntegrityReport {
	return &ChainIntegrityReport{
		Verification: a.ledger.VerifyChain(),
		Stats:        a.ledger.Stats(),
	}
}

// VerifyEntryInclusion fetches an entry's Merkle proof and checks it against
// the block's stored root.
func (a *AuditService) VerifyEntryInclusion(entryID string) *InclusionReport {
	proof, err := a.ledger.InclusionProof(entryID)
	if err != nil {
		return &InclusionReport{Found: false}
	}
	return &InclusionReport{
		Found: true,
		Valid: encryption.VerifyMerkleProof(proof.LeafHash, proof.Proof, proof.MerkleRoot),
		Proof: proof,
	}
}

// VerifyEntrySignature re-verifies an entry's signature against the actor's
// currently registered public key. System entries have no cryptographic
// signature and report valid with a note.
func (a *AuditService) VerifyEntrySignature(entryID string) *SignatureReport {
	entry, ok := a.ledger.GetEntry(entryID)
	if !ok {
		return &SignatureReport{Found: false}
	}
	if entry.IsSystem() {
		return &SignatureReport{
			Found:          true,
			ActorID:        entry.ActorID,
			SignatureValid: true,
			Note:           "system entry; signature field is a payload hash, not an authorization",
		}
	}

	identity, err := a.identities.Get(entry.ActorID)
	if err != nil {
		return &SignatureReport{
			Found:   true,
			ActorID: entry.ActorID,
			Note:    "actor not present in identity registry",
		}
	}
	return &SignatureReport{
		Found:          true,
		ActorID:        entry.ActorID,
		SignatureValid: ledger.VerifyEntrySignature(a.crypto, entry, identity.PublicKey),
	}
}

// GetIdentityActivity lists every committed entry by one actor in chain
// order.
func (a *AuditService) GetIdentityActivity(fingerprint string) []EntrySummary {
	return a.summarize(a.ledger.GetEntriesByActor(fingerprint))
}

// GetProposalHistory lists every committed entry touching one proposal in
// chain order, across all entry types.
func (a *AuditService) GetProposalHistory(proposalID string) []EntrySummary {
	var matched []*models.LedgerEntry
	for _, block := range a.ledger.Snapshot().Chain {
		for _, entry := range block.Entries {
			if id, ok := entry.Payload["proposalId"].(string); ok && id == proposalID {
				matched = append(matched, entry)
			}
		}
	}
	return a.summarize(matched)
}

func (a *AuditService) summarize(entries []*models.LedgerEntry) []EntrySummary {
	summaries := make([]EntrySummary, 0, len(entries))
	for _, e := range entries {
		blockIndex := -1
		if proof, err := a.ledger.InclusionProof(e.ID); err == nil {
			blockIndex = proof.BlockIndex
		}
		summaries = append(summaries, EntrySummary{
			EntryID:    e.ID,
			Type:       e.Type,
			ActorID:    e.ActorID,
			Timestamp:  e.Timestamp,
			BlockIndex: blockIndex,
			Payload:    e.Payload,
		})
	}
	return summaries
}

// VerifyProposalVotes independently recounts VOTE_REVEAL entries for a
// proposal and compares against the session's recorded tally.
func (a *AuditService) VerifyProposalVotes(proposalID string) (*RetallyReport, error) {
	recounted := map[models.VoteChoice]int{
		models.ChoiceYea:     0,
		models.ChoiceNay:     0,
		models.ChoiceAbstain: 0,
	}
	for _, entry := range a.ledger.GetEntriesByType(models.EntryVoteReveal) {
		id, _ := entry.Payload["proposalId"].(string)
		if id != proposalID {
			continue
		}
		choice, _ := entry.Payload["choice"].(string)
		recounted[models.VoteChoice(choice)]++
	}

	report := &RetallyReport{ProposalID: proposalID, Recounted: recounted}

	session, err := a.voting.Session(proposalID)
	if err != nil {
		return nil, fmt.Errorf("no voting session to compare against: %w", err)
	}
	tally := session.TallyResult()
	if tally == nil {
		return nil, fmt.Errorf("proposal %s has no recorded tally: %w", proposalID, models.ErrState)
	}

	report.Reported = tally.Counts
	report.Match = recounted[models.ChoiceYea] == tally.Counts[models.ChoiceYea] &&
		recounted[models.ChoiceNay] == tally.Counts[models.ChoiceNay] &&
		recounted[models.ChoiceAbstain] == tally.Counts[models.ChoiceAbstain]
	return report, nil
}

// GenerateTransparencyReport snapshots the whole system for publication.
func (a *AuditService) GenerateTransparencyReport() *TransparencyReport {
	byState := make(map[models.ProposalState]int)
	proposals := a.proposals.List()
	for _, p := range proposals {
		byState[p.State]++
	}

	report := &TransparencyReport{
		GeneratedAt:      time.Now().UnixMilli(),
		Chain:            a.VerifyChainIntegrity(),
		Registry:         a.identities.Stats(),
		Proposals:        len(proposals),
		ProposalsByState: byState,
	}
	if a.metrics != nil {
		snapshot := a.metrics.Snapshot()
		report.Operations = &snapshot
	}
	return report
}

// ExportLedger serializes the full ledger wire form.
func (a *AuditService) ExportLedger() ([]byte, error) {
	return a.ledger.ToJSON()
}
