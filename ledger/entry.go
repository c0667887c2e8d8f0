package ledger

import (
	"fmt"
	"time"

	"governance-ledger/encryption"
	"governance-ledger/models"
)

// entrySigningPayload is what an actor signs: everything except the random
// id and the derived fields.
func entrySigningPayload(e *models.LedgerEntry) map[string]interface{} {
	return map[string]interface{}{
		"type":      string(e.Type),
		"payload":   e.Payload,
		"actorId":   e.ActorID,
		"timestamp": e.Timestamp,
	}
}

// EntryContentHash recomputes the content hash of an entry: SHA3-256 over
// the canonical form of {id, type, payload, actorId, timestamp}.
func EntryContentHash(cs *encryption.CryptoService, e *models.LedgerEntry) string {
	return cs.Hash(map[string]interface{}{
		"id":        e.ID,
		"type":      string(e.Type),
		"payload":   e.Payload,
		"actorId":   e.ActorID,
		"timestamp": e.Timestamp,
	})
}

// NewSignedEntry builds a ledger entry signed by the acting participant.
func NewSignedEntry(cs *encryption.CryptoService, entryType models.EntryType, payload map[string]interface{}, actorID string, privatePEM string) (*models.LedgerEntry, error) {
	if entryType == "" {
		return nil, fmt.Errorf("entry type is required: %w", models.ErrValidation)
	}
	if actorID == "" || actorID == models.SystemActor {
		return nil, fmt.Errorf("signed entries require a participant actor id: %w", models.ErrValidation)
	}

	e := &models.LedgerEntry{
		ID:        cs.GenerateID(),
		Type:      entryType,
		Payload:   payload,
		ActorID:   actorID,
		Timestamp: time.Now().UnixMilli(),
	}

	signature, err := cs.Sign(entrySigningPayload(e), privatePEM)
	if err != nil {
		return nil, fmt.Errorf("failed to sign entry: %w", err)
	}
	e.Signature = signature
	e.Hash = EntryContentHash(cs, e)
	return e, nil
}

// NewSystemEntry builds an entry emitted on the ledger's own authority. The
// signature field holds a hash of the payload; it documents content, it does
// not authorize.
func NewSystemEntry(cs *encryption.CryptoService, entryType models.EntryType, payload map[string]interface{}) *models.LedgerEntry {
	e := &models.LedgerEntry{
		ID:        cs.GenerateID(),
		Type:      entryType,
		Payload:   payload,
		ActorID:   models.SystemActor,
		Timestamp: time.Now().UnixMilli(),
	}
	e.Signature = cs.Hash(payload)
	e.Hash = EntryContentHash(cs, e)
	return e
}

// VerifyEntrySignature checks an entry's Ed25519 signature against a public
// key PEM. System entries have no cryptographic signature and verify false
// here; callers special-case them.
func VerifyEntrySignature(cs *encryption.CryptoService, e *models.LedgerEntry, publicPEM string) bool {
	if e.IsSystem() {
		return false
	}
	return cs.Verify(entrySigningPayload(e), e.Signature, publicPEM)
}
