package models

// EntryType discriminates ledger entries.
type EntryType string

const (
	EntryRegister            EntryType = "REGISTER"
	EntryAttestation         EntryType = "ATTESTATION"
	EntryRevokeIdentity      EntryType = "REVOKE_IDENTITY"
	EntryProposalCreate      EntryType = "PROPOSAL_CREATE"
	EntryProposalStateChange EntryType = "PROPOSAL_STATE_CHANGE"
	EntryPetitionSign        EntryType = "PETITION_SIGN"
	EntryPetitionThreshold   EntryType = "PETITION_THRESHOLD_MET"
	EntryVoteCommit          EntryType = "VOTE_COMMIT"
	EntryVoteReveal          EntryType = "VOTE_REVEAL"
	EntryVoteTally           EntryType = "VOTE_TALLY"
)

// SystemActor is the actor id carried by entries the ledger emits on its own
// authority. System entries are not Ed25519-signed; their signature field
// holds a hash of the payload.
const SystemActor = "SYSTEM"

// LedgerEntry is the atomic signed action appended to the chain.
//
// Hash covers the canonical form of {id, type, payload, actorId, timestamp};
// Signature covers the canonical form of {type, payload, actorId, timestamp}.
type LedgerEntry struct {
	ID        string                 `json:"id"`
	Type      EntryType              `json:"type"`
	Payload   map[string]interface{} `json:"payload"`
	ActorID   string                 `json:"actorId"`
	Timestamp int64                  `json:"timestamp"`
	Signature string                 `json:"signature"`
	Hash      string                 `json:"hash"`
}

// IsSystem reports whether the entry was emitted by the ledger itself.
func (e *LedgerEntry) IsSystem() bool {
	return e.ActorID == SystemActor
}

// EntryRef locates an entry inside the chain.
type EntryRef struct {
	BlockIndex int `json:"blockIndex"`
	EntryIndex int `json:"entryIndex"`
}
