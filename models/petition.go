package models

// DefaultPetitionThreshold is the signature count required to advance a
// proposal out of PETITION when the petition does not set its own.
const DefaultPetitionThreshold = 300

// AcknowledgementPrefix prefixes the implications hash in the message a
// signer acknowledges. The acknowledgement signature covers
// AcknowledgementPrefix + implicationsHash as a raw string.
const AcknowledgementPrefix = "I_ACKNOWLEDGE_IMPLICATIONS:"

// PetitionSignature is a single signer's record. Two signatures are kept:
// the implication acknowledgement and the petition signature proper, over
// the canonical form of {action, proposalId, implicationsHash, signer}.
type PetitionSignature struct {
	ID                       string `json:"id"`
	Signer                   string `json:"signer"`
	ImplicationsHash         string `json:"implicationsHash"`
	AcknowledgementSignature string `json:"acknowledgementSignature"`
	PetitionSignature        string `json:"petitionSignature"`
	SignedAt                 int64  `json:"signedAt"`
}

// Petition collects signatures for one proposal. Signer set semantics: at
// most one signature per fingerprint. ThresholdMet flips to true exactly
// once and never back.
type Petition struct {
	ProposalID     string                        `json:"proposalId"`
	Jurisdiction   string                        `json:"jurisdiction"`
	Threshold      int                           `json:"threshold"`
	Signatures     map[string]*PetitionSignature `json:"signatures"`
	ThresholdMet   bool                          `json:"thresholdMet"`
	ThresholdMetAt int64                         `json:"thresholdMetAt,omitempty"`
	CreatedAt      int64                         `json:"createdAt"`
}

// SignatureCount returns the number of distinct signers.
func (p *Petition) SignatureCount() int {
	return len(p.Signatures)
}

// SignatureVerification is the result of re-verifying a stored petition
// signature against the signer's currently registered public key.
type SignatureVerification struct {
	Valid                  bool `json:"valid"`
	AcknowledgementValid   bool `json:"acknowledgementValid"`
	PetitionSignatureValid bool `json:"petitionSignatureValid"`
}
