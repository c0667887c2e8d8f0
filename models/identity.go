package models

// JurisdictionGlobal matches any jurisdiction filter.
const JurisdictionGlobal = "global"

// Identity binds a public key to participant metadata. The fingerprint is
// the SHA3-256 hex of the trimmed public-key PEM and is the participant's
// stable id everywhere else in the system.
type Identity struct {
	PublicKey    string        `json:"publicKey"`
	Fingerprint  string        `json:"fingerprint"`
	Alias        string        `json:"alias"`
	Jurisdiction string        `json:"jurisdiction"`
	RegisteredAt int64         `json:"registeredAt"`
	Attestations []Attestation `json:"attestations"`
	Revoked      bool          `json:"revoked"`
}

// Attestation is a trusted attestor's signed claim about an identity.
// The signature covers the canonical form of {subject, claim}.
type Attestation struct {
	Attestor  string `json:"attestor"`
	Claim     string `json:"claim"`
	Signature string `json:"signature"`
	IssuedAt  int64  `json:"issuedAt"`
}

// MatchesJurisdiction reports whether the identity satisfies a jurisdiction
// filter. An empty filter, a "global" filter, or a "global" identity match
// everything.
func (id *Identity) MatchesJurisdiction(filter string) bool {
	if filter == "" || filter == JurisdictionGlobal {
		return true
	}
	if id.Jurisdiction == JurisdictionGlobal {
		return true
	}
	return id.Jurisdiction == filter
}

// RegistryStats summarizes the identity registry.
type RegistryStats struct {
	Total            int `json:"total"`
	Active           int `json:"active"`
	Revoked          int `json:"revoked"`
	TrustedAttestors int `json:"trustedAttestors"`
}
