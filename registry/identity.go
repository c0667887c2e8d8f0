package registry

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"governance-ledger/encryption"
	"governance-ledger/ledger"
	"governance-ledger/models"
)

// ChallengeTTL is how long an issued authentication challenge stays usable.
const ChallengeTTL = 5 * time.Minute

type challenge struct {
	nonce    string
	issuedAt time.Time
}

// RegisterRequest carries everything needed to register an identity. The
// private key is used to sign the REGISTER ledger entry on the caller's
// behalf and is not retained.
type RegisterRequest struct {
	PublicKey    string
	Alias        string
	Jurisdiction string
	PrivateKey   string
}

// IdentityRegistry holds the live identity set and drives challenge-response
// authentication, attestations, and revocation. Every mutation emits a
// ledger entry.
type IdentityRegistry struct {
	mu               sync.RWMutex
	crypto           *encryption.CryptoService
	ledger           *ledger.Ledger
	identities       map[string]*models.Identity
	challenges       map[string]challenge
	trustedAttestors map[string]struct{}
	logger           *zap.Logger
}

func NewIdentityRegistry(cs *encryption.CryptoService, l *ledger.Ledger, logger *zap.Logger) *IdentityRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentityRegistry{
		crypto:           cs,
		ledger:           l,
		identities:       make(map[string]*models.Identity),
		challenges:       make(map[string]challenge),
		trustedAttestors: make(map[string]struct{}),
		logger:           logger,
	}
}

// Register records a new identity and emits a signed REGISTER entry.
// Duplicate fingerprints are refused.
func (r *IdentityRegistry) Register(req RegisterRequest) (*models.Identity, error) {
	if req.PublicKey == "" {
		return nil, fmt.Errorf("public key is required: %w", models.ErrValidation)
	}
	if _, err := r.crypto.ParsePublicKey(req.PublicKey); err != nil {
		return nil, fmt.Errorf("malformed public key: %w", models.ErrValidation)
	}
	jurisdiction := req.Jurisdiction
	if jurisdiction == "" {
		jurisdiction = models.JurisdictionGlobal
	}

	fingerprint := r.crypto.FingerprintPublicKey(req.PublicKey)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.identities[fingerprint]; exists {
		return nil, fmt.Errorf("identity %s already registered: %w", fingerprint, models.ErrDuplicate)
	}

	identity := &models.Identity{
		PublicKey:    req.PublicKey,
		Fingerprint:  fingerprint,
		Alias:        req.Alias,
		Jurisdiction: jurisdiction,
		RegisteredAt: time.Now().UnixMilli(),
		Attestations: []models.Attestation{},
	}

	entry, err := ledger.NewSignedEntry(r.crypto, models.EntryRegister, map[string]interface{}{
		"fingerprint":  fingerprint,
		"alias":        req.Alias,
		"jurisdiction": jurisdiction,
		"publicKey":    req.PublicKey,
	}, fingerprint, req.PrivateKey)
	if err != nil {
		return nil, err
	}
	if err := r.ledger.AddEntry(entry); err != nil {
		return nil, err
	}

	r.identities[fingerprint] = identity
	r.logger.Debug("identity registered",
		zap.String("fingerprint", fingerprint),
		zap.String("jurisdiction", jurisdiction))
	return identity, nil
}

// Get returns the identity for a fingerprint.
func (r *IdentityRegistry) Get(fingerprint string) (*models.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identity, ok := r.identities[fingerprint]
	if !ok {
		return nil, fmt.Errorf("identity %s: %w", fingerprint, models.ErrNotFound)
	}
	return identity, nil
}

// RequireActive returns the identity when it exists and is not revoked.
func (r *IdentityRegistry) RequireActive(fingerprint string) (*models.Identity, error) {
	identity, err := r.Get(fingerprint)
	if err != nil {
		return nil, err
	}
	if identity.Revoked {
		return nil, fmt.Errorf("identity %s is revoked: %w", fingerprint, models.ErrAuth)
	}
	return identity, nil
}

// IssueChallenge hands out a single-use nonce the holder of the matching
// private key must sign. Expired challenges are swept on every issue so the
// store stays bounded.
func (r *IdentityRegistry) IssueChallenge(fingerprint string) (string, error) {
	if _, err := r.Get(fingerprint); err != nil {
		return "", err
	}
	nonce, err := r.crypto.GenerateNonce()
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for fp, ch := range r.challenges {
		if now.Sub(ch.issuedAt) > ChallengeTTL {
			delete(r.challenges, fp)
		}
	}
	r.challenges[fingerprint] = challenge{nonce: nonce, issuedAt: now}
	return nonce, nil
}

// VerifyChallenge checks a signature over the outstanding nonce. The
// challenge is consumed whether or not the signature verifies; a fresh
// challenge is needed for every attempt.
func (r *IdentityRegistry) VerifyChallenge(fingerprint string, signedNonce string) (bool, error) {
	identity, err := r.Get(fingerprint)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	ch, ok := r.challenges[fingerprint]
	delete(r.challenges, fingerprint)
	r.mu.Unlock()

	if !ok {
		return false, fmt.Errorf("no outstanding challenge for %s: %w", fingerprint, models.ErrNotFound)
	}
	if time.Since(ch.issuedAt) > ChallengeTTL {
		return false, fmt.Errorf("challenge for %s expired: %w", fingerprint, models.ErrAuth)
	}
	return r.crypto.Verify(ch.nonce, signedNonce, identity.PublicKey), nil
}

// AddTrustedAttestor whitelists a fingerprint as an attestation issuer.
func (r *IdentityRegistry) AddTrustedAttestor(fingerprint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trustedAttestors[fingerprint] = struct{}{}
}

// AddAttestation records a trusted attestor's claim about a subject and
// emits a signed ATTESTATION entry. The attestation signature covers the
// canonical form of {subject, claim}.
func (r *IdentityRegistry) AddAttestation(subject, attestor, claim, attestorPrivateKey string) (*models.Attestation, error) {
	if claim == "" {
		return nil, fmt.Errorf("claim is required: %w", models.ErrValidation)
	}
	if _, err := r.RequireActive(attestor); err != nil {
		return nil, err
	}

	r.mu.RLock()
	_, trusted := r.trustedAttestors[attestor]
	r.mu.RUnlock()
	if !trusted {
		return nil, fmt.Errorf("attestor %s is not trusted: %w", attestor, models.ErrAuth)
	}

	subjectIdentity, err := r.Get(subject)
	if err != nil {
		return nil, err
	}

	signature, err := r.crypto.Sign(map[string]interface{}{
		"subject": subject,
		"claim":   claim,
	}, attestorPrivateKey)
	if err != nil {
		return nil, err
	}

	attestation := models.Attestation{
		Attestor:  attestor,
		Claim:     claim,
		Signature: signature,
		IssuedAt:  time.Now().UnixMilli(),
	}

	entry, err := ledger.NewSignedEntry(r.crypto, models.EntryAttestation, map[string]interface{}{
		"subject":   subject,
		"claim":     claim,
		"signature": signature,
	}, attestor, attestorPrivateKey)
	if err != nil {
		return nil, err
	}
	if err := r.ledger.AddEntry(entry); err != nil {
		return nil, err
	}

	r.mu.Lock()
	subjectIdentity.Attestations = append(subjectIdentity.Attestations, attestation)
	r.mu.Unlock()
	return &attestation, nil
}

// HasAttestation reports whether an identity carries a claim.
func (r *IdentityRegistry) HasAttestation(fingerprint, claim string) bool {
	identity, err := r.Get(fingerprint)
	if err != nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range identity.Attestations {
		if a.Claim == claim {
			return true
		}
	}
	return false
}

// Revoke marks an identity revoked. The caller proves control by presenting
// the private key whose public half fingerprints to the identity.
func (r *IdentityRegistry) Revoke(fingerprint string, privateKey string) error {
	identity, err := r.RequireActive(fingerprint)
	if err != nil {
		return err
	}

	publicPEM, err := r.crypto.PublicKeyPEMFromPrivate(privateKey)
	if err != nil {
		return fmt.Errorf("malformed private key: %w", models.ErrValidation)
	}
	if r.crypto.FingerprintPublicKey(publicPEM) != identity.Fingerprint {
		return fmt.Errorf("private key does not control %s: %w", fingerprint, models.ErrAuth)
	}

	entry, err := ledger.NewSignedEntry(r.crypto, models.EntryRevokeIdentity, map[string]interface{}{
		"fingerprint": fingerprint,
	}, fingerprint, privateKey)
	if err != nil {
		return err
	}
	if err := r.ledger.AddEntry(entry); err != nil {
		return err
	}

	r.mu.Lock()
	identity.Revoked = true
	r.mu.Unlock()
	r.logger.Info("identity revoked", zap.String("fingerprint", fingerprint))
	return nil
}

// GetByJurisdiction returns all identities matching a jurisdiction filter.
func (r *IdentityRegistry) GetByJurisdiction(jurisdiction string) []*models.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []*models.Identity
	for _, identity := range r.identities {
		if identity.MatchesJurisdiction(jurisdiction) {
			matched = append(matched, identity)
		}
	}
	return matched
}

// ActiveCount counts non-revoked identities under a jurisdiction filter.
// An empty filter counts everyone.
func (r *IdentityRegistry) ActiveCount(jurisdiction string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, identity := range r.identities {
		if !identity.Revoked && identity.MatchesJurisdiction(jurisdiction) {
			count++
		}
	}
	return count
}

// Stats summarizes the registry.
func (r *IdentityRegistry) Stats() *models.RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := &models.RegistryStats{
		Total:            len(r.identities),
		TrustedAttestors: len(r.trustedAttestors),
	}
	for _, identity := range r.identities {
		if identity.Revoked {
			stats.Revoked++
		} else {
			stats.Active++
		}
	}
	return stats
}
