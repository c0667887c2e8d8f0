package encryption

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
)

const (
	publicKeyPEMType  = "PUBLIC KEY"
	privateKeyPEMType = "PRIVATE KEY"
)

// CryptoService bundles the primitives the rest of the system hashes and
// signs with: canonical JSON, SHA3-256, Ed25519 over PEM-encoded keys,
// Merkle trees, and hash commitments.
type CryptoService struct{}

func NewCryptoService() *CryptoService {
	return &CryptoService{}
}

// hashBytes is the single SHA3-256 entry point.
func hashBytes(data []byte) string {
	digest := sha3.New256()
	digest.Write(data)
	return hex.EncodeToString(digest.Sum(nil))
}

// Hash computes the SHA3-256 hex digest of v. Strings hash their raw bytes;
// every other value hashes its canonical JSON form.
func (cs *CryptoService) Hash(v interface{}) string {
	if s, ok := v.(string); ok {
		return hashBytes([]byte(s))
	}
	canonical, err := cs.Canonicalize(v)
	if err != nil {
		// Canonicalize only fails on unmarshalable Go values, which no
		// ledger payload contains. Hash the error text so the digest is
		// still deterministic rather than panicking mid-pipeline.
		return hashBytes([]byte(err.Error()))
	}
	return hashBytes(canonical)
}

// GenerateKeyPair creates a new Ed25519 key pair, both halves PEM-encoded.
func (cs *CryptoService) GenerateKeyPair() (publicPEM string, privatePEM string, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate key pair: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal private key: %w", err)
	}

	publicPEM = string(pem.EncodeToMemory(&pem.Block{Type: publicKeyPEMType, Bytes: pubDER}))
	privatePEM = string(pem.EncodeToMemory(&pem.Block{Type: privateKeyPEMType, Bytes: privDER}))
	return publicPEM, privatePEM, nil
}

// FingerprintPublicKey derives the stable participant id: the SHA3-256 hex
// of the trimmed public-key PEM.
func (cs *CryptoService) FingerprintPublicKey(publicPEM string) string {
	return hashBytes([]byte(strings.TrimSpace(publicPEM)))
}

// payloadBytes is the byte form that gets signed: raw bytes for strings,
// canonical JSON for everything else. Must mirror Hash.
func (cs *CryptoService) payloadBytes(payload interface{}) ([]byte, error) {
	if s, ok := payload.(string); ok {
		return []byte(s), nil
	}
	return cs.Canonicalize(payload)
}

// Sign produces a hex Ed25519 signature over the payload's canonical bytes.
func (cs *CryptoService) Sign(payload interface{}, privatePEM string) (string, error) {
	priv, err := cs.ParsePrivateKey(privatePEM)
	if err != nil {
		return "", err
	}
	message, err := cs.payloadBytes(payload)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(ed25519.Sign(priv, message)), nil
}

// Verify checks a hex Ed25519 signature over the payload's canonical bytes.
// Any parse failure verifies false.
func (cs *CryptoService) Verify(payload interface{}, hexSignature string, publicPEM string) bool {
	pub, err := cs.ParsePublicKey(publicPEM)
	if err != nil {
		return false
	}
	signature, err := hex.DecodeString(hexSignature)
	if err != nil {
		return false
	}
	message, err := cs.payloadBytes(payload)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, message, signature)
}

// ParsePublicKey decodes a PEM-encoded Ed25519 public key.
func (cs *CryptoService) ParsePublicKey(publicPEM string) (ed25519.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicPEM))
	if block == nil {
		return nil, errors.New("failed to decode public key PEM")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	pub, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("public key is not Ed25519")
	}
	return pub, nil
}

// ParsePrivateKey decodes a PEM-encoded Ed25519 private key.
func (cs *CryptoService) ParsePrivateKey(privatePEM string) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode([]byte(privatePEM))
	if block == nil {
		return nil, errors.New("failed to decode private key PEM")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not Ed25519")
	}
	return priv, nil
}

// PublicKeyPEMFromPrivate recovers the PEM public half of a private key.
// Used to authenticate operations presented with only the private key.
func (cs *CryptoService) PublicKeyPEMFromPrivate(privatePEM string) (string, error) {
	priv, err := cs.ParsePrivateKey(privatePEM)
	if err != nil {
		return "", err
	}
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return "", errors.New("private key has no Ed25519 public half")
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: publicKeyPEMType, Bytes: pubDER})), nil
}

// GenerateID returns a random 128-bit id as 32 hex characters.
func (cs *CryptoService) GenerateID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// GenerateNonce returns 32 random bytes as 64 hex characters.
func (cs *CryptoService) GenerateNonce() (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hex.EncodeToString(nonce), nil
}
