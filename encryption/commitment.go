package encryption

// CreateCommitment binds a hidden value: SHA3-256(value || nonce) as hex.
// An empty nonce means generate a fresh one; the nonce in use is returned so
// the caller can open the commitment later.
func (cs *CryptoService) CreateCommitment(value string, nonce string) (commitment string, usedNonce string, err error) {
	if nonce == "" {
		nonce, err = cs.GenerateNonce()
		if err != nil {
			return "", "", err
		}
	}
	return cs.Hash(value + nonce), nonce, nil
}

// OpenCommitment checks a commitment by recomputation.
func (cs *CryptoService) OpenCommitment(value string, nonce string, commitment string) bool {
	return cs.Hash(value+nonce) == commitment
}
