package encryption

import (
	"fmt"

	"governance-ledger/models"
)

// MerkleTree is a SHA3-256 binary hash tree over pre-hashed leaves. Leaves
// are hex hash strings; a parent is the hash of the concatenated child hex.
// An odd-width layer duplicates its last node. An empty leaf set has the
// hash of the empty string as root.
type MerkleTree struct {
	Leaves []string
	Root   string

	layers [][]string
}

// NewMerkleTree builds the full tree eagerly; proofs are reads afterwards.
func NewMerkleTree(leaves []string) *MerkleTree {
	t := &MerkleTree{Leaves: append([]string(nil), leaves...)}
	t.build()
	return t
}

func (t *MerkleTree) build() {
	if len(t.Leaves) == 0 {
		t.layers = nil
		t.Root = hashBytes([]byte(""))
		return
	}

	layer := append([]string(nil), t.Leaves...)
	t.layers = [][]string{layer}

	for len(layer) > 1 {
		next := make([]string, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			left := layer[i]
			right := left // odd node pairs with itself
			if i+1 < len(layer) {
				right = layer[i+1]
			}
			next = append(next, hashBytes([]byte(left+right)))
		}
		t.layers = append(t.layers, next)
		layer = next
	}
	t.Root = layer[0]
}

// Proof returns the sibling path from leaf index to the root. Each step
// carries the sibling hash and which side it joins from.
func (t *MerkleTree) Proof(index int) ([]models.MerkleProofStep, error) {
	if index < 0 || index >= len(t.Leaves) {
		return nil, fmt.Errorf("merkle proof: leaf index %d out of range [0,%d)", index, len(t.Leaves))
	}

	proof := make([]models.MerkleProofStep, 0, len(t.layers))
	pos := index
	for _, layer := range t.layers[:len(t.layers)-1] {
		siblingIdx := pos ^ 1
		if siblingIdx >= len(layer) {
			siblingIdx = pos // odd tail duplicates itself
		}
		side := "right"
		if siblingIdx < pos {
			side = "left"
		}
		proof = append(proof, models.MerkleProofStep{
			Hash:     layer[siblingIdx],
			Position: side,
		})
		pos /= 2
	}
	return proof, nil
}

// VerifyMerkleProof recomputes the root from a leaf hash and its sibling
// path and compares against the expected root.
func VerifyMerkleProof(leafHash string, proof []models.MerkleProofStep, root string) bool {
	current := leafHash
	for _, step := range proof {
		if step.Position == "left" {
			current = hashBytes([]byte(step.Hash + current))
		} else {
			current = hashBytes([]byte(current + step.Hash))
		}
	}
	return current == root
}
