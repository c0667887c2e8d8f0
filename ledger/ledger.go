package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"governance-ledger/encryption"
	"governance-ledger/models"
)

// DefaultDifficulty is the number of leading zero hex digits a block hash
// must carry. Mining here is a rate limiter and tamper-cost multiplier, not
// a consensus mechanism.
const DefaultDifficulty = 2

// Ledger is the append-only hash-linked chain plus the pending entry queue
// and the secondary indexes. All mutation goes through AddEntry and
// CommitBlock (or the replication paths ApplyBlock/AdoptChain).
type Ledger struct {
	mu         sync.RWMutex
	crypto     *encryption.CryptoService
	difficulty int
	chain      []*models.Block
	pending    []*models.LedgerEntry
	entryIndex map[string]models.EntryRef
	typeIndex  map[models.EntryType]map[string]struct{}
	actorIndex map[string]map[string]struct{}
}

// New creates a ledger and mines its genesis block.
func New(cs *encryption.CryptoService, difficulty int) *Ledger {
	if difficulty < 0 {
		difficulty = DefaultDifficulty
	}
	l := &Ledger{
		crypto:     cs,
		difficulty: difficulty,
		entryIndex: make(map[string]models.EntryRef),
		typeIndex:  make(map[models.EntryType]map[string]struct{}),
		actorIndex: make(map[string]map[string]struct{}),
	}

	genesis := &models.Block{
		Index:        0,
		Timestamp:    time.Now().UnixMilli(),
		Entries:      []*models.LedgerEntry{},
		PreviousHash: models.GenesisPreviousHash,
		MerkleRoot:   encryption.NewMerkleTree(nil).Root,
	}
	l.mine(genesis)
	l.chain = []*models.Block{genesis}
	return l
}

// blockHash recomputes a block's header hash.
func (l *Ledger) blockHash(b *models.Block) string {
	return l.crypto.Hash(map[string]interface{}{
		"index":        b.Index,
		"timestamp":    b.Timestamp,
		"merkleRoot":   b.MerkleRoot,
		"previousHash": b.PreviousHash,
		"nonce":        b.Nonce,
	})
}

// mine increments the nonce until the block hash carries the difficulty
// prefix.
func (l *Ledger) mine(b *models.Block) {
	prefix := strings.Repeat("0", l.difficulty)
	for nonce := 0; ; nonce++ {
		b.Nonce = nonce
		b.Hash = l.blockHash(b)
		if strings.HasPrefix(b.Hash, prefix) {
			return
		}
	}
}

func entryHashes(entries []*models.LedgerEntry) []string {
	hashes := make([]string, len(entries))
	for i, e := range entries {
		hashes[i] = e.Hash
	}
	return hashes
}

// AddEntry validates an entry's content hash and pushes it onto the pending
// queue. The entry becomes durable at the next CommitBlock.
func (l *Ledger) AddEntry(e *models.LedgerEntry) error {
	if e == nil || e.ID == "" || e.Type == "" {
		return fmt.Errorf("entry requires id and type: %w", models.ErrValidation)
	}
	if EntryContentHash(l.crypto, e) != e.Hash {
		return fmt.Errorf("entry %s content hash mismatch: %w", e.ID, models.ErrIntegrity)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.entryIndex[e.ID]; exists {
		return fmt.Errorf("entry %s already committed: %w", e.ID, models.ErrDuplicate)
	}
	for _, p := range l.pending {
		if p.ID == e.ID {
			return fmt.Errorf("entry %s already pending: %w", e.ID, models.ErrDuplicate)
		}
	}
	l.pending = append(l.pending, e)
	return nil
}

// CommitBlock seals the pending queue into a mined block, appends it,
// updates the indexes, and clears pending. Returns nil when there is
// nothing to commit.
func (l *Ledger) CommitBlock() (*models.Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.pending) == 0 {
		return nil, nil
	}

	latest := l.chain[len(l.chain)-1]
	block := &models.Block{
		Index:        len(l.chain),
		Timestamp:    time.Now().UnixMilli(),
		Entries:      l.pending,
		PreviousHash: latest.Hash,
		MerkleRoot:   encryption.NewMerkleTree(entryHashes(l.pending)).Root,
	}
	l.mine(block)

	l.chain = append(l.chain, block)
	l.indexBlock(block)
	l.pending = nil
	return block, nil
}

// indexBlock records every entry of an appended block. Caller holds the lock.
func (l *Ledger) indexBlock(b *models.Block) {
	for i, e := range b.Entries {
		l.entryIndex[e.ID] = models.EntryRef{BlockIndex: b.Index, EntryIndex: i}
		if l.typeIndex[e.Type] == nil {
			l.typeIndex[e.Type] = make(map[string]struct{})
		}
		l.typeIndex[e.Type][e.ID] = struct{}{}
		if l.actorIndex[e.ActorID] == nil {
			l.actorIndex[e.ActorID] = make(map[string]struct{})
		}
		l.actorIndex[e.ActorID][e.ID] = struct{}{}
	}
}

// LatestBlock returns the tip of the chain.
func (l *Ledger) LatestBlock() *models.Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain[len(l.chain)-1]
}

// Height returns the number of blocks including genesis.
func (l *Ledger) Height() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.chain)
}

// Difficulty returns the mining difficulty.
func (l *Ledger) Difficulty() int {
	return l.difficulty
}

// PendingCount returns the size of the uncommitted entry queue.
func (l *Ledger) PendingCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.pending)
}

// VerifyChain walks every block above genesis and checks, in order: the
// previous-hash link, the recomputed block hash, every entry's recomputed
// content hash, and the recomputed Merkle root. The first failure
// short-circuits with its block index.
func (l *Ledger) VerifyChain() *models.ChainVerification {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return verifyBlocks(l.crypto, l.chain)
}

func verifyBlocks(cs *encryption.CryptoService, chain []*models.Block) *models.ChainVerification {
	scratch := &Ledger{crypto: cs}
	for i := 1; i < len(chain); i++ {
		b := chain[i]
		if b.PreviousHash != chain[i-1].Hash {
			return &models.ChainVerification{
				Valid: false, BlockIndex: i,
				Error: fmt.Sprintf("block %d previous hash does not match block %d hash", i, i-1),
			}
		}
		if scratch.blockHash(b) != b.Hash {
			return &models.ChainVerification{
				Valid: false, BlockIndex: i,
				Error: fmt.Sprintf("block %d hash does not match recomputation", i),
			}
		}
		for j, e := range b.Entries {
			if EntryContentHash(cs, e) != e.Hash {
				return &models.ChainVerification{
					Valid: false, BlockIndex: i,
					Error: fmt.Sprintf("block %d entry %d hash does not match recomputation", i, j),
				}
			}
		}
		if encryption.NewMerkleTree(entryHashes(b.Entries)).Root != b.MerkleRoot {
			return &models.ChainVerification{
				Valid: false, BlockIndex: i,
				Error: fmt.Sprintf("block %d merkle root does not match recomputation", i),
			}
		}
	}
	return &models.ChainVerification{Valid: true}
}

// GetEntry looks an entry up by id through the entry index.
func (l *Ledger) GetEntry(id string) (*models.LedgerEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ref, ok := l.entryIndex[id]
	if !ok {
		return nil, false
	}
	return l.chain[ref.BlockIndex].Entries[ref.EntryIndex], true
}

// GetEntriesByType returns committed entries of one type in chain order.
func (l *Ledger) GetEntriesByType(t models.EntryType) []*models.LedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.collect(l.typeIndex[t])
}

// GetEntriesByActor returns committed entries of one actor in chain order.
func (l *Ledger) GetEntriesByActor(actorID string) []*models.LedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.collect(l.actorIndex[actorID])
}

// collect resolves an id set to entries ordered by chain position. Caller
// holds at least the read lock.
func (l *Ledger) collect(ids map[string]struct{}) []*models.LedgerEntry {
	refs := make([]models.EntryRef, 0, len(ids))
	for id := range ids {
		refs = append(refs, l.entryIndex[id])
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].BlockIndex != refs[j].BlockIndex {
			return refs[i].BlockIndex < refs[j].BlockIndex
		}
		return refs[i].EntryIndex < refs[j].EntryIndex
	})
	entries := make([]*models.LedgerEntry, len(refs))
	for i, ref := range refs {
		entries[i] = l.chain[ref.BlockIndex].Entries[ref.EntryIndex]
	}
	return entries
}

// InclusionProof produces the Merkle path tying a committed entry to its
// block's root.
func (l *Ledger) InclusionProof(entryID string) (*models.InclusionProof, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ref, ok := l.entryIndex[entryID]
	if !ok {
		return nil, fmt.Errorf("entry %s: %w", entryID, models.ErrNotFound)
	}
	block := l.chain[ref.BlockIndex]
	tree := encryption.NewMerkleTree(entryHashes(block.Entries))
	proof, err := tree.Proof(ref.EntryIndex)
	if err != nil {
		return nil, err
	}
	return &models.InclusionProof{
		EntryID:    entryID,
		BlockIndex: ref.BlockIndex,
		EntryIndex: ref.EntryIndex,
		LeafHash:   block.Entries[ref.EntryIndex].Hash,
		MerkleRoot: block.MerkleRoot,
		Proof:      proof,
	}, nil
}

// Snapshot returns the canonical wire form of the ledger.
func (l *Ledger) Snapshot() *models.LedgerSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	chain := make([]*models.Block, len(l.chain))
	copy(chain, l.chain)
	return &models.LedgerSnapshot{Difficulty: l.difficulty, Chain: chain}
}

// ToJSON serializes the ledger snapshot.
func (l *Ledger) ToJSON() ([]byte, error) {
	return json.Marshal(l.Snapshot())
}

// FromJSON rebuilds a ledger, chain and indexes, from its wire form.
func FromJSON(cs *encryption.CryptoService, data []byte) (*Ledger, error) {
	var snapshot models.LedgerSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode ledger: %w", err)
	}
	return FromSnapshot(cs, &snapshot)
}

// FromSnapshot rebuilds a ledger from a decoded snapshot.
func FromSnapshot(cs *encryption.CryptoService, snapshot *models.LedgerSnapshot) (*Ledger, error) {
	if len(snapshot.Chain) == 0 {
		return nil, fmt.Errorf("snapshot has no genesis block: %w", models.ErrValidation)
	}
	l := &Ledger{
		crypto:     cs,
		difficulty: snapshot.Difficulty,
		chain:      snapshot.Chain,
		entryIndex: make(map[string]models.EntryRef),
		typeIndex:  make(map[models.EntryType]map[string]struct{}),
		actorIndex: make(map[string]map[string]struct{}),
	}
	for _, b := range l.chain {
		l.indexBlock(b)
	}
	return l, nil
}

// ApplyBlock appends a block received from a peer. The block must extend the
// local tip and is fully re-verified (linkage, recomputed hashes, Merkle
// root, difficulty prefix) before it is accepted. Pending is untouched.
func (l *Ledger) ApplyBlock(b *models.Block) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	latest := l.chain[len(l.chain)-1]
	if b.PreviousHash != latest.Hash {
		return fmt.Errorf("block %d does not extend local tip: %w", b.Index, models.ErrState)
	}
	if b.Index != len(l.chain) {
		return fmt.Errorf("block index %d, expected %d: %w", b.Index, len(l.chain), models.ErrState)
	}
	if l.blockHash(b) != b.Hash {
		return fmt.Errorf("block %d hash does not match recomputation: %w", b.Index, models.ErrIntegrity)
	}
	if !strings.HasPrefix(b.Hash, strings.Repeat("0", l.difficulty)) {
		return fmt.Errorf("block %d hash misses difficulty target: %w", b.Index, models.ErrIntegrity)
	}
	for j, e := range b.Entries {
		if EntryContentHash(l.crypto, e) != e.Hash {
			return fmt.Errorf("block %d entry %d hash does not match recomputation: %w", b.Index, j, models.ErrIntegrity)
		}
	}
	if encryption.NewMerkleTree(entryHashes(b.Entries)).Root != b.MerkleRoot {
		return fmt.Errorf("block %d merkle root does not match recomputation: %w", b.Index, models.ErrIntegrity)
	}

	l.chain = append(l.chain, b)
	l.indexBlock(b)
	return nil
}

// AdoptChain replaces the local chain with a peer's when the candidate
// verifies and is strictly longer (longest-valid-chain rule). Reports
// whether adoption happened.
func (l *Ledger) AdoptChain(snapshot *models.LedgerSnapshot) (bool, error) {
	if len(snapshot.Chain) == 0 {
		return false, fmt.Errorf("candidate chain is empty: %w", models.ErrValidation)
	}
	if verdict := verifyBlocks(l.crypto, snapshot.Chain); !verdict.Valid {
		return false, fmt.Errorf("candidate chain invalid at block %d: %s: %w",
			verdict.BlockIndex, verdict.Error, models.ErrIntegrity)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(snapshot.Chain) <= len(l.chain) {
		return false, nil
	}

	l.chain = snapshot.Chain
	l.entryIndex = make(map[string]models.EntryRef)
	l.typeIndex = make(map[models.EntryType]map[string]struct{})
	l.actorIndex = make(map[string]map[string]struct{})
	for _, b := range l.chain {
		l.indexBlock(b)
	}
	return true, nil
}

// Stats summarizes the ledger.
func (l *Ledger) Stats() *models.LedgerStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := &models.LedgerStats{
		Height:        len(l.chain),
		Pending:       len(l.pending),
		Difficulty:    l.difficulty,
		EntriesByType: make(map[models.EntryType]int),
	}
	for t, ids := range l.typeIndex {
		stats.EntriesByType[t] = len(ids)
		stats.TotalEntries += len(ids)
	}
	return stats
}
