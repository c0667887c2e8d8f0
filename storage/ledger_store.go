package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"

	"governance-ledger/encryption"
	"governance-ledger/ledger"
)

const snapshotFile = "ledger.json"

// LedgerStore persists ledger snapshots as indented JSON under a base
// directory. Writes go through a temp file and an atomic rename so a crash
// mid-write never leaves a torn snapshot behind.
type LedgerStore struct {
	basePath string
	mu       sync.Mutex
}

func NewLedgerStore(basePath string) (*LedgerStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LedgerStore{basePath: basePath}, nil
}

func (s *LedgerStore) snapshotPath() string {
	return filepath.Join(s.basePath, snapshotFile)
}

// Save writes the ledger's current snapshot.
func (s *LedgerStore) Save(l *ledger.Ledger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(l.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger snapshot: %w", err)
	}
	if err := renameio.WriteFile(s.snapshotPath(), data, 0644); err != nil {
		return fmt.Errorf("failed to write ledger snapshot: %w", err)
	}
	return nil
}

// Load rebuilds a ledger from the stored snapshot. A missing file returns
// os.ErrNotExist; callers typically fall back to a fresh ledger.
func (s *LedgerStore) Load(cs *encryption.CryptoService) (*ledger.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.snapshotPath())
	if err != nil {
		return nil, err
	}
	l, err := ledger.FromJSON(cs, data)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger snapshot: %w", err)
	}
	return l, nil
}

// Exists reports whether a snapshot has been saved.
func (s *LedgerStore) Exists() bool {
	_, err := os.Stat(s.snapshotPath())
	return err == nil
}
