package storage

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"governance-ledger/encryption"
	"governance-ledger/ledger"
	"governance-ledger/models"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	cs := encryption.NewCryptoService()
	l := ledger.New(cs, 1)

	entry := ledger.NewSystemEntry(cs, models.EntryVoteTally, map[string]interface{}{
		"marker": "persisted",
	})
	require.NoError(t, l.AddEntry(entry))
	_, err := l.CommitBlock()
	require.NoError(t, err)

	store, err := NewLedgerStore(t.TempDir())
	require.NoError(t, err)

	assert.False(t, store.Exists())
	require.NoError(t, store.Save(l))
	assert.True(t, store.Exists())

	restored, err := store.Load(cs)
	require.NoError(t, err)

	assert.Equal(t, l.Height(), restored.Height())
	assert.True(t, restored.VerifyChain().Valid)

	got, ok := restored.GetEntry(entry.ID)
	require.True(t, ok)
	assert.Equal(t, entry.Hash, got.Hash)
}

func TestLoadMissingSnapshot(t *testing.T) {
	cs := encryption.NewCryptoService()
	store, err := NewLedgerStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Load(cs)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSaveOverwritesAtomically(t *testing.T) {
	cs := encryption.NewCryptoService()
	l := ledger.New(cs, 1)
	store, err := NewLedgerStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Save(l))

	require.NoError(t, l.AddEntry(ledger.NewSystemEntry(cs, models.EntryVoteTally, map[string]interface{}{
		"marker": "second",
	})))
	_, err = l.CommitBlock()
	require.NoError(t, err)
	require.NoError(t, store.Save(l))

	restored, err := store.Load(cs)
	require.NoError(t, err)
	assert.Equal(t, 2, restored.Height())
}
