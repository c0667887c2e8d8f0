package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"governance-ledger/ledger"
	"governance-ledger/models"
)

func pendingSystemEntry(t *testing.T, h *harness) *models.LedgerEntry {
	t.Helper()
	e := ledger.NewSystemEntry(h.crypto, models.EntryVoteTally, map[string]interface{}{
		"marker": h.crypto.GenerateID(),
	})
	require.NoError(t, h.ledger.AddEntry(e))
	return e
}

func TestCommitterIntervalCommit(t *testing.T) {
	h := newHarness(t)
	c := NewCommitter(h.ledger, 20*time.Millisecond, 100, nil)
	c.AttachMetrics(h.metrics)
	c.Start()
	defer c.Stop()

	pendingSystemEntry(t, h)

	require.Eventually(t, func() bool {
		return h.ledger.Height() == 2 && h.ledger.PendingCount() == 0
	}, 2*time.Second, 5*time.Millisecond)

	snapshot := h.metrics.Snapshot()
	assert.GreaterOrEqual(t, snapshot[OpCommit].Count, 1)
}

func TestCommitterKickOnBatchSize(t *testing.T) {
	h := newHarness(t)
	c := NewCommitter(h.ledger, time.Hour, 2, nil)
	c.Start()
	defer c.Stop()

	pendingSystemEntry(t, h)
	c.Kick()

	// Below the high-water mark nothing commits.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.ledger.Height())

	pendingSystemEntry(t, h)
	c.Kick()

	require.Eventually(t, func() bool {
		return h.ledger.Height() == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCommitterStopFlushesPending(t *testing.T) {
	h := newHarness(t)
	c := NewCommitter(h.ledger, time.Hour, 100, nil)
	c.Start()

	pendingSystemEntry(t, h)
	c.Stop()

	assert.Equal(t, 2, h.ledger.Height())
	assert.Equal(t, 0, h.ledger.PendingCount())
}

func TestCommitterFlushEmptyIsNoop(t *testing.T) {
	h := newHarness(t)
	c := NewCommitter(h.ledger, time.Hour, 100, nil)

	block, err := c.Flush()
	require.NoError(t, err)
	assert.Nil(t, block)
	assert.Equal(t, 1, h.ledger.Height())
}
