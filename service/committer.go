package service

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"governance-ledger/ledger"
	"governance-ledger/models"
)

// BlockSink receives freshly sealed blocks, typically the replication node
// gossiping them to peers.
type BlockSink interface {
	BroadcastBlock(b *models.Block)
}

// Committer seals the ledger's pending queue into blocks in the background:
// on an interval while entries are waiting, or immediately when the queue
// reaches the batch high-water mark (via Kick).
type Committer struct {
	ledger    *ledger.Ledger
	interval  time.Duration
	batchSize int
	sink      BlockSink
	metrics   *MetricsCollector
	logger    *zap.Logger

	kickCh     chan struct{}
	shutdownCh chan struct{}
	wg         sync.WaitGroup
	startOnce  sync.Once
	stopOnce   sync.Once
}

func NewCommitter(l *ledger.Ledger, interval time.Duration, batchSize int, logger *zap.Logger) *Committer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Committer{
		ledger:     l,
		interval:   interval,
		batchSize:  batchSize,
		logger:     logger,
		kickCh:     make(chan struct{}, 1),
		shutdownCh: make(chan struct{}),
	}
}

// AttachSink wires a broadcast target for sealed blocks. Call before Start.
func (c *Committer) AttachSink(sink BlockSink) {
	c.sink = sink
}

// AttachMetrics wires a metrics collector. Call before Start.
func (c *Committer) AttachMetrics(mc *MetricsCollector) {
	c.metrics = mc
}

// Start launches the background producer.
func (c *Committer) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.worker()
	})
}

// Stop shuts the producer down, flushing whatever is still pending.
func (c *Committer) Stop() {
	c.stopOnce.Do(func() {
		close(c.shutdownCh)
		c.wg.Wait()
		if _, err := c.Flush(); err != nil {
			c.logger.Warn("final flush failed", zap.Error(err))
		}
	})
}

// Kick asks the producer to look at the queue now instead of at the next
// tick. Never blocks.
func (c *Committer) Kick() {
	select {
	case c.kickCh <- struct{}{}:
	default:
	}
}

// Flush seals the pending queue immediately. Returns nil when there was
// nothing pending.
func (c *Committer) Flush() (*models.Block, error) {
	start := time.Now()
	block, err := c.ledger.CommitBlock()
	if err != nil || block == nil {
		return block, err
	}
	if c.metrics != nil {
		c.metrics.Record(OpCommit, time.Since(start))
	}
	c.logger.Debug("block sealed",
		zap.Int("index", block.Index),
		zap.Int("entries", len(block.Entries)))
	if c.sink != nil {
		c.sink.BroadcastBlock(block)
	}
	return block, nil
}

func (c *Committer) worker() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.shutdownCh:
			return
		case <-ticker.C:
			if c.ledger.PendingCount() > 0 {
				if _, err := c.Flush(); err != nil {
					c.logger.Warn("interval commit failed", zap.Error(err))
				}
			}
		case <-c.kickCh:
			if c.ledger.PendingCount() >= c.batchSize {
				if _, err := c.Flush(); err != nil {
					c.logger.Warn("batch commit failed", zap.Error(err))
				}
			}
		}
	}
}
