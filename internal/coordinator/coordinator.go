// Package coordinator owns the pool, head history, and nonce cache
// exclusively, driving them from a single goroutine fed by a bounded event
// channel — the Go expression of the single-owner actor discipline the
// system relies on instead of locks.
package coordinator

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethcensor/monitor/internal/analyzer"
	"github.com/ethcensor/monitor/internal/headhistory"
	"github.com/ethcensor/monitor/internal/noncecache"
	"github.com/ethcensor/monitor/internal/pool"
	"github.com/ethcensor/monitor/internal/types"
)

// PruneDelay is how far behind the latest observation the pool and head
// history are trimmed: 16 slots, per §4.5.
const PruneDelay = 16 * 12 * time.Second

// Metrics is the subset of the metrics registry the coordinator reports to.
// A nil Metrics is valid; every method is a no-op on it.
type Metrics interface {
	SetPoolSize(n int)
	SetHeadHistoryLen(n int)
	SetNonceCacheSize(n int)
	ObserveAnalysisDuration(d time.Duration)
	IncReasonCount(reason types.Reason, n int)
}

// Coordinator is the sole owner of the pool, head history, and nonce cache.
type Coordinator struct {
	pool            *pool.Pool
	heads           *headhistory.History
	nonces          *noncecache.Cache
	quorum          int
	propagationTime time.Duration
	metrics         Metrics

	events   <-chan Event
	analyses chan<- *types.Analysis
	queue    []*types.BeaconBlock
}

// New constructs a coordinator reading from events and writing produced
// analyses to analyses. metrics may be nil.
func New(p *pool.Pool, h *headhistory.History, n *noncecache.Cache, quorum int, propagationTime time.Duration, events <-chan Event, analyses chan<- *types.Analysis, metrics Metrics) *Coordinator {
	return &Coordinator{
		pool:            p,
		heads:           h,
		nonces:          n,
		quorum:          quorum,
		propagationTime: propagationTime,
		metrics:         metrics,
		events:          events,
		analyses:        analyses,
	}
}

// Run processes events until the channel closes or ctx is cancelled. It is
// the coordinator's single goroutine entry point.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-c.events:
			if !ok {
				return nil
			}
			if err := c.handle(ctx, ev); err != nil {
				return err
			}
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, ev Event) error {
	switch e := ev.(type) {
	case NewTransactionEvent:
		c.pool.ObserveTransaction(e.Node, e.T, e.Hash)

	case NewHeadEvent:
		c.heads.Observe(e.T, e.Block)
		c.heads.Prune(e.T.Add(-PruneDelay))
		c.queue = append(c.queue, e.Block)
		c.report()

	case TxpoolContentEvent:
		c.pool.ObservePool(e.Node, e.T, e.Snapshot)
		c.pool.Prune(e.T.Add(-PruneDelay))
		c.report()
		return c.drainQueue(ctx)
	}
	return nil
}

func (c *Coordinator) drainQueue(ctx context.Context) error {
	pending := c.queue
	c.queue = nil

	for _, block := range pending {
		c.nonces.ApplyBlock(block)

		head, ok := c.heads.At(block.ProposalTime())
		if !ok || head.Block.Root != block.ParentRoot {
			log.Warn("skipping analysis: no matching head history entry at proposal time", "block", block.Root, "slot", block.Slot)
			continue
		}

		analysis, err := analyzer.Analyze(ctx, block, c.pool, c.nonces, c.quorum, c.propagationTime)
		if err != nil {
			return err
		}
		c.reportAnalysis(analysis)

		select {
		case c.analyses <- analysis:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *Coordinator) report() {
	if c.metrics == nil {
		return
	}
	c.metrics.SetPoolSize(c.pool.Len())
	c.metrics.SetHeadHistoryLen(c.heads.Len())
	c.metrics.SetNonceCacheSize(c.nonces.Len())
}

func (c *Coordinator) reportAnalysis(a *types.Analysis) {
	if c.metrics == nil {
		return
	}
	c.metrics.ObserveAnalysisDuration(a.Duration)
	for reason, n := range a.ReasonCounts {
		c.metrics.IncReasonCount(reason, n)
	}
	c.metrics.IncReasonCount("included", len(a.IncludedTransactions))
	c.metrics.IncReasonCount(types.ReasonMiss, len(a.Misses))
}
