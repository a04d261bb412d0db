// Package ingest implements the concurrent ingestion pipeline: the
// transaction watcher(s), the head watcher, and the priority-shedding
// channel-send helpers they share.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ethcensor/monitor/internal/consensusclient"
	"github.com/ethcensor/monitor/internal/coordinator"
	"github.com/ethcensor/monitor/internal/execclient"
	"github.com/ethcensor/monitor/internal/types"
)

// Metrics is the subset of the metrics registry the pipeline reports to.
type Metrics interface {
	IncPendingTxSeen(node types.NodeID)
	IncPendingTxDropped(node types.NodeID)
	SetChannelFillRatio(ratio float64)
	ObserveFetchBlockDuration(d time.Duration)
	ObserveFetchPoolDuration(d time.Duration)
	IncBlocksSeen()
}

// TxSubscriber is the subset of execclient the transaction watcher needs.
type TxSubscriber interface {
	Subscribe(ctx context.Context) (<-chan common.Hash, <-chan error)
}

// sendLossy submits ev to events only if the channel has at least half its
// capacity free; otherwise it drops the event and reports so via metrics.
// Used exclusively for new-transaction events, per §4.6.
func sendLossy(events chan<- coordinator.Event, ev coordinator.Event, node types.NodeID, m Metrics) {
	capacity := cap(events)
	free := capacity - len(events)
	if capacity == 0 || free*2 >= capacity {
		select {
		case events <- ev:
			if m != nil {
				m.IncPendingTxSeen(node)
			}
		default:
			if m != nil {
				m.IncPendingTxDropped(node)
			}
		}
		return
	}
	if m != nil {
		m.IncPendingTxDropped(node)
	}
}

// sendBlocking submits ev to events, blocking until capacity is available or
// ctx is cancelled. Used for head and pool-snapshot events, which must never
// be dropped.
func sendBlocking(ctx context.Context, events chan<- coordinator.Event, ev coordinator.Event) error {
	select {
	case events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func reportFillRatio(events chan coordinator.Event, m Metrics) {
	if m == nil || cap(events) == 0 {
		return
	}
	m.SetChannelFillRatio(float64(len(events)) / float64(cap(events)))
}

// WatchTransactions subscribes to node's pending-transaction stream and
// forwards hashes to events with lossy shedding, until ctx is cancelled or
// the stream ends.
func WatchTransactions(ctx context.Context, node types.NodeID, sub TxSubscriber, events chan coordinator.Event, m Metrics) error {
	hashes, errs := sub.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case hash, ok := <-hashes:
			if !ok {
				return <-errs
			}
			ev := coordinator.NewTransactionEvent{Node: node, Hash: hash, T: time.Now()}
			sendLossy(events, ev, node, m)
			reportFillRatio(events, m)
		}
	}
}

// BeaconBlockFetcher is the subset of consensusclient the head watcher needs
// for fetching full blocks by root.
type BeaconBlockFetcher interface {
	FetchBeaconBlockByRoot(ctx context.Context, root common.Hash) (*types.BeaconBlock, error)
}

// TxpoolFetcher is the subset of execclient the head watcher needs for the
// post-head snapshot fetch.
type TxpoolFetcher interface {
	TxpoolContent(ctx context.Context) (*execclient.TxpoolSnapshot, error)
}

// HeadSubscriber is the subset of consensusclient the head watcher needs for
// the SSE stream.
type HeadSubscriber interface {
	StreamHeadEvents(ctx context.Context) (<-chan consensusclient.HeadEvent, <-chan error)
}

// WatchHead consumes the consensus SSE head stream: for each head it fetches
// the full beacon block, emits NewHead, then fetches a fresh txpool snapshot
// from the primary execution node and emits TxpoolContent. Both sends block
// until capacity is available.
func WatchHead(ctx context.Context, heads HeadSubscriber, blocks BeaconBlockFetcher, txpool TxpoolFetcher, events chan coordinator.Event, m Metrics) error {
	headEvents, errs := heads.StreamHeadEvents(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case he, ok := <-headEvents:
			if !ok {
				return <-errs
			}

			fetchStart := time.Now()
			block, err := blocks.FetchBeaconBlockByRoot(ctx, he.Block)
			if err != nil {
				return fmt.Errorf("ingest: fetch beacon block %s: %w", he.Block, err)
			}
			if m != nil {
				m.ObserveFetchBlockDuration(time.Since(fetchStart))
				m.IncBlocksSeen()
			}

			t := time.Now()
			if err := sendBlocking(ctx, events, coordinator.NewHeadEvent{Block: block, T: t}); err != nil {
				return err
			}
			reportFillRatio(events, m)

			poolStart := time.Now()
			snapshot, err := txpool.TxpoolContent(ctx)
			if err != nil {
				return fmt.Errorf("ingest: fetch txpool snapshot: %w", err)
			}
			if m != nil {
				m.ObserveFetchPoolDuration(time.Since(poolStart))
			}

			snapT := time.Now()
			ev := coordinator.TxpoolContentEvent{Node: types.PrimaryNode, Snapshot: snapshot.Merged(), T: snapT}
			if err := sendBlocking(ctx, events, ev); err != nil {
				return err
			}
			reportFillRatio(events, m)
		}
	}
}
