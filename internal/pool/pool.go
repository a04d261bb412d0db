// Package pool implements the multi-node transaction-visibility pool: it
// fuses asynchronous sightings of the same transaction hash from several
// execution nodes into one per-transaction history, with quorum queries and
// a single authoritative notion of disappearance.
package pool

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ethcensor/monitor/internal/types"
)

// entry is the per-transaction visibility history kept by the pool.
type entry struct {
	hash        common.Hash
	body        *types.Transaction
	firstSeen   map[types.NodeID]time.Time
	disappeared *time.Time
}

func newEntry(hash common.Hash) *entry {
	return &entry{
		hash:      hash,
		firstSeen: make(map[types.NodeID]time.Time),
	}
}

// NumNodesSeen returns how many nodes had seen this tx by time t.
func (e *entry) NumNodesSeen(t time.Time) int {
	n := 0
	for _, seen := range e.firstSeen {
		if !seen.After(t) {
			n++
		}
	}
	return n
}

// QuorumReachedTimestamp returns the k-th smallest first-seen timestamp, and
// whether at least k nodes have seen the tx at all.
func (e *entry) QuorumReachedTimestamp(k int) (time.Time, bool) {
	if k < 1 || len(e.firstSeen) < k {
		return time.Time{}, false
	}
	ts := make([]time.Time, 0, len(e.firstSeen))
	for _, t := range e.firstSeen {
		ts = append(ts, t)
	}
	sortTimes(ts)
	return ts[k-1], true
}

func sortTimes(ts []time.Time) {
	for i := 1; i < len(ts); i++ {
		for j := i; j > 0 && ts[j].Before(ts[j-1]); j-- {
			ts[j], ts[j-1] = ts[j-1], ts[j]
		}
	}
}

// Observation is the read-only view of one transaction's visibility history
// handed back to callers (the analyzer).
type Observation struct {
	Hash        common.Hash
	Body        *types.Transaction
	FirstSeen   map[types.NodeID]time.Time
	Disappeared *time.Time
}

// NumNodesSeen returns how many nodes had seen this tx by time t.
func (o Observation) NumNodesSeen(t time.Time) int {
	n := 0
	for _, seen := range o.FirstSeen {
		if !seen.After(t) {
			n++
		}
	}
	return n
}

// QuorumReachedTimestamp returns the k-th smallest first-seen timestamp.
func (o Observation) QuorumReachedTimestamp(k int) (time.Time, bool) {
	if k < 1 || len(o.FirstSeen) < k {
		return time.Time{}, false
	}
	ts := make([]time.Time, 0, len(o.FirstSeen))
	for _, t := range o.FirstSeen {
		ts = append(ts, t)
	}
	sortTimes(ts)
	return ts[k-1], true
}

func (e *entry) snapshot() Observation {
	fs := make(map[types.NodeID]time.Time, len(e.firstSeen))
	for k, v := range e.firstSeen {
		fs[k] = v
	}
	return Observation{
		Hash:        e.hash,
		Body:        e.body,
		FirstSeen:   fs,
		Disappeared: e.disappeared,
	}
}

// Pool is the multi-node transaction-visibility pool. Safe for concurrent
// use, though in this system it is only ever driven by the state
// coordinator's single goroutine.
type Pool struct {
	mu      sync.Mutex
	entries map[common.Hash]*entry
}

// New returns an empty pool.
func New() *Pool {
	return &Pool{entries: make(map[common.Hash]*entry)}
}

// ObserveTransaction records that node saw hash at t. It never sets a body.
func (p *Pool) ObserveTransaction(node types.NodeID, t time.Time, hash common.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[hash]
	if !ok {
		e = newEntry(hash)
		p.entries[hash] = e
	}
	p.bumpFirstSeen(e, node, t)
}

func (p *Pool) bumpFirstSeen(e *entry, node types.NodeID, t time.Time) {
	if existing, ok := e.firstSeen[node]; !ok || t.Before(existing) {
		e.firstSeen[node] = t
	}
}

// ObservePool ingests a full pending+queued snapshot from node at time t.
// Transactions present upgrade body/first_seen (and clear a stale
// disappearance); transactions absent from the snapshot, for an entry that
// already exists and isn't already disappeared by t, are marked disappeared
// — but only when node is the primary node (see §9 "Open questions").
func (p *Pool) ObservePool(node types.NodeID, t time.Time, snapshot map[common.Hash]*types.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for hash, body := range snapshot {
		e, ok := p.entries[hash]
		if !ok {
			e = newEntry(hash)
			p.entries[hash] = e
		}

		if e.disappeared != nil && !e.disappeared.After(t) {
			// Reappeared after disappearing: history is not representable,
			// so it resets to the reappearance timestamp.
			e.firstSeen = map[types.NodeID]time.Time{node: t}
			e.disappeared = nil
			e.body = body
			continue
		}

		if e.body == nil {
			e.body = body
		}
		p.bumpFirstSeen(e, node, t)
	}

	if node != types.PrimaryNode {
		return
	}

	for hash, e := range p.entries {
		if _, seen := snapshot[hash]; seen {
			continue
		}
		if e.disappeared != nil && !e.disappeared.After(t) {
			continue
		}
		p.disappearAt(e, t)
	}
}

func (p *Pool) disappearAt(e *entry, t time.Time) {
	if e.disappeared == nil || t.Before(*e.disappeared) {
		ts := t
		e.disappeared = &ts
	}
}

// ContentAt returns every observed transaction seen by at least one node by
// t and not disappeared by t.
func (p *Pool) ContentAt(t time.Time) map[common.Hash]Observation {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[common.Hash]Observation)
	for hash, e := range p.entries {
		if e.disappeared != nil && !e.disappeared.After(t) {
			continue
		}
		if e.NumNodesSeen(t) < 1 {
			continue
		}
		out[hash] = e.snapshot()
	}
	return out
}

// Prune drops every transaction whose disappearance is at or before cutoff.
func (p *Pool) Prune(cutoff time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for hash, e := range p.entries {
		if e.disappeared != nil && !e.disappeared.After(cutoff) {
			delete(p.entries, hash)
		}
	}
}

// Len returns the number of tracked transactions, for metrics.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
