// Package headhistory keeps a time-indexed record of observed beacon chain
// heads so the analyzer can answer "what did we think was head at proposal
// time t?"
package headhistory

import (
	"sort"
	"sync"
	"time"

	"github.com/ethcensor/monitor/internal/types"
)

// History is an ordered, by observation timestamp, sequence of observed
// heads. Safe for concurrent use, though in this system it is owned
// exclusively by the state coordinator.
type History struct {
	mu    sync.Mutex
	heads []types.ObservedHead
}

// New returns an empty head history.
func New() *History {
	return &History{}
}

// Observe inserts (t, block) keeping heads ordered by ObservationTimestamp.
func (h *History) Observe(t time.Time, block *types.BeaconBlock) {
	h.mu.Lock()
	defer h.mu.Unlock()

	obs := types.ObservedHead{Block: block, ObservationTimestamp: t}
	idx := sort.Search(len(h.heads), func(i int) bool {
		return h.heads[i].ObservationTimestamp.After(t)
	})
	h.heads = append(h.heads, types.ObservedHead{})
	copy(h.heads[idx+1:], h.heads[idx:])
	h.heads[idx] = obs
}

// At returns the observation with the largest ObservationTimestamp <= t, if
// any.
func (h *History) At(t time.Time) (types.ObservedHead, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	idx := sort.Search(len(h.heads), func(i int) bool {
		return h.heads[i].ObservationTimestamp.After(t)
	})
	if idx == 0 {
		return types.ObservedHead{}, false
	}
	return h.heads[idx-1], true
}

// Prune discards every element whose immediate successor's timestamp is
// still <= cutoff — i.e. it keeps the single most-recent observation at or
// before cutoff, so that At() keeps working for timestamps near the cutoff.
func (h *History) Prune(cutoff time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Find how many leading elements have a successor at or before cutoff.
	drop := 0
	for drop+1 < len(h.heads) && !h.heads[drop+1].ObservationTimestamp.After(cutoff) {
		drop++
	}
	if drop > 0 {
		h.heads = h.heads[drop:]
	}
}

// Len returns the number of retained observations, for metrics.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.heads)
}
