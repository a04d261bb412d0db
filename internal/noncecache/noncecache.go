// Package noncecache implements the per-account next-nonce cache, pinned to
// a single beacon block and invalidated wholesale on reorg.
package noncecache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"

	"github.com/ethcensor/monitor/internal/types"
)

// ErrWrongBlock is returned by Get when queried against a block other than
// the one the cache currently holds.
var ErrWrongBlock = errors.New("noncecache: get against a block the cache is not pinned to")

// ProviderError wraps a failure from the execution client's
// getTransactionCount round trip, distinguishing a network failure from
// ErrWrongBlock.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string { return fmt.Sprintf("provider error: %v", e.Err) }
func (e *ProviderError) Unwrap() error { return e.Err }

// ExecutionClient is the subset of the execution client the cache needs.
type ExecutionClient interface {
	GetTransactionCount(ctx context.Context, address common.Address, blockHash common.Hash) (uint64, error)
}

// Cache is the bounded LRU address->nonce cache pinned to one beacon block.
type Cache struct {
	client ExecutionClient

	mu    sync.Mutex
	block *types.BeaconBlock
	lru   *lru.Cache
}

// New returns a cache with the given maximum size (default 1000 per the
// config contract), backed by client for cache-miss fetches.
func New(client ExecutionClient, maxSize int) (*Cache, error) {
	l, err := lru.New(maxSize)
	if err != nil {
		return nil, fmt.Errorf("noncecache: %w", err)
	}
	return &Cache{client: client, lru: l}, nil
}

// Get returns the next nonce for address valid at block, fetching from the
// execution client on a cache miss.
func (c *Cache) Get(ctx context.Context, address common.Address, block *types.BeaconBlock) (uint64, error) {
	c.mu.Lock()
	if c.block == nil || c.block.Root != block.Root {
		c.mu.Unlock()
		return 0, ErrWrongBlock
	}
	if v, ok := c.lru.Get(address); ok {
		c.mu.Unlock()
		return v.(uint64), nil
	}
	c.mu.Unlock()

	nonce, err := c.client.GetTransactionCount(ctx, address, block.ExecutionPayload.BlockHash)
	if err != nil {
		return 0, &ProviderError{Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.block == nil || c.block.Root != block.Root {
		// Reorged away while the fetch was in flight; do not pollute the
		// cache for a block we no longer hold.
		return 0, ErrWrongBlock
	}
	c.lru.Add(address, nonce)
	return nonce, nil
}

// ApplyBlock adopts block as the new pinned reference. If block's parent
// root does not match the currently pinned root, the whole cache is cleared
// (reorg). Otherwise, for every transaction in block's execution payload
// whose sender already has a cached entry, that entry is bumped to
// tx.Nonce+1 — existing entries only, never created.
func (c *Cache) ApplyBlock(block *types.BeaconBlock) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.block == nil || c.block.Root != block.ParentRoot {
		c.lru.Purge()
	}
	c.block = block

	for _, tx := range block.ExecutionPayload.Transactions {
		if !tx.FromOK {
			continue
		}
		if _, ok := c.lru.Get(tx.From); ok {
			c.lru.Add(tx.From, tx.Nonce+1)
		}
	}
}

// Len returns the number of cached entries, for metrics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
