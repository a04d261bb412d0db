package noncecache

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/ethcensor/monitor/internal/types"
)

type fakeClient struct {
	calls  int
	nonce  uint64
	failAt int // if >0, fail on this call number
}

func (f *fakeClient) GetTransactionCount(ctx context.Context, address common.Address, blockHash common.Hash) (uint64, error) {
	f.calls++
	if f.failAt > 0 && f.calls == f.failAt {
		return 0, errors.New("boom")
	}
	return f.nonce, nil
}

var addrA = common.HexToAddress("0xaaaa")

func blockWithRoot(root, parent string) *types.BeaconBlock {
	return &types.BeaconBlock{
		Root:       common.HexToHash(root),
		ParentRoot: common.HexToHash(parent),
		ExecutionPayload: types.ExecutionPayload{
			BlockHash: common.HexToHash(root + "ee"),
		},
	}
}

func TestGetFetchesOnMissAndCaches(t *testing.T) {
	client := &fakeClient{nonce: 7}
	cache, err := New(client, 10)
	require.NoError(t, err)

	blockX := blockWithRoot("0x01", "0x00")
	cache.ApplyBlock(blockX)

	n, err := cache.Get(context.Background(), addrA, blockX)
	require.NoError(t, err)
	require.Equal(t, uint64(7), n)
	require.Equal(t, 1, client.calls)

	n, err = cache.Get(context.Background(), addrA, blockX)
	require.NoError(t, err)
	require.Equal(t, uint64(7), n)
	require.Equal(t, 1, client.calls, "second get must hit cache, not the client")
}

func TestGetAgainstWrongBlockFails(t *testing.T) {
	client := &fakeClient{nonce: 7}
	cache, err := New(client, 10)
	require.NoError(t, err)

	blockX := blockWithRoot("0x01", "0x00")
	cache.ApplyBlock(blockX)

	other := blockWithRoot("0x02", "0x01")
	_, err = cache.Get(context.Background(), addrA, other)
	require.ErrorIs(t, err, ErrWrongBlock)
}

func TestApplyBlockReorgClearsCache(t *testing.T) {
	client := &fakeClient{nonce: 7}
	cache, err := New(client, 10)
	require.NoError(t, err)

	blockX := blockWithRoot("0x01", "0x00")
	cache.ApplyBlock(blockX)
	_, err = cache.Get(context.Background(), addrA, blockX)
	require.NoError(t, err)
	require.Equal(t, 1, cache.Len())

	// blockY's parent is not blockX's root: reorg.
	blockY := blockWithRoot("0x02", "0x99")
	cache.ApplyBlock(blockY)
	require.Equal(t, 0, cache.Len())

	_, err = cache.Get(context.Background(), addrA, blockY)
	require.NoError(t, err)
	require.Equal(t, 2, client.calls, "post-reorg get must perform a fresh network fetch")
}

func TestApplyBlockBumpsExistingEntryOnly(t *testing.T) {
	client := &fakeClient{nonce: 7}
	cache, err := New(client, 10)
	require.NoError(t, err)

	blockX := blockWithRoot("0x01", "0x00")
	cache.ApplyBlock(blockX)
	_, err = cache.Get(context.Background(), addrA, blockX)
	require.NoError(t, err)

	addrB := common.HexToAddress("0xbbbb")
	blockY := blockWithRoot("0x02", "0x01")
	blockY.ExecutionPayload.Transactions = []*types.Transaction{
		{From: addrA, FromOK: true, Nonce: 10},
		{From: addrB, FromOK: true, Nonce: 3}, // addrB never cached: must not be created
	}
	cache.ApplyBlock(blockY)

	n, err := cache.Get(context.Background(), addrA, blockY)
	require.NoError(t, err)
	require.Equal(t, uint64(11), n)
	require.Equal(t, 1, client.calls, "bumped entry must not require a fetch")

	require.Equal(t, 1, cache.Len(), "addrB must not have been created by apply_block")
}

func TestApplyBlockIdempotent(t *testing.T) {
	client := &fakeClient{nonce: 7}
	cache, err := New(client, 10)
	require.NoError(t, err)

	blockX := blockWithRoot("0x01", "0x00")
	cache.ApplyBlock(blockX)
	cache.ApplyBlock(blockX)

	_, err = cache.Get(context.Background(), addrA, blockX)
	require.NoError(t, err)
}
