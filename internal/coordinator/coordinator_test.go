package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/ethcensor/monitor/internal/headhistory"
	"github.com/ethcensor/monitor/internal/noncecache"
	"github.com/ethcensor/monitor/internal/pool"
	"github.com/ethcensor/monitor/internal/types"
)

// at returns the time that lies the given number of seconds after genesis.
func at(seconds int64) time.Time {
	return time.Unix(types.GenesisTimeSeconds+seconds, 0).UTC()
}

type fakeExecClient struct{ nonce uint64 }

func (f *fakeExecClient) GetTransactionCount(ctx context.Context, address common.Address, blockHash common.Hash) (uint64, error) {
	return f.nonce, nil
}

func slotForTime(t time.Time) uint64 {
	return uint64((t.Unix() - types.GenesisTimeSeconds) / types.SecondsPerSlot)
}

func newTestCoordinator(t *testing.T) (*Coordinator, chan Event, chan *types.Analysis) {
	t.Helper()
	nonces, err := noncecache.New(&fakeExecClient{nonce: 0}, 100)
	require.NoError(t, err)

	events := make(chan Event, 16)
	analyses := make(chan *types.Analysis, 16)
	c := New(pool.New(), headhistory.New(), nonces, 1, time.Second, events, analyses, nil)
	return c, events, analyses
}

func TestAnalysisEmittedOnlyAfterSnapshotFollowsHead(t *testing.T) {
	c, events, analyses := newTestCoordinator(t)

	genesisRoot := common.HexToHash("0xgenesis")
	proposalTime := at(200)
	block := &types.BeaconBlock{
		Root:       common.HexToHash("0x01"),
		Slot:       slotForTime(proposalTime),
		ParentRoot: genesisRoot,
		ExecutionPayload: types.ExecutionPayload{
			GasLimit: 30_000_000, GasUsed: 0, BaseFeePerGas: uint256.NewInt(1),
		},
	}

	events <- NewTransactionEvent{Node: 0, Hash: common.HexToHash("0xaa"), T: at(100)}
	events <- NewHeadEvent{Block: &types.BeaconBlock{Root: genesisRoot}, T: at(50)}
	// block is observed shortly after its own proposal time, as blocks
	// normally arrive after the slot they were proposed for.
	events <- NewHeadEvent{Block: block, T: at(201)}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = c.Run(ctx)
	}()

	select {
	case <-analyses:
		t.Fatal("no analysis should be emitted before a following snapshot event")
	case <-time.After(50 * time.Millisecond):
	}

	events <- TxpoolContentEvent{Node: 0, T: at(200), Snapshot: map[common.Hash]*types.Transaction{}}

	select {
	case a := <-analyses:
		require.Equal(t, block.Root, a.Block.Root)
	case <-time.After(time.Second):
		t.Fatal("expected an analysis after the snapshot event")
	}

	cancel()
}

func TestHeadWithoutMatchingHistoryIsSkipped(t *testing.T) {
	c, events, analyses := newTestCoordinator(t)

	proposalTime := at(200)
	block := &types.BeaconBlock{
		Root:       common.HexToHash("0x01"),
		Slot:       slotForTime(proposalTime),
		ParentRoot: common.HexToHash("0xnonexistent"),
	}

	events <- NewHeadEvent{Block: block, T: at(201)}
	events <- TxpoolContentEvent{Node: 0, T: at(202), Snapshot: map[common.Hash]*types.Transaction{}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	select {
	case <-analyses:
		t.Fatal("no analysis expected when head history has no matching parent")
	case <-time.After(100 * time.Millisecond):
	}
}
