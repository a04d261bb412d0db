package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tipOf(n int64) *int64 { return &n }

func sampleMisses() []miss {
	base := time.Unix(1_700_000_000, 0).UTC()
	return []miss{
		{
			TxHash: "0xaa", TxFirstSeen: base, TxQuorumReached: base.Add(time.Second), Sender: "0x1",
			BlockHash: "0xblock1", Slot: 1, BlockNumber: 100, ProposalTime: base, ProposerIndex: 5, Tip: tipOf(10),
		},
		{
			TxHash: "0xaa", TxFirstSeen: base, TxQuorumReached: base.Add(time.Second), Sender: "0x1",
			BlockHash: "0xblock2", Slot: 2, BlockNumber: 101, ProposalTime: base.Add(12 * time.Second), ProposerIndex: 6, Tip: tipOf(11),
		},
		{
			TxHash: "0xbb", TxFirstSeen: base, TxQuorumReached: base.Add(time.Second), Sender: "0x2",
			BlockHash: "0xblock2", Slot: 2, BlockNumber: 101, ProposalTime: base.Add(12 * time.Second), ProposerIndex: 6, Tip: nil,
		},
	}
}

func TestGroupByTxCollectsAllMissesForSameTx(t *testing.T) {
	groups := groupByTx(sampleMisses())
	require.Len(t, groups, 2)

	var aa *txView
	for i := range groups {
		if groups[i].TxHash == "0xaa" {
			aa = &groups[i]
		}
	}
	require.NotNil(t, aa)
	assert.Equal(t, 2, aa.NumMisses)
	assert.Len(t, aa.Blocks, 2)
}

func TestGroupByBlockCollectsAllMissesForSameBlock(t *testing.T) {
	groups := groupByBlock(sampleMisses())
	require.Len(t, groups, 2)

	var block2 *blockView
	for i := range groups {
		if groups[i].BlockHash == "0xblock2" {
			block2 = &groups[i]
		}
	}
	require.NotNil(t, block2)
	assert.Equal(t, 2, block2.NumMisses)
	assert.Len(t, block2.Txs, 2)
}

func TestGroupByBlockOrdersByProposalTime(t *testing.T) {
	groups := groupByBlock(sampleMisses())
	require.Len(t, groups, 2)
	assert.True(t, groups[0].ProposalTime <= groups[1].ProposalTime)
}

func TestMissDataRangeNilForEmpty(t *testing.T) {
	assert.Nil(t, missDataRange(nil))
}

func TestMissDataRangeOrdersAscendingInput(t *testing.T) {
	misses := sampleMisses()
	r := missDataRange(misses)
	require.NotNil(t, r)
	assert.True(t, r[0].Before(r[1]) || r[0].Equal(r[1]))
}

func TestMissDataRangeOrdersDescendingInput(t *testing.T) {
	misses := sampleMisses()
	// reverse, as a descending query result would be ordered
	reversed := []miss{misses[2], misses[1], misses[0]}
	r := missDataRange(reversed)
	require.NotNil(t, r)
	assert.True(t, r[0].Before(r[1]) || r[0].Equal(r[1]), "missDataRange must return (earliest, latest) regardless of row order")
}
