package pool

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/ethcensor/monitor/internal/types"
)

func at(seconds int64) time.Time { return time.Unix(seconds, 0).UTC() }

var h1 = common.HexToHash("0x01")
var h2 = common.HexToHash("0x02")

func TestObserveTransactionCreatesEntryAndKeepsMinimum(t *testing.T) {
	p := New()
	p.ObserveTransaction(0, at(100), h1)
	p.ObserveTransaction(0, at(90), h1)

	content := p.ContentAt(at(100))
	obs, ok := content[h1]
	require.True(t, ok)
	require.Equal(t, at(90), obs.FirstSeen[0])
	require.Nil(t, obs.Body)
}

func TestObservePoolBackfillsBodyOnce(t *testing.T) {
	p := New()
	p.ObserveTransaction(0, at(100), h1)
	body := &types.Transaction{Hash: h1, Nonce: 7}
	p.ObservePool(0, at(110), map[common.Hash]*types.Transaction{h1: body})

	content := p.ContentAt(at(110))
	require.Same(t, body, content[h1].Body)

	otherBody := &types.Transaction{Hash: h1, Nonce: 99}
	p.ObservePool(0, at(111), map[common.Hash]*types.Transaction{h1: otherBody})
	content = p.ContentAt(at(111))
	require.Same(t, body, content[h1].Body, "body must never be downgraded/replaced once set")
}

func TestObservePoolDisappearanceOnlyFromPrimaryNode(t *testing.T) {
	p := New()
	p.ObserveTransaction(1, at(100), h1) // secondary node only

	// Secondary node's snapshot omits h1: must NOT mark it disappeared.
	p.ObservePool(1, at(110), map[common.Hash]*types.Transaction{})
	content := p.ContentAt(at(110))
	_, ok := content[h1]
	require.True(t, ok, "secondary-node absence must not cause disappearance")

	// Primary node's snapshot omits h1: disappearance applies.
	p.ObservePool(0, at(120), map[common.Hash]*types.Transaction{})
	content = p.ContentAt(at(120))
	_, ok = content[h1]
	require.False(t, ok)
}

func TestObservePoolIdempotent(t *testing.T) {
	p := New()
	snapshot := map[common.Hash]*types.Transaction{h1: {Hash: h1, Nonce: 1}}
	p.ObservePool(0, at(100), snapshot)
	before := p.ContentAt(at(100))

	p.ObservePool(0, at(100), snapshot)
	after := p.ContentAt(at(100))

	require.Equal(t, before[h1].FirstSeen, after[h1].FirstSeen)
	require.Equal(t, before[h1].Disappeared, after[h1].Disappeared)
}

func TestObserveTransactionAfterObservePoolIsNoop(t *testing.T) {
	p := New()
	snapshot := map[common.Hash]*types.Transaction{h1: {Hash: h1, Nonce: 1}}
	p.ObservePool(0, at(100), snapshot)
	before := p.ContentAt(at(100))[h1].FirstSeen[0]

	p.ObserveTransaction(0, at(100), h1)
	after := p.ContentAt(at(100))[h1].FirstSeen[0]
	require.Equal(t, before, after)
}

func TestReappearanceResetsHistory(t *testing.T) {
	p := New()
	p.ObservePool(0, at(100), map[common.Hash]*types.Transaction{h1: {Hash: h1, Nonce: 1}})
	p.ObservePool(0, at(110), map[common.Hash]*types.Transaction{}) // disappears at 110

	content := p.ContentAt(at(110))
	_, ok := content[h1]
	require.False(t, ok)

	body := &types.Transaction{Hash: h1, Nonce: 2}
	p.ObservePool(0, at(120), map[common.Hash]*types.Transaction{h1: body})
	content = p.ContentAt(at(120))
	obs, ok := content[h1]
	require.True(t, ok)
	require.Nil(t, obs.Disappeared)
	require.Equal(t, at(120), obs.FirstSeen[0])
	require.Same(t, body, obs.Body)
}

func TestNumNodesSeenMonotoneNonDecreasing(t *testing.T) {
	p := New()
	p.ObserveTransaction(0, at(100), h1)
	p.ObserveTransaction(1, at(105), h1)

	content := p.ContentAt(at(104))
	require.Equal(t, 1, content[h1].NumNodesSeen(at(104)))
	content = p.ContentAt(at(105))
	require.Equal(t, 2, content[h1].NumNodesSeen(at(105)))
}

func TestQuorumReachedTimestampOrdering(t *testing.T) {
	p := New()
	p.ObserveTransaction(0, at(100), h1)
	p.ObserveTransaction(1, at(105), h1)
	p.ObserveTransaction(2, at(110), h1)

	content := p.ContentAt(at(110))
	q1, ok := content[h1].QuorumReachedTimestamp(1)
	require.True(t, ok)
	q2, ok := content[h1].QuorumReachedTimestamp(2)
	require.True(t, ok)
	q3, ok := content[h1].QuorumReachedTimestamp(3)
	require.True(t, ok)
	require.True(t, !q2.Before(q1))
	require.True(t, !q3.Before(q2))

	_, ok = content[h1].QuorumReachedTimestamp(4)
	require.False(t, ok)
}

func TestPrune(t *testing.T) {
	p := New()
	p.ObservePool(0, at(100), map[common.Hash]*types.Transaction{h1: {Hash: h1}})
	p.ObservePool(0, at(110), map[common.Hash]*types.Transaction{}) // h1 disappears at 110

	p.Prune(at(105))
	require.Equal(t, 1, p.Len())

	p.Prune(at(110))
	require.Equal(t, 0, p.Len())
}

func TestEmptyPoolContentAtIsEmpty(t *testing.T) {
	p := New()
	require.Empty(t, p.ContentAt(at(1)))
}
