package coordinator

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ethcensor/monitor/internal/types"
)

// Event is the sum type of everything the state coordinator consumes. The
// unexported marker method forbids construction of variants outside this
// package.
type Event interface {
	isEvent()
}

// NewTransactionEvent records a single tx-hash sighting from one node.
type NewTransactionEvent struct {
	Node types.NodeID
	Hash common.Hash
	T    time.Time
}

func (NewTransactionEvent) isEvent() {}

// NewHeadEvent records a freshly observed beacon chain head.
type NewHeadEvent struct {
	Block *types.BeaconBlock
	T     time.Time
}

func (NewHeadEvent) isEvent() {}

// TxpoolContentEvent records a full pending+queued snapshot from one node.
type TxpoolContentEvent struct {
	Node     types.NodeID
	Snapshot map[common.Hash]*types.Transaction
	T        time.Time
}

func (TxpoolContentEvent) isEvent() {}
