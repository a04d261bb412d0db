// Package types holds the execution- and consensus-layer data shapes shared
// across the monitor: transactions, beacon blocks and their embedded
// execution payload, and the analysis record produced per head.
package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// GenesisTimeSeconds is the mainnet beacon chain genesis time, Unix seconds.
const GenesisTimeSeconds int64 = 1606824023

// SecondsPerSlot is the mainnet slot duration.
const SecondsPerSlot int64 = 12

// NodeID identifies one configured execution source. Node 0 is always the
// primary (HTTP) node; the rest are secondary WS-only sources.
type NodeID int

const (
	PrimaryNode NodeID = 0
)

// TxType mirrors the three transaction types this system can classify.
type TxType uint8

const (
	TxTypeLegacy     TxType = 0
	TxTypeAccessList TxType = 1
	TxTypeDynamicFee TxType = 2
)

// Transaction is the execution-layer shape the pool and analyzer operate on.
// It is deliberately narrower than go-ethereum's core/types.Transaction: only
// the fields the classification algorithm needs.
type Transaction struct {
	Hash      common.Hash
	From      common.Address
	FromOK    bool // false if signature recovery failed
	Nonce     uint64
	Gas       uint64
	Type      TxType
	GasPrice  *uint256.Int // type 0/1
	GasFeeCap *uint256.Int // type 2: max_fee_per_gas
	GasTipCap *uint256.Int // type 2: max_priority_fee_per_gas
}

// MaxBaseFee returns the maximum base fee this transaction is willing to pay,
// per §4.4: gas price for type 0/1, max fee per gas for type 2.
func (t *Transaction) MaxBaseFee() (*uint256.Int, error) {
	switch t.Type {
	case TxTypeLegacy, TxTypeAccessList:
		if t.GasPrice == nil {
			return nil, ErrMissingField
		}
		return t.GasPrice, nil
	case TxTypeDynamicFee:
		if t.GasFeeCap == nil {
			return nil, ErrMissingField
		}
		return t.GasFeeCap, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// Tip computes the priority fee actually paid to the proposer at baseFee.
// Returns false if the fee cannot be computed below base fee (fee-too-low,
// never a wrapped/negative result).
func (t *Transaction) Tip(baseFee *uint256.Int) (tip *uint256.Int, ok bool, err error) {
	switch t.Type {
	case TxTypeLegacy, TxTypeAccessList:
		if t.GasPrice == nil {
			return nil, false, ErrMissingField
		}
		if t.GasPrice.Lt(baseFee) {
			return nil, false, nil
		}
		return new(uint256.Int).Sub(t.GasPrice, baseFee), true, nil
	case TxTypeDynamicFee:
		if t.GasFeeCap == nil || t.GasTipCap == nil {
			return nil, false, ErrMissingField
		}
		if t.GasFeeCap.Lt(baseFee) {
			return nil, false, nil
		}
		headroom := new(uint256.Int).Sub(t.GasFeeCap, baseFee)
		if t.GasTipCap.Lt(headroom) {
			return t.GasTipCap, true, nil
		}
		return headroom, true, nil
	default:
		return nil, false, ErrUnsupportedType
	}
}

// ExecutionPayload is the subset of a beacon block's execution payload the
// monitor inspects.
type ExecutionPayload struct {
	BlockHash     common.Hash
	BlockNumber   uint64
	GasLimit      uint64
	GasUsed       uint64
	BaseFeePerGas *uint256.Int
	Transactions  []*Transaction
}

// BeaconBlock is identified by its root and carries the fields the analyzer
// and nonce cache need.
type BeaconBlock struct {
	Root             common.Hash
	Slot             uint64
	ProposerIndex    uint64
	ParentRoot       common.Hash
	ExecutionPayload ExecutionPayload
}

// ProposalTime returns the Unix timestamp this block's slot maps to.
func (b *BeaconBlock) ProposalTime() time.Time {
	return time.Unix(GenesisTimeSeconds+SecondsPerSlot*int64(b.Slot), 0).UTC()
}

// ObservedHead pairs a beacon block with the wall-clock time it was observed.
type ObservedHead struct {
	Block                *BeaconBlock
	ObservationTimestamp time.Time
}

// Reason enumerates the fixed, ordered non-inclusion classifications.
type Reason string

const (
	ReasonNotEnoughSpace   Reason = "not_enough_space"
	ReasonBaseFeeTooLow    Reason = "base_fee_too_low"
	ReasonTipTooLow        Reason = "tip_too_low"
	ReasonNonceMismatch    Reason = "nonce_mismatch"
	ReasonQuorumNotReached Reason = "quorum_not_reached"
	ReasonStillPropagating Reason = "still_propagating"
	ReasonOnlyHash         Reason = "only_hash"
	ReasonReplaced         Reason = "replaced"
	ReasonMiss             Reason = "miss"
)

// Miss records a transaction that passed every structural inclusion check
// and still was not included.
type Miss struct {
	Hash          common.Hash
	Sender        common.Address
	SenderOK      bool
	FirstSeen     time.Time
	QuorumReached time.Time
	Tip           *uint256.Int
}

// Analysis is the read-only record produced for one analyzed beacon block.
type Analysis struct {
	Block                *BeaconBlock
	Quorum               int
	IncludedTransactions map[common.Hash]*Transaction
	MissingTransactions  map[common.Hash]Reason
	Misses               map[common.Hash]Miss
	ReasonCounts         map[Reason]int
	Duration             time.Duration
}

func newAnalysis(block *BeaconBlock, quorum int) *Analysis {
	return &Analysis{
		Block:                block,
		Quorum:               quorum,
		IncludedTransactions: make(map[common.Hash]*Transaction),
		MissingTransactions:  make(map[common.Hash]Reason),
		Misses:               make(map[common.Hash]Miss),
		ReasonCounts:         make(map[Reason]int),
	}
}

// NewAnalysis constructs an empty Analysis for block, ready to be filled in by
// the analyzer.
func NewAnalysis(block *BeaconBlock, quorum int) *Analysis {
	return newAnalysis(block, quorum)
}
