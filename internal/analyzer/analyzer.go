// Package analyzer implements the inclusion-decision algorithm: for a given
// beacon block, classify every pool transaction visible at its proposal time
// into exactly one outcome bucket. A transaction that cannot be classified
// (missing field, unsupported type, unrecoverable sender) is left out of
// every bucket.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/ethcensor/monitor/internal/noncecache"
	"github.com/ethcensor/monitor/internal/pool"
	"github.com/ethcensor/monitor/internal/types"
)

// NonceCache is the subset of noncecache.Cache the analyzer needs.
type NonceCache interface {
	Get(ctx context.Context, address common.Address, block *types.BeaconBlock) (uint64, error)
}

// Pool is the subset of pool.Pool the analyzer needs.
type Pool interface {
	ContentAt(t time.Time) map[common.Hash]pool.Observation
}

// Analyze classifies every pool transaction visible at block's proposal time
// and returns the resulting Analysis. A nonce-cache provider error or
// noncecache.ErrWrongBlock aborts the whole analysis.
func Analyze(ctx context.Context, block *types.BeaconBlock, p Pool, nonces NonceCache, quorum int, propagationTime time.Duration) (*types.Analysis, error) {
	start := time.Now()
	proposalTime := block.ProposalTime()

	poolAtT := p.ContentAt(proposalTime)

	txsInBlock := make(map[common.Hash]*types.Transaction, len(block.ExecutionPayload.Transactions))
	sendersInBlock := make(map[common.Address]struct{}, len(block.ExecutionPayload.Transactions))
	for _, tx := range block.ExecutionPayload.Transactions {
		txsInBlock[tx.Hash] = tx
		if tx.FromOK {
			sendersInBlock[tx.From] = struct{}{}
		}
	}

	baseFee := block.ExecutionPayload.BaseFeePerGas
	median, err := medianTip(block.ExecutionPayload.Transactions, baseFee)
	if err != nil {
		return nil, fmt.Errorf("analyzer: %w", err)
	}

	analysis := types.NewAnalysis(block, quorum)

	for hash, obs := range poolAtT {
		if blockTx, ok := txsInBlock[hash]; ok {
			if obs.Body != nil {
				analysis.IncludedTransactions[hash] = obs.Body
			} else {
				analysis.IncludedTransactions[hash] = blockTx
			}
			continue
		}

		if obs.NumNodesSeen(proposalTime) < quorum {
			analysis.MissingTransactions[hash] = types.ReasonQuorumNotReached
			analysis.ReasonCounts[types.ReasonQuorumNotReached]++
			continue
		}

		q, ok := obs.QuorumReachedTimestamp(quorum)
		if !ok {
			// Defensive: NumNodesSeen said quorum was reached, so this
			// should not happen, but treat conservatively as not reached.
			analysis.MissingTransactions[hash] = types.ReasonQuorumNotReached
			analysis.ReasonCounts[types.ReasonQuorumNotReached]++
			continue
		}
		if proposalTime.Sub(q) <= propagationTime {
			analysis.MissingTransactions[hash] = types.ReasonStillPropagating
			analysis.ReasonCounts[types.ReasonStillPropagating]++
			continue
		}

		if obs.Body == nil {
			analysis.MissingTransactions[hash] = types.ReasonOnlyHash
			analysis.ReasonCounts[types.ReasonOnlyHash]++
			continue
		}

		if obs.Body.FromOK {
			if _, replaced := sendersInBlock[obs.Body.From]; replaced {
				analysis.MissingTransactions[hash] = types.ReasonReplaced
				analysis.ReasonCounts[types.ReasonReplaced]++
				continue
			}
		} else {
			log.Warn("pool transaction has unrecoverable sender, skipping replacement check", "hash", hash)
		}

		reason, tip, skip, err := checkInclusion(ctx, obs.Body, block, nonces, baseFee, median)
		if err != nil {
			var providerErr *noncecache.ProviderError
			if errors.As(err, &providerErr) || errors.Is(err, noncecache.ErrWrongBlock) {
				return nil, fmt.Errorf("analyzer: aborting analysis: %w", err)
			}
			log.Warn("skipping transaction for this analysis", "hash", hash, "err", err)
			continue
		}
		if skip {
			log.Warn("skipping transaction for this analysis", "hash", hash)
			continue
		}

		if reason != "" {
			analysis.MissingTransactions[hash] = reason
			analysis.ReasonCounts[reason]++
			continue
		}

		analysis.Misses[hash] = types.Miss{
			Hash:          hash,
			Sender:        obs.Body.From,
			SenderOK:      obs.Body.FromOK,
			FirstSeen:     earliestFirstSeen(obs),
			QuorumReached: q,
			Tip:           tip,
		}
		analysis.MissingTransactions[hash] = types.ReasonMiss
	}

	analysis.Duration = time.Since(start)
	return analysis, nil
}

func earliestFirstSeen(obs pool.Observation) time.Time {
	var earliest time.Time
	for _, t := range obs.FirstSeen {
		if earliest.IsZero() || t.Before(earliest) {
			earliest = t
		}
	}
	return earliest
}

// checkInclusion runs the fixed-order structural checks 6a-6d of the
// classification algorithm. skip==true means the tx cannot be classified (a
// missing field, an unsupported type, or an unrecoverable sender for the
// nonce check) and is left out of every bucket of this analysis.
func checkInclusion(ctx context.Context, tx *types.Transaction, block *types.BeaconBlock, nonces NonceCache, baseFee *uint256.Int, median *uint256.Int) (reason types.Reason, tip *uint256.Int, skip bool, err error) {
	if tx.Gas > block.ExecutionPayload.GasLimit-block.ExecutionPayload.GasUsed {
		return types.ReasonNotEnoughSpace, nil, false, nil
	}

	maxBaseFee, err := tx.MaxBaseFee()
	if err != nil {
		return "", nil, true, nil
	}
	if maxBaseFee.Lt(baseFee) {
		return types.ReasonBaseFeeTooLow, nil, false, nil
	}

	txTip, ok, err := tx.Tip(baseFee)
	if err != nil {
		return "", nil, true, nil
	}
	if !ok {
		return types.ReasonTipTooLow, nil, false, nil
	}
	if median != nil && txTip.Lt(median) {
		return types.ReasonTipTooLow, nil, false, nil
	}

	if !tx.FromOK {
		log.Warn("pool transaction has unrecoverable sender, cannot check nonce", "hash", tx.Hash)
		return "", nil, true, nil
	}

	nonce, err := nonces.Get(ctx, tx.From, block)
	if err != nil {
		return "", nil, false, err
	}
	if nonce != tx.Nonce {
		return types.ReasonNonceMismatch, nil, false, nil
	}

	return "", txTip, false, nil
}

// medianTip computes the median tip of blockTxs at baseFee, silently
// excluding transactions whose tip cannot be computed. nil means "maximum
// possible" (empty set): no transaction may be classified TipTooLow against
// it.
func medianTip(blockTxs []*types.Transaction, baseFee *uint256.Int) (*uint256.Int, error) {
	tips := make([]*uint256.Int, 0, len(blockTxs))
	for _, tx := range blockTxs {
		t, ok, err := tx.Tip(baseFee)
		if err != nil || !ok {
			continue
		}
		tips = append(tips, t)
	}
	if len(tips) == 0 {
		return nil, nil
	}

	sort.Slice(tips, func(i, j int) bool { return tips[i].Lt(tips[j]) })

	n := len(tips)
	if n%2 == 1 {
		return tips[n/2].Clone(), nil
	}
	sum := new(uint256.Int).Add(tips[n/2-1], tips[n/2])
	return new(uint256.Int).Div(sum, uint256.NewInt(2)), nil
}
