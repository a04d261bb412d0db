package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// miss is one row of the misses query: a transaction that was classified as
// an unexplained non-inclusion for one specific beacon block.
type miss struct {
	TxHash          string
	TxFirstSeen     time.Time
	TxQuorumReached time.Time
	Sender          string
	BlockHash       string
	Slot            int64
	BlockNumber     int64
	ProposalTime    time.Time
	ProposerIndex   int64
	Tip             *int64
}

// params is the validated, normalized form of the request's query string.
type params struct {
	from, to               *time.Time
	blockNumber            *int64
	proposerIndex          *int64
	sender                 *string
	propagationTimeSeconds *int64
	minTip                 *int64
	minNumMisses           *int64
	ascending              bool
}

// queryMisses runs the shared misses query against pool with the given
// params, fetching at most limit+1 rows so the caller can detect truncation.
func queryMisses(ctx context.Context, pool *pgxpool.Pool, p params, limit int) ([]miss, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if p.from != nil {
		where = append(where, "b.proposal_time >= "+arg(*p.from))
	}
	if p.to != nil {
		where = append(where, "b.proposal_time <= "+arg(*p.to))
	}
	if p.blockNumber != nil {
		where = append(where, "b.execution_block_number = "+arg(*p.blockNumber))
	}
	if p.proposerIndex != nil {
		where = append(where, "b.proposer_index = "+arg(*p.proposerIndex))
	}
	if p.sender != nil {
		where = append(where, "t.sender = "+arg(*p.sender))
	}
	if p.propagationTimeSeconds != nil {
		where = append(where, "b.proposal_time - t.quorum_reached >= "+arg(fmt.Sprintf("%d seconds", *p.propagationTimeSeconds))+"::interval")
	}
	if p.minTip != nil {
		where = append(where, "m.tip >= "+arg(*p.minTip))
	}

	order := "ASC"
	if !p.ascending {
		order = "DESC"
	}

	query := `
		SELECT
			t.hash, t.first_seen, t.quorum_reached, t.sender,
			b.root, b.slot, b.execution_block_number, b.proposal_time, b.proposer_index,
			m.tip
		FROM data.miss m
		JOIN data.transaction t ON t.hash = m.transaction_hash
		JOIN data.beacon_block b ON b.root = m.beacon_block_root`
	if len(where) > 0 {
		query += "\nWHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf("\nORDER BY b.proposal_time %s\nLIMIT %s", order, arg(int64(limit+1)))

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("api: query misses: %w", err)
	}
	defer rows.Close()

	misses, err := pgx.CollectRows(rows, pgx.RowToStructByPos[miss])
	if err != nil {
		return nil, fmt.Errorf("api: scan misses: %w", err)
	}
	return misses, nil
}
