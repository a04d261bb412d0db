// Package storage persists analyses to Postgres through jackc/pgx/v5: one
// beacon_block row per analyzed block, plus one transaction/miss row pair per
// classified miss, all inserted ON CONFLICT DO NOTHING within a single
// transaction per analysis.
package storage

import (
	"context"
	"embed"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ethcensor/monitor/internal/types"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store owns the connection pool to the monitor's Postgres database.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to connString with a pool of 5 connections and returns a
// Store. Callers must call Close.
func Open(ctx context.Context, connString string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("storage: parse connection string: %w", err)
	}
	cfg.MaxConns = 5
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() { s.pool.Close() }

// Migrate applies every embedded migration file, in name order, idempotently.
func (s *Store) Migrate(ctx context.Context) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("storage: read migrations: %w", err)
	}
	for _, entry := range entries {
		contents, err := migrations.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("storage: read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.pool.Exec(ctx, string(contents)); err != nil {
			return fmt.Errorf("storage: apply migration %s: %w", entry.Name(), err)
		}
		log.Debug("applied migration", "file", entry.Name())
	}
	return nil
}

// Truncate empties every table, restarting identities. Used by the
// truncate-db CLI subcommand.
func (s *Store) Truncate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "TRUNCATE data.miss, data.transaction, data.beacon_block RESTART IDENTITY")
	if err != nil {
		return fmt.Errorf("storage: truncate: %w", err)
	}
	return nil
}

// WriteAnalysis persists a.Block and every entry in a.Misses within a single
// transaction. Rows that already exist (matched by primary key) are left
// untouched, matching the append-only, idempotent-replay semantics of the
// rest of the pipeline.
func (s *Store) WriteAnalysis(ctx context.Context, a *types.Analysis) error {
	if len(a.Misses) == 0 {
		return s.writeBlockOnly(ctx, a)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := insertBeaconBlock(ctx, tx, a.Block); err != nil {
		return err
	}

	for _, miss := range a.Misses {
		if err := insertTransaction(ctx, tx, miss); err != nil {
			return err
		}
		if err := insertMiss(ctx, tx, a.Block, miss); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	log.Debug("persisted analysis", "block", a.Block.Root, "misses", len(a.Misses))
	return nil
}

func (s *Store) writeBlockOnly(ctx context.Context, a *types.Analysis) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := insertBeaconBlock(ctx, tx, a.Block); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	return nil
}

func insertBeaconBlock(ctx context.Context, tx pgx.Tx, block *types.BeaconBlock) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO data.beacon_block (
			root, slot, proposer_index, execution_block_hash, execution_block_number, proposal_time
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING`,
		block.Root.Hex(),
		block.Slot,
		block.ProposerIndex,
		block.ExecutionPayload.BlockHash.Hex(),
		block.ExecutionPayload.BlockNumber,
		block.ProposalTime(),
	)
	if err != nil {
		return fmt.Errorf("storage: insert beacon_block %s: %w", block.Root, err)
	}
	return nil
}

func insertTransaction(ctx context.Context, tx pgx.Tx, miss types.Miss) error {
	var sender string
	if miss.SenderOK {
		sender = miss.Sender.Hex()
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO data.transaction (hash, sender, first_seen, quorum_reached)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING`,
		miss.Hash.Hex(), sender, miss.FirstSeen, miss.QuorumReached,
	)
	if err != nil {
		return fmt.Errorf("storage: insert transaction %s: %w", miss.Hash, err)
	}
	return nil
}

func insertMiss(ctx context.Context, tx pgx.Tx, block *types.BeaconBlock, miss types.Miss) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO data.miss (transaction_hash, beacon_block_root, proposal_time, tip)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING`,
		miss.Hash.Hex(), block.Root.Hex(), block.ProposalTime(), tipColumn(miss.Tip),
	)
	if err != nil {
		return fmt.Errorf("storage: insert miss %s/%s: %w", miss.Hash, block.Root, err)
	}
	return nil
}

// Run drains analyses, persisting each one, until the channel closes or ctx
// is cancelled. A write failure aborts only that analysis's insertion: it is
// logged and dropped, while upstream production (the pool, head history,
// ingestion) keeps running undisturbed, since that in-memory state cannot be
// reconstructed after the fact.
func (s *Store) Run(ctx context.Context, analyses <-chan *types.Analysis) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case a, ok := <-analyses:
			if !ok {
				return nil
			}
			if err := s.WriteAnalysis(ctx, a); err != nil {
				log.Error("storage: dropping analysis after write failure", "block", a.Block.Root, "err", err)
			}
		}
	}
}

// tipColumn clamps tip into Postgres's signed 64-bit bigint range. A nil tip
// (the "quorum never reached" sentinel never reaches here, since misses
// always carry a computed tip) maps to SQL NULL; an out-of-range tip is
// clamped to MaxInt64 rather than erroring the whole analysis.
func tipColumn(tip *uint256.Int) any {
	if tip == nil {
		return nil
	}
	if tip.IsUint64() {
		v := tip.Uint64()
		if v <= math.MaxInt64 {
			return int64(v)
		}
	}
	return int64(math.MaxInt64)
}
