package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/ethcensor/monitor/internal/consensusclient"
	"github.com/ethcensor/monitor/internal/execclient"
	"github.com/ethcensor/monitor/internal/types"
)

var checkCommand = &cli.Command{
	Name:      "check",
	Usage:     "evaluate why a transaction was not included in each of the last N blocks",
	ArgsUsage: "<txhash>",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "n", Aliases: []string{"N"}, Value: 5, Usage: "number of blocks to check"},
	},
	Action: checkAction,
}

func checkAction(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("check: expected exactly one argument, <txhash>")
	}
	hash := common.HexToHash(c.Args().First())
	n := c.Int("n")

	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("check: %w", err)
	}

	exec := execclient.New(cfg.ExecutionHTTPURL)
	consensus := consensusclient.New(cfg.ConsensusHTTPURL)

	tx, err := exec.GetTransactionByHash(c.Context, hash)
	if err != nil {
		return fmt.Errorf("check: fetching transaction: %w", err)
	}

	block, err := consensus.FetchHeadBeaconBlock(c.Context)
	if err != nil {
		return fmt.Errorf("check: fetching head: %w", err)
	}

	for i := 0; i < n; i++ {
		reason := classifyAgainstBlock(c.Context, exec, tx, block)
		log.Info("block evaluated", "slot", block.Slot, "execution_block", block.ExecutionPayload.BlockNumber, "reason", reason)

		if block.ParentRoot == (common.Hash{}) {
			break
		}
		block, err = consensus.FetchBeaconBlockByRoot(c.Context, block.ParentRoot)
		if err != nil {
			return fmt.Errorf("check: fetching parent block: %w", err)
		}
	}
	return nil
}

// classifyAgainstBlock runs the structural inclusion checks (space, base
// fee, tip, nonce) for one transaction against one block, independent of
// pool visibility — the diagnostic cousin of the analyzer's full algorithm,
// which additionally needs multi-node quorum history this standalone
// command does not have. The tip check only reports TipTooLow when no tip
// can be paid at the block's base fee; the tip is not compared with the
// block's median tip.
func classifyAgainstBlock(ctx context.Context, exec *execclient.Client, tx *types.Transaction, block *types.BeaconBlock) types.Reason {
	payload := block.ExecutionPayload
	if tx.Gas > payload.GasLimit-payload.GasUsed {
		return types.ReasonNotEnoughSpace
	}

	maxBaseFee, err := tx.MaxBaseFee()
	if err != nil {
		return "unclassifiable"
	}
	if maxBaseFee.Lt(payload.BaseFeePerGas) {
		return types.ReasonBaseFeeTooLow
	}

	tip, ok, err := tx.Tip(payload.BaseFeePerGas)
	if err != nil || !ok {
		return types.ReasonTipTooLow
	}
	_ = tip

	if !tx.FromOK {
		return "unclassifiable: unrecoverable sender"
	}

	nonce, err := exec.GetTransactionCount(ctx, tx.From, payload.BlockHash)
	if err != nil {
		return "unclassifiable: nonce lookup failed"
	}
	if nonce != tx.Nonce {
		return types.ReasonNonceMismatch
	}

	return "could have been included"
}
