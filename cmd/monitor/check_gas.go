package main

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/ethcensor/monitor/internal/consensusclient"
	"github.com/ethcensor/monitor/internal/execclient"
)

var checkGasCommand = &cli.Command{
	Name:      "check-gas",
	Usage:     "report the fee geometry of a transaction against a specific slot",
	ArgsUsage: "<txhash> <slot>",
	Action:    checkGasAction,
}

func checkGasAction(c *cli.Context) error {
	if c.Args().Len() != 2 {
		return fmt.Errorf("check-gas: expected exactly two arguments, <txhash> <slot>")
	}
	hash := common.HexToHash(c.Args().Get(0))
	slot, err := strconv.ParseUint(c.Args().Get(1), 10, 64)
	if err != nil {
		return fmt.Errorf("check-gas: malformed slot: %w", err)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("check-gas: %w", err)
	}

	exec := execclient.New(cfg.ExecutionHTTPURL)
	consensus := consensusclient.New(cfg.ConsensusHTTPURL)

	tx, err := exec.GetTransactionByHash(c.Context, hash)
	if err != nil {
		return fmt.Errorf("check-gas: fetching transaction: %w", err)
	}

	block, err := consensus.FetchBeaconBlockBySlot(c.Context, slot)
	if err != nil {
		return fmt.Errorf("check-gas: fetching block: %w", err)
	}

	baseFee := block.ExecutionPayload.BaseFeePerGas
	maxBaseFee, err := tx.MaxBaseFee()
	if err != nil {
		return fmt.Errorf("check-gas: %w", err)
	}
	tip, ok, err := tx.Tip(baseFee)
	if err != nil {
		return fmt.Errorf("check-gas: %w", err)
	}

	log.Info("fee geometry",
		"tx_type", tx.Type,
		"block_base_fee", baseFee,
		"tx_max_base_fee", maxBaseFee,
		"tip_payable", ok,
		"tip", tip,
		"gas_limit", block.ExecutionPayload.GasLimit,
		"gas_used", block.ExecutionPayload.GasUsed,
		"gas_remaining", block.ExecutionPayload.GasLimit-block.ExecutionPayload.GasUsed,
		"tx_gas", tx.Gas,
	)
	return nil
}
