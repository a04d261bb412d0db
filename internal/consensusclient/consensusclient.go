// Package consensusclient implements the consensus-node adapter: REST
// fetches for beacon blocks and sync status, and an SSE stream of head
// events.
package consensusclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	mtypes "github.com/ethcensor/monitor/internal/types"
)

// Client is a REST+SSE consensus-node client, shared immutably across
// watchers by request per §5.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client bound to baseURL (e.g. http://localhost:5052).
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Transport: &http.Transport{MaxIdleConnsPerHost: 5}, Timeout: 30 * time.Second},
	}
}

// ErrOptimisticResponse is returned when the consensus node marks a response
// execution_optimistic: true — treated as a protocol error per §7.
var ErrOptimisticResponse = fmt.Errorf("consensusclient: optimistic response rejected")

// SyncStatus mirrors /eth/v1/node/syncing.
type SyncStatus struct {
	IsSyncing    bool
	IsOptimistic bool
}

type syncStatusResponse struct {
	Data struct {
		IsSyncing    bool `json:"is_syncing"`
		IsOptimistic bool `json:"is_optimistic"`
	} `json:"data"`
}

// FetchSyncStatus fetches /eth/v1/node/syncing.
func (c *Client) FetchSyncStatus(ctx context.Context) (*SyncStatus, error) {
	var resp syncStatusResponse
	if err := c.getJSON(ctx, "/eth/v1/node/syncing", &resp); err != nil {
		return nil, err
	}
	return &SyncStatus{IsSyncing: resp.Data.IsSyncing, IsOptimistic: resp.Data.IsOptimistic}, nil
}

// FetchBeaconBlockByRoot fetches and decodes a full beacon block by root.
func (c *Client) FetchBeaconBlockByRoot(ctx context.Context, root common.Hash) (*mtypes.BeaconBlock, error) {
	return c.fetchBeaconBlock(ctx, root.Hex())
}

// FetchBeaconBlockBySlot fetches and decodes a full beacon block by slot.
func (c *Client) FetchBeaconBlockBySlot(ctx context.Context, slot uint64) (*mtypes.BeaconBlock, error) {
	return c.fetchBeaconBlock(ctx, strconv.FormatUint(slot, 10))
}

// FetchHeadBeaconBlock fetches and decodes the chain head, for diagnostic
// CLI subcommands that need a starting point without an active head stream.
func (c *Client) FetchHeadBeaconBlock(ctx context.Context) (*mtypes.BeaconBlock, error) {
	return c.fetchBeaconBlock(ctx, "head")
}

type beaconBlockResponse struct {
	ExecutionOptimistic bool `json:"execution_optimistic"`
	Data                struct {
		Root    string `json:"root"`
		Message struct {
			Slot          string `json:"slot"`
			ProposerIndex string `json:"proposer_index"`
			ParentRoot    string `json:"parent_root"`
			Body          struct {
				ExecutionPayload struct {
					BlockHash     string   `json:"block_hash"`
					BlockNumber   string   `json:"block_number"`
					GasLimit      string   `json:"gas_limit"`
					GasUsed       string   `json:"gas_used"`
					BaseFeePerGas string   `json:"base_fee_per_gas"`
					Transactions  []string `json:"transactions"` // each is 0x-prefixed RLP
				} `json:"execution_payload"`
			} `json:"body"`
		} `json:"message"`
	} `json:"data"`
}

func (c *Client) fetchBeaconBlock(ctx context.Context, idOrRoot string) (*mtypes.BeaconBlock, error) {
	var resp beaconBlockResponse
	path := fmt.Sprintf("/eth/v2/beacon/blocks/%s", idOrRoot)
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	if resp.ExecutionOptimistic {
		return nil, ErrOptimisticResponse
	}

	slot, err := strconv.ParseUint(resp.Data.Message.Slot, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("consensusclient: malformed slot: %w", err)
	}
	proposerIndex, err := strconv.ParseUint(resp.Data.Message.ProposerIndex, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("consensusclient: malformed proposer_index: %w", err)
	}
	gasLimit, err := strconv.ParseUint(resp.Data.Message.Body.ExecutionPayload.GasLimit, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("consensusclient: malformed gas_limit: %w", err)
	}
	gasUsed, err := strconv.ParseUint(resp.Data.Message.Body.ExecutionPayload.GasUsed, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("consensusclient: malformed gas_used: %w", err)
	}
	blockNumber, err := strconv.ParseUint(resp.Data.Message.Body.ExecutionPayload.BlockNumber, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("consensusclient: malformed block_number: %w", err)
	}
	baseFee, err := uint256.FromDecimal(resp.Data.Message.Body.ExecutionPayload.BaseFeePerGas)
	if err != nil {
		return nil, fmt.Errorf("consensusclient: malformed base_fee_per_gas: %w", err)
	}

	txs, err := decodeTransactions(resp.Data.Message.Body.ExecutionPayload.Transactions)
	if err != nil {
		return nil, fmt.Errorf("consensusclient: %w", err)
	}

	return &mtypes.BeaconBlock{
		Root:          common.HexToHash(resp.Data.Root),
		Slot:          slot,
		ProposerIndex: proposerIndex,
		ParentRoot:    common.HexToHash(resp.Data.Message.ParentRoot),
		ExecutionPayload: mtypes.ExecutionPayload{
			BlockHash:     common.HexToHash(resp.Data.Message.Body.ExecutionPayload.BlockHash),
			BlockNumber:   blockNumber,
			GasLimit:      gasLimit,
			GasUsed:       gasUsed,
			BaseFeePerGas: baseFee,
			Transactions:  txs,
		},
	}, nil
}

// decodeTransactions decodes each raw transaction (legacy RLP or EIP-2718
// typed envelope) and recomputes its hash from the canonical encoding,
// because some consensus client libraries leave the hash zeroed on decode
// (§9). A transaction that fails to decode is logged with its raw bytes and
// skipped.
func decodeTransactions(raw []string) ([]*mtypes.Transaction, error) {
	out := make([]*mtypes.Transaction, 0, len(raw))
	for i, rawHex := range raw {
		data := common.FromHex(rawHex)
		var tx types.Transaction
		if err := tx.UnmarshalBinary(data); err != nil {
			log.Warn("skipping undecodable block transaction", "index", i, "raw", rawHex, "err", err)
			continue
		}
		hash := crypto.Keccak256Hash(data)

		signer := types.LatestSignerForChainID(tx.ChainId())
		from, err := types.Sender(signer, &tx)
		fromOK := err == nil
		if err != nil {
			from = common.Address{}
		}

		mt := &mtypes.Transaction{
			Hash:   hash,
			From:   from,
			FromOK: fromOK,
			Nonce:  tx.Nonce(),
			Gas:    tx.Gas(),
			Type:   mtypes.TxType(tx.Type()),
		}

		switch mt.Type {
		case mtypes.TxTypeLegacy, mtypes.TxTypeAccessList:
			gp, overflow := uint256.FromBig(tx.GasPrice())
			if overflow {
				return nil, fmt.Errorf("transaction %d: gasPrice overflows uint256", i)
			}
			mt.GasPrice = gp
		case mtypes.TxTypeDynamicFee:
			feeCap, overflow := uint256.FromBig(tx.GasFeeCap())
			if overflow {
				return nil, fmt.Errorf("transaction %d: maxFeePerGas overflows uint256", i)
			}
			tipCap, overflow := uint256.FromBig(tx.GasTipCap())
			if overflow {
				return nil, fmt.Errorf("transaction %d: maxPriorityFeePerGas overflows uint256", i)
			}
			mt.GasFeeCap = feeCap
			mt.GasTipCap = tipCap
		}
		out = append(out, mt)
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, into interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("consensusclient: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("consensusclient: %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("consensusclient: %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("consensusclient: %s: decode response: %w", path, err)
	}
	return nil
}

// HeadEvent is a decoded /eth/v1/events?topics=head payload.
type HeadEvent struct {
	Slot  uint64
	Block common.Hash
}

type sseHeadData struct {
	Slot  string `json:"slot"`
	Block string `json:"block"`
}

// StreamHeadEvents opens an SSE connection and decodes `head` events until
// ctx is cancelled or the stream ends.
func (c *Client) StreamHeadEvents(ctx context.Context) (<-chan HeadEvent, <-chan error) {
	events := make(chan HeadEvent)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/eth/v1/events?topics=head", nil)
		if err != nil {
			errs <- fmt.Errorf("consensusclient: build sse request: %w", err)
			return
		}
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.http.Do(req)
		if err != nil {
			errs <- fmt.Errorf("consensusclient: sse connect: %w", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			errs <- fmt.Errorf("consensusclient: sse connect: unexpected status %d", resp.StatusCode)
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

		var eventName string
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event:"):
				eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if eventName != "head" {
					continue
				}
				var parsed sseHeadData
				if err := json.Unmarshal([]byte(data), &parsed); err != nil {
					errs <- fmt.Errorf("consensusclient: decode sse head event: %w", err)
					return
				}
				slot, err := strconv.ParseUint(parsed.Slot, 10, 64)
				if err != nil {
					errs <- fmt.Errorf("consensusclient: malformed sse slot: %w", err)
					return
				}
				select {
				case events <- HeadEvent{Slot: slot, Block: common.HexToHash(parsed.Block)}:
				case <-ctx.Done():
					return
				}
			case line == "":
				eventName = ""
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			errs <- fmt.Errorf("consensusclient: sse stream: %w", err)
		}
	}()

	return events, errs
}
