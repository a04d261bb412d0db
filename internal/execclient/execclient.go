// Package execclient implements the execution-node adapter: JSON-RPC over
// HTTP for point queries, and a WebSocket subscription for pending
// transaction hashes.
package execclient

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/rpc/v2/json2"
	"github.com/gorilla/websocket"
	"github.com/holiman/uint256"

	mtypes "github.com/ethcensor/monitor/internal/types"
)

// Client is a JSON-RPC execution-node client, shared immutably across
// watchers by request per §5.
type Client struct {
	httpURL string
	http    *http.Client
}

// New returns a client bound to httpURL with a connection pool bounded to 5
// idle connections per host, per §5's resource model.
func New(httpURL string) *Client {
	transport := &http.Transport{MaxIdleConnsPerHost: 5}
	return &Client{
		httpURL: httpURL,
		http:    &http.Client{Transport: transport, Timeout: 30 * time.Second},
	}
}

func (c *Client) call(ctx context.Context, method string, params interface{}, reply interface{}) error {
	body, err := json2.EncodeClientRequest(method, params)
	if err != nil {
		return fmt.Errorf("execclient: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.httpURL, newReader(body))
	if err != nil {
		return fmt.Errorf("execclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("execclient: %s: %w", method, err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("execclient: %s: unexpected status %d", method, resp.StatusCode)
	}
	if err := json2.DecodeClientResponse(resp.Body, reply); err != nil {
		return fmt.Errorf("execclient: %s: decode response: %w", method, err)
	}
	return nil
}

// GetTransactionCount implements noncecache.ExecutionClient.
func (c *Client) GetTransactionCount(ctx context.Context, address common.Address, blockHash common.Hash) (uint64, error) {
	var result string
	err := c.call(ctx, "eth_getTransactionCount", []interface{}{address.Hex(), map[string]string{"blockHash": blockHash.Hex()}}, &result)
	if err != nil {
		return 0, err
	}
	n, ok := new(big.Int).SetString(trimHexPrefix(result), 16)
	if !ok {
		return 0, fmt.Errorf("execclient: malformed nonce %q", result)
	}
	return n.Uint64(), nil
}

// BlockByNumber fetches a block by number. Only the header is decoded: the
// returned block carries no transactions. No command in this repository
// calls it; the check command walks blocks through the consensus client.
func (c *Client) BlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	var raw json.RawMessage
	hexNum := fmt.Sprintf("0x%x", number)
	if err := c.call(ctx, "eth_getBlockByNumber", []interface{}{hexNum, true}, &raw); err != nil {
		return nil, err
	}
	var head types.Header
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("execclient: decode block header: %w", err)
	}
	return types.NewBlockWithHeader(&head), nil
}

// GetTransactionByHash fetches a single transaction by hash, for the
// standalone check and check-gas diagnostic subcommands.
func (c *Client) GetTransactionByHash(ctx context.Context, hash common.Hash) (*mtypes.Transaction, error) {
	var raw rpcTransaction
	if err := c.call(ctx, "eth_getTransactionByHash", []interface{}{hash.Hex()}, &raw); err != nil {
		return nil, err
	}
	if raw.Hash == (common.Hash{}) {
		return nil, fmt.Errorf("execclient: transaction %s not found", hash)
	}
	return raw.toTransaction()
}

// TxpoolSnapshot is the decoded {pending, queued} shape returned by
// txpool_content.
type TxpoolSnapshot struct {
	Pending map[common.Hash]*mtypes.Transaction
	Queued  map[common.Hash]*mtypes.Transaction
}

type rpcTxpoolContent struct {
	Pending map[string]map[string]rpcTransaction `json:"pending"`
	Queued  map[string]map[string]rpcTransaction `json:"queued"`
}

type rpcTransaction struct {
	Hash                 common.Hash     `json:"hash"`
	From                 common.Address  `json:"from"`
	Nonce                string          `json:"nonce"`
	Gas                  string          `json:"gas"`
	Type                 string          `json:"type"`
	GasPrice             *string         `json:"gasPrice"`
	MaxFeePerGas         *string         `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *string         `json:"maxPriorityFeePerGas"`
}

func (r rpcTransaction) toTransaction() (*mtypes.Transaction, error) {
	nonce, err := parseHexUint64(r.Nonce)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	gas, err := parseHexUint64(r.Gas)
	if err != nil {
		return nil, fmt.Errorf("gas: %w", err)
	}
	txType, err := parseHexUint64(r.Type)
	if err != nil {
		return nil, fmt.Errorf("type: %w", err)
	}

	tx := &mtypes.Transaction{
		Hash:   r.Hash,
		From:   r.From,
		FromOK: true,
		Nonce:  nonce,
		Gas:    gas,
		Type:   mtypes.TxType(txType),
	}

	switch tx.Type {
	case mtypes.TxTypeLegacy, mtypes.TxTypeAccessList:
		if r.GasPrice == nil {
			return nil, mtypes.ErrMissingField
		}
		gp, err := parseHexUint256(*r.GasPrice)
		if err != nil {
			return nil, fmt.Errorf("gasPrice: %w", err)
		}
		tx.GasPrice = gp
	case mtypes.TxTypeDynamicFee:
		if r.MaxFeePerGas == nil || r.MaxPriorityFeePerGas == nil {
			return nil, mtypes.ErrMissingField
		}
		feeCap, err := parseHexUint256(*r.MaxFeePerGas)
		if err != nil {
			return nil, fmt.Errorf("maxFeePerGas: %w", err)
		}
		tipCap, err := parseHexUint256(*r.MaxPriorityFeePerGas)
		if err != nil {
			return nil, fmt.Errorf("maxPriorityFeePerGas: %w", err)
		}
		tx.GasFeeCap = feeCap
		tx.GasTipCap = tipCap
	default:
		return nil, mtypes.ErrUnsupportedType
	}
	return tx, nil
}

// TxpoolContent fetches the full pending+queued set from the execution
// node's txpool_content endpoint, decoding into Transaction bodies. A
// transaction that fails to decode is logged and dropped from the snapshot
// rather than aborting the whole fetch.
func (c *Client) TxpoolContent(ctx context.Context) (*TxpoolSnapshot, error) {
	var raw rpcTxpoolContent
	if err := c.call(ctx, "txpool_content", nil, &raw); err != nil {
		return nil, err
	}

	snapshot := &TxpoolSnapshot{
		Pending: make(map[common.Hash]*mtypes.Transaction),
		Queued:  make(map[common.Hash]*mtypes.Transaction),
	}
	decodeGroup := func(group map[string]map[string]rpcTransaction, into map[common.Hash]*mtypes.Transaction) {
		for sender, byNonce := range group {
			for _, raw := range byNonce {
				tx, err := raw.toTransaction()
				if err != nil {
					log.Warn("dropping undecodable txpool transaction", "sender", sender, "hash", raw.Hash, "err", err)
					continue
				}
				into[tx.Hash] = tx
			}
		}
	}
	decodeGroup(raw.Pending, snapshot.Pending)
	decodeGroup(raw.Queued, snapshot.Queued)
	return snapshot, nil
}

// Merged returns pending and queued combined into one map, the shape the
// pool's ObservePool wants.
func (s *TxpoolSnapshot) Merged() map[common.Hash]*mtypes.Transaction {
	out := make(map[common.Hash]*mtypes.Transaction, len(s.Pending)+len(s.Queued))
	for h, tx := range s.Pending {
		out[h] = tx
	}
	for h, tx := range s.Queued {
		out[h] = tx
	}
	return out
}

// WSSubscriber subscribes to newPendingTransactions over a WebSocket
// connection, yielding raw tx hashes.
type WSSubscriber struct {
	url string
}

// NewWSSubscriber returns a subscriber for the given WebSocket URL.
func NewWSSubscriber(url string) *WSSubscriber {
	return &WSSubscriber{url: url}
}

type wsSubscribeRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type wsNotification struct {
	Method string `json:"method"`
	Params struct {
		Result common.Hash `json:"result"`
	} `json:"params"`
}

// Subscribe opens a WebSocket connection and streams pending tx hashes onto
// the returned channel until ctx is cancelled or the stream ends, at which
// point the channel is closed and the error (nil on clean shutdown) is
// returned from the accompanying error channel.
func (w *WSSubscriber) Subscribe(ctx context.Context) (<-chan common.Hash, <-chan error) {
	hashes := make(chan common.Hash)
	errs := make(chan error, 1)

	go func() {
		defer close(hashes)
		defer close(errs)

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
		if err != nil {
			errs <- fmt.Errorf("execclient: dial %s: %w", w.url, err)
			return
		}
		defer conn.Close()

		req := wsSubscribeRequest{JSONRPC: "2.0", ID: 1, Method: "eth_subscribe", Params: []interface{}{"newPendingTransactions"}}
		if err := conn.WriteJSON(req); err != nil {
			errs <- fmt.Errorf("execclient: subscribe %s: %w", w.url, err)
			return
		}

		go func() {
			<-ctx.Done()
			conn.Close()
		}()

		// First message is the subscription ack; skip it.
		var ack json.RawMessage
		if err := conn.ReadJSON(&ack); err != nil {
			errs <- fmt.Errorf("execclient: subscribe ack %s: %w", w.url, err)
			return
		}

		for {
			var note wsNotification
			if err := conn.ReadJSON(&note); err != nil {
				if ctx.Err() != nil {
					return
				}
				errs <- fmt.Errorf("execclient: ws read %s: %w", w.url, err)
				return
			}
			select {
			case hashes <- note.Params.Result:
			case <-ctx.Done():
				return
			}
		}
	}()

	return hashes, errs
}

func parseHexUint64(s string) (uint64, error) {
	n, ok := new(big.Int).SetString(trimHexPrefix(s), 16)
	if !ok {
		return 0, fmt.Errorf("malformed hex integer %q", s)
	}
	return n.Uint64(), nil
}

func parseHexUint256(s string) (*uint256.Int, error) {
	n, ok := new(big.Int).SetString(trimHexPrefix(s), 16)
	if !ok {
		return nil, fmt.Errorf("malformed hex integer %q", s)
	}
	u, overflow := uint256.FromBig(n)
	if overflow {
		return nil, fmt.Errorf("hex integer %q overflows uint256", s)
	}
	return u, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
