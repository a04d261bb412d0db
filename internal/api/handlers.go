// Package api serves the read-only HTTP query endpoints over persisted
// analyses: /v0/misses, /v0/txs, /v0/blocks.
package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Server serves the read-only query API.
type Server struct {
	pool    *pgxpool.Pool
	maxRows int
}

// NewServer constructs a Server backed by pool, capping every response at
// maxRows items.
func NewServer(pool *pgxpool.Pool, maxRows int) *Server {
	return &Server{pool: pool, maxRows: maxRows}
}

// Router builds the mux.Router exposing the three /v0 endpoints.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v0/misses", s.handleMisses).Methods(http.MethodGet)
	r.HandleFunc("/v0/txs", s.handleTxs).Methods(http.MethodGet)
	r.HandleFunc("/v0/blocks", s.handleBlocks).Methods(http.MethodGet)
	return r
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("api: failed to encode response", "err", err)
	}
}

// missView is one row of the /v0/misses response.
type missView struct {
	TxHash          string `json:"tx_hash"`
	TxFirstSeen     int64  `json:"tx_first_seen"`
	TxQuorumReached int64  `json:"tx_quorum_reached"`
	Sender          string `json:"sender"`
	BlockHash       string `json:"block_hash"`
	Slot            int64  `json:"slot"`
	BlockNumber     int64  `json:"block_number"`
	ProposalTime    int64  `json:"proposal_time"`
	ProposerIndex   int64  `json:"proposer_index"`
	Tip             *int64 `json:"tip"`
}

func toMissView(m miss) missView {
	return missView{
		TxHash:          m.TxHash,
		TxFirstSeen:     m.TxFirstSeen.Unix(),
		TxQuorumReached: m.TxQuorumReached.Unix(),
		Sender:          m.Sender,
		BlockHash:       m.BlockHash,
		Slot:            m.Slot,
		BlockNumber:     m.BlockNumber,
		ProposalTime:    m.ProposalTime.Unix(),
		ProposerIndex:   m.ProposerIndex,
		Tip:             m.Tip,
	}
}

// itemizedResponse is the envelope shared by every endpoint: items plus the
// time range they cover, and — when the result was capped — a resumption
// bound for the next request.
type itemizedResponse[T any] struct {
	Items    []T    `json:"items"`
	From     *int64 `json:"from"`
	To       *int64 `json:"to"`
	Complete bool   `json:"complete"`
	NextFrom *int64 `json:"next_from,omitempty"`
	NextTo   *int64 `json:"next_to,omitempty"`
}

func newItemizedResponse[T any](items []T, dataRange *[2]time.Time, queryFrom, queryTo *time.Time, complete bool, ascending bool, cursor *time.Time) itemizedResponse[T] {
	resp := itemizedResponse[T]{Items: items, Complete: complete}
	if dataRange != nil {
		from, to := dataRange[0].Unix(), dataRange[1].Unix()
		resp.From, resp.To = &from, &to
	} else {
		if queryFrom != nil {
			from := queryFrom.Unix()
			resp.From = &from
		}
		if queryTo != nil {
			to := queryTo.Unix()
			resp.To = &to
		}
	}
	if !complete && cursor != nil {
		next := cursor.Unix()
		if ascending {
			resp.NextFrom = &next
		} else {
			resp.NextTo = &next
		}
	}
	return resp
}

// fetchMisses runs the shared query, applying the limit+1 truncation-detection
// trick, and returns the page plus whether it was complete and the cursor for
// resuming (the proposal_time of the first row dropped).
func (s *Server) fetchMisses(w http.ResponseWriter, r *http.Request) (misses []miss, p params, complete bool, cursor *time.Time, ok bool) {
	p, err := parseParams(r.URL.Query())
	if err != nil {
		writeRequestError(w, err)
		return nil, params{}, false, nil, false
	}

	rows, err := queryMisses(r.Context(), s.pool, p, s.maxRows)
	if err != nil {
		log.Error("api: query failed", "err", err)
		writeInternalError(w)
		return nil, params{}, false, nil, false
	}

	complete = len(rows) <= s.maxRows
	if !complete {
		cursor = &rows[s.maxRows].ProposalTime
		rows = rows[:s.maxRows]
	}
	return rows, p, complete, cursor, true
}

func missDataRange(misses []miss) *[2]time.Time {
	if len(misses) == 0 {
		return nil
	}
	first, last := misses[0].ProposalTime, misses[len(misses)-1].ProposalTime
	if first.After(last) {
		first, last = last, first
	}
	return &[2]time.Time{first, last}
}

func (s *Server) handleMisses(w http.ResponseWriter, r *http.Request) {
	misses, p, complete, cursor, ok := s.fetchMisses(w, r)
	if !ok {
		return
	}

	views := make([]missView, 0, len(misses))
	for _, m := range misses {
		views = append(views, toMissView(m))
	}

	resp := newItemizedResponse(views, missDataRange(misses), p.from, p.to, complete, p.ascending, cursor)
	writeJSON(w, resp)
}

// txView groups every miss for one transaction across the blocks that missed it.
type txView struct {
	TxHash          string          `json:"tx_hash"`
	TxFirstSeen     int64           `json:"tx_first_seen"`
	TxQuorumReached int64           `json:"tx_quorum_reached"`
	Sender          string          `json:"sender"`
	NumMisses       int             `json:"num_misses"`
	Blocks          []txViewMissRef `json:"blocks"`
}

type txViewMissRef struct {
	BlockHash     string `json:"block_hash"`
	Slot          int64  `json:"slot"`
	BlockNumber   int64  `json:"block_number"`
	ProposalTime  int64  `json:"proposal_time"`
	ProposerIndex int64  `json:"proposer_index"`
	Tip           *int64 `json:"tip"`
}

func groupByTx(misses []miss) []txView {
	byHash := make(map[string]*txView)
	var order []string
	for _, m := range misses {
		tv, ok := byHash[m.TxHash]
		if !ok {
			tv = &txView{
				TxHash:          m.TxHash,
				TxFirstSeen:     m.TxFirstSeen.Unix(),
				TxQuorumReached: m.TxQuorumReached.Unix(),
				Sender:          m.Sender,
			}
			byHash[m.TxHash] = tv
			order = append(order, m.TxHash)
		}
		tv.NumMisses++
		tv.Blocks = append(tv.Blocks, txViewMissRef{
			BlockHash:     m.BlockHash,
			Slot:          m.Slot,
			BlockNumber:   m.BlockNumber,
			ProposalTime:  m.ProposalTime.Unix(),
			ProposerIndex: m.ProposerIndex,
			Tip:           m.Tip,
		})
	}

	out := make([]txView, 0, len(order))
	for _, hash := range order {
		out = append(out, *byHash[hash])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Blocks[0].ProposalTime < out[j].Blocks[0].ProposalTime })
	return out
}

func (s *Server) handleTxs(w http.ResponseWriter, r *http.Request) {
	misses, p, complete, cursor, ok := s.fetchMisses(w, r)
	if !ok {
		return
	}

	txs := groupByTx(misses)
	if p.minNumMisses != nil {
		filtered := txs[:0]
		for _, tx := range txs {
			if int64(tx.NumMisses) >= *p.minNumMisses {
				filtered = append(filtered, tx)
			}
		}
		txs = filtered
	}
	if !p.ascending {
		slices.Reverse(txs)
	}

	resp := newItemizedResponse(txs, missDataRange(misses), p.from, p.to, complete, p.ascending, cursor)
	writeJSON(w, resp)
}

// blockView groups every miss for one beacon block.
type blockView struct {
	BlockHash     string             `json:"block_hash"`
	Slot          int64              `json:"slot"`
	BlockNumber   int64              `json:"block_number"`
	ProposalTime  int64              `json:"proposal_time"`
	ProposerIndex int64              `json:"proposer_index"`
	NumMisses     int                `json:"num_misses"`
	Txs           []blockViewMissRef `json:"txs"`
}

type blockViewMissRef struct {
	TxHash          string `json:"tx_hash"`
	TxFirstSeen     int64  `json:"tx_first_seen"`
	TxQuorumReached int64  `json:"tx_quorum_reached"`
	Sender          string `json:"sender"`
	Tip             *int64 `json:"tip"`
}

func groupByBlock(misses []miss) []blockView {
	byHash := make(map[string]*blockView)
	var order []string
	for _, m := range misses {
		bv, ok := byHash[m.BlockHash]
		if !ok {
			bv = &blockView{
				BlockHash:     m.BlockHash,
				Slot:          m.Slot,
				BlockNumber:   m.BlockNumber,
				ProposalTime:  m.ProposalTime.Unix(),
				ProposerIndex: m.ProposerIndex,
			}
			byHash[m.BlockHash] = bv
			order = append(order, m.BlockHash)
		}
		bv.NumMisses++
		bv.Txs = append(bv.Txs, blockViewMissRef{
			TxHash:          m.TxHash,
			TxFirstSeen:     m.TxFirstSeen.Unix(),
			TxQuorumReached: m.TxQuorumReached.Unix(),
			Sender:          m.Sender,
			Tip:             m.Tip,
		})
	}

	out := make([]blockView, 0, len(order))
	for _, hash := range order {
		out = append(out, *byHash[hash])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProposalTime < out[j].ProposalTime })
	return out
}

func (s *Server) handleBlocks(w http.ResponseWriter, r *http.Request) {
	misses, p, complete, cursor, ok := s.fetchMisses(w, r)
	if !ok {
		return
	}

	blocks := groupByBlock(misses)
	if p.minNumMisses != nil {
		filtered := blocks[:0]
		for _, b := range blocks {
			if int64(b.NumMisses) >= *p.minNumMisses {
				filtered = append(filtered, b)
			}
		}
		blocks = filtered
	}
	if !p.ascending {
		slices.Reverse(blocks)
	}

	resp := newItemizedResponse(blocks, missDataRange(misses), p.from, p.to, complete, p.ascending, cursor)
	writeJSON(w, resp)
}
