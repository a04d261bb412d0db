// Package metrics wires up the Prometheus registry exposed at /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethcensor/monitor/internal/types"
)

const namespace = "monitor"

// Registry is the monitor's Prometheus metrics registry. It implements the
// Metrics interfaces expected by internal/coordinator and internal/ingest.
type Registry struct {
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer

	poolSize         prometheus.Gauge
	headHistoryLen   prometheus.Gauge
	nonceCacheSize   prometheus.Gauge
	channelFillRatio prometheus.Gauge
	blocksSeen       prometheus.Counter

	pendingTxSeen    *prometheus.CounterVec
	pendingTxDropped *prometheus.CounterVec

	fetchBlockDuration prometheus.Histogram
	fetchPoolDuration  prometheus.Histogram
	analysisDuration   prometheus.Histogram

	reasonCounts *prometheus.CounterVec
}

// New constructs a Registry backed by a fresh, unshared Prometheus registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		registerer: reg,
		gatherer:   reg,

		poolSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_size", Help: "Number of transactions currently tracked by the observation pool.",
		}),
		headHistoryLen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "head_history_length", Help: "Number of retained head observations.",
		}),
		nonceCacheSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "nonce_cache_size", Help: "Number of entries in the nonce cache.",
		}),
		channelFillRatio: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "event_channel_fill_ratio", Help: "Fraction of the event channel's capacity currently in use.",
		}),
		blocksSeen: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "blocks_seen_total", Help: "Number of beacon blocks observed.",
		}),
		pendingTxSeen: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pending_tx_seen_total", Help: "Pending transaction hashes observed, per source node.",
		}, []string{"node"}),
		pendingTxDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pending_tx_dropped_total", Help: "Pending transaction hashes dropped due to channel backpressure, per source node.",
		}, []string{"node"}),
		fetchBlockDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "fetch_block_duration_seconds", Help: "Time spent fetching a full beacon block.",
		}),
		fetchPoolDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "fetch_pool_duration_seconds", Help: "Time spent fetching a txpool snapshot.",
		}),
		analysisDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "analysis_duration_seconds", Help: "Time spent analyzing one beacon block.",
		}),
		reasonCounts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "transactions_total", Help: "Transactions classified, per outcome bucket.",
		}, []string{"reason"}),
	}
}

// Gatherer exposes the underlying Prometheus gatherer for the /metrics
// HTTP handler.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.gatherer }

func (r *Registry) SetPoolSize(n int)       { r.poolSize.Set(float64(n)) }
func (r *Registry) SetHeadHistoryLen(n int) { r.headHistoryLen.Set(float64(n)) }
func (r *Registry) SetNonceCacheSize(n int) { r.nonceCacheSize.Set(float64(n)) }
func (r *Registry) IncBlocksSeen()          { r.blocksSeen.Inc() }

func (r *Registry) SetChannelFillRatio(ratio float64) { r.channelFillRatio.Set(ratio) }

func (r *Registry) IncPendingTxSeen(node types.NodeID) {
	r.pendingTxSeen.WithLabelValues(nodeLabel(node)).Inc()
}

func (r *Registry) IncPendingTxDropped(node types.NodeID) {
	r.pendingTxDropped.WithLabelValues(nodeLabel(node)).Inc()
}

func (r *Registry) ObserveFetchBlockDuration(d time.Duration) {
	r.fetchBlockDuration.Observe(d.Seconds())
}

func (r *Registry) ObserveFetchPoolDuration(d time.Duration) {
	r.fetchPoolDuration.Observe(d.Seconds())
}

func (r *Registry) ObserveAnalysisDuration(d time.Duration) {
	r.analysisDuration.Observe(d.Seconds())
}

func (r *Registry) IncReasonCount(reason types.Reason, n int) {
	if n <= 0 {
		return
	}
	r.reasonCounts.WithLabelValues(string(reason)).Add(float64(n))
}

func nodeLabel(node types.NodeID) string {
	return strconv.Itoa(int(node))
}
