package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/ethcensor/monitor/internal/config"
	"github.com/ethcensor/monitor/internal/consensusclient"
	"github.com/ethcensor/monitor/internal/coordinator"
	"github.com/ethcensor/monitor/internal/execclient"
	"github.com/ethcensor/monitor/internal/headhistory"
	"github.com/ethcensor/monitor/internal/ingest"
	"github.com/ethcensor/monitor/internal/logging"
	"github.com/ethcensor/monitor/internal/metrics"
	"github.com/ethcensor/monitor/internal/noncecache"
	"github.com/ethcensor/monitor/internal/pool"
	"github.com/ethcensor/monitor/internal/storage"
	"github.com/ethcensor/monitor/internal/types"
)

// eventQueueSize is the bound on the coordinator's event channel, per §5.
const eventQueueSize = 128

var runCommand = &cli.Command{
	Name:   "run",
	Usage:  "run the mempool-censorship monitoring pipeline",
	Action: runAction,
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	if _, err := logging.Setup(cfg.Log); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	reg := metrics.New()

	nonceClient := execclient.New(cfg.ExecutionHTTPURL)
	nonces, err := noncecache.New(nonceClient, cfg.NonceCacheSize)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	p := pool.New()
	heads := headhistory.New()

	wsURLs := cfg.ExecutionWSURLs()
	quorum := cfg.Quorum()
	propagationTime := time.Duration(cfg.PropagationTime) * time.Second

	events := make(chan coordinator.Event, eventQueueSize)
	analyses := make(chan *types.Analysis, eventQueueSize)

	coord := coordinator.New(p, heads, nonces, quorum, propagationTime, events, analyses, reg)
	consensus := consensusclient.New(cfg.ConsensusHTTPURL)
	txpoolClient := execclient.New(cfg.ExecutionHTTPURL)

	if cfg.SyncCheckEnabled {
		status, err := consensus.FetchSyncStatus(ctx)
		if err != nil {
			return fmt.Errorf("run: checking consensus sync status: %w", err)
		}
		if status.IsSyncing || status.IsOptimistic {
			return fmt.Errorf("run: consensus node is syncing or optimistic, refusing to start")
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	for i, url := range wsURLs {
		node, wsURL := types.NodeID(i), url
		sub := execclient.NewWSSubscriber(wsURL)
		g.Go(func() error {
			return ingest.WatchTransactions(ctx, node, sub, events, reg)
		})
	}

	g.Go(func() error {
		return ingest.WatchHead(ctx, consensus, consensus, txpoolClient, events, reg)
	})

	g.Go(func() error {
		return coord.Run(ctx)
	})

	if cfg.DBEnabled {
		store, err := storage.Open(ctx, cfg.DBConnection)
		if err != nil {
			return fmt.Errorf("run: %w", err)
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("run: %w", err)
		}
		g.Go(func() error {
			return store.Run(ctx, analyses)
		})
	} else {
		g.Go(func() error {
			return drainAnalyses(ctx, analyses)
		})
	}

	g.Go(func() error {
		return serveMetrics(ctx, cfg, reg)
	})

	return g.Wait()
}

// drainAnalyses discards analyses when persistence is disabled, still
// logging each one so `run` without a database remains observable.
func drainAnalyses(ctx context.Context, analyses <-chan *types.Analysis) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case a, ok := <-analyses:
			if !ok {
				return nil
			}
			log.Info("analysis complete", "block", a.Block.Root, "slot", a.Block.Slot, "misses", len(a.Misses))
		}
	}
}

func serveMetrics(ctx context.Context, cfg *config.Config, reg *metrics.Registry) error {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg.Gatherer(), promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: cfg.MetricsEndpoint, Handler: r}
	errs := make(chan error, 1)
	go func() { errs <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errs:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	}
}
