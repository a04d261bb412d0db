package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/ethcensor/monitor/internal/execclient"
)

var compareProvidersCommand = &cli.Command{
	Name:  "compare-providers",
	Usage: "compare pending-transaction overlap across the configured WS sources for a fixed window",
	Flags: []cli.Flag{
		&cli.DurationFlag{Name: "duration", Value: 30 * time.Second, Usage: "how long to sample each source"},
	},
	Action: compareProvidersAction,
}

func compareProvidersAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("compare-providers: %w", err)
	}

	urls := cfg.ExecutionWSURLs()
	if len(urls) < 2 {
		return fmt.Errorf("compare-providers: need at least two execution_ws_urls configured")
	}

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("duration"))
	defer cancel()

	seen := make([]map[common.Hash]struct{}, len(urls))
	var wg sync.WaitGroup
	for i, url := range urls {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			seen[i] = collectHashes(ctx, url)
		}(i, url)
	}
	wg.Wait()

	union := make(map[common.Hash]int)
	for _, set := range seen {
		for h := range set {
			union[h]++
		}
	}

	allCount, anyCount := 0, len(union)
	for _, count := range union {
		if count == len(urls) {
			allCount++
		}
	}

	for i, url := range urls {
		log.Info("provider sample", "url", url, "hashes_seen", len(seen[i]))
	}
	log.Info("overlap summary", "seen_by_all", allCount, "seen_by_any", anyCount, "providers", len(urls))
	return nil
}

func collectHashes(ctx context.Context, url string) map[common.Hash]struct{} {
	sub := execclient.NewWSSubscriber(url)
	hashes, _ := sub.Subscribe(ctx)

	out := make(map[common.Hash]struct{})
	for {
		select {
		case <-ctx.Done():
			return out
		case h, ok := <-hashes:
			if !ok {
				return out
			}
			out[h] = struct{}{}
		}
	}
}
