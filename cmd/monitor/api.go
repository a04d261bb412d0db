package main

import (
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/ethcensor/monitor/internal/api"
	"github.com/ethcensor/monitor/internal/logging"
)

var apiCommand = &cli.Command{
	Name:   "api",
	Usage:  "serve the read-only query API",
	Action: apiAction,
}

func apiAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if _, err := logging.Setup(cfg.Log); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	pool, err := pgxpool.New(c.Context, cfg.APIDBConnection)
	if err != nil {
		return fmt.Errorf("api: connect: %w", err)
	}
	defer pool.Close()

	server := api.NewServer(pool, cfg.APIMaxResponseRows)
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	log.Info("serving query api", "addr", addr)
	return http.ListenAndServe(addr, server.Router())
}
