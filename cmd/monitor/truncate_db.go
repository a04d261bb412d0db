package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/ethcensor/monitor/internal/storage"
)

var truncateDBCommand = &cli.Command{
	Name:   "truncate-db",
	Usage:  "delete all persisted rows",
	Action: truncateDBAction,
}

func truncateDBAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("truncate-db: %w", err)
	}

	store, err := storage.Open(c.Context, cfg.DBConnection)
	if err != nil {
		return fmt.Errorf("truncate-db: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(c.Context); err != nil {
		return fmt.Errorf("truncate-db: %w", err)
	}
	if err := store.Truncate(c.Context); err != nil {
		return fmt.Errorf("truncate-db: %w", err)
	}
	return nil
}
