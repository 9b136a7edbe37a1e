package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/stratumhq/stratum/internal/columnar"
	"github.com/stratumhq/stratum/internal/config"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Bootstrap the columnar store schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			pool, err := pgxpool.New(ctx, cfg.ColumnarURL)
			if err != nil {
				return fmt.Errorf("connect columnar store: %w", err)
			}
			defer pool.Close()

			store := columnar.New(pool)
			if err := store.Bootstrap(ctx); err != nil {
				return fmt.Errorf("bootstrap columnar schema: %w", err)
			}

			logger.Info("columnar schema bootstrapped")
			return nil
		},
	}
}
