package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stratumhq/stratum/internal/config"
	"github.com/stratumhq/stratum/internal/worker"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume ingested logs and persist them to the columnar and vector stores",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			return runWorker(cfg, logger)
		},
	}
}

func runWorker(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	in, err := connectInfra(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("connect infra: %w", err)
	}
	defer in.Close()

	w := worker.New(in.bus, in.columnar, in.vectors, in.embedder, in.metrics, logger, streamName, workerDurable)
	logger.Info("stratum worker starting", "durable", workerDurable)
	return w.Run(ctx)
}
