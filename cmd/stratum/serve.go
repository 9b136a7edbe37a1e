package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stratumhq/stratum/internal/anomaly"
	"github.com/stratumhq/stratum/internal/apierr"
	"github.com/stratumhq/stratum/internal/config"
	"github.com/stratumhq/stratum/internal/httpapi"
	"github.com/stratumhq/stratum/internal/metrics"
	"github.com/stratumhq/stratum/internal/mid"
	"github.com/stratumhq/stratum/internal/parser"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion and query HTTP API, plus the anomaly scan loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			return runServe(cfg, logger)
		},
	}
}

func runServe(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	in, err := connectInfra(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("connect infra: %w", err)
	}
	defer in.Close()

	anomalyEngine := anomaly.New(in.columnar, in.metrics, logger)
	go anomalyEngine.Run(ctx)

	ingestor := httpapi.NewIngestor(&busPublisher{b: in.bus}, parser.NewRegistry(), in.metrics, logger)
	ragSvc := newRAGService(in, logger)
	queryAPI := httpapi.NewQueryAPI(in.columnar, in.vectors, in.embedder, in.columnar, in.vectors, ragSvc, anomalyEngine, in.metrics)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /api/logs", ingestor.HandleLogs)
	mux.HandleFunc("POST /api/logs/raw", ingestor.HandleLogsRaw)
	mux.HandleFunc("GET /api/logs/recent", queryAPI.HandleRecent)
	mux.HandleFunc("GET /api/search", queryAPI.HandleSearch)
	mux.HandleFunc("POST /api/chat", queryAPI.HandleChat)
	mux.HandleFunc("GET /api/ask", queryAPI.HandleAsk)
	mux.HandleFunc("GET /api/stats", queryAPI.HandleStats)
	mux.HandleFunc("GET /api/services", queryAPI.HandleServices)
	mux.HandleFunc("GET /api/anomalies", queryAPI.HandleAnomalies)

	var handler http.Handler = mux
	if cfg.AuthEnabled() {
		handler = apiKeyAuth(cfg.APIKey, handler)
	}
	handler = mid.Chain(handler,
		mid.Recover(logger),
		mid.Logger(logger, in.metrics),
		mid.CORS("*"),
		mid.OTel("stratum-api"),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("stratum api starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// apiKeyAuth enforces the optional §4.2/§7 API-key gate, checked on
// every request except the unauthenticated health and metrics probes.
func apiKeyAuth(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("X-API-Key") != apiKey {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":  string(apierr.AuthRequired),
				"detail": "missing or invalid X-API-Key",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
