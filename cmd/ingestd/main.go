package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/amberdash/ingestd/internal/api"
	"github.com/amberdash/ingestd/internal/checkpoint"
	"github.com/amberdash/ingestd/internal/circuitbreaker"
	"github.com/amberdash/ingestd/internal/config"
	"github.com/amberdash/ingestd/internal/embed"
	"github.com/amberdash/ingestd/internal/ingest"
	"github.com/amberdash/ingestd/internal/metrics"
	"github.com/amberdash/ingestd/internal/platform"
	"github.com/amberdash/ingestd/internal/ratelimit"
	"github.com/amberdash/ingestd/internal/retryhttp"
	"github.com/amberdash/ingestd/internal/storage"
)

func main() {
	cfg := config.Load()

	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to PostgreSQL
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	if err := storage.RunMigrations(ctx, pool); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("migrations complete")

	// Checkpoint backend
	var checkpoints checkpoint.Store
	switch cfg.CheckpointBackend {
	case "file":
		fs, err := checkpoint.NewFileStore(cfg.CheckpointDir)
		if err != nil {
			logger.Error("failed to open checkpoint dir", "dir", cfg.CheckpointDir, "error", err)
			os.Exit(1)
		}
		checkpoints = fs
	default:
		checkpoints = checkpoint.NewPostgresStore(pool)
	}
	logger.Info("checkpoint store ready", "backend", cfg.CheckpointBackend)

	breakers := circuitbreaker.NewRegistry(cfg.FailureThreshold, cfg.BreakerCooldown)
	prometheus.MustRegister(
		metrics.NewBreakerCollector(breakers),
		metrics.NewPoolCollector(pool),
	)

	posts := storage.NewPostStore(pool, cfg.HTTPTimeout)
	orchestrator := ingest.NewOrchestrator(checkpoints, posts, breakers, logger)

	httpClient := retryhttp.New(cfg.MaxRetries, cfg.RetryBaseDelay, cfg.RetryMaxDelay, cfg.HTTPTimeout)
	httpClient.OnRetry(retryhttp.ObserverFunc(func(attempt int, delay time.Duration, err error) {
		logger.Warn("outbound request retrying", "attempt", attempt, "delay", delay, "error", err)
	}))

	streams := buildStreams(cfg, httpClient)
	logger.Info("streams configured", "count", len(streams))

	opts := ingest.Options{DryRun: cfg.IngestDryRun, Limit: cfg.IngestLimit}
	if cfg.IngestEnabled {
		sweeper := ingest.NewSweeper(orchestrator, streams, cfg.IngestInterval, opts, logger)
		go sweeper.Start(ctx)
	} else {
		logger.Info("background ingestion disabled, manual runs only")
	}

	issuer, err := embed.NewIssuer(cfg.EmbedSigningKey, cfg.EmbedTokenTTL)
	if err != nil {
		logger.Error("embed token issuer misconfigured", "error", err)
		os.Exit(1)
	}

	handler := api.NewServer(api.Deps{
		Logger:       logger,
		Orchestrator: orchestrator,
		Streams:      streams,
		Breakers:     breakers,
		Issuer:       issuer,
		Limiter:      ratelimit.New(cfg.EmbedRateLimit, cfg.EmbedRateWindow),
		Counter:      posts,
		Backends:     map[string]api.Pinger{"postgres": pool},
		APIKeys:      cfg.EmbedAPIKeys,
		IngestOpts:   opts,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down...")

	// Cancel context to stop the sweeper
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}

// buildStreams turns configured handles and pages into ingestion streams.
// All streams on one platform share a circuit breaker dependency.
func buildStreams(cfg config.Config, client *retryhttp.Client) []ingest.Stream {
	var streams []ingest.Stream
	if cfg.XBearerToken != "" {
		for _, handle := range cfg.XHandles {
			streams = append(streams, ingest.Stream{
				Key:        "x:" + handle,
				Dependency: "x_api",
				Fetcher:    platform.NewXTimeline(client, "", cfg.XBearerToken, handle),
			})
		}
	}
	if cfg.FacebookAccessToken != "" {
		for _, page := range cfg.FacebookPages {
			streams = append(streams, ingest.Stream{
				Key:        "facebook:" + page,
				Dependency: "facebook_api",
				Fetcher:    platform.NewFacebookPosts(client, "", cfg.FacebookAccessToken, page),
			})
		}
	}
	for _, query := range cfg.NewsQueries {
		streams = append(streams, ingest.Stream{
			Key:        "news:" + query,
			Dependency: "google_news",
			Fetcher:    platform.NewNewsSearch(client, "", query, cfg.NewsLanguage),
		})
	}
	return streams
}
