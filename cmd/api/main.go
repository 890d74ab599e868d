// Command api starts the query API.
//
// It serves paged reads of unified records from PostgreSQL through a Redis
// query cache, run statistics and health, publishes sweep triggers to Kafka
// and runs manual CSV uploads in-process. A Kafka consumer on the run-events
// topic drops cached pages whenever an ingestion run succeeds.
//
// Usage:
//
//	go run ./cmd/api [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/api/cache"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/api/handler"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/api/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/api/router"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/etl"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/redis"
)

// cacheInvalidationGroup is distinct from the ingestor's group so every API
// instance sees every run event.
const cacheInvalidationGroup = "api-cache-invalidation"

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting api service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	st := store.New(db)
	if err := st.EnsureSchema(ctx); err != nil {
		slog.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(st.Ping))

	m := metrics.NewWithRuntime()

	// Redis is optional: without it reads go straight to PostgreSQL.
	var qc *cache.QueryCache
	rdb, err := redis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, query cache disabled", "error", err)
	} else {
		defer rdb.Close()
		qc = cache.New(rdb, cfg.Redis.CacheTTL, m)
		checker.Register("redis", health.PingCheck(rdb.Ping))
	}

	triggers := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Triggers)
	defer triggers.Close()
	events := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.RunEvents)
	defer events.Close()

	orch := etl.NewOrchestrator(st,
		etl.WithMetrics(m),
		etl.WithNotifier(etl.NewKafkaNotifier(events)),
		etl.WithExtractTimeout(cfg.ETL.ExtractTimeout),
	)

	if qc != nil {
		invalidator := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.RunEvents, cacheInvalidationGroup, invalidateOnSuccess(qc))
		go func() {
			if err := invalidator.Start(ctx); err != nil {
				slog.Error("run-event consumer error", "error", err)
			}
		}()
	}

	limiter := ratelimit.New(cfg.API.RateLimit, cfg.API.RateWindow)
	defer limiter.Stop()

	h := handler.New(handler.Config{
		DefaultLimit: cfg.API.DefaultLimit,
		MaxLimit:     cfg.API.MaxLimit,
		UploadDir:    cfg.ETL.UploadDir,
	}, st, qc, orch, etl.NewTriggerPublisher(triggers))

	chain := router.New(h, router.Options{
		Limiter: limiter,
		APIKey:  cfg.API.APIKey,
		Metrics: m,
		Health:  checker,

		RequestTimeout: cfg.API.RequestTimeout,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("api service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("api service stopped")
}

func invalidateOnSuccess(qc *cache.QueryCache) kafka.MessageHandler {
	return func(ctx context.Context, key, value []byte) error {
		ev, err := kafka.DecodeJSON[etl.RunEvent](value)
		if err != nil {
			return err
		}
		if ev.Status != etl.RunSuccess {
			return nil
		}
		slog.Debug("run succeeded, invalidating cache", "run_id", ev.RunID, "source", ev.Source)
		return qc.Invalidate(ctx)
	}
}
