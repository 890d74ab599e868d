// Command ingestor runs the incremental ETL worker.
//
// Every sweep interval it runs all enabled extractors under one batch id,
// and it also sweeps on demand when a TriggerEvent arrives on the Kafka
// triggers topic. Sweeps in one process never overlap. Run outcomes are
// published as RunEvents so the query API can invalidate its cache.
//
// Usage:
//
//	go run ./cmd/ingestor [-config configs/development.yaml] [-once]
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
	"time"

	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/etl"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/sources"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/postgres"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting ingestor",
		"sources", cfg.ETL.EnabledSources,
		"sweep_interval", cfg.ETL.SweepInterval,
		"once", *once,
	)

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

	m := metrics.NewWithRuntime()
	extractors, err := sources.Build(cfg.ETL, m)
	if err != nil {
		slog.Error("failed to build extractors", "error", err)
		os.Exit(1)
	}

	events := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.RunEvents)
	defer events.Close()

	orch := etl.NewOrchestrator(st,
		etl.WithMetrics(m),
		etl.WithNotifier(etl.NewKafkaNotifier(events)),
		etl.WithExtractTimeout(cfg.ETL.ExtractTimeout),
	)
	sweeper := etl.NewSweeper(orch, extractors...)

	if *once {
		report, err := sweeper.Sweep(ctx)
		logReport(report)
		if err != nil {
			slog.Error("sweep failed", "error", err)
			os.Exit(1)
		}
		return
	}

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(st.Ping))
	checker.Register("ingestion", health.FreshnessCheck(st.LastSuccessAt, 3*cfg.ETL.SweepInterval, nil))
	triggers := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.Triggers, "", handleTrigger(sweeper))

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return m.Serve(gctx, cfg.Metrics.Port, map[string]http.Handler{
				"/health/live":  checker.LiveHandler(),
				"/health/ready": checker.ReadyHandler(),
			})
		})
	}
	g.Go(func() error {
		return sweepLoop(gctx, sweeper, cfg.ETL.SweepInterval)
	})
	g.Go(func() error {
		return triggers.Start(gctx)
	})

	slog.Info("ingestor ready",
		"extractors", sweeper.Sources(),
		"triggers_topic", cfg.Kafka.Topics.Triggers,
		"run_events_topic", cfg.Kafka.Topics.RunEvents,
	)

	if err := g.Wait(); err != nil {
		slog.Error("ingestor error", "error", err)
	}
	slog.Info("ingestor stopped")
}

// sweepLoop sweeps once at startup and then every interval until ctx ends.
func sweepLoop(ctx context.Context, s *etl.Sweeper, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		report, err := s.Sweep(ctx)
		logReport(report)
		if err != nil && ctx.Err() == nil {
			slog.Warn("scheduled sweep had failures", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func handleTrigger(s *etl.Sweeper) kafka.MessageHandler {
	return func(ctx context.Context, key, value []byte) error {
		ev, err := kafka.DecodeJSON[etl.TriggerEvent](value)
		if err != nil {
			return err
		}
		slog.Info("sweep triggered", "request_id", ev.RequestID, "sources", ev.Sources)
		report, err := s.Sweep(logger.WithRequestID(ctx, ev.RequestID), ev.Sources...)
		logReport(report)
		return err
	}
}

func logReport(r *etl.SweepReport) {
	if r == nil {
		return
	}
	for _, res := range r.Results {
		slog.Info("run finished",
			"batch_id", r.BatchID,
			"run_id", res.RunID,
			"source", res.Source,
			"status", res.Status,
			"records_processed", res.RecordsProcessed,
			"duration", res.Duration,
		)
	}
}
