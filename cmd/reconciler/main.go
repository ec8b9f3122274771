package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tmfg/portcall-timestamp-service/internal/adapter/ais"
	httpadapter "github.com/tmfg/portcall-timestamp-service/internal/adapter/http"
	kafkaadapter "github.com/tmfg/portcall-timestamp-service/internal/adapter/kafka"
	"github.com/tmfg/portcall-timestamp-service/internal/adapter/postgres"
	"github.com/tmfg/portcall-timestamp-service/internal/config"
	"github.com/tmfg/portcall-timestamp-service/internal/domain"
	"github.com/tmfg/portcall-timestamp-service/internal/observability"
	"github.com/tmfg/portcall-timestamp-service/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := postgres.NewStore(pool, postgres.Window{
		Past:   cfg.RetentionPast,
		Future: cfg.RetentionFuture,
	}, nil, logger)

	fetcher := ais.NewClient(cfg.PredictionBaseURL, cfg.PredictionToken, cfg.PredictionTimeout, logger)
	normalizer := domain.NewNormalizer(cfg.NormalizerRules(), logger)
	reconciler := domain.NewReconciler(cfg.ReconcilerRules())

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)

	p := pipeline.New(reader, fetcher, store, writer, normalizer, reconciler, logger, metrics, pipeline.Options{
		BatchSize:        cfg.BatchSize,
		FetchConcurrency: cfg.FetchConcurrency,
	})
	scheduler := pipeline.NewScheduler(p, cfg.TriggerInterval, logger)
	janitor := pipeline.NewJanitor(store, cfg.PurgeHorizon, cfg.TriggerInterval, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, store, reconciler, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	go func() {
		if err := scheduler.Run(ctx); err != nil {
			logger.Error("scheduler error", "error", err)
		}
	}()

	go func() {
		if err := janitor.Run(ctx); err != nil {
			logger.Error("janitor error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}
