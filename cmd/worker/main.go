package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/barstock/internal/app"
	jobmetrics "github.com/odyssey-erp/barstock/internal/jobs"
	"github.com/odyssey-erp/barstock/internal/ledger"
	"github.com/odyssey-erp/barstock/internal/observability"
	"github.com/odyssey-erp/barstock/internal/platform/cache"
	"github.com/odyssey-erp/barstock/internal/platform/db"
	"github.com/odyssey-erp/barstock/internal/shared"
	"github.com/odyssey-erp/barstock/jobs"
)

const idempotencyRetention = 24 * time.Hour

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if cfg.StoreDriver != "postgres" {
		logger.Error("worker requires the postgres store driver", slog.String("store", cfg.StoreDriver))
		os.Exit(1)
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 5, MaxConnIdleTime: 5 * time.Minute})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	ledgerMetrics, err := observability.NewLedgerMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Error("register ledger metrics", slog.Any("error", err))
		os.Exit(1)
	}
	idempotency := shared.NewIdempotencyStore(pool)
	ledgerService := ledger.NewService(
		ledger.NewRepository(pool),
		shared.NewAuditLogger(pool, logger),
		idempotency,
		cache.NewVersioned(redisClient, "ledger", cfg.CacheTTL),
		ledgerMetrics,
		ledger.ServiceConfig{MaxAttempts: cfg.LedgerTxMaxAttempts, Location: cfg.Location(), Logger: logger},
	)

	jobMetrics := jobmetrics.NewMetrics(nil)
	rollover := jobs.NewRolloverJob(ledgerService, logger, jobMetrics)
	cleanup := &jobs.CleanupJob{Store: idempotency, Logger: logger, Metrics: jobMetrics}
	checkTask, err := jobs.NewEODCheckTask()
	if err != nil {
		logger.Error("build eod check task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(idempotencyRetention)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Location:  cfg.Location(),
		Handlers:  append(rollover.Handlers(), jobs.TaskHandler{Type: jobs.TaskIdempotencyCleanup, Handler: cleanup.Handle}),
		Cron: []jobs.CronRegistration{
			{Spec: cfg.EODCheckCron, Task: checkTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
			{Spec: "30 4 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
