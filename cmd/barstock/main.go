package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/barstock/cmd/barstock/cli"
	"github.com/odyssey-erp/barstock/internal/app"
	"github.com/odyssey-erp/barstock/internal/catalog"
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
		slog.Default().Info("test mode detected, skipping server startup")
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

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		os.Exit(runJobs(ctx, cfg, logger, os.Args[2:]))
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, caching and idempotency disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	var (
		pool        *pgxpool.Pool
		ledgerRepo  ledger.Repository
		catalogRepo catalog.Repository
		idempotency ledger.IdempotencyPort
	)
	switch cfg.StoreDriver {
	case "postgres":
		pool, err = db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 20, MaxConnIdleTime: 5 * time.Minute})
		if err != nil {
			logger.Error("connect database", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		ledgerRepo = ledger.NewRepository(pool)
		catalogRepo = catalog.NewRepository(pool)
		idempotency = shared.NewIdempotencyStore(pool)
	default:
		memory := ledger.NewMemoryRepository()
		ledgerRepo = memory
		catalogRepo = memory
		if redisClient != nil {
			idempotency = shared.NewRedisIdempotencyStore(redisClient, idempotencyRetention)
		}
		logger.Warn("using in-memory store, data is lost on restart")
	}

	metrics := observability.NewMetrics()
	ledgerMetrics, err := observability.NewLedgerMetrics(metrics.Registerer())
	if err != nil {
		logger.Error("register ledger metrics", slog.Any("error", err))
		os.Exit(1)
	}

	auditLogger := shared.NewAuditLogger(pool, logger)
	ledgerService := ledger.NewService(ledgerRepo, auditLogger, idempotency,
		cache.NewVersioned(redisClient, "ledger", cfg.CacheTTL), ledgerMetrics,
		ledger.ServiceConfig{MaxAttempts: cfg.LedgerTxMaxAttempts, Location: cfg.Location(), Logger: logger})
	catalogService := catalog.NewService(catalogRepo)

	queue, closeQueue, err := newRolloverQueue(cfg, redisClient != nil)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeQueue()
	if queue == nil {
		logger.Warn("asynchronous rollovers disabled", slog.String("store", cfg.StoreDriver), slog.Bool("redis", redisClient != nil))
	}

	var jobHandler *jobs.Handler
	if redisClient != nil {
		inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer inspector.Close()
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		CatalogHandler: catalog.NewHandler(logger, catalogService),
		LedgerHandler:  ledger.NewHandler(logger, ledgerService, queue),
		JobHandler:     jobHandler,
		Metrics:        metrics,
		Ready:          readiness(pool, redisClient),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

// newRolloverQueue wires the asynq client for asynchronous rollovers. Only the
// postgres driver shares its state with the worker process, so any other
// driver, or a missing Redis, yields a nil queue and the API answers 503.
func newRolloverQueue(cfg *app.Config, redisAvailable bool) (ledger.RolloverQueue, func(), error) {
	noop := func() {}
	if cfg == nil || cfg.StoreDriver != "postgres" || !redisAvailable {
		return nil, noop, nil
	}
	client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		return nil, noop, err
	}
	return client, func() { _ = client.Close() }, nil
}

func readiness(pool *pgxpool.Pool, client *redis.Client) func(*http.Request) error {
	return func(r *http.Request) error {
		if pool != nil {
			if err := pool.Ping(r.Context()); err != nil {
				return err
			}
		}
		if client != nil {
			return client.Ping(r.Context()).Err()
		}
		return nil
	}
}

func runJobs(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		logger.Error("init jobs cli", slog.Any("error", err))
		return 1
	}
	defer jobsCLI.Close()
	if err := cli.RunJobs(ctx, jobsCLI, args, os.Stdout); err != nil {
		logger.Error("jobs command", slog.Any("error", err))
		return 2
	}
	return 0
}
