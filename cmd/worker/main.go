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

	"golang.org/x/sync/errgroup"

	"github.com/frontier-ops/frontier/internal/app"
	"github.com/frontier-ops/frontier/internal/observability"
	"github.com/frontier-ops/frontier/internal/ops"
	"github.com/frontier-ops/frontier/internal/outbox"
	"github.com/frontier-ops/frontier/internal/platform/cache"
	"github.com/frontier-ops/frontier/internal/platform/db"
)

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
	slog.SetDefault(logger)

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns, ApplicationName: "frontier-worker"})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, ledger reports will not be cached", slog.Any("error", err))
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	params := app.ComponentParams{
		Config:     cfg,
		DB:         pool,
		Registerer: metrics.Registerer(),
		Logger:     logger,
	}
	if redisClient != nil {
		params.Redis = redisClient
	}
	components, err := app.BuildComponents(params)
	if err != nil {
		logger.Error("build components", slog.Any("error", err))
		os.Exit(1)
	}

	queueStats := ops.OutboxStats{DB: pool, MaxRetries: cfg.OutboxMaxRetries}
	if err := metrics.RegisterQueueGauges(func(ctx context.Context) (outbox.Stats, error) {
		return queueStats.Stats(ctx, nil)
	}, logger); err != nil {
		logger.Error("register queue gauges", slog.Any("error", err))
		os.Exit(1)
	}

	opsHandler := ops.NewHandler(ops.HandlerConfig{
		Health:     pool,
		Stats:      queueStats,
		Events:     ops.OutboxEvents{DB: pool},
		Totals:     components.Reporter,
		Postings:   ops.JobPostings{DB: pool},
		Reconciler: ops.EngineReconciler{DB: pool, Engine: components.Engine},
		Logger:     logger,
	})
	server := &http.Server{
		Addr: cfg.OpsAddr,
		Handler: app.NewRouter(app.RouterParams{
			Logger:     logger,
			Config:     cfg,
			OpsHandler: opsHandler,
			Metrics:    metrics,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting ops server", slog.String("addr", cfg.OpsAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.OutboxWorkerEnabled {
		workerCfg := outbox.WorkerConfig{
			Runner:            components.Processor,
			PollInterval:      cfg.OutboxPollInterval,
			BatchSize:         cfg.OutboxBatchSize,
			MaxRetries:        cfg.OutboxMaxRetries,
			TickTimeout:       cfg.OutboxTickTimeout,
			BreakerFailures:   cfg.OutboxBreakerFailures,
			BreakerCooldown:   cfg.OutboxBreakerCooldown,
			OnConnectionError: pool.Reset,
			Logger:            logger,
			Metrics:           components.OutboxMetrics,
		}
		if cfg.OutboxAdvisoryLock {
			workerCfg.Locker = outbox.NewAdvisoryLocker(pool)
		}
		worker, err := outbox.NewWorker(workerCfg)
		if err != nil {
			logger.Error("init worker", slog.Any("error", err))
			os.Exit(1)
		}
		group.Go(func() error {
			if err := worker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	} else {
		logger.Info("outbox worker disabled")
	}

	if err := group.Wait(); err != nil {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
