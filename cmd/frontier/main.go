package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/frontier-ops/frontier/cmd/frontier/cli"
	"github.com/frontier-ops/frontier/internal/app"
	"github.com/frontier-ops/frontier/internal/ops"
	"github.com/frontier-ops/frontier/internal/payroll"
	"github.com/frontier-ops/frontier/internal/platform/cache"
	"github.com/frontier-ops/frontier/internal/platform/db"
	"github.com/frontier-ops/frontier/internal/timeentries"
	"github.com/frontier-ops/frontier/migrations"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		return cli.ExitError
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns, ApplicationName: "frontier-cli"})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		return cli.ExitError
	}
	defer pool.Close()

	params := app.ComponentParams{Config: cfg, DB: pool, Logger: logger}
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, ledger reports will not be cached", slog.Any("error", err))
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		params.Redis = redisClient
	}
	components, err := app.BuildComponents(params)
	if err != nil {
		logger.Error("build components", slog.Any("error", err))
		return cli.ExitError
	}

	c := cli.New(cli.Deps{
		Migrate:   func(ctx context.Context) error { return migrations.Apply(ctx, pool, logger) },
		Processor: components.Processor,
		Stats:     ops.OutboxStats{DB: pool, MaxRetries: cfg.OutboxMaxRetries},
		Events:    ops.OutboxEvents{DB: pool},
		Costs: cli.TxCostPoster{
			Pool:        pool,
			Engine:      components.Engine,
			Invalidator: components.Reporter,
			Logger:      logger,
		},
		Reconciler: ops.EngineReconciler{DB: pool, Engine: components.Engine},
		Totals:     components.Reporter,
		Postings:   ops.JobPostings{DB: pool},
		Runs:       payroll.NewService(payroll.NewPgStore(pool), logger),
		Clock:      timeentries.NewService(timeentries.NewPgStore(pool), logger),
		BatchSize:  cfg.OutboxBatchSize,
		MaxRetries: cfg.OutboxMaxRetries,
	}, os.Stdout, os.Stderr)
	return c.Run(ctx, os.Args[1:])
}
