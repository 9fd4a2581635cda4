package app

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/frontier-ops/frontier/internal/costing"
	"github.com/frontier-ops/frontier/internal/ledger"
	"github.com/frontier-ops/frontier/internal/outbox"
	"github.com/frontier-ops/frontier/internal/platform/db"
)

// ComponentParams groups what BuildComponents needs from main.
type ComponentParams struct {
	Config *Config
	DB     interface {
		db.DBTX
		outbox.TxStarter
	}
	// Redis may be nil, which disables the reporting cache.
	Redis      redis.UniversalClient
	Registerer prometheus.Registerer
	Logger     *slog.Logger
}

// Components are the wired domain services shared by the worker and the CLI.
type Components struct {
	Engine         *costing.Engine
	Reporter       *ledger.Reporter
	Registry       *outbox.Registry
	Processor      *outbox.Processor
	OutboxMetrics  *outbox.Metrics
	CostingMetrics *costing.Metrics
}

// BuildComponents wires the costing engine, the ledger reporter and the
// outbox processor with its handler registry.
func BuildComponents(p ComponentParams) (*Components, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var cache *ledger.Cache
	if p.Redis != nil {
		cache = ledger.NewCache(p.Redis, p.Config.ReportCacheTTL)
	}
	reporter := ledger.NewReporter(p.DB, nil, cache, logger)

	costingMetrics := costing.NewMetrics(p.Registerer)
	engine, err := costing.NewEngine(costing.EngineConfig{
		Mode:    p.Config.Mode(),
		Metrics: costingMetrics,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	registry := NewRegistry(engine, reporter, logger)
	outboxMetrics := outbox.NewMetrics(p.Registerer)
	processor := outbox.NewProcessor(outbox.ProcessorConfig{
		DB:       p.DB,
		Registry: registry,
		Logger:   logger,
		Metrics:  outboxMetrics,
	})

	return &Components{
		Engine:         engine,
		Reporter:       reporter,
		Registry:       registry,
		Processor:      processor,
		OutboxMetrics:  outboxMetrics,
		CostingMetrics: costingMetrics,
	}, nil
}

// NewRegistry binds the known event types to their handlers.
func NewRegistry(engine *costing.Engine, invalidator costing.CacheInvalidator, logger *slog.Logger) *outbox.Registry {
	return outbox.NewRegistry().
		Register(outbox.EventTimeEntryClockedOut, outbox.Noop).
		Register(outbox.EventPayrollRunPosted, costing.NewRunPostedHandler(engine, invalidator, logger))
}
