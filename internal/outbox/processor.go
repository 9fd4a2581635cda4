package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/frontier-ops/frontier/internal/platform/db"
)

const (
	// DefaultBatchSize bounds a claim when the caller passes no size.
	DefaultBatchSize = 50
	// DefaultMaxRetries is the dead-letter threshold when none is given.
	DefaultMaxRetries = 10
)

// Store is the persistence surface the processor needs.
type Store interface {
	ClaimDue(ctx context.Context, q db.DBTX, now time.Time, limit int) ([]Event, error)
	MarkProcessed(ctx context.Context, q db.DBTX, id int64, at time.Time) error
	RecordFailure(ctx context.Context, q db.DBTX, id int64, maxRetries int, at time.Time) (Failure, error)
}

// TxStarter opens batch transactions; *pgxpool.Pool satisfies it.
type TxStarter interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// BatchOptions parameterises one batch.
type BatchOptions struct {
	Now        time.Time
	BatchSize  int
	MaxRetries int
	// Handlers overrides the processor's registry for this call.
	Handlers *Registry
}

// Processor claims due outbox rows and dispatches them to handlers.
type Processor struct {
	db       TxStarter
	store    Store
	registry *Registry
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time
}

// ProcessorConfig collects processor dependencies.
type ProcessorConfig struct {
	DB       TxStarter
	Store    Store
	Registry *Registry
	Logger   *slog.Logger
	Metrics  *Metrics
}

// NewProcessor constructs a Processor.
func NewProcessor(cfg ProcessorConfig) *Processor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := cfg.Store
	if store == nil {
		store = NewRepository()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	return &Processor{
		db:       cfg.DB,
		store:    store,
		registry: registry,
		logger:   logger,
		metrics:  cfg.Metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock used when BatchOptions.Now is zero.
func (p *Processor) WithNow(now func() time.Time) {
	if now != nil {
		p.now = now
	}
}

// ProcessBatch runs one batch in its own transaction. It commits when every
// row outcome was recorded and rolls back on infrastructure failure. Hooks
// handlers registered through AfterCommit run only after a successful commit.
func (p *Processor) ProcessBatch(ctx context.Context, opts BatchOptions) (Result, error) {
	if p == nil || p.db == nil {
		return Result{}, errors.New("outbox: processor not configured")
	}
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Result{}, fmt.Errorf("outbox: begin batch: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	ctx, hooks := WithCommitHooks(ctx)
	res, err := p.ProcessBatchTx(ctx, tx, opts)
	if err != nil {
		return res, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("outbox: commit batch: %w", err)
	}
	hooks.run(ctx, p.logger)
	return res, nil
}

// ProcessBatchTx runs one batch inside a caller-owned transaction and never
// commits or rolls it back. Row claims hold until the caller ends tx. Commit
// hooks land in the list installed by WithCommitHooks, if any; the caller
// runs them after committing.
//
// Handler failures, including unknown event types and panics, are recorded
// against the row and never returned. Errors from claiming, savepoints or
// recording outcomes are returned along with the counts so far.
func (p *Processor) ProcessBatchTx(ctx context.Context, tx pgx.Tx, opts BatchOptions) (Result, error) {
	opts = p.normalise(opts)
	track := p.metrics.TrackBatch()

	events, err := p.store.ClaimDue(ctx, tx, opts.Now, opts.BatchSize)
	if err != nil {
		return Result{}, track.End(err)
	}

	var res Result
	for _, evt := range events {
		if err := ctx.Err(); err != nil {
			return res, track.End(err)
		}
		// Redundant with the SQL filter unless clocks or filters drift.
		if !IsDue(evt.CreatedAt, evt.RetryCount, opts.Now) {
			res.Skipped++
			continue
		}

		handler, maxRetries, ok := opts.Handlers.Lookup(evt.EventType)
		if maxRetries <= 0 {
			maxRetries = opts.MaxRetries
		}
		var herr error
		if !ok {
			herr = fmt.Errorf("%w: %s", ErrUnknownEventType, evt.EventType)
		} else {
			herr = p.dispatch(ctx, tx, handler, evt)
		}

		if herr == nil {
			if err := p.store.MarkProcessed(ctx, tx, evt.ID, opts.Now); err != nil {
				return res, track.End(err)
			}
			res.Processed++
			p.metrics.EventOutcome(evt.EventType, OutcomeProcessed)
			continue
		}

		var spErr *db.SavepointError
		if errors.As(herr, &spErr) || ctx.Err() != nil {
			return res, track.End(herr)
		}

		failure, err := p.store.RecordFailure(ctx, tx, evt.ID, maxRetries, opts.Now)
		if err != nil {
			return res, track.End(err)
		}
		res.Failed++
		p.metrics.EventOutcome(evt.EventType, OutcomeFailed)
		attrs := []any{
			slog.Int64("event_outbox_id", evt.ID),
			slog.Int64("tenant_id", evt.TenantID),
			slog.String("event_type", string(evt.EventType)),
			slog.Int("retry_count", failure.RetryCount),
			slog.Int("max_retries", maxRetries),
			slog.Any("error", herr),
		}
		if failure.DeadLettered {
			res.DeadLettered++
			p.metrics.EventOutcome(evt.EventType, OutcomeDeadLettered)
			p.logger.Error("outbox row dead-lettered", append(attrs, slog.Bool("dead_lettered", true))...)
			continue
		}
		p.logger.Warn("outbox row processing failed",
			append(attrs, slog.Time("next_attempt_at", DueAt(evt.CreatedAt, failure.RetryCount)))...)
	}
	return res, track.End(nil)
}

func (p *Processor) dispatch(ctx context.Context, tx pgx.Tx, h Handler, evt Event) error {
	batch := commitHooksFrom(ctx)
	var own *CommitHooks
	if batch != nil {
		ctx, own = WithCommitHooks(ctx)
	}
	err := db.WithSavepoint(ctx, tx, func(sp pgx.Tx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
			}
		}()
		return h.Handle(ctx, sp, evt)
	})
	if err == nil && own != nil {
		batch.add(own.take()...)
	}
	return err
}

func (p *Processor) normalise(opts BatchOptions) BatchOptions {
	if opts.Now.IsZero() {
		opts.Now = p.now()
	}
	opts.Now = opts.Now.UTC()
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Handlers == nil {
		opts.Handlers = p.registry
	}
	return opts
}
