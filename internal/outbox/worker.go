package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/frontier-ops/frontier/internal/platform/db"
)

// BatchRunner is the part of Processor the worker drives.
type BatchRunner interface {
	ProcessBatch(ctx context.Context, opts BatchOptions) (Result, error)
}

// WorkerConfig collects dependencies required to run the polling loop.
type WorkerConfig struct {
	Runner BatchRunner
	// Locker gates batch work behind the advisory lock. Nil disables the
	// lock; row claiming alone keeps concurrent workers disjoint.
	Locker          Locker
	PollInterval    time.Duration
	BatchSize       int
	MaxRetries      int
	TickTimeout     time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
	// OnConnectionError runs after a tick fails on a broken connection,
	// typically pgxpool.Pool.Reset.
	OnConnectionError func()
	Logger            *slog.Logger
	Metrics           *Metrics
}

// Worker polls the outbox until its context is cancelled.
type Worker struct {
	cfg     WorkerConfig
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
	now     func() time.Time
}

// NewWorker constructs a Worker, filling unset intervals with defaults.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Runner == nil {
		return nil, errors.New("outbox: worker requires a batch runner")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = 30 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{cfg: cfg, logger: logger, now: func() time.Time { return time.Now().UTC() }}
	w.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "outbox-tick",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("outbox tick breaker state changed",
				slog.String("breaker", name), slog.String("from", from.String()), slog.String("to", to.String()))
		},
	})
	return w, nil
}

// Run loops until ctx is cancelled and returns ctx.Err(). Failures never end
// the loop: they are logged and retried after the poll interval.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("outbox worker started",
		slog.Duration("poll_interval", w.cfg.PollInterval),
		slog.Int("batch_size", w.cfg.BatchSize),
		slog.Int("max_retries", w.cfg.MaxRetries),
		slog.Bool("advisory_lock", w.cfg.Locker != nil))
	for {
		if err := ctx.Err(); err != nil {
			w.logger.Info("outbox worker stopped")
			return err
		}
		w.session(ctx)
		if err := sleep(ctx, w.cfg.PollInterval); err != nil {
			w.logger.Info("outbox worker stopped")
			return err
		}
	}
}

// session holds the advisory lock, when enabled, across many ticks. It
// returns when the lock cannot be taken, the lock connection dies or ctx is
// cancelled.
func (w *Worker) session(ctx context.Context) {
	var lock LockSession
	if w.cfg.Locker != nil {
		s, ok, err := w.cfg.Locker.TryAcquire(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Error("outbox worker lock attempt failed", slog.Any("error", err))
			}
			return
		}
		if !ok {
			w.logger.Debug("outbox lock held by another worker")
			return
		}
		lock = s
		w.cfg.Metrics.LockHeld(true)
		w.logger.Info("outbox worker acquired advisory lock")
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := lock.Release(releaseCtx); err != nil {
				w.logger.Warn("outbox advisory lock release", slog.Any("error", err))
			}
			w.cfg.Metrics.LockHeld(false)
			w.logger.Info("outbox worker released advisory lock")
		}()
	}

	for {
		if ctx.Err() != nil {
			return
		}
		if lock != nil {
			if err := lock.Ping(ctx); err != nil {
				if ctx.Err() == nil {
					w.logger.Error("outbox worker lock connection failed", slog.Any("error", err))
				}
				return
			}
		}
		res, err := w.Tick(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil && res.Processed >= w.cfg.BatchSize {
			// A fully successful batch means more rows are probably due.
			// Failures always wait out the poll interval so a failing
			// backlog cannot burn its retries back to back.
			continue
		}
		if sleep(ctx, w.cfg.PollInterval) != nil {
			return
		}
	}
}

// Tick processes one batch under the tick timeout and breaker. A tick skipped
// by an open breaker returns a zero Result and nil.
func (w *Worker) Tick(ctx context.Context) (Result, error) {
	tickCtx, cancel := context.WithTimeout(ctx, w.cfg.TickTimeout)
	defer cancel()

	out, err := w.breaker.Execute(func() (interface{}, error) {
		return w.cfg.Runner.ProcessBatch(tickCtx, BatchOptions{
			Now:        w.now(),
			BatchSize:  w.cfg.BatchSize,
			MaxRetries: w.cfg.MaxRetries,
		})
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		w.cfg.Metrics.Tick(TickSkipped)
		w.logger.Debug("outbox tick skipped, breaker open")
		return Result{}, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		w.cfg.Metrics.Tick(TickError)
		reason := "unexpected"
		if db.IsConnectionError(err) {
			reason = "connection"
			if w.cfg.OnConnectionError != nil {
				w.cfg.OnConnectionError()
			}
		}
		w.logger.Error("outbox worker tick failed", slog.String("reason", reason), slog.Any("error", err))
		return Result{}, err
	}
	res, _ := out.(Result)
	w.cfg.Metrics.Tick(TickOK)
	if res.Claimed() > 0 {
		w.logger.Info("outbox batch processed",
			slog.Int("processed", res.Processed),
			slog.Int("failed", res.Failed),
			slog.Int("dead_lettered", res.DeadLettered),
			slog.Int("skipped", res.Skipped))
	}
	return res, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
