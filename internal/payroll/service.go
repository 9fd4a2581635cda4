package payroll

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/frontier-ops/frontier/internal/outbox"
	"github.com/frontier-ops/frontier/internal/platform/db"
)

// TxStore is the transactional surface PostRun needs.
type TxStore interface {
	GetRunForUpdate(ctx context.Context, tenantID int64, runID string) (Run, error)
	MarkPosted(ctx context.Context, tenantID int64, runID string, at time.Time) error
	AppendEvent(ctx context.Context, in outbox.AppendInput) (int64, bool, error)
}

// Store opens transactions over TxStore.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
}

// PostRunResult describes the outcome of PostRun.
type PostRunResult struct {
	Run           Run   `json:"run"`
	EventID       int64 `json:"event_outbox_id,omitempty"`
	AlreadyPosted bool  `json:"already_posted"`
}

// Service owns payroll run state changes.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the payroll service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// RunPostedKey is the outbox idempotency key of a run's posted event.
func RunPostedKey(runID string) string {
	return "payroll_run:" + runID
}

// PostRun moves a DRAFT run to POSTED and appends PAYROLL_RUN_POSTED in the
// same transaction. A run that is already posted is returned unchanged. A
// zero at uses the service clock.
func (s *Service) PostRun(ctx context.Context, tenantID int64, runID string, at time.Time) (PostRunResult, error) {
	runID = strings.TrimSpace(runID)
	if tenantID <= 0 || runID == "" {
		return PostRunResult{}, errors.New("payroll: tenant and run id required")
	}
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()

	var result PostRunResult
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		run, err := tx.GetRunForUpdate(ctx, tenantID, runID)
		if err != nil {
			return err
		}
		if run.Status == RunStatusPosted {
			result = PostRunResult{Run: run, AlreadyPosted: true}
			return nil
		}
		if run.Status != RunStatusDraft {
			return ErrInvalidStatus
		}
		if err := tx.MarkPosted(ctx, tenantID, runID, at); err != nil {
			return err
		}
		run.Status = RunStatusPosted
		run.PostedAt = &at

		id, _, err := tx.AppendEvent(ctx, outbox.AppendInput{
			TenantID:       tenantID,
			EventType:      outbox.EventPayrollRunPosted,
			IdempotencyKey: RunPostedKey(runID),
			Payload:        map[string]string{"payroll_run_id": runID},
		})
		if err != nil {
			return err
		}
		result = PostRunResult{Run: run, EventID: id}
		return nil
	})
	if err != nil {
		return PostRunResult{}, err
	}
	if !result.AlreadyPosted {
		s.logger.Info("payroll run posted",
			slog.Int64("tenant_id", tenantID),
			slog.String("payroll_run_id", runID),
			slog.Int64("event_outbox_id", result.EventID))
	}
	return result, nil
}

// PgStore implements Store on a pgx pool.
type PgStore struct {
	pool   *pgxpool.Pool
	runs   *Repository
	events *outbox.Repository
}

// NewPgStore constructs the pgx-backed store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool, runs: NewRepository(), events: outbox.NewRepository()}
}

// WithTx runs fn in a ReadCommitted transaction.
func (s *PgStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxStore{tx: tx, runs: s.runs, events: s.events})
	})
}

type pgTxStore struct {
	tx     pgx.Tx
	runs   *Repository
	events *outbox.Repository
}

func (s *pgTxStore) GetRunForUpdate(ctx context.Context, tenantID int64, runID string) (Run, error) {
	return s.runs.GetRunForUpdate(ctx, s.tx, tenantID, runID)
}

func (s *pgTxStore) MarkPosted(ctx context.Context, tenantID int64, runID string, at time.Time) error {
	return s.runs.MarkPosted(ctx, s.tx, tenantID, runID, at)
}

func (s *pgTxStore) AppendEvent(ctx context.Context, in outbox.AppendInput) (int64, bool, error) {
	return s.events.AppendOnce(ctx, s.tx, in)
}
