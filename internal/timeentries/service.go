package timeentries

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/frontier-ops/frontier/internal/outbox"
	"github.com/frontier-ops/frontier/internal/platform/db"
)

// TxStore is the transactional surface ClockOut needs.
type TxStore interface {
	ActiveForUpdate(ctx context.Context, tenantID, employeeID int64) (Entry, error)
	Close(ctx context.Context, tenantID int64, entryID string, at time.Time) error
	AppendEvent(ctx context.Context, in outbox.AppendInput) (int64, bool, error)
}

// Store opens transactions over TxStore.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
}

// Service records clock events.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the service.
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

// ClockOut closes the employee's active entry at at (the service clock when
// zero) and appends TIME_ENTRY_CLOCKED_OUT in the same transaction.
func (s *Service) ClockOut(ctx context.Context, tenantID, employeeID int64, at time.Time) (Entry, error) {
	if tenantID <= 0 || employeeID <= 0 {
		return Entry{}, errors.New("timeentries: tenant and employee required")
	}
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()

	var closed Entry
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		entry, err := tx.ActiveForUpdate(ctx, tenantID, employeeID)
		if err != nil {
			return err
		}
		if !at.After(entry.StartedAt.UTC()) {
			return ErrEndBeforeStart
		}
		if err := tx.Close(ctx, tenantID, entry.ID, at); err != nil {
			return err
		}
		entry.EndedAt = &at
		entry.Status = StatusClosed

		if _, _, err := tx.AppendEvent(ctx, outbox.AppendInput{
			TenantID:       tenantID,
			EventType:      outbox.EventTimeEntryClockedOut,
			IdempotencyKey: ClockedOutKey(entry.ID),
			Payload: map[string]any{
				"time_entry_id": entry.ID,
				"employee_id":   entry.EmployeeID,
				"job_id":        entry.JobID,
				"scope_id":      entry.ScopeID,
				"started_at":    entry.StartedAt.UTC(),
				"ended_at":      at,
			},
		}); err != nil {
			return err
		}
		closed = entry
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	s.logger.Info("time entry clocked out",
		slog.Int64("tenant_id", tenantID),
		slog.Int64("employee_id", employeeID),
		slog.String("time_entry_id", closed.ID))
	return closed, nil
}

// PgStore implements Store on a pgx pool.
type PgStore struct {
	pool    *pgxpool.Pool
	entries *Repository
	events  *outbox.Repository
}

// NewPgStore constructs the pgx-backed store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool, entries: NewRepository(), events: outbox.NewRepository()}
}

// WithTx runs fn in a ReadCommitted transaction.
func (s *PgStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxStore{tx: tx, entries: s.entries, events: s.events})
	})
}

type pgTxStore struct {
	tx      pgx.Tx
	entries *Repository
	events  *outbox.Repository
}

func (s *pgTxStore) ActiveForUpdate(ctx context.Context, tenantID, employeeID int64) (Entry, error) {
	return s.entries.ActiveForUpdate(ctx, s.tx, tenantID, employeeID)
}

func (s *pgTxStore) Close(ctx context.Context, tenantID int64, entryID string, at time.Time) error {
	return s.entries.Close(ctx, s.tx, tenantID, entryID, at)
}

func (s *pgTxStore) AppendEvent(ctx context.Context, in outbox.AppendInput) (int64, bool, error) {
	return s.events.AppendOnce(ctx, s.tx, in)
}
