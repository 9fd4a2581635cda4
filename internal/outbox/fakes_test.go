package outbox

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/frontier-ops/frontier/internal/platform/db"
)

// ============================================================================
// IN-MEMORY STORE
// ============================================================================

type memStore struct {
	mu     sync.Mutex
	rows   map[int64]*Event
	nextID int64

	claimErr      error
	markErr       error
	ignoreDueness bool
	claims        int
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[int64]*Event), nextID: 1}
}

func (s *memStore) add(evt Event) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	evt.ID = s.nextID
	s.nextID++
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}
	s.rows[evt.ID] = &evt
	return evt.ID
}

func (s *memStore) get(id int64) Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.rows[id]
}

func (s *memStore) ClaimDue(ctx context.Context, q db.DBTX, now time.Time, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims++
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	ids := make([]int64, 0, len(s.rows))
	for id, row := range s.rows {
		if row.Processed {
			continue
		}
		if !s.ignoreDueness && !IsDue(row.CreatedAt, row.RetryCount, now) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]Event, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.rows[id])
	}
	return out, nil
}

func (s *memStore) MarkProcessed(ctx context.Context, q db.DBTX, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	row := s.rows[id]
	if row == nil || row.Processed {
		return ErrEventNotPending
	}
	row.Processed = true
	row.ProcessedAt = &at
	return nil
}

func (s *memStore) RecordFailure(ctx context.Context, q db.DBTX, id int64, maxRetries int, at time.Time) (Failure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.rows[id]
	if row == nil || row.Processed {
		return Failure{}, ErrEventNotPending
	}
	row.RetryCount++
	if row.RetryCount >= maxRetries {
		row.Processed = true
		row.ProcessedAt = &at
	}
	return Failure{RetryCount: row.RetryCount, DeadLettered: row.Processed}, nil
}

// ============================================================================
// FAKE TRANSACTIONS
// ============================================================================

// fakeTx satisfies pgx.Tx; only the transaction-control methods are
// implemented; anything else panics through the nil embedded interface.
type fakeTx struct {
	pgx.Tx
	mu          sync.Mutex
	children    []*fakeTx
	committed   bool
	rolledBack  bool
	rollbackErr error
	commitErr   error
}

func (t *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	child := &fakeTx{rollbackErr: t.rollbackErr}
	t.children = append(t.children, child)
	return child, nil
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rolledBack {
		return errors.New("commit after rollback")
	}
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.committed {
		return pgx.ErrTxClosed
	}
	if t.rollbackErr != nil {
		return t.rollbackErr
	}
	t.rolledBack = true
	return nil
}

type fakeStarter struct {
	mu  sync.Mutex
	txs       []*fakeTx
	err       error
	commitErr error
}

func (s *fakeStarter) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	tx := &fakeTx{commitErr: s.commitErr}
	s.txs = append(s.txs, tx)
	return tx, nil
}

func failing(err error) Handler {
	return HandlerFunc(func(context.Context, pgx.Tx, Event) error { return err })
}
