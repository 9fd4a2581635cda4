package outbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Advisory lock key pair shared by every worker process.
const (
	LockClassID  int32 = 4242
	LockObjectID int32 = 4243
)

// Locker hands out the process-wide worker lock.
type Locker interface {
	TryAcquire(ctx context.Context) (LockSession, bool, error)
}

// LockSession is a held lock. Release must be safe to call once after any
// Ping failure.
type LockSession interface {
	Ping(ctx context.Context) error
	Release(ctx context.Context) error
}

// AdvisoryLocker takes a session-scoped pg_try_advisory_lock on a dedicated
// pooled connection. The lock lives as long as that connection; Postgres
// drops it server-side if the connection dies.
type AdvisoryLocker struct {
	pool *pgxpool.Pool
}

// NewAdvisoryLocker constructs the locker.
func NewAdvisoryLocker(pool *pgxpool.Pool) *AdvisoryLocker {
	return &AdvisoryLocker{pool: pool}
}

// TryAcquire never blocks on the lock. On false the connection is already
// back in the pool.
func (l *AdvisoryLocker) TryAcquire(ctx context.Context) (LockSession, bool, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("outbox: acquire lock connection: %w", err)
	}
	var acquired bool
	err = conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1, $2)`, LockClassID, LockObjectID).Scan(&acquired)
	if err != nil {
		destroy(ctx, conn)
		return nil, false, fmt.Errorf("outbox: try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}
	return &advisorySession{conn: conn}, true, nil
}

type advisorySession struct {
	mu     sync.Mutex
	conn   *pgxpool.Conn
	broken bool
}

func (s *advisorySession) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("outbox: lock session released")
	}
	if err := s.conn.Ping(ctx); err != nil {
		s.broken = true
		return fmt.Errorf("outbox: lock connection: %w", err)
	}
	return nil
}

// Release unlocks and returns the connection. A broken connection is closed
// instead so the pool never hands it out again.
func (s *advisorySession) Release(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	conn := s.conn
	s.conn = nil
	if s.broken {
		destroy(ctx, conn)
		return nil
	}
	var released bool
	if err := conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1, $2)`, LockClassID, LockObjectID).Scan(&released); err != nil {
		destroy(ctx, conn)
		return fmt.Errorf("outbox: advisory unlock: %w", err)
	}
	conn.Release()
	if !released {
		return fmt.Errorf("outbox: advisory lock was not held at release")
	}
	return nil
}

func destroy(ctx context.Context, conn *pgxpool.Conn) {
	_ = conn.Conn().Close(ctx)
	conn.Release()
}
