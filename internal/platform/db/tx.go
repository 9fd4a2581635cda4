package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx so repositories
// can run either standalone or inside a caller's transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Beginner starts transactions. pgx.Tx satisfies it too, in which case Begin
// opens a savepoint.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// WithTx executes a function within a ReadCommitted transaction. SKIP LOCKED
// claims need ReadCommitted: under RepeatableRead a concurrent commit on a
// claimed row surfaces as a serialization failure instead of being skipped.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

// WithSavepoint runs fn in a nested transaction of b. A failing fn rolls back
// only its own writes and leaves the outer transaction usable.
func WithSavepoint(ctx context.Context, b Beginner, fn func(pgx.Tx) error) error {
	sp, err := b.Begin(ctx)
	if err != nil {
		return fmt.Errorf("platform/db: savepoint: %w", err)
	}
	if err := fn(sp); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return &SavepointError{Cause: err, Rollback: rbErr}
		}
		return err
	}
	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: release savepoint: %w", err)
	}
	return nil
}

// SavepointError reports a failed function whose savepoint could not be
// rolled back either; the outer transaction is no longer usable.
type SavepointError struct {
	Cause    error
	Rollback error
}

func (e *SavepointError) Error() string {
	return fmt.Sprintf("platform/db: rollback savepoint: %v (after: %v)", e.Rollback, e.Cause)
}

func (e *SavepointError) Unwrap() error { return e.Rollback }
