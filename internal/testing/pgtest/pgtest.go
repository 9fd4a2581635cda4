//go:build integration

// Package pgtest runs integration tests against a disposable Postgres
// container. One container is shared per test binary; every Start call gets
// a fresh database with the embedded migrations applied.
package pgtest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/frontier-ops/frontier/internal/app"
	"github.com/frontier-ops/frontier/migrations"
)

var (
	once      sync.Once
	container *tcpostgres.PostgresContainer
	adminDSN  string
	startErr  error
	databases atomic.Int64
)

func init() {
	if os.Getenv(app.TestModeEnv) == "" {
		_ = os.Setenv(app.TestModeEnv, "1")
	}
}

func boot() {
	ctx := context.Background()
	container, startErr = tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("frontier"),
		tcpostgres.WithUsername("frontier"),
		tcpostgres.WithPassword("frontier"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if startErr != nil {
		return
	}
	adminDSN, startErr = container.ConnectionString(ctx, "sslmode=disable")
}

// Start returns a pool on a new migrated database. The pool is closed and
// the database dropped when t finishes.
func Start(t *testing.T) *pgxpool.Pool {
	t.Helper()
	once.Do(boot)
	require.NoError(t, startErr, "start postgres container")

	ctx := context.Background()
	name := fmt.Sprintf("frontier_test_%d", databases.Add(1))

	admin, err := pgxpool.New(ctx, adminDSN)
	require.NoError(t, err)
	defer admin.Close()
	_, err = admin.Exec(ctx, "CREATE DATABASE "+name)
	require.NoError(t, err)

	cfg, err := pgxpool.ParseConfig(adminDSN)
	require.NoError(t, err)
	cfg.ConnConfig.Database = name
	cfg.MaxConns = 8
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, migrations.Apply(ctx, pool, slog.New(slog.NewTextHandler(io.Discard, nil))))

	t.Cleanup(func() {
		pool.Close()
		admin, err := pgxpool.New(context.Background(), adminDSN)
		if err != nil {
			return
		}
		defer admin.Close()
		_, _ = admin.Exec(context.Background(), "DROP DATABASE IF EXISTS "+name+" WITH (FORCE)")
	})
	return pool
}

// Terminate stops the shared container. Call it from TestMain after m.Run.
func Terminate() {
	if container != nil {
		_ = container.Terminate(context.Background())
	}
}
