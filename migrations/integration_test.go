//go:build integration

package migrations_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontier-ops/frontier/internal/testing/pgtest"
	"github.com/frontier-ops/frontier/migrations"
)

func TestMain(m *testing.M) {
	code := m.Run()
	pgtest.Terminate()
	os.Exit(code)
}

func TestIntegrationApplyIsVersioned(t *testing.T) {
	pool := pgtest.Start(t)
	ctx := context.Background()

	// pgtest already migrated; a second run finds nothing pending.
	require.NoError(t, migrations.Apply(ctx, pool, nil))

	var version int64
	var dirty bool
	require.NoError(t, pool.QueryRow(ctx, `SELECT version, dirty FROM schema_migrations`).Scan(&version, &dirty))
	assert.Equal(t, int64(3), version)
	assert.False(t, dirty)

	require.NoError(t, pool.Ping(ctx), "the pool survives the migrator closing its handle")
}
