package ledger

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontier-ops/frontier/internal/platform/db"
)

type countingSource struct {
	calls  atomic.Int32
	groups []TotalsGroup
	err    error
}

func (s *countingSource) Totals(ctx context.Context, q db.DBTX, query TotalsQuery) ([]TotalsGroup, error) {
	s.calls.Add(1)
	return s.groups, s.err
}

func newTestReporter(t *testing.T, source TotalsSource) (*Reporter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewReporter(nil, source, NewCache(client, time.Minute), nil), mr
}

func januaryQuery(tenantID int64) TotalsQuery {
	return TotalsQuery{
		TenantID: tenantID,
		From:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestReporterCachesTotals(t *testing.T) {
	scope := int64(9)
	source := &countingSource{groups: []TotalsGroup{
		{JobID: 1, RowCount: 2, TotalCostCents: 500},
		{JobID: 1, ScopeID: &scope, RowCount: 1, TotalCostCents: 250},
	}}
	reporter, _ := newTestReporter(t, source)

	first, err := reporter.Totals(context.Background(), januaryQuery(1))
	require.NoError(t, err)
	second, err := reporter.Totals(context.Background(), januaryQuery(1))
	require.NoError(t, err)

	assert.Equal(t, int32(1), source.calls.Load())
	assert.Equal(t, first, second)
	assert.Equal(t, int64(750), second.GrandTotalCents())
	require.Len(t, second.Groups, 2)
	require.NotNil(t, second.Groups[1].ScopeID)
	assert.Equal(t, scope, *second.Groups[1].ScopeID)
}

func TestReporterInvalidateIsPerTenant(t *testing.T) {
	source := &countingSource{groups: []TotalsGroup{{JobID: 1, RowCount: 1, TotalCostCents: 100}}}
	reporter, _ := newTestReporter(t, source)
	ctx := context.Background()

	_, err := reporter.Totals(ctx, januaryQuery(1))
	require.NoError(t, err)
	_, err = reporter.Totals(ctx, januaryQuery(2))
	require.NoError(t, err)
	require.Equal(t, int32(2), source.calls.Load())

	require.NoError(t, reporter.Invalidate(ctx, 1))

	_, err = reporter.Totals(ctx, januaryQuery(1))
	require.NoError(t, err)
	_, err = reporter.Totals(ctx, januaryQuery(2))
	require.NoError(t, err)
	assert.Equal(t, int32(3), source.calls.Load())
}

func TestReporterFallsBackWhenRedisDown(t *testing.T) {
	source := &countingSource{groups: []TotalsGroup{{JobID: 1, RowCount: 1, TotalCostCents: 100}}}
	reporter, mr := newTestReporter(t, source)
	mr.Close()

	totals, err := reporter.Totals(context.Background(), januaryQuery(1))
	require.NoError(t, err)
	assert.Equal(t, int64(100), totals.GrandTotalCents())
}

func TestReporterWithoutCache(t *testing.T) {
	source := &countingSource{}
	reporter := NewReporter(nil, source, nil, nil)

	totals, err := reporter.Totals(context.Background(), januaryQuery(1))
	require.NoError(t, err)
	assert.Empty(t, totals.Groups)
	_, err = reporter.Totals(context.Background(), januaryQuery(1))
	require.NoError(t, err)
	assert.Equal(t, int32(2), source.calls.Load())
	require.NoError(t, reporter.Invalidate(context.Background(), 1))
}

func TestReporterValidatesQuery(t *testing.T) {
	source := &countingSource{}
	reporter := NewReporter(nil, source, nil, nil)

	q := januaryQuery(1)
	q.To = q.From
	_, err := reporter.Totals(context.Background(), q)
	require.ErrorIs(t, err, ErrInvalidQuery)

	_, err = reporter.Totals(context.Background(), januaryQuery(0))
	require.ErrorIs(t, err, ErrInvalidQuery)
	assert.Zero(t, source.calls.Load())
}

func TestReporterDoesNotCacheErrors(t *testing.T) {
	source := &countingSource{err: errors.New("db down")}
	reporter, _ := newTestReporter(t, source)

	_, err := reporter.Totals(context.Background(), januaryQuery(1))
	require.Error(t, err)
	source.err = nil
	_, err = reporter.Totals(context.Background(), januaryQuery(1))
	require.NoError(t, err)
	assert.Equal(t, int32(2), source.calls.Load())
}
