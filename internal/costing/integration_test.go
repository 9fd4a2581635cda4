//go:build integration

package costing_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontier-ops/frontier/internal/costing"
	"github.com/frontier-ops/frontier/internal/ledger"
	"github.com/frontier-ops/frontier/internal/outbox"
	"github.com/frontier-ops/frontier/internal/payroll"
	"github.com/frontier-ops/frontier/internal/testing/pgtest"
)

const tenantID int64 = 7

func TestMain(m *testing.M) {
	code := m.Run()
	pgtest.Terminate()
	os.Exit(code)
}

func seedRun(t *testing.T, pool *pgxpool.Pool, runID string) {
	t.Helper()
	ctx := context.Background()
	_, err := pool.Exec(ctx, `INSERT INTO pay_period (pay_period_id, tenant_id, start_date, end_date, status)
VALUES ('pp-jan', $1, '2024-01-01', '2024-01-31', 'OPEN') ON CONFLICT DO NOTHING`, tenantID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO payroll_run (payroll_run_id, tenant_id, pay_period_id, status)
VALUES ($1, $2, 'pp-jan', 'DRAFT')`, runID, tenantID)
	require.NoError(t, err)
}

func seedItem(t *testing.T, pool *pgxpool.Pool, runID string, employee, gross int64, meta string) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(context.Background(), `INSERT INTO payroll_items
    (tenant_id, payroll_run_id, employee_id, hours, rate_cents, gross_pay_cents, meta)
VALUES ($1, $2, $3, 8, 1000, $4, $5::jsonb) RETURNING id`, tenantID, runID, employee, gross, meta).Scan(&id)
	require.NoError(t, err)
	return id
}

type harness struct {
	pool      *pgxpool.Pool
	processor *outbox.Processor
	engine    *costing.Engine
	payroll   *payroll.Service
}

func newHarness(t *testing.T, mode costing.Mode) harness {
	pool := pgtest.Start(t)
	registry := prometheus.NewRegistry()
	engine, err := costing.NewEngine(costing.EngineConfig{Mode: mode, Metrics: costing.NewMetrics(registry)})
	require.NoError(t, err)
	reporter := ledger.NewReporter(pool, nil, nil, nil)
	handlers := outbox.NewRegistry().
		Register(outbox.EventTimeEntryClockedOut, outbox.Noop).
		Register(outbox.EventPayrollRunPosted, costing.NewRunPostedHandler(engine, reporter, nil))
	return harness{
		pool: pool,
		processor: outbox.NewProcessor(outbox.ProcessorConfig{
			DB:       pool,
			Registry: handlers,
			Metrics:  outbox.NewMetrics(registry),
		}),
		engine:  engine,
		payroll: payroll.NewService(payroll.NewPgStore(pool), nil),
	}
}

func (h harness) ledgerTotal(t *testing.T, runID string) (int64, int) {
	t.Helper()
	entries, err := ledger.NewRepository().ListByReferencePrefix(context.Background(), h.pool, tenantID,
		ledger.SourceTypePayrollRunLabor, costing.RunReferencePrefix(runID))
	require.NoError(t, err)
	var sum int64
	for _, e := range entries {
		sum += e.TotalCostCents
	}
	return sum, len(entries)
}

func TestIntegrationMissingJobRetriesUntilFixed(t *testing.T) {
	h := newHarness(t, costing.ModeDirect)
	ctx := context.Background()

	seedRun(t, h.pool, "run-1")
	seedItem(t, h.pool, "run-1", 1, 1500, `{"job_id": 10}`)
	missing := seedItem(t, h.pool, "run-1", 2, 1000, `{}`)

	posted, err := h.payroll.PostRun(ctx, tenantID, "run-1", time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotZero(t, posted.EventID)

	start := time.Now().UTC().Add(time.Second)
	res, err := h.processor.ProcessBatch(ctx, outbox.BatchOptions{Now: start, BatchSize: 10, MaxRetries: 10})
	require.NoError(t, err)
	assert.Equal(t, outbox.Result{Failed: 1}, res)

	total, rows := h.ledgerTotal(t, "run-1")
	assert.Zero(t, total, "the failed attempt must not leave partial postings")
	assert.Zero(t, rows)

	_, err = h.pool.Exec(ctx, `UPDATE payroll_items SET meta = '{"job_id": "11", "scope_id": 3}' WHERE id = $1`, missing)
	require.NoError(t, err)

	res, err = h.processor.ProcessBatch(ctx, outbox.BatchOptions{Now: start.Add(outbox.RetryWait(1)), BatchSize: 10, MaxRetries: 10})
	require.NoError(t, err)
	assert.Equal(t, outbox.Result{Processed: 1}, res)

	total, rows = h.ledgerTotal(t, "run-1")
	assert.Equal(t, int64(2500), total)
	assert.Equal(t, 2, rows)

	evt, err := outbox.NewRepository().Get(ctx, h.pool, posted.EventID)
	require.NoError(t, err)
	assert.True(t, evt.Processed)
	assert.Equal(t, 1, evt.RetryCount, "retry history survives success")

	rec, err := h.engine.Reconcile(ctx, h.pool, tenantID, "run-1")
	require.NoError(t, err)
	assert.True(t, rec.OK)

	// Replaying the posting is a no-op.
	again, err := h.engine.PostLaborCosts(ctx, h.pool, tenantID, "run-1")
	require.NoError(t, err)
	assert.Zero(t, again.Posted)
	assert.Equal(t, 2, again.Skipped)
}

func TestIntegrationOverlapModeAllocatesByTime(t *testing.T) {
	h := newHarness(t, costing.ModeOverlap)
	ctx := context.Background()

	seedRun(t, h.pool, "run-2")
	seedItem(t, h.pool, "run-2", 1, 1000, `{}`)
	_, err := h.pool.Exec(ctx, `INSERT INTO time_entries
    (time_entry_id, tenant_id, employee_id, job_id, scope_id, started_at, ended_at, status)
VALUES
    ('te-1', $1, 1, 10, 1, '2024-01-10 08:00', '2024-01-10 10:00', 'CLOSED'),
    ('te-2', $1, 1, 20, 2, '2024-01-11 08:00', '2024-01-11 09:00', 'CLOSED'),
    ('te-3', $1, 1, 30, 3, '2024-02-02 08:00', '2024-02-02 09:00', 'CLOSED')`, tenantID)
	require.NoError(t, err)

	_, err = h.payroll.PostRun(ctx, tenantID, "run-2", time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	res, err := h.processor.ProcessBatch(ctx, outbox.BatchOptions{Now: time.Now().UTC().Add(time.Second), BatchSize: 10, MaxRetries: 10})
	require.NoError(t, err)
	require.Equal(t, outbox.Result{Processed: 1}, res)

	entries, err := ledger.NewRepository().ListByReferencePrefix(ctx, h.pool, tenantID,
		ledger.SourceTypePayrollRunLabor, costing.RunReferencePrefix("run-2"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	byJob := map[int64]ledger.Entry{}
	for _, e := range entries {
		byJob[e.JobID] = e
	}
	assert.Equal(t, int64(667), byJob[10].TotalCostCents)
	assert.Equal(t, int64(333), byJob[20].TotalCostCents)
	assert.Equal(t, "run-2:1:10:1", byJob[10].SourceReferenceID)
	assert.Equal(t, time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC), byJob[10].PostingDate.UTC())
	assert.Equal(t, "2", byJob[10].Quantity.Decimal.String())
}

func TestIntegrationUnknownRunPayloadIsAcknowledged(t *testing.T) {
	h := newHarness(t, costing.ModeDirect)
	ctx := context.Background()
	_, err := outbox.NewRepository().Append(ctx, h.pool, outbox.AppendInput{
		TenantID:       tenantID,
		EventType:      outbox.EventPayrollRunPosted,
		IdempotencyKey: "payroll_run:none",
		Payload:        map[string]any{},
	})
	require.NoError(t, err)

	res, err := h.processor.ProcessBatch(ctx, outbox.BatchOptions{Now: time.Now().UTC().Add(time.Second), BatchSize: 10, MaxRetries: 10})
	require.NoError(t, err)
	assert.Equal(t, outbox.Result{Processed: 1}, res)
}
