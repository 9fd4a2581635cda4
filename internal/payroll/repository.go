package payroll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/frontier-ops/frontier/internal/platform/db"
)

// Repository reads payroll runs, items and pay periods. The only write is
// the DRAFT to POSTED transition.
type Repository struct{}

// NewRepository constructs a Repository.
func NewRepository() *Repository {
	return &Repository{}
}

const runColumns = `payroll_run_id, tenant_id, pay_period_id, status, created_at, posted_at`

func scanRun(row pgx.Row) (Run, error) {
	var run Run
	err := row.Scan(&run.ID, &run.TenantID, &run.PayPeriodID, &run.Status, &run.CreatedAt, &run.PostedAt)
	return run, err
}

// GetRun loads a run scoped to the tenant.
func (r *Repository) GetRun(ctx context.Context, q db.DBTX, tenantID int64, runID string) (Run, error) {
	run, err := scanRun(q.QueryRow(ctx,
		`SELECT `+runColumns+` FROM payroll_run WHERE tenant_id = $1 AND payroll_run_id = $2`, tenantID, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("payroll: get run: %w", err)
	}
	return run, nil
}

// GetRunForUpdate loads and row-locks a run.
func (r *Repository) GetRunForUpdate(ctx context.Context, q db.DBTX, tenantID int64, runID string) (Run, error) {
	run, err := scanRun(q.QueryRow(ctx,
		`SELECT `+runColumns+` FROM payroll_run WHERE tenant_id = $1 AND payroll_run_id = $2 FOR UPDATE`, tenantID, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("payroll: lock run: %w", err)
	}
	return run, nil
}

// MarkPosted moves a DRAFT run to POSTED.
func (r *Repository) MarkPosted(ctx context.Context, q db.DBTX, tenantID int64, runID string, at time.Time) error {
	tag, err := q.Exec(ctx, `
UPDATE payroll_run SET status = 'POSTED', posted_at = $3
WHERE tenant_id = $1 AND payroll_run_id = $2 AND status = 'DRAFT'`, tenantID, runID, at.UTC())
	if err != nil {
		return fmt.Errorf("payroll: mark posted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidStatus
	}
	return nil
}

// GetPayPeriod loads a pay period scoped to the tenant.
func (r *Repository) GetPayPeriod(ctx context.Context, q db.DBTX, tenantID int64, periodID string) (PayPeriod, error) {
	var p PayPeriod
	err := q.QueryRow(ctx, `
SELECT pay_period_id, tenant_id, start_date, end_date, status
FROM pay_period WHERE tenant_id = $1 AND pay_period_id = $2`, tenantID, periodID).
		Scan(&p.ID, &p.TenantID, &p.StartDate, &p.EndDate, &p.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return PayPeriod{}, ErrPayPeriodNotFound
	}
	if err != nil {
		return PayPeriod{}, fmt.Errorf("payroll: get pay period: %w", err)
	}
	return p, nil
}

// ListItems returns the run's items ordered by employee then id.
func (r *Repository) ListItems(ctx context.Context, q db.DBTX, tenantID int64, runID string) ([]Item, error) {
	rows, err := q.Query(ctx, `
SELECT id, tenant_id, payroll_run_id, employee_id, hours, rate_cents, gross_pay_cents, meta
FROM payroll_items
WHERE tenant_id = $1 AND payroll_run_id = $2
ORDER BY employee_id, id`, tenantID, runID)
	if err != nil {
		return nil, fmt.Errorf("payroll: list items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		var meta []byte
		if err := rows.Scan(&it.ID, &it.TenantID, &it.RunID, &it.EmployeeID, &it.Hours, &it.RateCents, &it.GrossPayCents, &meta); err != nil {
			return nil, fmt.Errorf("payroll: scan item: %w", err)
		}
		it.Meta = meta
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("payroll: list items: %w", err)
	}
	return items, nil
}

// SumGross totals gross_pay_cents across the run's items.
func (r *Repository) SumGross(ctx context.Context, q db.DBTX, tenantID int64, runID string) (int64, error) {
	var total int64
	err := q.QueryRow(ctx, `
SELECT COALESCE(SUM(gross_pay_cents), 0)::BIGINT
FROM payroll_items WHERE tenant_id = $1 AND payroll_run_id = $2`, tenantID, runID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("payroll: sum gross: %w", err)
	}
	return total, nil
}
