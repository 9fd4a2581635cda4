package timeentries

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/frontier-ops/frontier/internal/platform/db"
)

// Repository reads time entries and closes active ones.
type Repository struct{}

// NewRepository constructs a Repository.
func NewRepository() *Repository {
	return &Repository{}
}

const entryColumns = `time_entry_id, tenant_id, employee_id, job_id, scope_id, started_at, ended_at, status`

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.TenantID, &e.EmployeeID, &e.JobID, &e.ScopeID, &e.StartedAt, &e.EndedAt, &e.Status)
	return e, err
}

// ActiveForUpdate row-locks the employee's open entry.
func (r *Repository) ActiveForUpdate(ctx context.Context, q db.DBTX, tenantID, employeeID int64) (Entry, error) {
	e, err := scanEntry(q.QueryRow(ctx, `
SELECT `+entryColumns+` FROM time_entries
WHERE tenant_id = $1 AND employee_id = $2 AND ended_at IS NULL
FOR UPDATE`, tenantID, employeeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrNoActiveEntry
	}
	if err != nil {
		return Entry{}, fmt.Errorf("timeentries: lock active entry: %w", err)
	}
	return e, nil
}

// Close sets ended_at on an open entry.
func (r *Repository) Close(ctx context.Context, q db.DBTX, tenantID int64, entryID string, at time.Time) error {
	tag, err := q.Exec(ctx, `
UPDATE time_entries SET ended_at = $3, status = $4
WHERE tenant_id = $1 AND time_entry_id = $2 AND ended_at IS NULL`, tenantID, entryID, at.UTC(), StatusClosed)
	if db.IsCheckViolation(err) {
		return fmt.Errorf("%w: %v", ErrEndBeforeStart, err)
	}
	if err != nil {
		return fmt.Errorf("timeentries: close: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoActiveEntry
	}
	return nil
}

// ClosedOverlapping returns the employees' closed entries that intersect
// [from, to), ordered by employee, job, scope and start.
func (r *Repository) ClosedOverlapping(ctx context.Context, q db.DBTX, tenantID int64, employeeIDs []int64, from, to time.Time) ([]Entry, error) {
	if len(employeeIDs) == 0 {
		return nil, nil
	}
	rows, err := q.Query(ctx, `
SELECT `+entryColumns+` FROM time_entries
WHERE tenant_id = $1
  AND employee_id = ANY($2)
  AND ended_at IS NOT NULL
  AND started_at < $4
  AND ended_at > $3
ORDER BY employee_id, job_id, scope_id, started_at`, tenantID, employeeIDs, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("timeentries: list overlapping: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("timeentries: scan entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("timeentries: list overlapping: %w", err)
	}
	return out, nil
}
