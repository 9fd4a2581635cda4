package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"

	"github.com/frontier-ops/frontier/internal/platform/db"
)

var validate = validator.New()

// Repository persists job-cost postings. Insert is the only write it offers.
type Repository struct{}

// NewRepository constructs a Repository.
func NewRepository() *Repository {
	return &Repository{}
}

// Insert appends e and returns its id. A posting whose key already exists is
// reported as ErrDuplicatePosting without aborting the caller's transaction.
func (r *Repository) Insert(ctx context.Context, q db.DBTX, e Entry) (int64, error) {
	if err := validate.Struct(e); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if e.Quantity.Valid && e.Quantity.Decimal.IsNegative() {
		return 0, fmt.Errorf("%w: negative quantity", ErrInvalidEntry)
	}
	var id int64
	err := q.QueryRow(ctx, `
INSERT INTO job_cost_ledger (
    tenant_id, job_id, scope_id, employee_id, source_type, source_reference_id,
    cost_category, quantity, unit_cost_cents, total_cost_cents, posting_date
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT ON CONSTRAINT uq_job_cost_ledger_posting_key DO NOTHING
RETURNING id`,
		e.TenantID, e.JobID, e.ScopeID, e.EmployeeID, e.SourceType, e.SourceReferenceID,
		e.CostCategory, e.Quantity, e.UnitCostCents, e.TotalCostCents, e.PostingDate.UTC(),
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrDuplicatePosting
	}
	if db.IsCheckViolation(err) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: insert posting: %w", err)
	}
	return id, nil
}

// SumByReferencePrefix totals the postings of sourceType whose reference
// starts with prefix. prefix is matched literally.
func (r *Repository) SumByReferencePrefix(ctx context.Context, q db.DBTX, tenantID int64, sourceType, prefix string) (int64, error) {
	var total int64
	err := q.QueryRow(ctx, `
SELECT COALESCE(SUM(total_cost_cents), 0)::BIGINT
FROM job_cost_ledger
WHERE tenant_id = $1 AND source_type = $2 AND source_reference_id LIKE $3 ESCAPE '\'`,
		tenantID, sourceType, LikePrefix(prefix)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("ledger: sum postings: %w", err)
	}
	return total, nil
}

// ListByReferencePrefix returns the postings SumByReferencePrefix totals,
// ordered by id.
func (r *Repository) ListByReferencePrefix(ctx context.Context, q db.DBTX, tenantID int64, sourceType, prefix string) ([]Entry, error) {
	rows, err := q.Query(ctx, `SELECT `+entryColumns+`
FROM job_cost_ledger
WHERE tenant_id = $1 AND source_type = $2 AND source_reference_id LIKE $3 ESCAPE '\'
ORDER BY id`, tenantID, sourceType, LikePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("ledger: list postings: %w", err)
	}
	return collectEntries(rows)
}

// ListByJob returns one page of a job's postings in posting order.
func (r *Repository) ListByJob(ctx context.Context, q db.DBTX, query JobLedgerQuery) (JobLedger, error) {
	if err := validate.Struct(query); err != nil {
		return JobLedger{}, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if query.Limit == 0 {
		query.Limit = DefaultListLimit
	}
	rows, err := q.Query(ctx, `SELECT `+entryColumns+`
FROM job_cost_ledger
WHERE tenant_id = $1 AND job_id = $2 AND ($3::bigint IS NULL OR scope_id = $3)
ORDER BY posting_date, id
LIMIT $4 OFFSET $5`, query.TenantID, query.JobID, query.ScopeID, query.Limit, query.Offset)
	if err != nil {
		return JobLedger{}, fmt.Errorf("ledger: list job postings: %w", err)
	}
	entries, err := collectEntries(rows)
	if err != nil {
		return JobLedger{}, err
	}
	return JobLedger{
		JobID:   query.JobID,
		ScopeID: query.ScopeID,
		Limit:   query.Limit,
		Offset:  query.Offset,
		Rows:    entries,
	}, nil
}

const entryColumns = `id, tenant_id, job_id, scope_id, employee_id, source_type, source_reference_id,
       cost_category, quantity, unit_cost_cents, total_cost_cents, posting_date, created_at`

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	out := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.ID, &e.TenantID, &e.JobID, &e.ScopeID, &e.EmployeeID, &e.SourceType, &e.SourceReferenceID,
			&e.CostCategory, &e.Quantity, &e.UnitCostCents, &e.TotalCostCents, &e.PostingDate, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ledger: scan posting: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: list postings: %w", err)
	}
	return out, nil
}

// Totals groups postings in [From, To) by job, scope and employee.
func (r *Repository) Totals(ctx context.Context, q db.DBTX, query TotalsQuery) ([]TotalsGroup, error) {
	sql, args := totalsSQL(query)
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: totals: %w", err)
	}
	defer rows.Close()

	groups := make([]TotalsGroup, 0)
	for rows.Next() {
		var g TotalsGroup
		if err := rows.Scan(&g.JobID, &g.ScopeID, &g.EmployeeID, &g.RowCount, &g.TotalCostCents); err != nil {
			return nil, fmt.Errorf("ledger: scan totals: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: totals: %w", err)
	}
	return groups, nil
}

func totalsSQL(query TotalsQuery) (string, []any) {
	var b strings.Builder
	b.WriteString(`
SELECT job_id, scope_id, employee_id, COUNT(id)::BIGINT, COALESCE(SUM(total_cost_cents), 0)::BIGINT
FROM job_cost_ledger
WHERE tenant_id = $1 AND posting_date >= $2 AND posting_date < $3`)
	args := []any{query.TenantID, query.From.UTC(), query.To.UTC()}
	add := func(column string, value any) {
		args = append(args, value)
		fmt.Fprintf(&b, " AND %s = $%d", column, len(args))
	}
	if query.JobID != nil {
		add("job_id", *query.JobID)
	}
	if query.ScopeID != nil {
		add("scope_id", *query.ScopeID)
	}
	if query.EmployeeID != nil {
		add("employee_id", *query.EmployeeID)
	}
	if query.CostCategory != nil {
		add("cost_category", *query.CostCategory)
	}
	if query.SourceType != nil {
		add("source_type", *query.SourceType)
	}
	b.WriteString(`
GROUP BY job_id, scope_id, employee_id
ORDER BY job_id ASC, scope_id ASC NULLS FIRST, employee_id ASC NULLS FIRST`)
	return b.String(), args
}

// LikePrefix escapes LIKE metacharacters in prefix and appends the wildcard.
func LikePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
