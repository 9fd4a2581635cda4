package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Posting key constants for labor costs derived from payroll runs.
const (
	SourceTypePayrollRunLabor = "payroll_run_labor"
	CostCategoryLabor         = "labor"
)

// Entry is one immutable job-cost posting.
type Entry struct {
	ID                int64               `json:"id"`
	TenantID          int64               `json:"tenant_id" validate:"gt=0"`
	JobID             int64               `json:"job_id" validate:"gt=0"`
	ScopeID           *int64              `json:"scope_id,omitempty"`
	EmployeeID        *int64              `json:"employee_id,omitempty"`
	SourceType        string              `json:"source_type" validate:"required,max=64"`
	SourceReferenceID string              `json:"source_reference_id" validate:"required,max=255"`
	CostCategory      string              `json:"cost_category" validate:"required,max=64"`
	Quantity          decimal.NullDecimal `json:"quantity"`
	UnitCostCents     *int64              `json:"unit_cost_cents,omitempty" validate:"omitempty,gte=0"`
	TotalCostCents    int64               `json:"total_cost_cents" validate:"gte=0"`
	PostingDate       time.Time           `json:"posting_date" validate:"required"`
	CreatedAt         time.Time           `json:"created_at"`
}

// TotalsQuery filters the reporting rollup. The range is [From, To).
type TotalsQuery struct {
	TenantID     int64     `json:"tenant_id" validate:"gt=0"`
	From         time.Time `json:"from" validate:"required"`
	To           time.Time `json:"to" validate:"required,gtfield=From"`
	JobID        *int64    `json:"job_id,omitempty"`
	ScopeID      *int64    `json:"scope_id,omitempty"`
	EmployeeID   *int64    `json:"employee_id,omitempty"`
	CostCategory *string   `json:"cost_category,omitempty"`
	SourceType   *string   `json:"source_type,omitempty"`
}

// Listing bounds for JobLedgerQuery.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// JobLedgerQuery pages through one job's postings in (posting_date, id)
// order, optionally narrowed to a scope. A zero Limit means DefaultListLimit.
type JobLedgerQuery struct {
	TenantID int64  `validate:"gt=0"`
	JobID    int64  `validate:"gt=0"`
	ScopeID  *int64 `validate:"omitempty,gt=0"`
	Limit    int    `validate:"gte=0,lte=500"`
	Offset   int    `validate:"gte=0"`
}

// JobLedger is one page of a job's postings.
type JobLedger struct {
	JobID   int64   `json:"job_id"`
	ScopeID *int64  `json:"scope_id"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
	Rows    []Entry `json:"rows"`
}

// TotalsGroup is one (job, scope, employee) bucket of a totals report.
type TotalsGroup struct {
	JobID          int64  `json:"job_id"`
	ScopeID        *int64 `json:"scope_id"`
	EmployeeID     *int64 `json:"employee_id"`
	RowCount       int64  `json:"row_count"`
	TotalCostCents int64  `json:"total_cost_cents"`
}

// Totals is the reporting response.
type Totals struct {
	TenantID int64         `json:"tenant_id"`
	From     time.Time     `json:"from"`
	To       time.Time     `json:"to"`
	Groups   []TotalsGroup `json:"groups"`
}

// GrandTotalCents sums every group.
func (t Totals) GrandTotalCents() int64 {
	var sum int64
	for _, g := range t.Groups {
		sum += g.TotalCostCents
	}
	return sum
}
