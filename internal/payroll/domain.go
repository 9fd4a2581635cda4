package payroll

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RunStatus enumerates payroll run lifecycle states.
type RunStatus string

const (
	RunStatusDraft  RunStatus = "DRAFT"
	RunStatusPosted RunStatus = "POSTED"
)

// PayPeriod is an inclusive range of calendar days.
type PayPeriod struct {
	ID        string    `json:"pay_period_id"`
	TenantID  int64     `json:"tenant_id"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Status    string    `json:"status"`
}

// Window returns [start 00:00, end+1 00:00) in UTC.
func (p PayPeriod) Window() (time.Time, time.Time) {
	start := time.Date(p.StartDate.Year(), p.StartDate.Month(), p.StartDate.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(p.EndDate.Year(), p.EndDate.Month(), p.EndDate.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return start, end
}

// Run is a payroll run header.
type Run struct {
	ID          string     `json:"payroll_run_id"`
	TenantID    int64      `json:"tenant_id"`
	PayPeriodID string     `json:"pay_period_id"`
	Status      RunStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	PostedAt    *time.Time `json:"posted_at,omitempty"`
}

// Item is one employee line of a run.
type Item struct {
	ID            int64               `json:"id"`
	TenantID      int64               `json:"tenant_id"`
	RunID         string              `json:"payroll_run_id"`
	EmployeeID    int64               `json:"employee_id"`
	Hours         decimal.NullDecimal `json:"hours"`
	RateCents     *int64              `json:"rate_cents,omitempty"`
	GrossPayCents int64               `json:"gross_pay_cents"`
	Meta          json.RawMessage     `json:"meta,omitempty"`
}

// Attribution is the job and optional scope an item is charged to.
type Attribution struct {
	JobID   int64
	ScopeID *int64
}

// Attribution reads job_id and scope_id from the item meta. Both accept a
// JSON number or a numeric string. ok is false when no positive job id is
// present or the meta is not an object.
func (i Item) Attribution() (Attribution, bool) {
	if len(i.Meta) == 0 {
		return Attribution{}, false
	}
	var meta map[string]json.RawMessage
	if err := json.Unmarshal(i.Meta, &meta); err != nil || meta == nil {
		return Attribution{}, false
	}
	job, ok := metaID(meta["job_id"])
	if !ok {
		return Attribution{}, false
	}
	out := Attribution{JobID: job}
	if scope, ok := metaID(meta["scope_id"]); ok {
		out.ScopeID = &scope
	}
	return out, true
}

func metaID(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	text := strings.TrimSpace(string(raw))
	if text == "null" {
		return 0, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		text = strings.TrimSpace(s)
	}
	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
