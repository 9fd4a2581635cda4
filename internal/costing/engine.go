package costing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/frontier-ops/frontier/internal/ledger"
	"github.com/frontier-ops/frontier/internal/payroll"
	"github.com/frontier-ops/frontier/internal/platform/db"
	"github.com/frontier-ops/frontier/internal/timeentries"
)

// Mode selects how payroll gross is attributed to jobs.
type Mode string

const (
	// ModeDirect posts one row per payroll item using the item's meta.
	ModeDirect Mode = "direct"
	// ModeOverlap spreads each employee's gross over overlapping time entries.
	ModeOverlap Mode = "overlap"
)

// ParseMode validates a configured mode name. Empty selects ModeDirect.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeDirect:
		return ModeDirect, nil
	case ModeOverlap:
		return ModeOverlap, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// PayrollReader reads the payroll side of a run.
type PayrollReader interface {
	GetRun(ctx context.Context, q db.DBTX, tenantID int64, runID string) (payroll.Run, error)
	GetPayPeriod(ctx context.Context, q db.DBTX, tenantID int64, periodID string) (payroll.PayPeriod, error)
	ListItems(ctx context.Context, q db.DBTX, tenantID int64, runID string) ([]payroll.Item, error)
	SumGross(ctx context.Context, q db.DBTX, tenantID int64, runID string) (int64, error)
}

// TimeReader reads closed time entries.
type TimeReader interface {
	ClosedOverlapping(ctx context.Context, q db.DBTX, tenantID int64, employeeIDs []int64, from, to time.Time) ([]timeentries.Entry, error)
}

// LedgerStore writes and sums job-cost postings.
type LedgerStore interface {
	Insert(ctx context.Context, q db.DBTX, e ledger.Entry) (int64, error)
	SumByReferencePrefix(ctx context.Context, q db.DBTX, tenantID int64, sourceType, prefix string) (int64, error)
}

// EngineConfig collects engine dependencies. Nil readers default to the
// package repositories.
type EngineConfig struct {
	Mode    Mode
	Payroll PayrollReader
	Time    TimeReader
	Ledger  LedgerStore
	Metrics *Metrics
	Logger  *slog.Logger
}

// Engine posts payroll labor costs to the job-cost ledger.
type Engine struct {
	mode    Mode
	payroll PayrollReader
	time    TimeReader
	ledger  LedgerStore
	metrics *Metrics
	logger  *slog.Logger
}

// NewEngine constructs an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	mode, err := ParseMode(string(cfg.Mode))
	if err != nil {
		return nil, err
	}
	e := &Engine{
		mode:    mode,
		payroll: cfg.Payroll,
		time:    cfg.Time,
		ledger:  cfg.Ledger,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
	if e.payroll == nil {
		e.payroll = payroll.NewRepository()
	}
	if e.time == nil {
		e.time = timeentries.NewRepository()
	}
	if e.ledger == nil {
		e.ledger = ledger.NewRepository()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e, nil
}

// Mode reports the active allocation mode.
func (e *Engine) Mode() Mode {
	return e.mode
}

// PostResult summarises one PostLaborCosts call.
type PostResult struct {
	RunID   string `json:"payroll_run_id"`
	Mode    Mode   `json:"mode"`
	Posted  int    `json:"posted"`
	Skipped int    `json:"skipped"`
	// MissingAttribution counts direct-mode items without a job.
	MissingAttribution int `json:"missing_attribution"`
}

// PostLaborCosts writes ledger rows for runID using the active mode. Rows
// whose posting key exists are skipped, so the call is safe to repeat. All
// writes go through q; the caller owns the transaction.
func (e *Engine) PostLaborCosts(ctx context.Context, q db.DBTX, tenantID int64, runID string) (PostResult, error) {
	res := PostResult{RunID: runID, Mode: e.mode}
	run, err := e.payroll.GetRun(ctx, q, tenantID, runID)
	if err != nil {
		return res, err
	}
	items, err := e.payroll.ListItems(ctx, q, tenantID, runID)
	if err != nil {
		return res, err
	}
	if len(items) == 0 {
		e.logger.Info("payroll run has no items", slog.Int64("tenant_id", tenantID), slog.String("payroll_run_id", runID))
		return res, nil
	}

	switch e.mode {
	case ModeOverlap:
		err = e.postOverlap(ctx, q, run, items, &res)
	default:
		err = e.postDirect(ctx, q, run, items, &res)
	}
	e.metrics.Add(e.mode, ResultPosted, res.Posted)
	e.metrics.Add(e.mode, ResultSkipped, res.Skipped)
	e.metrics.Add(e.mode, ResultMissingAttribution, res.MissingAttribution)
	if err != nil {
		return res, err
	}
	e.logger.Info("labor costs posted",
		slog.Int64("tenant_id", tenantID),
		slog.String("payroll_run_id", runID),
		slog.String("mode", string(e.mode)),
		slog.Int("posted", res.Posted),
		slog.Int("skipped", res.Skipped),
		slog.Int("missing_attribution", res.MissingAttribution))
	return res, nil
}

func (e *Engine) postDirect(ctx context.Context, q db.DBTX, run payroll.Run, items []payroll.Item, res *PostResult) error {
	if run.PostedAt == nil {
		return fmt.Errorf("%w: %s", payroll.ErrRunNotPosted, run.ID)
	}
	for _, item := range items {
		attr, ok := item.Attribution()
		if !ok {
			res.MissingAttribution++
			e.logger.Warn("payroll item has no job attribution",
				slog.Int64("tenant_id", run.TenantID),
				slog.String("payroll_run_id", run.ID),
				slog.Int64("payroll_item_id", item.ID),
				slog.Int64("employee_id", item.EmployeeID))
			continue
		}
		if item.GrossPayCents == 0 {
			continue
		}
		employee := item.EmployeeID
		entry := ledger.Entry{
			TenantID:          run.TenantID,
			JobID:             attr.JobID,
			ScopeID:           attr.ScopeID,
			EmployeeID:        &employee,
			SourceType:        ledger.SourceTypePayrollRunLabor,
			SourceReferenceID: fmt.Sprintf("%s:%d", run.ID, item.ID),
			CostCategory:      ledger.CostCategoryLabor,
			Quantity:          item.Hours,
			UnitCostCents:     item.RateCents,
			TotalCostCents:    item.GrossPayCents,
			PostingDate:       run.PostedAt.UTC(),
		}
		if err := e.insert(ctx, q, entry, res); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) postOverlap(ctx context.Context, q db.DBTX, run payroll.Run, items []payroll.Item, res *PostResult) error {
	period, err := e.payroll.GetPayPeriod(ctx, q, run.TenantID, run.PayPeriodID)
	if err != nil {
		return err
	}
	from, to := period.Window()

	gross := make(map[int64]int64)
	for _, item := range items {
		gross[item.EmployeeID] += item.GrossPayCents
	}
	employees := make([]int64, 0, len(gross))
	for id := range gross {
		employees = append(employees, id)
	}
	sort.Slice(employees, func(i, j int) bool { return employees[i] < employees[j] })

	entries, err := e.time.ClosedOverlapping(ctx, q, run.TenantID, employees, from, to)
	if err != nil {
		return err
	}
	buckets := make(map[int64][]Bucket, len(employees))
	for _, te := range entries {
		sec := te.OverlapSeconds(from, to)
		if sec <= 0 {
			continue
		}
		buckets[te.EmployeeID] = append(buckets[te.EmployeeID], Bucket{
			BucketKey: BucketKey{JobID: te.JobID, ScopeID: te.ScopeID},
			Seconds:   sec,
		})
	}

	postingDate := to.Add(-time.Second)
	for _, employee := range employees {
		shares, err := Allocate(gross[employee], buckets[employee])
		if err != nil {
			return fmt.Errorf("employee %d in pay window %s..%s: %w",
				employee, from.Format(time.DateOnly), to.Format(time.DateOnly), err)
		}
		for _, share := range shares {
			scope := share.ScopeID
			emp := employee
			unitCents := unitCostCents(share.Cents, share.Seconds)
			entry := ledger.Entry{
				TenantID:          run.TenantID,
				JobID:             share.JobID,
				ScopeID:           &scope,
				EmployeeID:        &emp,
				SourceType:        ledger.SourceTypePayrollRunLabor,
				SourceReferenceID: fmt.Sprintf("%s:%d:%d:%d", run.ID, employee, share.JobID, share.ScopeID),
				CostCategory:      ledger.CostCategoryLabor,
				Quantity:          decimal.NewNullDecimal(hoursFromSeconds(share.Seconds)),
				UnitCostCents:     &unitCents,
				TotalCostCents:    share.Cents,
				PostingDate:       postingDate,
			}
			if err := e.insert(ctx, q, entry, res); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) insert(ctx context.Context, q db.DBTX, entry ledger.Entry, res *PostResult) error {
	_, err := e.ledger.Insert(ctx, q, entry)
	if errors.Is(err, ledger.ErrDuplicatePosting) {
		res.Skipped++
		return nil
	}
	if err != nil {
		return err
	}
	res.Posted++
	return nil
}

var secondsPerHour = decimal.NewFromInt(3600)

// unitCostCents is floor(cents per hour).
func unitCostCents(cents, seconds int64) int64 {
	return decimal.NewFromInt(cents).Mul(secondsPerHour).Div(decimal.NewFromInt(seconds)).Floor().IntPart()
}

// hoursFromSeconds converts to hours rounded to six places.
func hoursFromSeconds(sec int64) decimal.Decimal {
	return decimal.NewFromInt(sec).DivRound(secondsPerHour, 6)
}
