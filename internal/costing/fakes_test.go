package costing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/frontier-ops/frontier/internal/ledger"
	"github.com/frontier-ops/frontier/internal/payroll"
	"github.com/frontier-ops/frontier/internal/platform/db"
	"github.com/frontier-ops/frontier/internal/timeentries"
)

type fakePayroll struct {
	runs    map[string]payroll.Run
	periods map[string]payroll.PayPeriod
	items   map[string][]payroll.Item
}

func (f *fakePayroll) GetRun(ctx context.Context, q db.DBTX, tenantID int64, runID string) (payroll.Run, error) {
	run, ok := f.runs[runID]
	if !ok || run.TenantID != tenantID {
		return payroll.Run{}, payroll.ErrRunNotFound
	}
	return run, nil
}

func (f *fakePayroll) GetPayPeriod(ctx context.Context, q db.DBTX, tenantID int64, periodID string) (payroll.PayPeriod, error) {
	p, ok := f.periods[periodID]
	if !ok {
		return payroll.PayPeriod{}, payroll.ErrPayPeriodNotFound
	}
	return p, nil
}

func (f *fakePayroll) ListItems(ctx context.Context, q db.DBTX, tenantID int64, runID string) ([]payroll.Item, error) {
	return f.items[runID], nil
}

func (f *fakePayroll) SumGross(ctx context.Context, q db.DBTX, tenantID int64, runID string) (int64, error) {
	var sum int64
	for _, it := range f.items[runID] {
		sum += it.GrossPayCents
	}
	return sum, nil
}

type fakeTime struct {
	entries []timeentries.Entry
}

func (f *fakeTime) ClosedOverlapping(ctx context.Context, q db.DBTX, tenantID int64, employeeIDs []int64, from, to time.Time) ([]timeentries.Entry, error) {
	wanted := map[int64]bool{}
	for _, id := range employeeIDs {
		wanted[id] = true
	}
	var out []timeentries.Entry
	for _, e := range f.entries {
		if !wanted[e.EmployeeID] || e.EndedAt == nil {
			continue
		}
		if e.StartedAt.Before(to) && e.EndedAt.After(from) {
			out = append(out, e)
		}
	}
	return out, nil
}

type memLedger struct {
	rows    map[string]ledger.Entry
	order   []string
	nextID  int64
	failErr error
}

func newMemLedger() *memLedger {
	return &memLedger{rows: map[string]ledger.Entry{}}
}

func (m *memLedger) key(e ledger.Entry) string {
	return fmt.Sprintf("%d|%s|%s|%s", e.TenantID, e.SourceType, e.SourceReferenceID, e.CostCategory)
}

func (m *memLedger) Insert(ctx context.Context, q db.DBTX, e ledger.Entry) (int64, error) {
	if m.failErr != nil {
		return 0, m.failErr
	}
	k := m.key(e)
	if _, ok := m.rows[k]; ok {
		return 0, ledger.ErrDuplicatePosting
	}
	m.nextID++
	e.ID = m.nextID
	m.rows[k] = e
	m.order = append(m.order, k)
	return e.ID, nil
}

func (m *memLedger) SumByReferencePrefix(ctx context.Context, q db.DBTX, tenantID int64, sourceType, prefix string) (int64, error) {
	var sum int64
	for _, e := range m.rows {
		if e.TenantID == tenantID && e.SourceType == sourceType && strings.HasPrefix(e.SourceReferenceID, prefix) {
			sum += e.TotalCostCents
		}
	}
	return sum, nil
}

// entries returns the rows ordered by reference.
func (m *memLedger) entries() []ledger.Entry {
	out := make([]ledger.Entry, 0, len(m.rows))
	for _, e := range m.rows {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceReferenceID < out[j].SourceReferenceID })
	return out
}
