package costing

import (
	"context"

	"github.com/frontier-ops/frontier/internal/ledger"
	"github.com/frontier-ops/frontier/internal/platform/db"
)

// Reconciliation compares payroll gross with posted labor cost for a run.
type Reconciliation struct {
	RunID             string `json:"payroll_run_id"`
	PayrollTotalCents int64  `json:"payroll_total_cents"`
	LedgerTotalCents  int64  `json:"ledger_total_cents"`
	DeltaCents        int64  `json:"delta_cents"`
	OK                bool   `json:"ok"`
}

// RunReferencePrefix is the source_reference_id prefix shared by every
// labor posting of runID.
func RunReferencePrefix(runID string) string {
	return runID + ":"
}

// Reconcile returns the totals for runID. On mismatch the filled-in
// Reconciliation is returned alongside a *MismatchError.
func (e *Engine) Reconcile(ctx context.Context, q db.DBTX, tenantID int64, runID string) (Reconciliation, error) {
	if _, err := e.payroll.GetRun(ctx, q, tenantID, runID); err != nil {
		return Reconciliation{}, err
	}
	payrollTotal, err := e.payroll.SumGross(ctx, q, tenantID, runID)
	if err != nil {
		return Reconciliation{}, err
	}
	ledgerTotal, err := e.ledger.SumByReferencePrefix(ctx, q, tenantID, ledger.SourceTypePayrollRunLabor, RunReferencePrefix(runID))
	if err != nil {
		return Reconciliation{}, err
	}
	rec := Reconciliation{
		RunID:             runID,
		PayrollTotalCents: payrollTotal,
		LedgerTotalCents:  ledgerTotal,
		DeltaCents:        payrollTotal - ledgerTotal,
		OK:                payrollTotal == ledgerTotal,
	}
	if !rec.OK {
		return rec, &MismatchError{RunID: runID, PayrollTotalCents: payrollTotal, LedgerTotalCents: ledgerTotal}
	}
	return rec, nil
}
