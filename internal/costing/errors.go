package costing

import (
	"errors"
	"fmt"
)

var (
	// ErrUnallocatableTime indicates positive gross pay with no overlapping
	// closed time to spread it over.
	ErrUnallocatableTime = errors.New("costing: no allocatable time in pay window")
	// ErrReconciliationMismatch indicates ledger and payroll totals differ.
	ErrReconciliationMismatch = errors.New("costing: payroll reconciliation failed")
	// ErrInvalidMode indicates an unknown allocation mode.
	ErrInvalidMode = errors.New("costing: invalid allocation mode")
	// ErrNegativeGross indicates a negative amount was passed to Allocate.
	ErrNegativeGross = errors.New("costing: gross cents must not be negative")
	// ErrMalformedPayload indicates an event payload that is not a JSON object.
	ErrMalformedPayload = errors.New("costing: malformed event payload")
)

// MismatchError carries both sides of a failed reconciliation.
type MismatchError struct {
	RunID             string
	PayrollTotalCents int64
	LedgerTotalCents  int64
}

// DeltaCents is payroll minus ledger.
func (e *MismatchError) DeltaCents() int64 {
	return e.PayrollTotalCents - e.LedgerTotalCents
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("costing: payroll reconciliation failed for run %s: payroll_total=%d, ledger_total=%d, delta=%d",
		e.RunID, e.PayrollTotalCents, e.LedgerTotalCents, e.DeltaCents())
}

// Is matches ErrReconciliationMismatch.
func (e *MismatchError) Is(target error) bool {
	return target == ErrReconciliationMismatch
}
