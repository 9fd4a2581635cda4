package payroll

import "errors"

var (
	// ErrRunNotFound indicates the payroll run does not exist for the tenant.
	ErrRunNotFound = errors.New("payroll: run not found")
	// ErrPayPeriodNotFound indicates a run references a missing pay period.
	ErrPayPeriodNotFound = errors.New("payroll: pay period not found")
	// ErrRunNotPosted indicates an operation that needs a posted run.
	ErrRunNotPosted = errors.New("payroll: run not posted")
	// ErrInvalidStatus indicates the run cannot move to the requested status.
	ErrInvalidStatus = errors.New("payroll: invalid status transition")
)
