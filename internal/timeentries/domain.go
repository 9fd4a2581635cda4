package timeentries

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNoActiveEntry indicates the employee has no open entry to close.
	ErrNoActiveEntry = errors.New("timeentries: no active entry")
	// ErrEndBeforeStart indicates a clock-out at or before the entry start.
	ErrEndBeforeStart = errors.New("timeentries: end must be after start")
)

// Status values stored on time_entries.
const (
	StatusActive = "ACTIVE"
	StatusClosed = "CLOSED"
)

// Entry is one clocked interval. EndedAt is nil while active.
type Entry struct {
	ID         string     `json:"time_entry_id"`
	TenantID   int64      `json:"tenant_id"`
	EmployeeID int64      `json:"employee_id"`
	JobID      int64      `json:"job_id"`
	ScopeID    int64      `json:"scope_id"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Status     string     `json:"status"`
}

// OverlapSeconds returns the whole seconds e shares with [from, to). Active
// entries overlap nothing.
func (e Entry) OverlapSeconds(from, to time.Time) int64 {
	if e.EndedAt == nil {
		return 0
	}
	start := e.StartedAt.UTC()
	if f := from.UTC(); f.After(start) {
		start = f
	}
	end := e.EndedAt.UTC()
	if t := to.UTC(); t.Before(end) {
		end = t
	}
	if !end.After(start) {
		return 0
	}
	return int64(end.Sub(start) / time.Second)
}

// ClockedOutKey derives the outbox idempotency key for closing entryID.
func ClockedOutKey(entryID string) string {
	return uuid.NewSHA1(uuid.Nil, []byte("TIME_ENTRY_CLOCKED_OUT:"+entryID)).String()
}
