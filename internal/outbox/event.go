package outbox

import (
	"encoding/json"
	"time"
)

// EventType names a domain fact. The set is open: rows with a type the
// registry does not know fail dispatch and follow the retry path.
type EventType string

const (
	// EventTimeEntryClockedOut is emitted when an employee clocks out.
	EventTimeEntryClockedOut EventType = "TIME_ENTRY_CLOCKED_OUT"
	// EventPayrollRunPosted is emitted when a payroll run moves to POSTED.
	EventPayrollRunPosted EventType = "PAYROLL_RUN_POSTED"
)

// Event is one row of the event_outbox table.
type Event struct {
	ID             int64           `json:"id"`
	TenantID       int64           `json:"tenant_id"`
	EventType      EventType       `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Payload        json.RawMessage `json:"payload"`
	Processed      bool            `json:"processed"`
	ProcessedAt    *time.Time      `json:"processed_at"`
	RetryCount     int             `json:"retry_count"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Listing bounds for ListQuery.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// ListQuery pages through one tenant's rows in id order. A nil Processed
// lists every row; a zero Limit means DefaultListLimit.
type ListQuery struct {
	TenantID  int64 `validate:"gt=0"`
	Processed *bool
	Limit     int `validate:"gte=0,lte=500"`
	Offset    int `validate:"gte=0"`
}

// EventPage is one page of outbox rows. Dead letters appear as processed
// rows whose retry_count reached the limit.
type EventPage struct {
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
	Rows   []Event `json:"rows"`
}

// AppendInput describes a new outbox row.
type AppendInput struct {
	TenantID       int64     `validate:"gt=0"`
	EventType      EventType `validate:"required,max=128"`
	IdempotencyKey string    `validate:"required,max=255"`
	Payload        any
}

// Result summarises one ProcessBatch call. Failed includes DeadLettered rows;
// Skipped counts claimed rows that failed the local due re-check.
type Result struct {
	Processed    int
	Failed       int
	DeadLettered int
	Skipped      int
}

// Claimed reports how many rows the batch touched.
func (r Result) Claimed() int {
	return r.Processed + r.Failed + r.Skipped
}

// Stats is a point-in-time view of the outbox table.
type Stats struct {
	Pending         int64      `json:"pending"`
	Due             int64      `json:"due"`
	Succeeded       int64      `json:"succeeded"`
	DeadLettered    int64      `json:"dead_lettered"`
	OldestPendingAt *time.Time `json:"oldest_pending_at,omitempty"`
}
