package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"

	"github.com/frontier-ops/frontier/internal/platform/db"
)

const eventColumns = `id, tenant_id, event_type, idempotency_key, payload, processed, processed_at, retry_count, created_at`

var validate = validator.New()

// Repository encapsulates SQL access to event_outbox. Every method takes the
// querier explicitly so producers can append inside their own transaction
// and the processor can claim inside the batch transaction.
type Repository struct{}

// NewRepository constructs the repository.
func NewRepository() *Repository {
	return &Repository{}
}

// Append inserts a new pending row. A natural-key conflict returns
// ErrDuplicateEvent without aborting the caller's transaction.
func (r *Repository) Append(ctx context.Context, q db.DBTX, in AppendInput) (int64, error) {
	if err := validate.Struct(in); err != nil {
		return 0, fmt.Errorf("outbox: invalid append: %w", err)
	}
	payload, err := encodePayload(in.Payload)
	if err != nil {
		return 0, err
	}
	var id int64
	err = q.QueryRow(ctx, `INSERT INTO event_outbox (tenant_id, event_type, idempotency_key, payload)
VALUES ($1, $2, $3, $4)
ON CONFLICT ON CONSTRAINT uq_event_outbox_idempotency DO NOTHING
RETURNING id`, in.TenantID, string(in.EventType), in.IdempotencyKey, payload).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrDuplicateEvent
		}
		return 0, fmt.Errorf("outbox: append: %w", err)
	}
	return id, nil
}

// AppendOnce appends the row or, when it already exists, returns the id of
// the existing row with created=false.
func (r *Repository) AppendOnce(ctx context.Context, q db.DBTX, in AppendInput) (id int64, created bool, err error) {
	id, err = r.Append(ctx, q, in)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, ErrDuplicateEvent) {
		return 0, false, err
	}
	err = q.QueryRow(ctx, `SELECT id FROM event_outbox WHERE tenant_id=$1 AND event_type=$2 AND idempotency_key=$3`,
		in.TenantID, string(in.EventType), in.IdempotencyKey).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("outbox: lookup duplicate: %w", err)
	}
	return id, false, nil
}

// Get loads one row by id.
func (r *Repository) Get(ctx context.Context, q db.DBTX, id int64) (Event, error) {
	row := q.QueryRow(ctx, `SELECT `+eventColumns+` FROM event_outbox WHERE id=$1`, id)
	evt, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Event{}, ErrEventNotFound
		}
		return Event{}, fmt.Errorf("outbox: get: %w", err)
	}
	return evt, nil
}

// ClaimDue locks up to limit unprocessed rows that are due at now, oldest id
// first. The due filter is part of the WHERE clause so rows still backing
// off never occupy LIMIT slots, and SKIP LOCKED leaves rows held by a
// concurrent claimant to that claimant. Locks last until the transaction of
// q ends.
func (r *Repository) ClaimDue(ctx context.Context, q db.DBTX, now time.Time, limit int) ([]Event, error) {
	rows, err := q.Query(ctx, `SELECT `+eventColumns+`
FROM event_outbox
WHERE processed = false
  AND `+dueAtSQL+` <= $1::timestamptz
ORDER BY id ASC
LIMIT $2
FOR UPDATE SKIP LOCKED`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: claim: %w", err)
	}
	defer rows.Close()
	var events []Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("outbox: claim scan: %w", err)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: claim: %w", err)
	}
	return events, nil
}

// MarkProcessed flags a pending row as successfully handled.
func (r *Repository) MarkProcessed(ctx context.Context, q db.DBTX, id int64, at time.Time) error {
	cmd, err := q.Exec(ctx, `UPDATE event_outbox SET processed = true, processed_at = $2
WHERE id = $1 AND processed = false`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("outbox: mark processed: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: id=%d", ErrEventNotPending, id)
	}
	return nil
}

// Failure is the state of a row after a failed attempt was recorded.
type Failure struct {
	RetryCount   int
	DeadLettered bool
}

// RecordFailure increments retry_count and dead-letters the row once the new
// count reaches maxRetries. The increment happens in SQL so retry_count only
// ever grows.
func (r *Repository) RecordFailure(ctx context.Context, q db.DBTX, id int64, maxRetries int, at time.Time) (Failure, error) {
	var f Failure
	err := q.QueryRow(ctx, `UPDATE event_outbox
SET retry_count = retry_count + 1,
    processed = (retry_count + 1 >= $2),
    processed_at = CASE WHEN retry_count + 1 >= $2 THEN $3::timestamptz ELSE NULL END
WHERE id = $1 AND processed = false
RETURNING retry_count, processed`, id, maxRetries, at.UTC()).Scan(&f.RetryCount, &f.DeadLettered)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Failure{}, fmt.Errorf("%w: id=%d", ErrEventNotPending, id)
		}
		return Failure{}, fmt.Errorf("outbox: record failure: %w", err)
	}
	return f, nil
}

// Stats summarises the table, optionally for one tenant. Processed rows whose
// retry_count reached maxRetries are reported as dead-lettered.
func (r *Repository) Stats(ctx context.Context, q db.DBTX, tenantID *int64, now time.Time, maxRetries int) (Stats, error) {
	var s Stats
	err := q.QueryRow(ctx, `SELECT
    count(*) FILTER (WHERE NOT processed),
    count(*) FILTER (WHERE NOT processed AND `+dueAtSQL+` <= $2::timestamptz),
    count(*) FILTER (WHERE processed AND retry_count < $3),
    count(*) FILTER (WHERE processed AND retry_count >= $3),
    min(created_at) FILTER (WHERE NOT processed)
FROM event_outbox
WHERE ($1::bigint IS NULL OR tenant_id = $1)`, tenantID, now.UTC(), maxRetries).
		Scan(&s.Pending, &s.Due, &s.Succeeded, &s.DeadLettered, &s.OldestPendingAt)
	if err != nil {
		return Stats{}, fmt.Errorf("outbox: stats: %w", err)
	}
	return s, nil
}

// List returns one page of a tenant's rows ordered by id, optionally
// filtered on the processed flag.
func (r *Repository) List(ctx context.Context, q db.DBTX, query ListQuery) (EventPage, error) {
	if err := validate.Struct(query); err != nil {
		return EventPage{}, fmt.Errorf("%w: %v", ErrInvalidListQuery, err)
	}
	if query.Limit == 0 {
		query.Limit = DefaultListLimit
	}
	rows, err := q.Query(ctx, `SELECT `+eventColumns+` FROM event_outbox
WHERE tenant_id = $1 AND ($2::boolean IS NULL OR processed = $2)
ORDER BY id
LIMIT $3 OFFSET $4`, query.TenantID, query.Processed, query.Limit, query.Offset)
	if err != nil {
		return EventPage{}, fmt.Errorf("outbox: list: %w", err)
	}
	defer rows.Close()

	page := EventPage{Limit: query.Limit, Offset: query.Offset, Rows: make([]Event, 0)}
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return EventPage{}, fmt.Errorf("outbox: scan: %w", err)
		}
		page.Rows = append(page.Rows, evt)
	}
	if err := rows.Err(); err != nil {
		return EventPage{}, fmt.Errorf("outbox: list: %w", err)
	}
	return page, nil
}

func encodePayload(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case nil:
		return []byte(`{}`), nil
	case json.RawMessage:
		if len(v) == 0 {
			return []byte(`{}`), nil
		}
		if !json.Valid(v) {
			return nil, errors.New("outbox: payload is not valid json")
		}
		return v, nil
	case []byte:
		if !json.Valid(v) {
			return nil, errors.New("outbox: payload is not valid json")
		}
		return v, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("outbox: encode payload: %w", err)
		}
		return raw, nil
	}
}

func scanEvent(row pgx.Row) (Event, error) {
	var (
		evt       Event
		eventType string
		payload   []byte
	)
	if err := row.Scan(&evt.ID, &evt.TenantID, &eventType, &evt.IdempotencyKey, &payload,
		&evt.Processed, &evt.ProcessedAt, &evt.RetryCount, &evt.CreatedAt); err != nil {
		return Event{}, err
	}
	evt.EventType = EventType(eventType)
	evt.Payload = json.RawMessage(payload)
	return evt, nil
}
