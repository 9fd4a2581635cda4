package timeentries

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontier-ops/frontier/internal/outbox"
)

type memStore struct {
	entries map[string]Entry
	events  []outbox.AppendInput
}

func (m *memStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	tx := &memTx{entries: make(map[string]Entry, len(m.entries))}
	for k, v := range m.entries {
		tx.entries[k] = v
	}
	tx.events = append(tx.events, m.events...)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.entries, m.events = tx.entries, tx.events
	return nil
}

type memTx struct {
	entries map[string]Entry
	events  []outbox.AppendInput
}

func (m *memTx) ActiveForUpdate(ctx context.Context, tenantID, employeeID int64) (Entry, error) {
	for _, e := range m.entries {
		if e.TenantID == tenantID && e.EmployeeID == employeeID && e.EndedAt == nil {
			return e, nil
		}
	}
	return Entry{}, ErrNoActiveEntry
}

func (m *memTx) Close(ctx context.Context, tenantID int64, entryID string, at time.Time) error {
	e := m.entries[entryID]
	e.EndedAt = &at
	e.Status = StatusClosed
	m.entries[entryID] = e
	return nil
}

func (m *memTx) AppendEvent(ctx context.Context, in outbox.AppendInput) (int64, bool, error) {
	m.events = append(m.events, in)
	return int64(len(m.events)), true, nil
}

func TestClockOutClosesEntryAndAppendsEvent(t *testing.T) {
	start := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	store := &memStore{entries: map[string]Entry{
		"te-1": {ID: "te-1", TenantID: 1, EmployeeID: 10, JobID: 5, ScopeID: 2, StartedAt: start, Status: StatusActive},
	}}
	svc := NewService(store, nil)

	end := start.Add(4 * time.Hour)
	closed, err := svc.ClockOut(context.Background(), 1, 10, end)
	require.NoError(t, err)
	require.NotNil(t, closed.EndedAt)
	assert.Equal(t, end, *closed.EndedAt)
	assert.Equal(t, StatusClosed, store.entries["te-1"].Status)

	require.Len(t, store.events, 1)
	evt := store.events[0]
	assert.Equal(t, outbox.EventTimeEntryClockedOut, evt.EventType)
	assert.Equal(t, ClockedOutKey("te-1"), evt.IdempotencyKey)
	_, err = uuid.Parse(evt.IdempotencyKey)
	require.NoError(t, err)
}

func TestClockOutErrors(t *testing.T) {
	start := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	store := &memStore{entries: map[string]Entry{
		"te-1": {ID: "te-1", TenantID: 1, EmployeeID: 10, JobID: 5, ScopeID: 2, StartedAt: start, Status: StatusActive},
	}}
	svc := NewService(store, nil)

	_, err := svc.ClockOut(context.Background(), 1, 99, start.Add(time.Hour))
	require.ErrorIs(t, err, ErrNoActiveEntry)

	_, err = svc.ClockOut(context.Background(), 1, 10, start)
	require.ErrorIs(t, err, ErrEndBeforeStart)

	assert.Empty(t, store.events)
	assert.Nil(t, store.entries["te-1"].EndedAt)
}

func TestClockedOutKeyIsDeterministic(t *testing.T) {
	assert.Equal(t, ClockedOutKey("te-1"), ClockedOutKey("te-1"))
	assert.NotEqual(t, ClockedOutKey("te-1"), ClockedOutKey("te-2"))
}

func TestOverlapSeconds(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	at := func(d, h int) time.Time { return time.Date(2026, 1, d, h, 0, 0, 0, time.UTC) }
	end := func(d, h int) *time.Time { v := at(d, h); return &v }

	cases := []struct {
		name  string
		entry Entry
		want  int64
	}{
		{name: "inside", entry: Entry{StartedAt: at(2, 8), EndedAt: end(2, 12)}, want: 4 * 3600},
		{name: "straddles start", entry: Entry{StartedAt: time.Date(2025, 12, 31, 22, 0, 0, 0, time.UTC), EndedAt: end(1, 2)}, want: 2 * 3600},
		{name: "straddles end", entry: Entry{StartedAt: at(14, 23), EndedAt: end(15, 3)}, want: 3600},
		{name: "outside", entry: Entry{StartedAt: at(15, 0), EndedAt: end(15, 4)}},
		{name: "active", entry: Entry{StartedAt: at(2, 8)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.entry.OverlapSeconds(from, to))
		})
	}
}
