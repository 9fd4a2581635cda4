package costing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontier-ops/frontier/internal/outbox"
)

type recordingInvalidator struct {
	tenants []int64
	err     error
}

func (r *recordingInvalidator) Invalidate(ctx context.Context, tenantID int64) error {
	r.tenants = append(r.tenants, tenantID)
	return r.err
}

func TestRunIDFromPayload(t *testing.T) {
	cases := []struct {
		payload string
		want    string
		err     bool
	}{
		{payload: `{"payroll_run_id": "run-1"}`, want: "run-1"},
		{payload: `{"id": "run-2"}`, want: "run-2"},
		{payload: `{"payroll_run_id": 12345678901234567890}`, want: "12345678901234567890"},
		{payload: `{"id": 42}`, want: "42"},
		{payload: `{"payroll_run_id": "", "id": "fallback"}`, want: "fallback"},
		{payload: `{"payroll_run_id": 0, "id": "fallback"}`, want: "fallback"},
		{payload: `{"payroll_run_id": 0}`},
		{payload: `{"id": -3}`},
		{payload: `{"id": 1.5}`},
		{payload: `{"id": 1e3}`},
		{payload: `{"id": 7.0}`},
		{payload: `{"payroll_run_id": null}`},
		{payload: `{"other": 1}`},
		{payload: `{}`},
		{payload: `[]`, err: true},
		{payload: `"run-1"`, err: true},
		{payload: `null`, err: true},
		{payload: ``, err: true},
	}
	for _, tc := range cases {
		t.Run(tc.payload, func(t *testing.T) {
			got, err := RunIDFromPayload([]byte(tc.payload))
			if tc.err {
				require.ErrorIs(t, err, ErrMalformedPayload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func runPostedEvent(payload string) outbox.Event {
	return outbox.Event{ID: 9, TenantID: 1, EventType: outbox.EventPayrollRunPosted, Payload: json.RawMessage(payload)}
}

func TestRunPostedHandlerPostsAndReconciles(t *testing.T) {
	l := newMemLedger()
	e, _ := newTestEngine(t, ModeDirect, fixturePayroll(), &fakeTime{}, l)
	inv := &recordingInvalidator{}
	h := NewRunPostedHandler(e, inv, nil)

	ctx, hooks := outbox.WithCommitHooks(context.Background())
	require.NoError(t, h.Handle(ctx, nil, runPostedEvent(`{"payroll_run_id": "run-1"}`)))
	assert.Len(t, l.rows, 2)
	assert.Empty(t, inv.tenants, "invalidation waits for the commit")
	hooks.Run(ctx)
	assert.Equal(t, []int64{1}, inv.tenants)

	// Replays post nothing new and leave the cache alone.
	require.NoError(t, h.Handle(ctx, nil, runPostedEvent(`{"id": "run-1"}`)))
	assert.Len(t, l.rows, 2)
	assert.Zero(t, hooks.Len())
	hooks.Run(ctx)
	assert.Equal(t, []int64{1}, inv.tenants)
}

func TestRunPostedHandlerSkipsInvalidationWithoutCommitHooks(t *testing.T) {
	l := newMemLedger()
	e, _ := newTestEngine(t, ModeDirect, fixturePayroll(), &fakeTime{}, l)
	inv := &recordingInvalidator{}

	require.NoError(t, NewRunPostedHandler(e, inv, nil).Handle(context.Background(), nil, runPostedEvent(`{"payroll_run_id": "run-1"}`)))
	assert.Len(t, l.rows, 2)
	assert.Empty(t, inv.tenants)
}

func TestRunPostedHandlerZeroRunIDSucceeds(t *testing.T) {
	l := newMemLedger()
	e, _ := newTestEngine(t, ModeDirect, fixturePayroll(), &fakeTime{}, l)

	require.NoError(t, NewRunPostedHandler(e, nil, nil).Handle(context.Background(), nil, runPostedEvent(`{"payroll_run_id": 0}`)))
	assert.Empty(t, l.rows)
}

func TestRunPostedHandlerMissingRunIDSucceeds(t *testing.T) {
	l := newMemLedger()
	e, _ := newTestEngine(t, ModeDirect, fixturePayroll(), &fakeTime{}, l)
	h := NewRunPostedHandler(e, nil, nil)

	require.NoError(t, h.Handle(context.Background(), nil, runPostedEvent(`{"note": "no id"}`)))
	assert.Empty(t, l.rows)
}

func TestRunPostedHandlerFailures(t *testing.T) {
	t.Run("malformed payload", func(t *testing.T) {
		e, _ := newTestEngine(t, ModeDirect, fixturePayroll(), &fakeTime{}, newMemLedger())
		err := NewRunPostedHandler(e, nil, nil).Handle(context.Background(), nil, runPostedEvent(`[1]`))
		require.ErrorIs(t, err, ErrMalformedPayload)
	})

	t.Run("missing job fails reconciliation", func(t *testing.T) {
		p := fixturePayroll()
		p.items["run-1"][0].Meta = nil
		e, _ := newTestEngine(t, ModeDirect, p, &fakeTime{}, newMemLedger())
		err := NewRunPostedHandler(e, nil, nil).Handle(context.Background(), nil, runPostedEvent(`{"payroll_run_id": "run-1"}`))
		require.ErrorIs(t, err, ErrReconciliationMismatch)
	})

	t.Run("unallocatable time", func(t *testing.T) {
		e, _ := newTestEngine(t, ModeOverlap, fixturePayroll(), &fakeTime{}, newMemLedger())
		err := NewRunPostedHandler(e, nil, nil).Handle(context.Background(), nil, runPostedEvent(`{"payroll_run_id": "run-1"}`))
		require.ErrorIs(t, err, ErrUnallocatableTime)
	})

	t.Run("cache failure is not an event failure", func(t *testing.T) {
		e, _ := newTestEngine(t, ModeDirect, fixturePayroll(), &fakeTime{}, newMemLedger())
		inv := &recordingInvalidator{err: errors.New("redis down")}
		ctx, hooks := outbox.WithCommitHooks(context.Background())
		err := NewRunPostedHandler(e, inv, nil).Handle(ctx, nil, runPostedEvent(`{"payroll_run_id": "run-1"}`))
		require.NoError(t, err)
		assert.NotPanics(t, func() { hooks.Run(ctx) })
		assert.Equal(t, []int64{1}, inv.tenants)
	})
}
