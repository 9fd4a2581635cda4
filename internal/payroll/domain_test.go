package payroll

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemAttribution(t *testing.T) {
	cases := []struct {
		name  string
		meta  string
		job   int64
		scope *int64
		ok    bool
	}{
		{name: "numbers", meta: `{"job_id": 12, "scope_id": 3}`, job: 12, scope: ptr(3), ok: true},
		{name: "strings", meta: `{"job_id": "12", "scope_id": " 4 "}`, job: 12, scope: ptr(4), ok: true},
		{name: "job only", meta: `{"job_id": 7}`, job: 7, ok: true},
		{name: "bad scope ignored", meta: `{"job_id": 7, "scope_id": "x"}`, job: 7, ok: true},
		{name: "missing job", meta: `{"scope_id": 3}`},
		{name: "null job", meta: `{"job_id": null}`},
		{name: "zero job", meta: `{"job_id": 0}`},
		{name: "non numeric", meta: `{"job_id": "abc"}`},
		{name: "fractional", meta: `{"job_id": 1.5}`},
		{name: "not an object", meta: `[1,2]`},
		{name: "empty", meta: ``},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			item := Item{Meta: json.RawMessage(tc.meta)}
			got, ok := item.Attribution()
			require.Equal(t, tc.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tc.job, got.JobID)
			assert.Equal(t, tc.scope, got.ScopeID)
		})
	}
}

func TestPayPeriodWindowIsEndInclusive(t *testing.T) {
	p := PayPeriod{
		StartDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 1, 14, 0, 0, 0, 0, time.UTC),
	}
	start, end := p.Window()
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), end)
}

func ptr(v int64) *int64 { return &v }
