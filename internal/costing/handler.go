package costing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/frontier-ops/frontier/internal/outbox"
)

// CacheInvalidator drops cached ledger reports for a tenant.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, tenantID int64) error
}

// RunPostedHandler handles PAYROLL_RUN_POSTED by posting labor costs and then
// reconciling the run. Any error sends the event down the retry path, and the
// savepoint rolls back the rows posted so far. Cached reports are invalidated
// through an outbox commit hook so readers never recache pre-commit totals.
type RunPostedHandler struct {
	engine      *Engine
	invalidator CacheInvalidator
	logger      *slog.Logger
}

// NewRunPostedHandler constructs the handler. invalidator may be nil.
func NewRunPostedHandler(engine *Engine, invalidator CacheInvalidator, logger *slog.Logger) *RunPostedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunPostedHandler{engine: engine, invalidator: invalidator, logger: logger}
}

// Handle implements outbox.Handler.
func (h *RunPostedHandler) Handle(ctx context.Context, tx pgx.Tx, evt outbox.Event) error {
	runID, err := RunIDFromPayload(evt.Payload)
	if err != nil {
		return err
	}
	if runID == "" {
		h.logger.Warn("payroll run posted event without run id",
			slog.Int64("event_outbox_id", evt.ID),
			slog.Int64("tenant_id", evt.TenantID))
		return nil
	}

	res, err := h.engine.PostLaborCosts(ctx, tx, evt.TenantID, runID)
	if err != nil {
		return err
	}
	if _, err := h.engine.Reconcile(ctx, tx, evt.TenantID, runID); err != nil {
		return err
	}
	if res.Posted > 0 && h.invalidator != nil {
		tenantID := evt.TenantID
		if !outbox.AfterCommit(ctx, func(ctx context.Context) { h.invalidate(ctx, tenantID) }) {
			h.logger.Debug("ledger cache left to expire; no commit hook in context",
				slog.Int64("tenant_id", tenantID))
		}
	}
	return nil
}

func (h *RunPostedHandler) invalidate(ctx context.Context, tenantID int64) {
	if err := h.invalidator.Invalidate(ctx, tenantID); err != nil {
		h.logger.Warn("ledger cache invalidation failed", slog.Int64("tenant_id", tenantID), slog.Any("error", err))
	}
}

// RunIDFromPayload extracts payroll_run_id, or its alias id, as a string. A
// positive integer is rendered in decimal; zero, negative and fractional
// numbers count as absent. An empty result with nil error means the payload
// names no run.
func RunIDFromPayload(payload []byte) (string, error) {
	var fields map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return "", fmt.Errorf("%w: expected a JSON object", ErrMalformedPayload)
	}
	for _, key := range []string{"payroll_run_id", "id"} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		if id := scalarString(raw); id != "" {
			return id, nil
		}
	}
	return "", nil
}

func scalarString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil && positiveInteger(n.String()) {
		return n.String()
	}
	return ""
}

// positiveInteger accepts decimal digits without sign, exponent or fraction,
// and rejects all-zero values. Run ids may exceed int64.
func positiveInteger(s string) bool {
	if s == "" {
		return false
	}
	nonZero := false
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
		if r != '0' {
			nonZero = true
		}
	}
	return nonZero
}
