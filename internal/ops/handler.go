package ops

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/frontier-ops/frontier/internal/costing"
	"github.com/frontier-ops/frontier/internal/ledger"
	"github.com/frontier-ops/frontier/internal/outbox"
	"github.com/frontier-ops/frontier/internal/payroll"
	"github.com/frontier-ops/frontier/internal/platform/httpx"
)

// HealthChecker reports database reachability; *pgxpool.Pool satisfies it.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// StatsSource reports outbox queue depth.
type StatsSource interface {
	Stats(ctx context.Context, tenantID *int64) (outbox.Stats, error)
}

// TotalsSource serves ledger rollups.
type TotalsSource interface {
	Totals(ctx context.Context, query ledger.TotalsQuery) (ledger.Totals, error)
}

// Reconciler compares payroll and ledger totals for a run.
type Reconciler interface {
	Reconcile(ctx context.Context, tenantID int64, runID string) (costing.Reconciliation, error)
}

// EventLister pages through outbox rows.
type EventLister interface {
	List(ctx context.Context, query outbox.ListQuery) (outbox.EventPage, error)
}

// JobLedgerSource pages through one job's ledger postings.
type JobLedgerSource interface {
	ListByJob(ctx context.Context, query ledger.JobLedgerQuery) (ledger.JobLedger, error)
}

// Handler serves the read-only operational endpoints.
type Handler struct {
	health     HealthChecker
	stats      StatsSource
	events     EventLister
	totals     TotalsSource
	postings   JobLedgerSource
	reconciler Reconciler
	logger     *slog.Logger
}

// HandlerConfig collects handler dependencies. Nil sources disable their
// routes.
type HandlerConfig struct {
	Health     HealthChecker
	Stats      StatsSource
	Events     EventLister
	Totals     TotalsSource
	Postings   JobLedgerSource
	Reconciler Reconciler
	Logger     *slog.Logger
}

// NewHandler constructs the ops handler.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		health:     cfg.Health,
		stats:      cfg.Stats,
		events:     cfg.Events,
		totals:     cfg.Totals,
		postings:   cfg.Postings,
		reconciler: cfg.Reconciler,
		logger:     logger,
	}
}

// MountRoutes registers the ops routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	if h.stats != nil {
		r.Get("/outbox/stats", h.handleOutboxStats)
	}
	if h.events != nil {
		r.Get("/outbox/events", h.handleOutboxEvents)
	}
	if h.totals != nil {
		r.Get("/ledger/totals", h.handleLedgerTotals)
	}
	if h.postings != nil {
		r.Get("/ledger/jobs/{job_id}/postings", h.handleJobPostings)
	}
	if h.reconciler != nil {
		r.Get("/payroll/runs/{id}/reconciliation", h.handleReconciliation)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.health.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", slog.Any("error", err))
			httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleOutboxStats(w http.ResponseWriter, r *http.Request) {
	tenantID, err := optionalInt(r, "tenant_id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	stats, err := h.stats.Stats(r.Context(), tenantID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) handleOutboxEvents(w http.ResponseWriter, r *http.Request) {
	var query outbox.ListQuery
	var err error
	if query.TenantID, err = requiredInt(r, "tenant_id"); err == nil {
		if query.Processed, err = optionalBool(r, "processed"); err == nil {
			query.Limit, query.Offset, err = parsePage(r)
		}
	}
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	page, err := h.events.List(r.Context(), query)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) handleJobPostings(w http.ResponseWriter, r *http.Request) {
	query := ledger.JobLedgerQuery{}
	jobID, err := strconv.ParseInt(chi.URLParam(r, "job_id"), 10, 64)
	if err != nil || jobID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "job_id must be a positive integer")
		return
	}
	query.JobID = jobID
	if query.TenantID, err = requiredInt(r, "tenant_id"); err == nil {
		if query.ScopeID, err = optionalInt(r, "scope_id"); err == nil {
			query.Limit, query.Offset, err = parsePage(r)
		}
	}
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	page, err := h.postings.ListByJob(r.Context(), query)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) handleLedgerTotals(w http.ResponseWriter, r *http.Request) {
	query, err := parseTotalsQuery(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	totals, err := h.totals.Totals(r.Context(), query)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, totals)
}

func (h *Handler) handleReconciliation(w http.ResponseWriter, r *http.Request) {
	tenantID, err := requiredInt(r, "tenant_id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	runID := chi.URLParam(r, "id")
	rec, err := h.reconciler.Reconcile(r.Context(), tenantID, runID)
	if err != nil && !errors.Is(err, costing.ErrReconciliationMismatch) {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if !rec.OK {
		status = http.StatusConflict
	}
	httpx.JSON(w, status, rec)
}

var errorMappings = []httpx.ErrorMapping{
	{Target: payroll.ErrRunNotFound, Status: http.StatusNotFound},
	{Target: payroll.ErrPayPeriodNotFound, Status: http.StatusNotFound},
	{Target: ledger.ErrInvalidQuery, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Target: outbox.ErrInvalidListQuery, Status: http.StatusBadRequest, Title: "Validation Failed"},
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !httpx.RespondError(w, err, errorMappings...) {
		h.logger.Error("ops request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
}

func parseTotalsQuery(r *http.Request) (ledger.TotalsQuery, error) {
	var q ledger.TotalsQuery
	var err error
	if q.TenantID, err = requiredInt(r, "tenant_id"); err != nil {
		return q, err
	}
	if q.From, err = parseInstant(r, "from"); err != nil {
		return q, err
	}
	if q.To, err = parseInstant(r, "to"); err != nil {
		return q, err
	}
	if q.JobID, err = optionalInt(r, "job_id"); err != nil {
		return q, err
	}
	if q.ScopeID, err = optionalInt(r, "scope_id"); err != nil {
		return q, err
	}
	if q.EmployeeID, err = optionalInt(r, "employee_id"); err != nil {
		return q, err
	}
	q.CostCategory = optionalString(r, "cost_category")
	q.SourceType = optionalString(r, "source_type")
	return q, nil
}

func requiredInt(r *http.Request, name string) (int64, error) {
	v, err := optionalInt(r, name)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, errors.New(name + " is required")
	}
	return *v, nil
}

func optionalInt(r *http.Request, name string) (*int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return nil, errors.New(name + " must be a positive integer")
	}
	return &v, nil
}

func optionalBool(r *http.Request, name string) (*bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, errors.New(name + " must be true or false")
	}
	return &v, nil
}

// parsePage reads limit and offset. Range checks belong to the repositories.
func parsePage(r *http.Request) (limit, offset int, err error) {
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &limit}, {"offset", &offset}} {
		raw := strings.TrimSpace(r.URL.Query().Get(p.name))
		if raw == "" {
			continue
		}
		v, convErr := strconv.Atoi(raw)
		if convErr != nil || v < 0 {
			return 0, 0, errors.New(p.name + " must be a non-negative integer")
		}
		*p.dst = v
	}
	return limit, offset, nil
}

func optionalString(r *http.Request, name string) *string {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil
	}
	return &raw
}

// parseInstant accepts RFC 3339 timestamps or YYYY-MM-DD dates (UTC midnight).
func parseInstant(r *http.Request, name string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}, errors.New(name + " is required")
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Time{}, errors.New(name + " must be RFC 3339 or YYYY-MM-DD")
}
