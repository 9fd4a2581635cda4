package ops

import (
	"context"
	"time"

	"github.com/frontier-ops/frontier/internal/costing"
	"github.com/frontier-ops/frontier/internal/ledger"
	"github.com/frontier-ops/frontier/internal/outbox"
	"github.com/frontier-ops/frontier/internal/platform/db"
)

// OutboxStats reads queue depth through the outbox repository.
type OutboxStats struct {
	DB         db.DBTX
	Repo       *outbox.Repository
	MaxRetries int
	Now        func() time.Time
}

// Stats implements StatsSource.
func (s OutboxStats) Stats(ctx context.Context, tenantID *int64) (outbox.Stats, error) {
	repo := s.Repo
	if repo == nil {
		repo = outbox.NewRepository()
	}
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now()
	}
	maxRetries := s.MaxRetries
	if maxRetries <= 0 {
		maxRetries = outbox.DefaultMaxRetries
	}
	return repo.Stats(ctx, s.DB, tenantID, now, maxRetries)
}

// EngineReconciler runs costing reconciliation outside any outbox batch.
type EngineReconciler struct {
	DB     db.DBTX
	Engine *costing.Engine
}

// Reconcile implements Reconciler.
func (r EngineReconciler) Reconcile(ctx context.Context, tenantID int64, runID string) (costing.Reconciliation, error) {
	return r.Engine.Reconcile(ctx, r.DB, tenantID, runID)
}

// OutboxEvents lists outbox rows for inspection, dead letters included.
type OutboxEvents struct {
	DB   db.DBTX
	Repo *outbox.Repository
}

// List implements EventLister.
func (s OutboxEvents) List(ctx context.Context, query outbox.ListQuery) (outbox.EventPage, error) {
	repo := s.Repo
	if repo == nil {
		repo = outbox.NewRepository()
	}
	return repo.List(ctx, s.DB, query)
}

// JobPostings lists one job's ledger postings.
type JobPostings struct {
	DB   db.DBTX
	Repo *ledger.Repository
}

// ListByJob implements JobLedgerSource.
func (s JobPostings) ListByJob(ctx context.Context, query ledger.JobLedgerQuery) (ledger.JobLedger, error) {
	repo := s.Repo
	if repo == nil {
		repo = ledger.NewRepository()
	}
	return repo.ListByJob(ctx, s.DB, query)
}
