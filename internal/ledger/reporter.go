package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/frontier-ops/frontier/internal/platform/db"
)

// TotalsSource is the read side the reporter aggregates from.
type TotalsSource interface {
	Totals(ctx context.Context, q db.DBTX, query TotalsQuery) ([]TotalsGroup, error)
}

// Reporter serves read-only cost rollups, cached per tenant when a cache is
// configured. Cache failures degrade to a database read.
type Reporter struct {
	db     db.DBTX
	source TotalsSource
	cache  *Cache
	logger *slog.Logger
	group  singleflight.Group
}

// NewReporter constructs a Reporter. cache may be nil.
func NewReporter(q db.DBTX, source TotalsSource, cache *Cache, logger *slog.Logger) *Reporter {
	if source == nil {
		source = NewRepository()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{db: q, source: source, cache: cache, logger: logger}
}

// Totals returns the grouped report for query.
func (r *Reporter) Totals(ctx context.Context, query TotalsQuery) (Totals, error) {
	if err := validate.Struct(query); err != nil {
		return Totals{}, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	query.From = query.From.UTC()
	query.To = query.To.UTC()

	key, err := r.cache.TotalsKey(ctx, query)
	if err != nil {
		r.logger.Warn("ledger totals cache unavailable", slog.Int64("tenant_id", query.TenantID), slog.Any("error", err))
		return r.load(ctx, query)
	}
	if cached, ok, err := r.cache.Get(ctx, key); err != nil {
		r.logger.Warn("ledger totals cache read failed", slog.String("key", key), slog.Any("error", err))
	} else if ok {
		return cached, nil
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		totals, err := r.load(ctx, query)
		if err != nil {
			return nil, err
		}
		if err := r.cache.Set(ctx, key, totals); err != nil {
			r.logger.Warn("ledger totals cache write failed", slog.String("key", key), slog.Any("error", err))
		}
		return totals, nil
	})
	if err != nil {
		return Totals{}, err
	}
	return v.(Totals), nil
}

// Invalidate drops the tenant's cached reports.
func (r *Reporter) Invalidate(ctx context.Context, tenantID int64) error {
	return r.cache.Bump(ctx, tenantID)
}

func (r *Reporter) load(ctx context.Context, query TotalsQuery) (Totals, error) {
	groups, err := r.source.Totals(ctx, r.db, query)
	if err != nil {
		return Totals{}, err
	}
	return Totals{TenantID: query.TenantID, From: query.From, To: query.To, Groups: groups}, nil
}
