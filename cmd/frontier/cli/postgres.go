package cli

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/frontier-ops/frontier/internal/costing"
	"github.com/frontier-ops/frontier/internal/platform/db"
)

// TxCostPoster posts a run's labor costs in a transaction of its own and
// invalidates cached reports once it commits.
type TxCostPoster struct {
	Pool        *pgxpool.Pool
	Engine      *costing.Engine
	Invalidator costing.CacheInvalidator
	Logger      *slog.Logger
}

// PostLaborCosts implements CostPoster.
func (p TxCostPoster) PostLaborCosts(ctx context.Context, tenantID int64, runID string) (costing.PostResult, error) {
	var res costing.PostResult
	err := db.WithTx(ctx, p.Pool, func(tx pgx.Tx) error {
		var err error
		res, err = p.Engine.PostLaborCosts(ctx, tx, tenantID, runID)
		return err
	})
	if err != nil {
		return costing.PostResult{}, err
	}
	if res.Posted > 0 && p.Invalidator != nil {
		if err := p.Invalidator.Invalidate(ctx, tenantID); err != nil && p.Logger != nil {
			p.Logger.Warn("ledger cache invalidation failed", slog.Int64("tenant_id", tenantID), slog.Any("error", err))
		}
	}
	return res, nil
}
