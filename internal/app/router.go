package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/frontier-ops/frontier/internal/observability"
	"github.com/frontier-ops/frontier/internal/ops"
)

// RouterParams groups dependencies for building the ops router.
type RouterParams struct {
	Logger     *slog.Logger
	Config     *Config
	OpsHandler *ops.Handler
	Metrics    *observability.Metrics
}

// NewRouter constructs the chi.Router serving health, metrics and the
// read-only ops endpoints.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	if params.OpsHandler != nil {
		params.OpsHandler.MountRoutes(r)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	return r
}
