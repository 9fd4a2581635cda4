package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontier-ops/frontier/internal/observability"
	"github.com/frontier-ops/frontier/internal/ops"
)

func TestRouterServesHealthAndMetrics(t *testing.T) {
	metrics := observability.NewMetrics()
	router := NewRouter(RouterParams{
		Config:     &Config{OpsRateLimit: 100},
		OpsHandler: ops.NewHandler(ops.HandlerConfig{}),
		Metrics:    metrics,
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `frontier_http_requests_total{code="200",route="/healthz"} 1`)
}

func TestRouterRateLimits(t *testing.T) {
	router := NewRouter(RouterParams{
		Config:     &Config{OpsRateLimit: 2},
		OpsHandler: ops.NewHandler(ops.HandlerConfig{}),
	})
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		codes = append(codes, rr.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRouterOmitsUnconfiguredRoutes(t *testing.T) {
	router := NewRouter(RouterParams{OpsHandler: ops.NewHandler(ops.HandlerConfig{})})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/outbox/stats", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
