// Package observability owns the process Prometheus registry: ops HTTP
// request metrics plus scrape-time outbox queue gauges. Component metrics
// (outbox, costing) register through Registerer.
package observability

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/frontier-ops/frontier/internal/outbox"
)

// Metrics bundles the registry with the ops request collectors.
type Metrics struct {
	reg      *prometheus.Registry
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewMetrics builds a registry carrying the Go and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontier_http_requests_total",
			Help: "Ops HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "frontier_http_request_duration_seconds",
			Help:    "Ops HTTP request duration by route.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"route"}),
	}
	m.reg.MustRegister(m.requests, m.latency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

// Handler serves the registry. A nil *Metrics answers 503.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Middleware records request count and latency by chi route pattern, which
// is only known once the router has run.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		m.latency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry, or the default one on a nil *Metrics.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.reg
}

// StatsFunc reads the outbox queue across all tenants.
type StatsFunc func(ctx context.Context) (outbox.Stats, error)

// RegisterQueueGauges exposes frontier_outbox_rows{state} and the age of the
// oldest pending row, read through stats on every scrape.
func (m *Metrics) RegisterQueueGauges(stats StatsFunc, logger *slog.Logger) error {
	if m == nil || stats == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return m.reg.Register(&queueCollector{
		stats:  stats,
		logger: logger,
		now:    time.Now,
		rows: prometheus.NewDesc("frontier_outbox_rows",
			"Outbox rows by state at scrape time.", []string{"state"}, nil),
		age: prometheus.NewDesc("frontier_outbox_oldest_pending_age_seconds",
			"Age of the oldest unprocessed outbox row, 0 when the queue is empty.", nil, nil),
	})
}

type queueCollector struct {
	stats  StatsFunc
	logger *slog.Logger
	now    func() time.Time
	rows   *prometheus.Desc
	age    *prometheus.Desc
}

func (c *queueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.rows
	ch <- c.age
}

func (c *queueCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := c.stats(ctx)
	if err != nil {
		// Skip the sample rather than failing the whole scrape.
		c.logger.Warn("outbox queue gauges unavailable", slog.Any("error", err))
		return
	}
	ch <- prometheus.MustNewConstMetric(c.rows, prometheus.GaugeValue, float64(s.Pending), "pending")
	ch <- prometheus.MustNewConstMetric(c.rows, prometheus.GaugeValue, float64(s.Due), "due")
	ch <- prometheus.MustNewConstMetric(c.rows, prometheus.GaugeValue, float64(s.DeadLettered), "dead_lettered")
	var age float64
	if s.OldestPendingAt != nil {
		age = c.now().Sub(*s.OldestPendingAt).Seconds()
	}
	ch <- prometheus.MustNewConstMetric(c.age, prometheus.GaugeValue, age)
}
