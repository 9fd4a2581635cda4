package outbox

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels a per-row result.
type Outcome string

const (
	OutcomeProcessed    Outcome = "processed"
	OutcomeFailed       Outcome = "failed"
	OutcomeDeadLettered Outcome = "dead_lettered"
)

// Tick statuses reported by the worker.
const (
	TickOK      = "ok"
	TickError   = "error"
	TickSkipped = "skipped"
)

// Metrics exposes Prometheus collectors for the outbox engine. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	events   *prometheus.CounterVec
	batches  *prometheus.HistogramVec
	ticks    *prometheus.CounterVec
	lockHeld prometheus.Gauge
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the outbox metrics against the provided registerer.
// When the registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// EventOutcome counts one row result.
func (m *Metrics) EventOutcome(eventType EventType, outcome Outcome) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(eventType), string(outcome)).Inc()
}

// Tick counts one worker tick.
func (m *Metrics) Tick(status string) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(status).Inc()
}

// LockHeld reports whether this process holds the advisory lock.
func (m *Metrics) LockHeld(held bool) {
	if m == nil {
		return
	}
	if held {
		m.lockHeld.Set(1)
		return
	}
	m.lockHeld.Set(0)
}

// BatchTracker times one batch.
type BatchTracker struct {
	metrics *Metrics
	start   time.Time
}

// TrackBatch starts timing a batch.
func (m *Metrics) TrackBatch() *BatchTracker {
	return &BatchTracker{metrics: m, start: time.Now()}
}

// End records the batch duration partitioned by status and returns err
// untouched.
func (t *BatchTracker) End(err error) error {
	if t == nil || t.metrics == nil {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	t.metrics.batches.WithLabelValues(status).Observe(time.Since(t.start).Seconds())
	return err
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "frontier_outbox_events_total",
		Help: "Outbox rows handled, partitioned by event type and outcome.",
	}, []string{"event_type", "outcome"})
	batches := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "frontier_outbox_batch_duration_seconds",
		Help:    "Duration in seconds of outbox batch processing.",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})
	ticks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "frontier_outbox_worker_ticks_total",
		Help: "Outbox worker ticks partitioned by status.",
	}, []string{"status"})
	lockHeld := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "frontier_outbox_lock_held",
		Help: "1 while this process holds the outbox advisory lock.",
	})
	registerer.MustRegister(events, batches, ticks, lockHeld)
	return &Metrics{events: events, batches: batches, ticks: ticks, lockHeld: lockHeld}
}
