package costing

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Posting results recorded per ledger row considered.
const (
	ResultPosted             = "posted"
	ResultSkipped            = "skipped"
	ResultMissingAttribution = "missing_attribution"
)

// Metrics counts ledger postings. A nil *Metrics records nothing.
type Metrics struct {
	postings *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the costing metrics against registerer, or the
// default registerer when nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	postings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "frontier_costing_postings_total",
		Help: "Labor cost ledger rows considered, partitioned by allocation mode and result.",
	}, []string{"mode", "result"})
	registerer.MustRegister(postings)
	return &Metrics{postings: postings}
}

// Add counts n postings of result.
func (m *Metrics) Add(mode Mode, result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.postings.WithLabelValues(string(mode), result).Add(float64(n))
}
