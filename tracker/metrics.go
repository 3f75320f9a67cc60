package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for run and fetch accounting.
type Metrics struct {
	Registry *prometheus.Registry

	runs           *prometheus.CounterVec
	recordsFetched *prometheus.CounterVec
	keywordFetches *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
}

// NewMetrics creates and registers the rankwatch instruments on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rankwatch_runs_total",
			Help: "Completed operation runs by outcome",
		}, []string{"operation", "status"}),
		recordsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rankwatch_records_fetched_total",
			Help: "Records written per operation",
		}, []string{"operation"}),
		keywordFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rankwatch_keyword_fetches_total",
			Help: "Per-keyword history fetches by outcome",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rankwatch_run_duration_seconds",
			Help:    "Operation run duration",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"operation"}),
	}
	m.Registry.MustRegister(m.runs, m.recordsFetched, m.keywordFetches, m.runDuration)
	return m
}

func (m *Metrics) observeRun(operation, status string, records int, seconds float64) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(operation, status).Inc()
	if records > 0 {
		m.recordsFetched.WithLabelValues(operation).Add(float64(records))
	}
	m.runDuration.WithLabelValues(operation).Observe(seconds)
}

func (m *Metrics) observeKeywordFetch(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.keywordFetches.WithLabelValues(status).Inc()
}
