package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements convert.Metrics using Prometheus.
type Metrics struct {
	submitsTotal   *prometheus.CounterVec
	submitDuration *prometheus.HistogramVec
	fallbacksTotal *prometheus.CounterVec
	verdictsTotal  *prometheus.CounterVec
	downloadsTotal *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		submitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversion_submits_total",
			Help:      "Total number of conversion submissions.",
		}, []string{"mode", "outcome"}),

		submitDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversion_submit_duration_seconds",
			Help:      "End-to-end latency of conversion submissions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),

		fallbacksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversion_fallbacks_total",
			Help:      "Total number of automatic mode fallbacks.",
		}, []string{"from", "to"}),

		verdictsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversion_verdicts_total",
			Help:      "Total confidence verdicts by value.",
		}, []string{"verdict"}),

		downloadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversion_downloads_total",
			Help:      "Total PDF downloads.",
		}, []string{"auto"}),
	}
}

func (m *Metrics) RecordSubmit(mode string, outcome string, duration time.Duration) {
	m.submitsTotal.WithLabelValues(mode, outcome).Inc()
	m.submitDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

func (m *Metrics) RecordFallback(from, to string) {
	m.fallbacksTotal.WithLabelValues(from, to).Inc()
}

func (m *Metrics) RecordVerdict(verdict string) {
	m.verdictsTotal.WithLabelValues(verdict).Inc()
}

func (m *Metrics) RecordDownload(auto bool) {
	m.downloadsTotal.WithLabelValues(strconv.FormatBool(auto)).Inc()
}
