package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements proxy.Metrics using Prometheus.
type Metrics struct {
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	upstreamErrorsTotal *prometheus.CounterVec
	renderDuration      prometheus.Histogram
	scoreDuration       prometheus.Histogram
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_requests_total",
			Help:      "Total number of proxied requests.",
		}, []string{"route", "status"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "proxy_request_duration_seconds",
			Help:      "Latency of proxied requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		upstreamErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_upstream_errors_total",
			Help:      "Total number of upstream transport failures.",
		}, []string{"route"}),

		renderDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_ms",
			Help:      "Upstream-reported render duration in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}),

		scoreDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "score_duration_ms",
			Help:      "Upstream-reported scoring duration in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000},
		}),
	}
}

func (m *Metrics) RecordRequest(route string, status int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func (m *Metrics) RecordUpstreamError(route string) {
	m.upstreamErrorsTotal.WithLabelValues(route).Inc()
}

func (m *Metrics) RecordRenderTiming(renderMS, scoreMS int64) {
	m.renderDuration.Observe(float64(renderMS))
	if scoreMS >= 0 {
		m.scoreDuration.Observe(float64(scoreMS))
	}
}
