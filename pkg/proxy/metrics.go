package proxy

import "time"

// Metrics defines the interface for tracking proxy operations.
type Metrics interface {
	// RecordRequest records a proxied request and its final status.
	RecordRequest(route string, status int, duration time.Duration)

	// RecordUpstreamError records a transport-level upstream failure.
	RecordUpstreamError(route string)

	// RecordRenderTiming records the upstream-reported render and score
	// durations in milliseconds.
	RecordRenderTiming(renderMS, scoreMS int64)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordRequest(route string, status int, duration time.Duration) {}
func (n *NoopMetrics) RecordUpstreamError(route string)                               {}
func (n *NoopMetrics) RecordRenderTiming(renderMS, scoreMS int64)                     {}
