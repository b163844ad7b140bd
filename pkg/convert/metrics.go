package convert

import "time"

// Metrics defines the interface for tracking conversion funnel operations.
type Metrics interface {
	// RecordSubmit records a render submission attempt and its outcome
	// ("ok", "warn", "fail", "quota", "page_burden", "error").
	RecordSubmit(mode string, outcome string, duration time.Duration)

	// RecordFallback records an automatic optimized->normal fallback.
	RecordFallback(from, to string)

	// RecordVerdict records the confidence verdict of a successful render.
	RecordVerdict(verdict string)

	// RecordDownload records a PDF download (auto for OK verdicts,
	// manual for download-anyway).
	RecordDownload(auto bool)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordSubmit(mode string, outcome string, duration time.Duration) {}
func (n *NoopMetrics) RecordFallback(from, to string)                                   {}
func (n *NoopMetrics) RecordVerdict(verdict string)                                     {}
func (n *NoopMetrics) RecordDownload(auto bool)                                         {}
