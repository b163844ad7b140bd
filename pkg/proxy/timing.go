package proxy

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/fitforpdf/fitforpdf-web/pkg/quota"
)

// Upstream timing headers.
const (
	headerDebugMetrics = "X-Cleansheet-Debug-Metrics"
	headerScoreMS      = "X-Cleansheet-Score-MS"
)

// Key-name drift observed in the debug-metrics JSON.
var (
	renderMSSynonyms = []string{"render_ms", "renderMs", "render_time_ms", "renderTimeMs", "render_duration_ms"}
	scoreMSSynonyms  = []string{"score_ms", "scoreMs", "score_time_ms", "scoreTimeMs"}
)

// timings holds the derived per-request timing telemetry.
type timings struct {
	RenderMS int64
	ScoreMS  int64
	TotalMS  int64

	// scoreKnown is false when no score figure was reported anywhere and
	// ScoreMS merely defaulted to RenderMS.
	scoreKnown bool
}

// deriveTimings computes render/score/total milliseconds. Render time
// prefers the upstream debug-metrics figure and falls back to the proxy's
// measured wall clock. Score time comes from the dedicated header, then the
// debug-metrics JSON, then defaults to the render time. Total is
// score+render when a score was reported, else just render.
func deriveTimings(h http.Header, measured time.Duration) timings {
	var metrics map[string]interface{}
	if raw := h.Get(headerDebugMetrics); raw != "" {
		_ = json.Unmarshal([]byte(raw), &metrics)
	}

	t := timings{RenderMS: measured.Milliseconds()}
	if ms, ok := metricsMS(metrics, renderMSSynonyms); ok {
		t.RenderMS = ms
	}

	if raw := h.Get(headerScoreMS); raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			t.ScoreMS = ms
			t.scoreKnown = true
		}
	}
	if !t.scoreKnown {
		if ms, ok := metricsMS(metrics, scoreMSSynonyms); ok {
			t.ScoreMS = ms
			t.scoreKnown = true
		}
	}

	if t.scoreKnown {
		t.TotalMS = t.RenderMS + t.ScoreMS
	} else {
		t.ScoreMS = t.RenderMS
		t.TotalMS = t.RenderMS
	}
	return t
}

func metricsMS(metrics map[string]interface{}, keys []string) (int64, bool) {
	if metrics == nil {
		return 0, false
	}
	v, ok := quota.FirstDefined(metrics, keys)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case string:
		if ms, err := strconv.ParseInt(n, 10, 64); err == nil {
			return ms, true
		}
	}
	return 0, false
}
