// Package proxy implements the server-side API routes that validate,
// forward and relay requests to the upstream CleanSheet conversion backend.
package proxy

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fitforpdf/fitforpdf-web/internal/filenames"
	"github.com/fitforpdf/fitforpdf-web/internal/httputil"
	"github.com/fitforpdf/fitforpdf-web/pkg/quota"
)

// Environment variable names reported in missing-configuration errors.
const (
	EnvUpstreamURL = "CLEAN_SHEET_API_URL"
	EnvAPIKey      = "NEATEXPORT_API_KEY"
)

// Inbound headers the proxy consumes or forwards.
const (
	headerFlowID         = "X-Cleansheet-Flow-Id"
	headerBranding       = "X-Fitforpdf-Branding"
	headerSourceFilename = "X-Fitforpdf-Source-Filename"
)

// allowedResponseHeaders is the explicit allow-list of upstream response
// headers relayed to the browser. Hop-by-hop headers like Connection are
// never forwarded.
var allowedResponseHeaders = []string{
	"Content-Type",
	"Content-Disposition",
	"X-Cleansheet-Score",
	"X-Cleansheet-Verdict",
	"X-Cleansheet-Reasons",
	"X-Cleansheet-Debug-Metrics",
	"X-Cleansheet-Branding",
	"X-Cleansheet-Columnmap",
	"X-Cleansheet-Columnmap-Confidence",
	"X-Cleansheet-Columnmap-Dropped",
}

const defaultUpstreamTimeout = 120 * time.Second

// Config holds proxy handler configuration.
type Config struct {
	// UpstreamURL is the CleanSheet backend base URL (CLEAN_SHEET_API_URL).
	UpstreamURL string

	// APIKey authenticates proxy requests upstream (NEATEXPORT_API_KEY).
	APIKey string

	// SampleFixturePath optionally points at a local CSV served by the
	// sample route before falling back to the upstream sample endpoint.
	SampleFixturePath string

	// DevQuota, when set, tracks free exports locally for deployments whose
	// upstream renders but keeps no quota accounting: the quota route
	// serves its figures and the render route enforces and increments it.
	DevQuota *quota.Counter

	// Client is optional; a default with a long timeout is used when nil.
	Client *http.Client

	// Logger emits the per-request metrics line.
	Logger zerolog.Logger

	// Metrics is optional (default: NoopMetrics).
	Metrics Metrics

	// Now is injectable for timing tests.
	Now func() time.Time
}

// Handler proxies render, quota and sample requests.
type Handler struct {
	config  Config
	client  *http.Client
	metrics Metrics
	now     func() time.Time
}

// NewHandler creates a proxy handler.
func NewHandler(config Config) *Handler {
	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: defaultUpstreamTimeout}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &NoopMetrics{}
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{config: config, client: client, metrics: metrics, now: now}
}

// missingEnv returns the env var names that are unset. Checked per request,
// before any I/O.
func (h *Handler) missingEnv() []string {
	var missing []string
	if h.config.UpstreamURL == "" {
		missing = append(missing, EnvUpstreamURL)
	}
	if h.config.APIKey == "" {
		missing = append(missing, EnvAPIKey)
	}
	return missing
}

// Render handles POST /api/render: validate, forward with forced column
// mapping, relay the PDF or error, and attach timing telemetry.
func (h *Handler) Render(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteError(w, http.StatusMethodNotAllowed, httputil.ErrorBody{Error: "Method not allowed"})
		return
	}

	if missing := h.missingEnv(); len(missing) > 0 {
		httputil.WriteError(w, http.StatusInternalServerError, httputil.ErrorBody{
			Error:   "Missing required environment variable(s)",
			Details: map[string]interface{}{"missing": missing},
		})
		return
	}

	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		httputil.WriteError(w, http.StatusBadRequest, httputil.ErrorBody{Error: "Expected multipart/form-data"})
		return
	}

	if h.config.DevQuota != nil && h.config.DevQuota.Remaining(r.Context()) <= 0 {
		httputil.WriteError(w, http.StatusPaymentRequired, httputil.ErrorBody{
			Error: "You've used all your free exports.",
			Code:  quota.CodeFreeQuotaExhausted,
			Details: map[string]interface{}{
				"free_exports_left":  0,
				"free_exports_limit": h.config.DevQuota.Limit(),
			},
		})
		h.metrics.RecordRequest("render", http.StatusPaymentRequired, 0)
		return
	}

	// Copy every inbound query parameter, then force column mapping.
	// Callers cannot opt out via query string.
	q := r.URL.Query()
	q.Set("columnMap", "force")
	upstreamURL := strings.TrimSuffix(h.config.UpstreamURL, "/") + "/render?" + q.Encode()

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, upstreamURL, r.Body)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, httputil.ErrorBody{Error: "Failed to build upstream request"})
		return
	}
	req.Header.Set("Content-Type", r.Header.Get("Content-Type"))
	req.Header.Set("Authorization", "Bearer "+h.config.APIKey)
	// Only these two inbound headers pass through; everything else is
	// dropped.
	if flowID := r.Header.Get(headerFlowID); flowID != "" {
		req.Header.Set(headerFlowID, flowID)
	}
	if branding := r.Header.Get(headerBranding); branding != "" {
		req.Header.Set(headerBranding, branding)
	}

	start := h.now()
	resp, err := h.client.Do(req)
	if err != nil {
		h.metrics.RecordUpstreamError("render")
		httputil.WriteError(w, http.StatusBadGateway, httputil.ErrorBody{
			Error:   "Upstream request failed",
			Details: map[string]interface{}{"error": err.Error()},
		})
		return
	}
	defer func() { _ = resp.Body.Close() }()
	measured := h.now().Sub(start)

	for _, name := range allowedResponseHeaders {
		if v := resp.Header.Get(name); v != "" {
			w.Header().Set(name, v)
		}
	}

	t := deriveTimings(resp.Header, measured)
	w.Header().Set("X-Render-MS", strconv.FormatInt(t.RenderMS, 10))
	w.Header().Set("X-Score-MS", strconv.FormatInt(t.ScoreMS, 10))
	w.Header().Set("X-Total-MS", strconv.FormatInt(t.TotalMS, 10))

	sourceName := r.Header.Get(headerSourceFilename)
	if strings.Contains(resp.Header.Get("Content-Type"), "application/pdf") {
		// The upstream's proposed filename is ignored; ours derives from
		// the client-supplied source filename.
		w.Header().Set("Content-Disposition", filenames.AttachmentDisposition(sourceName))
	}

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.config.Logger.Warn().Err(err).Msg("relay body copy interrupted")
	}

	if h.config.DevQuota != nil && resp.StatusCode < 300 &&
		strings.Contains(resp.Header.Get("Content-Type"), "application/pdf") {
		if err := h.config.DevQuota.Increment(r.Context()); err != nil {
			h.config.Logger.Warn().Err(err).Msg("dev quota increment failed")
		}
	}

	h.metrics.RecordRequest("render", resp.StatusCode, measured)
	h.metrics.RecordRenderTiming(t.RenderMS, t.ScoreMS)

	// Fire-and-forget observability: one structured line per request.
	h.config.Logger.Info().
		Str("route", "/api/render").
		Int("status", resp.StatusCode).
		Str("source", filenames.SanitizeBase(sourceName)).
		Str("query", r.URL.RawQuery).
		Str("flow_id", r.Header.Get(headerFlowID)).
		Int64("render_ms", t.RenderMS).
		Int64("score_ms", t.ScoreMS).
		Msg("render proxied")
}

// Quota handles GET /api/quota: relay the upstream quota payload verbatim.
func (h *Handler) Quota(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteError(w, http.StatusMethodNotAllowed, httputil.ErrorBody{Error: "Method not allowed"})
		return
	}

	if h.config.DevQuota != nil {
		_ = httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"plan_type":          string(quota.PlanFree),
			"free_exports_left":  h.config.DevQuota.Remaining(r.Context()),
			"free_exports_limit": h.config.DevQuota.Limit(),
		})
		h.metrics.RecordRequest("quota", http.StatusOK, 0)
		return
	}

	if missing := h.missingEnv(); len(missing) > 0 {
		httputil.WriteError(w, http.StatusInternalServerError, httputil.ErrorBody{
			Error:   "Missing required environment variable(s)",
			Details: map[string]interface{}{"missing": missing},
		})
		return
	}

	upstreamURL := strings.TrimSuffix(h.config.UpstreamURL, "/") + "/quota"
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, upstreamURL, nil)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, httputil.ErrorBody{Error: "Failed to build upstream request"})
		return
	}
	req.Header.Set("Authorization", "Bearer "+h.config.APIKey)

	start := h.now()
	resp, err := h.client.Do(req)
	if err != nil {
		h.metrics.RecordUpstreamError("quota")
		httputil.WriteError(w, http.StatusBadGateway, httputil.ErrorBody{
			Error:   "Upstream request failed",
			Details: map[string]interface{}{"error": err.Error()},
		})
		return
	}
	defer func() { _ = resp.Body.Close() }()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)

	h.metrics.RecordRequest("quota", resp.StatusCode, h.now().Sub(start))
}

// Sample handles GET /api/sample/premium: serve the local fixture when
// configured and present, else proxy the upstream sample endpoint.
func (h *Handler) Sample(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteError(w, http.StatusMethodNotAllowed, httputil.ErrorBody{Error: "Method not allowed"})
		return
	}

	if h.config.SampleFixturePath != "" {
		if data, err := os.ReadFile(h.config.SampleFixturePath); err == nil {
			w.Header().Set("Content-Type", "text/csv")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(data)
			h.metrics.RecordRequest("sample", http.StatusOK, 0)
			return
		}
	}

	if h.config.UpstreamURL == "" {
		httputil.WriteError(w, http.StatusBadGateway, httputil.ErrorBody{Error: "Sample unavailable"})
		return
	}

	upstreamURL := strings.TrimSuffix(h.config.UpstreamURL, "/") + "/sample/premium"
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, upstreamURL, nil)
	if err != nil {
		httputil.WriteError(w, http.StatusBadGateway, httputil.ErrorBody{Error: "Sample unavailable"})
		return
	}
	req.Header.Set("Authorization", "Bearer "+h.config.APIKey)

	resp, err := h.client.Do(req)
	if err != nil {
		h.metrics.RecordUpstreamError("sample")
		httputil.WriteError(w, http.StatusBadGateway, httputil.ErrorBody{
			Error:   "Upstream request failed",
			Details: map[string]interface{}{"error": err.Error()},
		})
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httputil.WriteError(w, http.StatusBadGateway, httputil.ErrorBody{
			Error:   "Sample unavailable",
			Details: map[string]interface{}{"status": fmt.Sprintf("%d", resp.StatusCode)},
		})
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, resp.Body)
	h.metrics.RecordRequest("sample", http.StatusOK, 0)
}
