package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fitforpdf/fitforpdf-web/pkg/quota"
)

const (
	defaultHTTPTimeout = 60 * time.Second
	maxErrorBodyBytes  = 1 << 20

	// genericNetworkError is shown for transport-level failures; server-
	// reported errors surface the server's own message instead.
	genericNetworkError = "Something went wrong while generating your PDF. Please try again."

	fallbackNotice = "Standard version generated instead."
)

// errorCodeSynonyms and errorMessageSynonyms tolerate the field-name drift
// observed in backend error payloads.
var (
	errorCodeSynonyms    = []string{"code", "errorCode", "error_code"}
	errorMessageSynonyms = []string{"error", "message", "detail"}
	recommendationKeys   = []string{"recommendations", "suggestions", "actions"}
)

// Config holds conversion client configuration.
type Config struct {
	// BaseURL is the funnel server base, e.g. "https://fitforpdf.app".
	BaseURL string

	// HTTPClient is optional; a default with a 60s timeout is used when nil.
	HTTPClient *http.Client

	// Quota gates submissions and is re-synced after every successful
	// render. Optional: a nil state disables gating.
	Quota *quota.State

	// Downloader receives finished PDFs (required).
	Downloader Downloader

	// Options are the conversion options sent with every submission.
	Options Options

	// Progress parameterizes the synthetic progress sequence.
	Progress ProgressConfig

	// Retry bounds the automatic fallback chain (default: one
	// optimized->normal retry).
	Retry *RetryPolicy

	// Logger is used for structured logging (default: NoopLogger).
	Logger Logger

	// Metrics tracks funnel operations (default: NoopMetrics).
	Metrics Metrics

	// Clock and Sleep are injectable for tests.
	Clock func() time.Time
	Sleep func(time.Duration)
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if c.Downloader == nil {
		return fmt.Errorf("downloader is required")
	}
	return nil
}

// Client owns the file-submission/result lifecycle: it builds the render
// request, runs the synthetic progress indicator, interprets the confidence
// verdict and offers the optimized/compact retry paths.
//
// Submissions are strictly sequential per client; a second Submit while one
// is in flight returns ErrBusy.
type Client struct {
	cfg     Config
	http    *http.Client
	retry   RetryPolicy
	logger  Logger
	metrics Metrics
	tracker *Tracker
	clock   func() time.Time
	sleep   func(time.Duration)

	mu        sync.Mutex
	inFlight  bool
	flowID    string
	lastFile  *SourceFile
	escalated map[Mode]bool
	result    Result
}

// NewClient creates a conversion client.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	retry := DefaultRetryPolicy()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	logger := cfg.Logger
	if logger == nil {
		logger = &NoopLogger{}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = &NoopMetrics{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	return &Client{
		cfg:       cfg,
		http:      httpClient,
		retry:     retry,
		logger:    logger,
		metrics:   metrics,
		tracker:   NewTracker(cfg.Progress, clock),
		clock:     clock,
		sleep:     sleep,
		escalated: make(map[Mode]bool),
	}, nil
}

// Progress exposes the synthetic progress tracker.
func (c *Client) Progress() *Tracker { return c.tracker }

// FlowID returns the correlation id of the current flow, if any.
func (c *Client) FlowID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flowID
}

// Result returns a snapshot of the orchestrator's visible state.
func (c *Client) Result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// NewFlowID generates a correlation id: UUID, with a timestamp-random
// fallback if the system randomness source fails.
func NewFlowID() string {
	if u, err := uuid.NewRandom(); err == nil {
		return u.String()
	}
	return fmt.Sprintf("ff-%d-%04d", time.Now().UnixMilli(), rand.IntN(10000))
}

// Submit runs one conversion attempt at the given mode. It is a no-op
// (ErrQuotaLocked, no network call) when the quota is exhausted, and keeps
// the loading state visible for at least the configured progress floor even
// when the network settles faster.
func (c *Client) Submit(ctx context.Context, file SourceFile, mode Mode) error {
	if file.Name == "" || len(file.Data) == 0 {
		return ErrNoFile
	}
	if c.cfg.Quota != nil && c.cfg.Quota.Locked() {
		return ErrQuotaLocked
	}

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return ErrBusy
	}
	c.inFlight = true
	if c.flowID == "" {
		c.flowID = NewFlowID()
	}
	f := file
	c.lastFile = &f
	c.result = Result{State: StateSubmitting}
	c.mu.Unlock()

	c.tracker.Start()
	started := c.clock()

	err := c.attempt(ctx, file, mode, 0)

	duration := c.clock().Sub(started)
	c.metrics.RecordSubmit(string(mode), c.outcome(err), duration)

	// The floor wait runs strictly after the network call settles so a
	// fast response never flashes the loading state away.
	if floor := c.tracker.cfg.MinVisible; duration < floor {
		c.sleep(floor - duration)
	}
	c.tracker.Finish()

	c.mu.Lock()
	c.inFlight = false
	c.mu.Unlock()

	return err
}

func (c *Client) outcome(err error) string {
	result := c.Result()
	switch {
	case err != nil:
		return "error"
	case result.Oversized != nil:
		return "page_burden"
	case result.State == StateResultOK:
		return "ok"
	case result.State == StateResultWarn:
		return "warn"
	case result.State == StateResultFail:
		return "fail"
	default:
		return "quota"
	}
}

// attempt issues one POST /api/render call. attempt counts the fallbacks
// already taken in this chain.
func (c *Client) attempt(ctx context.Context, file SourceFile, mode Mode, attempt int) error {
	renderURL, err := BuildRenderURL(c.cfg.BaseURL+"/api/render", mode, c.cfg.Options)
	if err != nil {
		return err
	}

	body, contentType, err := c.multipartBody(file)
	if err != nil {
		return fmt.Errorf("build multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, renderURL, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-CleanSheet-Flow-Id", c.FlowID())
	req.Header.Set("X-FitForPDF-Source-Filename", file.Name)
	req.Header.Set("X-FitForPDF-Branding", boolFlag(c.cfg.Options.IncludeBranding))

	c.logger.Debug("submitting render request",
		Field{Key: "mode", Value: string(mode)},
		Field{Key: "flow_id", Value: c.FlowID()},
		Field{Key: "file", Value: file.Name},
		Field{Key: "attempt", Value: attempt},
	)

	resp, err := c.http.Do(req)
	if err != nil {
		c.setError(genericNetworkError)
		return fmt.Errorf("render request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.handleErrorResponse(ctx, file, mode, attempt, resp)
	}
	return c.handleSuccess(ctx, file, resp)
}

func (c *Client) multipartBody(file SourceFile) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", file.Name)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, "", err
	}

	opts := c.cfg.Options
	fields := map[string]string{
		"branding":      boolFlag(opts.IncludeBranding),
		"keep_overview": boolFlag(opts.Layout.Overview),
		"keep_headers":  boolFlag(opts.Layout.Headers),
		"keep_footer":   boolFlag(opts.Layout.Footer),
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// handleErrorResponse routes a non-2xx response: quota exhaustion first,
// then page burden, then the bounded fallback, then a terminal error.
func (c *Client) handleErrorResponse(
	ctx context.Context, file SourceFile, mode Mode, attempt int, resp *http.Response,
) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	var payload map[string]interface{}
	_ = json.Unmarshal(raw, &payload) // tolerated: error bodies are not always JSON

	code := errorCode(resp.Header, payload)

	// 1. Quota exhaustion: patch local quota state and stop. Not an error.
	if resp.StatusCode == http.StatusPaymentRequired {
		if _, known := quota.ExhaustionPlan(code); known && c.cfg.Quota != nil {
			c.cfg.Quota.ApplyExhaustion(code, payload)
			c.setResult(Result{State: StateIdle})
			c.logger.Info("render blocked by quota", Field{Key: "code", Value: code})
			return nil
		}
	}

	// 2. Page burden: a dedicated user-actionable state, never retried
	// silently.
	if HasPageBurden(resp.Header, payload) {
		oversized := &Oversized{
			Reasons:         payloadReasons(resp.Header, payload),
			Recommendations: NormalizeRecommendations(payloadStrings(payload, recommendationKeys)),
		}
		c.mu.Lock()
		notice := c.result.Notice
		c.result = Result{State: StateResultFail, Oversized: oversized, Notice: notice}
		c.mu.Unlock()
		return nil
	}

	reqErr := &RequestError{
		Status:  resp.StatusCode,
		Code:    code,
		Message: errorMessage(payload, resp.StatusCode),
	}

	// 3. The one automatic retry in the system: optimized-mode upstream
	// failure silently re-submits as normal, same flow id, progress not
	// restarted.
	if c.retry.allows(mode, attempt, reqErr) {
		c.metrics.RecordFallback(string(mode), string(c.retry.FallbackMode))
		c.mu.Lock()
		if c.result.Notice == "" {
			c.result.Notice = fallbackNotice
		}
		notice := c.result.Notice
		c.mu.Unlock()
		c.logger.Info("falling back to standard render",
			Field{Key: "from", Value: string(mode)},
			Field{Key: "to", Value: string(c.retry.FallbackMode)},
			Field{Key: "flow_id", Value: c.FlowID()},
		)
		err := c.attempt(ctx, file, c.retry.FallbackMode, attempt+1)
		// The fallback outcome keeps the notice visible.
		c.mu.Lock()
		if c.result.Notice == "" {
			c.result.Notice = notice
		}
		c.mu.Unlock()
		return err
	}

	// 4. Terminal: surface the server's message.
	c.setError(reqErr.Error())
	return reqErr
}

// handleSuccess parses the verdict, re-syncs quota (success still consumes
// quota) and either auto-downloads (OK or absent verdict) or holds the PDF
// pending user action (WARN/FAIL).
func (c *Client) handleSuccess(ctx context.Context, file SourceFile, resp *http.Response) error {
	contentType := resp.Header.Get("Content-Type")
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.setError(genericNetworkError)
		return fmt.Errorf("read render response: %w", err)
	}

	var verdict *Verdict
	if strings.Contains(contentType, "application/json") {
		var payload map[string]interface{}
		if json.Unmarshal(raw, &payload) == nil {
			verdict = ParseVerdictPayload(payload)
		}
	} else {
		verdict = ParseVerdictHeaders(resp.Header)
	}

	// Quota was consumed upstream either way; the displayed count must
	// reflect this render before the result is surfaced.
	c.syncQuota(ctx)

	if !strings.Contains(contentType, "application/pdf") {
		c.setError(ErrNotPDF.Error())
		return ErrNotPDF
	}

	name := downloadName(resp.Header.Get("Content-Disposition"), file.Name)

	effective := VerdictOK
	if verdict != nil {
		effective = verdict.Verdict
	}
	c.metrics.RecordVerdict(effective)

	c.mu.Lock()
	notice := c.result.Notice
	c.mu.Unlock()

	switch effective {
	case VerdictWarn:
		c.setResult(Result{
			State: StateResultWarn, Verdict: verdict, PDF: raw,
			Filename: name, Reasons: DisplayReasons(verdict), Notice: notice,
		})
	case VerdictFail:
		c.setResult(Result{
			State: StateResultFail, Verdict: verdict, PDF: raw,
			Filename: name, Reasons: DisplayReasons(verdict), Notice: notice,
		})
	default:
		if err := c.cfg.Downloader.Save(name, raw); err != nil {
			c.setError(err.Error())
			return fmt.Errorf("save pdf: %w", err)
		}
		c.metrics.RecordDownload(true)
		c.mu.Lock()
		c.flowID = "" // flow ends on successful download
		c.result = Result{State: StateResultOK, Verdict: verdict, Filename: name, Notice: notice}
		c.mu.Unlock()
	}
	return nil
}

func (c *Client) syncQuota(ctx context.Context) {
	if c.cfg.Quota != nil {
		c.cfg.Quota.Sync(ctx)
	}
}

// GenerateOptimized escalates to the higher-effort render mode.
func (c *Client) GenerateOptimized(ctx context.Context) error {
	return c.escalate(ctx, ModeOptimized)
}

// GenerateCompact escalates to the density-reducing render mode.
func (c *Client) GenerateCompact(ctx context.Context) error {
	return c.escalate(ctx, ModeCompact)
}

// escalate re-submits the last file at the given mode. A second escalation
// at a mode that already produced a risky result is a no-op, preventing
// retry loops.
func (c *Client) escalate(ctx context.Context, mode Mode) error {
	c.mu.Lock()
	file := c.lastFile
	already := c.escalated[mode]
	risky := c.result.State == StateResultWarn || c.result.State == StateResultFail
	c.mu.Unlock()

	if file == nil {
		return ErrNoFile
	}
	if already && risky {
		return nil
	}

	c.mu.Lock()
	c.escalated[mode] = true
	c.mu.Unlock()

	return c.Submit(ctx, *file, mode)
}

// DownloadAnyway saves the held WARN/FAIL PDF without further network calls
// and ends the flow's correlation.
func (c *Client) DownloadAnyway() error {
	c.mu.Lock()
	pdf := c.result.PDF
	name := c.result.Filename
	if len(pdf) == 0 {
		c.mu.Unlock()
		return ErrNoResult
	}
	c.result.PDF = nil
	c.flowID = ""
	c.mu.Unlock()

	if err := c.cfg.Downloader.Save(name, pdf); err != nil {
		return fmt.Errorf("save pdf: %w", err)
	}
	c.metrics.RecordDownload(false)
	return nil
}

// Dismiss discards the pending result and ends the flow.
func (c *Client) Dismiss() {
	c.mu.Lock()
	c.result = Result{State: StateIdle}
	c.flowID = ""
	c.lastFile = nil
	c.escalated = make(map[Mode]bool)
	c.mu.Unlock()
}

// TrySample fetches the premium demo CSV and runs it through the same
// submit path in compact mode.
func (c *Client) TrySample(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/sample/premium", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch sample: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fetch sample: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read sample: %w", err)
	}

	return c.Submit(ctx, SourceFile{Name: "premium-sample.csv", Data: data}, ModeCompact)
}

func (c *Client) setResult(r Result) {
	c.mu.Lock()
	c.result = r
	c.mu.Unlock()
}

func (c *Client) setError(msg string) {
	c.mu.Lock()
	notice := c.result.Notice
	c.result = Result{State: StateIdle, Err: msg, Notice: notice}
	c.mu.Unlock()
}

// errorCode resolves the exhaustion/error code from headers first, then the
// JSON body.
func errorCode(h http.Header, payload map[string]interface{}) string {
	if code := h.Get("x-cleansheet-code"); code != "" {
		return code
	}
	if code := h.Get("x-error-code"); code != "" {
		return code
	}
	if payload != nil {
		if v, ok := quota.FirstDefined(payload, errorCodeSynonyms); ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

func errorMessage(payload map[string]interface{}, status int) string {
	if payload != nil {
		if v, ok := quota.FirstDefined(payload, errorMessageSynonyms); ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return http.StatusText(status)
}

// payloadReasons collects reason codes from headers or payload for the
// oversized panel.
func payloadReasons(h http.Header, payload map[string]interface{}) []string {
	if reasons := splitReasons(h.Get("x-cleansheet-reasons")); len(reasons) > 0 {
		return reasons
	}
	if payload != nil {
		if r, ok := quota.FirstDefined(payload, verdictSynonyms["reasons"]); ok {
			if list, ok := r.([]interface{}); ok {
				var out []string
				for _, item := range list {
					if s, ok := item.(string); ok {
						out = append(out, s)
					}
				}
				return out
			}
		}
	}
	return nil
}

func payloadStrings(payload map[string]interface{}, keys []string) []string {
	if payload == nil {
		return nil
	}
	v, ok := quota.FirstDefined(payload, keys)
	if !ok {
		return nil
	}
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
