package convert

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitforpdf/fitforpdf-web/pkg/quota"
)

// recordDownloader captures saved PDFs instead of writing files.
type recordDownloader struct {
	mu    sync.Mutex
	saves map[string][]byte
}

func newRecordDownloader() *recordDownloader {
	return &recordDownloader{saves: make(map[string][]byte)}
}

func (d *recordDownloader) Save(filename string, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.saves[filename] = data
	return nil
}

func (d *recordDownloader) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.saves)
}

func (d *recordDownloader) get(filename string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.saves[filename]
	return data, ok
}

// recordMetrics captures metric calls for assertions.
type recordMetrics struct {
	mu        sync.Mutex
	submits   []string // "mode/outcome"
	fallbacks []string // "from/to"
	verdicts  []string
	downloads []bool
}

func (m *recordMetrics) RecordSubmit(mode, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submits = append(m.submits, mode+"/"+outcome)
}

func (m *recordMetrics) RecordFallback(from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks = append(m.fallbacks, from+"/"+to)
}

func (m *recordMetrics) RecordVerdict(verdict string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verdicts = append(m.verdicts, verdict)
}

func (m *recordMetrics) RecordDownload(auto bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloads = append(m.downloads, auto)
}

// fastProgress removes the visibility floor so tests do not wait.
func fastProgress() ProgressConfig {
	return ProgressConfig{MinVisible: time.Nanosecond, Tick: time.Millisecond}
}

func newTestClient(t *testing.T, baseURL string, state *quota.State) (*Client, *recordDownloader, *recordMetrics) {
	t.Helper()
	downloader := newRecordDownloader()
	metrics := &recordMetrics{}
	client, err := NewClient(Config{
		BaseURL:    baseURL,
		Quota:      state,
		Downloader: downloader,
		Options:    DefaultOptions(),
		Progress:   fastProgress(),
		Metrics:    metrics,
		Sleep:      func(time.Duration) {},
	})
	require.NoError(t, err)
	return client, downloader, metrics
}

func writePDF(w http.ResponseWriter, sourceName string) {
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+sourceName+`"`)
	_, _ = w.Write([]byte("%PDF-1.7 fake"))
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{Downloader: newRecordDownloader()})
	assert.Error(t, err, "missing base URL")

	_, err = NewClient(Config{BaseURL: "http://x"})
	assert.Error(t, err, "missing downloader")
}

func TestSubmit_NoFile(t *testing.T) {
	client, _, _ := newTestClient(t, "http://unused", nil)
	assert.ErrorIs(t, client.Submit(context.Background(), SourceFile{}, ModeNormal), ErrNoFile)
	assert.ErrorIs(t, client.Submit(context.Background(), SourceFile{Name: "x.csv"}, ModeNormal), ErrNoFile)
}

func TestSubmit_QuotaLockedSkipsNetwork(t *testing.T) {
	hits := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		writePDF(w, "x.pdf")
	}))
	defer server.Close()

	state := quota.NewState(server.URL, server.Client())
	zero := 0
	state.SetSnapshot(quota.Snapshot{PlanType: quota.PlanFree, FreeExportsLeft: &zero})

	client, downloader, _ := newTestClient(t, server.URL, state)
	err := client.Submit(context.Background(), SourceFile{Name: "x.csv", Data: []byte("a,b")}, ModeNormal)

	assert.ErrorIs(t, err, ErrQuotaLocked)
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits), "locked submit must not touch the network")
	assert.Equal(t, 0, downloader.count())
}

func TestSubmit_FormDataAndAutoDownload(t *testing.T) {
	var gotFlowID, gotFilename, gotBranding string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/render", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))

		gotFlowID = r.Header.Get("X-CleanSheet-Flow-Id")
		gotBranding = r.FormValue("branding")

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer func() { _ = file.Close() }()
		gotFilename = header.Filename

		assert.Equal(t, "force", r.URL.Query().Get("columnMap"))
		assert.Equal(t, "1", r.FormValue("keep_overview"))
		assert.Equal(t, "1", r.FormValue("keep_headers"))
		assert.Equal(t, "1", r.FormValue("keep_footer"))

		writePDF(w, "report.pdf")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, downloader, metrics := newTestClient(t, server.URL, nil)
	err := client.Submit(context.Background(), SourceFile{Name: "report.csv", Data: []byte("a,b\n1,2")}, ModeNormal)
	require.NoError(t, err)

	assert.NotEmpty(t, gotFlowID)
	assert.Equal(t, "report.csv", gotFilename)
	assert.Equal(t, "1", gotBranding)

	result := client.Result()
	assert.Equal(t, StateResultOK, result.State)
	assert.Equal(t, "report.pdf", result.Filename)
	if _, ok := downloader.get("report.pdf"); !ok {
		t.Error("PDF not saved")
	}
	assert.Equal(t, []string{"normal/ok"}, metrics.submits)
	assert.Equal(t, []bool{true}, metrics.downloads)
	assert.Empty(t, client.FlowID(), "flow ends on successful download")
}

func TestSubmit_InvalidVerdictAutoDownloads(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("x-cleansheet-verdict", "WOBBLY")
		writePDF(w, "sheet.pdf")
	}))
	defer server.Close()

	client, downloader, metrics := newTestClient(t, server.URL, nil)
	err := client.Submit(context.Background(), SourceFile{Name: "sheet.csv", Data: []byte("x")}, ModeNormal)
	require.NoError(t, err)

	assert.Equal(t, StateResultOK, client.Result().State, "invalid verdict is treated as absent")
	assert.Equal(t, 1, downloader.count())
	assert.Equal(t, []string{VerdictOK}, metrics.verdicts)
}

func TestSubmit_WarnHoldsPDF(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("x-cleansheet-verdict", "WARN")
		w.Header().Set("x-cleansheet-reasons", "column_overflow,row_truncated,text_truncated")
		writePDF(w, "sheet.pdf")
	}))
	defer server.Close()

	client, downloader, metrics := newTestClient(t, server.URL, nil)
	err := client.Submit(context.Background(), SourceFile{Name: "sheet.csv", Data: []byte("x")}, ModeNormal)
	require.NoError(t, err)

	result := client.Result()
	assert.Equal(t, StateResultWarn, result.State)
	assert.NotEmpty(t, result.PDF, "WARN holds the PDF pending user action")
	assert.Len(t, result.Reasons, 2, "WARN reasons truncated for display")
	assert.Equal(t, 0, downloader.count(), "no auto-download on WARN")

	// Explicit user action saves the held bytes.
	require.NoError(t, client.DownloadAnyway())
	assert.Equal(t, 1, downloader.count())
	assert.Equal(t, []bool{false}, metrics.downloads)
	assert.Empty(t, client.FlowID())
	assert.Empty(t, client.Result().PDF, "held PDF released after download")

	assert.ErrorIs(t, client.DownloadAnyway(), ErrNoResult)
}

func TestSubmit_QuotaExhaustionPatchesState(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/render", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"code":"free_quota_exhausted","free_exports_limit":5}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	state := quota.NewState(server.URL, server.Client())
	client, downloader, _ := newTestClient(t, server.URL, state)

	err := client.Submit(context.Background(), SourceFile{Name: "x.csv", Data: []byte("a")}, ModeNormal)
	require.NoError(t, err, "quota exhaustion is a state change, not an error")

	assert.True(t, state.Locked())
	assert.True(t, state.PaywallVisible())
	assert.Equal(t, StateIdle, client.Result().State)
	assert.Equal(t, 0, downloader.count())

	// Next submit is blocked locally.
	err = client.Submit(context.Background(), SourceFile{Name: "x.csv", Data: []byte("a")}, ModeNormal)
	assert.ErrorIs(t, err, ErrQuotaLocked)
}

func TestSubmit_OptimizedFallsBackOnce(t *testing.T) {
	var mu sync.Mutex
	var flowIDs []string
	var modes []string

	mux := http.NewServeMux()
	mux.HandleFunc("/api/render", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		flowIDs = append(flowIDs, r.Header.Get("X-CleanSheet-Flow-Id"))
		modes = append(modes, r.URL.Query().Get("mode"))
		mu.Unlock()

		if r.URL.Query().Get("mode") == "optimized" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"optimized render failed"}`))
			return
		}
		writePDF(w, "report.pdf")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, downloader, metrics := newTestClient(t, server.URL, nil)
	err := client.Submit(context.Background(), SourceFile{Name: "report.csv", Data: []byte("a")}, ModeOptimized)
	require.NoError(t, err)

	require.Len(t, modes, 2, "exactly one fallback attempt")
	assert.Equal(t, []string{"optimized", ""}, modes)
	assert.NotEmpty(t, flowIDs[0])
	assert.Equal(t, flowIDs[0], flowIDs[1], "fallback reuses the flow correlation id")

	result := client.Result()
	assert.Equal(t, StateResultOK, result.State)
	assert.Equal(t, "Standard version generated instead.", result.Notice)
	assert.Equal(t, 1, downloader.count())
	assert.Equal(t, []string{"optimized/normal"}, metrics.fallbacks)
}

func TestSubmit_NormalFailureDoesNotFallBack(t *testing.T) {
	hits := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"render crashed"}`))
	}))
	defer server.Close()

	client, _, _ := newTestClient(t, server.URL, nil)
	err := client.Submit(context.Background(), SourceFile{Name: "x.csv", Data: []byte("a")}, ModeNormal)

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusInternalServerError, reqErr.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "normal mode never retries")
	assert.Equal(t, "render crashed", client.Result().Err)
}

func TestSubmit_PageBurden(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{
			"verdict": "FAIL",
			"reasons": ["page_burden_high"],
			"recommendations": ["try the compact layout", "export fewer columns"]
		}`))
	}))
	defer server.Close()

	client, downloader, metrics := newTestClient(t, server.URL, nil)
	err := client.Submit(context.Background(), SourceFile{Name: "big.csv", Data: []byte("a")}, ModeOptimized)
	require.NoError(t, err, "page burden is a user-actionable state, not an error")

	result := client.Result()
	require.NotNil(t, result.Oversized)
	assert.Equal(t, []string{RecommendRetryCompact, RecommendReduceScope}, result.Oversized.Recommendations)
	assert.Equal(t, 0, downloader.count())
	assert.Equal(t, []string{"optimized/page_burden"}, metrics.submits)
	assert.Empty(t, metrics.fallbacks, "page burden is never retried silently")
}

func TestSubmit_NonPDFResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>login please</html>"))
	}))
	defer server.Close()

	client, downloader, _ := newTestClient(t, server.URL, nil)
	err := client.Submit(context.Background(), SourceFile{Name: "x.csv", Data: []byte("a")}, ModeNormal)

	assert.ErrorIs(t, err, ErrNotPDF)
	assert.Equal(t, 0, downloader.count())
}

func TestSubmit_Busy(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		close(entered)
		<-release
		writePDF(w, "x.pdf")
	}))
	defer server.Close()

	client, _, _ := newTestClient(t, server.URL, nil)

	done := make(chan error, 1)
	go func() {
		done <- client.Submit(context.Background(), SourceFile{Name: "x.csv", Data: []byte("a")}, ModeNormal)
	}()

	<-entered
	err := client.Submit(context.Background(), SourceFile{Name: "y.csv", Data: []byte("b")}, ModeNormal)
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-done)
}

func TestSubmit_SyncsQuotaAfterSuccess(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/render", func(w http.ResponseWriter, _ *http.Request) {
		writePDF(w, "x.pdf")
	})
	mux.HandleFunc("/api/quota", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"plan_type":"free","free_exports_left":2,"free_exports_limit":5}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	state := quota.NewState(server.URL, server.Client())
	client, _, _ := newTestClient(t, server.URL, state)

	err := client.Submit(context.Background(), SourceFile{Name: "x.csv", Data: []byte("a")}, ModeNormal)
	require.NoError(t, err)

	snap := state.Snapshot()
	require.NotNil(t, snap.FreeExportsLeft)
	assert.Equal(t, 2, *snap.FreeExportsLeft, "displayed count reflects this render before the result surfaces")
}

func TestSubmit_FreeExportsCountdown(t *testing.T) {
	var mu sync.Mutex
	remaining := 3
	renderHits := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/api/render", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		renderHits++
		remaining--
		mu.Unlock()
		writePDF(w, "x.pdf")
	})
	mux.HandleFunc("/api/quota", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		left := remaining
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(fmt.Sprintf(`{"plan_type":"free","free_exports_left":%d,"free_exports_limit":3}`, left)))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	state := quota.NewState(server.URL, server.Client())
	state.Sync(context.Background())
	client, _, _ := newTestClient(t, server.URL, state)

	file := SourceFile{Name: "x.csv", Data: []byte("a,b")}
	for _, want := range []int{2, 1, 0} {
		require.NoError(t, client.Submit(context.Background(), file, ModeNormal))

		snap := state.Snapshot()
		require.NotNil(t, snap.FreeExportsLeft)
		assert.Equal(t, want, *snap.FreeExportsLeft)
	}
	require.True(t, state.Locked())

	// Fourth submission is blocked locally, without a render call.
	err := client.Submit(context.Background(), file, ModeNormal)
	assert.ErrorIs(t, err, ErrQuotaLocked)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, renderHits)
}

func TestEscalate(t *testing.T) {
	var mu sync.Mutex
	var modes []string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/render", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		modes = append(modes, r.URL.Query().Get("mode"))
		mu.Unlock()
		w.Header().Set("x-cleansheet-verdict", "WARN")
		w.Header().Set("x-cleansheet-reasons", "column_overflow")
		writePDF(w, "x.pdf")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, _, _ := newTestClient(t, server.URL, nil)
	ctx := context.Background()

	require.NoError(t, client.Submit(ctx, SourceFile{Name: "x.csv", Data: []byte("a")}, ModeNormal))
	require.NoError(t, client.GenerateOptimized(ctx))
	require.Equal(t, StateResultWarn, client.Result().State)

	// A second escalation at a mode that already produced a risky result is
	// a no-op, preventing retry loops.
	require.NoError(t, client.GenerateOptimized(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"", "optimized"}, modes)
}

func TestEscalate_NoFile(t *testing.T) {
	client, _, _ := newTestClient(t, "http://unused", nil)
	assert.ErrorIs(t, client.GenerateCompact(context.Background()), ErrNoFile)
}

func TestDismiss(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("x-cleansheet-verdict", "FAIL")
		writePDF(w, "x.pdf")
	}))
	defer server.Close()

	client, _, _ := newTestClient(t, server.URL, nil)
	require.NoError(t, client.Submit(context.Background(), SourceFile{Name: "x.csv", Data: []byte("a")}, ModeNormal))
	require.Equal(t, StateResultFail, client.Result().State)

	client.Dismiss()
	assert.Equal(t, StateIdle, client.Result().State)
	assert.Empty(t, client.FlowID())
	assert.ErrorIs(t, client.DownloadAnyway(), ErrNoResult)
}

func TestTrySample(t *testing.T) {
	var gotFilename, gotMode string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sample/premium", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte("region,revenue\nnorth,120"))
	})
	mux.HandleFunc("/api/render", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		gotFilename = header.Filename
		gotMode = r.URL.Query().Get("mode")
		writePDF(w, "premium-sample.pdf")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, downloader, _ := newTestClient(t, server.URL, nil)
	require.NoError(t, client.TrySample(context.Background()))

	assert.Equal(t, "premium-sample.csv", gotFilename)
	assert.Equal(t, "compact", gotMode, "the sample runs through the compact path")
	assert.Equal(t, 1, downloader.count())
}

func TestSubmit_MinVisibleFloor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writePDF(w, "x.pdf")
	}))
	defer server.Close()

	var slept time.Duration
	downloader := newRecordDownloader()
	client, err := NewClient(Config{
		BaseURL:    server.URL,
		Downloader: downloader,
		Progress:   ProgressConfig{MinVisible: 2 * time.Second, Tick: time.Millisecond},
		Sleep:      func(d time.Duration) { slept = d },
	})
	require.NoError(t, err)

	require.NoError(t, client.Submit(context.Background(), SourceFile{Name: "x.csv", Data: []byte("a")}, ModeNormal))

	// The local server settles near-instantly, so nearly the whole floor
	// remains to wait out.
	assert.Greater(t, slept, time.Second, "fast responses still honor the visibility floor")
	assert.True(t, client.Progress().Snapshot().Finished)
}

func TestNewFlowID(t *testing.T) {
	a, b := NewFlowID(), NewFlowID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
