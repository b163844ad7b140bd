// Package convert implements the client-side conversion orchestration flow:
// file submission, synthetic progress, confidence-verdict branching, quota
// bookkeeping and the bounded optimized->normal fallback.
package convert

// Mode selects the rendering strategy requested from the backend.
type Mode string

const (
	// ModeNormal is the default rendering strategy.
	ModeNormal Mode = "normal"
	// ModeOptimized requests the higher-effort layout pass.
	ModeOptimized Mode = "optimized"
	// ModeCompact requests the density-reducing layout pass, used as the
	// escalation path for oversized documents.
	ModeCompact Mode = "compact"
)

// Layout controls which structural sections are kept in the output.
type Layout struct {
	Overview bool
	Headers  bool
	Footer   bool
}

// Options are the user-facing conversion options.
type Options struct {
	IncludeBranding  bool
	TruncateLongText bool
	Layout           Layout
}

// DefaultOptions returns the options the upload widget starts with.
func DefaultOptions() Options {
	return Options{
		IncludeBranding: true,
		Layout:          Layout{Overview: true, Headers: true, Footer: true},
	}
}

// SourceFile is the user-selected spreadsheet.
type SourceFile struct {
	Name string
	Data []byte
}

// State names the orchestrator's lifecycle states.
type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StateResultOK   State = "result-ok"
	StateResultWarn State = "result-warn"
	StateResultFail State = "result-fail"
)

// Oversized is the dedicated presentation state for a page-burden failure:
// the document is too large/dense for direct use and the server suggested
// how to proceed.
type Oversized struct {
	Reasons         []string
	Recommendations []string
}

// Result is a snapshot of the orchestrator's visible state.
type Result struct {
	State    State
	Verdict  *Verdict
	Filename string

	// PDF is held in memory for WARN/FAIL verdicts pending explicit user
	// action; it is nil once a download completes.
	PDF []byte

	// Notice is a non-error informational string (e.g. after the silent
	// optimized->normal fallback).
	Notice string

	// Reasons are the display-truncated human reason strings for
	// WARN/FAIL verdicts.
	Reasons []string

	// Oversized is set for page-burden failures.
	Oversized *Oversized

	// Err is the surfaced error message, if the last attempt failed
	// terminally.
	Err string
}
