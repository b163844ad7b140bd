package convert

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/fitforpdf/fitforpdf-web/pkg/quota"
)

// Verdict values the backend may report. Anything else is treated as absent.
const (
	VerdictOK   = "OK"
	VerdictWarn = "WARN"
	VerdictFail = "FAIL"
)

// ReasonPageBurdenHigh marks a FAIL whose output would be too large/dense
// for direct human use.
const ReasonPageBurdenHigh = "page_burden_high"

// Canonical recommendation tokens for the oversized-document state.
const (
	RecommendRetryCompact = "retry_compact"
	RecommendReduceScope  = "reduce_scope"
)

// Verdict is the backend's self-assessment of render quality.
type Verdict struct {
	Verdict string
	Score   *int
	Reasons []string
	Metrics map[string]interface{}
}

// Display-truncation limits: long reason tails are cut for display, not
// recoverability.
const (
	maxWarnReasons = 2
	maxFailReasons = 3
)

// verdictSynonyms is the auditable synonym set for confidence payloads.
var verdictSynonyms = quota.FieldSynonyms{
	"verdict": {"verdict", "confidence_verdict", "confidence.verdict"},
	"score":   {"score", "confidence_score", "confidence.score"},
	"reasons": {"reasons", "reason_codes", "confidence.reasons"},
}

// ValidVerdict reports whether v is one of the three trusted values.
func ValidVerdict(v string) bool {
	switch v {
	case VerdictOK, VerdictWarn, VerdictFail:
		return true
	}
	return false
}

// ParseVerdictPayload extracts a verdict from a loosely-typed JSON payload.
// Returns nil when the verdict field is missing or outside {OK, WARN, FAIL};
// callers then default to OK behavior.
func ParseVerdictPayload(payload map[string]interface{}) *Verdict {
	raw, ok := quota.FirstDefined(payload, verdictSynonyms["verdict"])
	if !ok {
		return nil
	}
	name, _ := raw.(string)
	name = strings.ToUpper(strings.TrimSpace(name))
	if !ValidVerdict(name) {
		return nil
	}

	v := &Verdict{Verdict: name}

	if s, ok := quota.FirstDefined(payload, verdictSynonyms["score"]); ok {
		if f, ok := s.(float64); ok {
			score := int(f)
			v.Score = &score
		}
	}
	if r, ok := quota.FirstDefined(payload, verdictSynonyms["reasons"]); ok {
		switch reasons := r.(type) {
		case []interface{}:
			for _, item := range reasons {
				if s, ok := item.(string); ok && s != "" {
					v.Reasons = append(v.Reasons, s)
				}
			}
		case string:
			v.Reasons = splitReasons(reasons)
		}
	}
	if m, ok := payload["metrics"].(map[string]interface{}); ok {
		v.Metrics = m
	}

	return v
}

// ParseVerdictHeaders extracts a verdict from x-cleansheet-* response
// headers. Same trust rule as ParseVerdictPayload.
func ParseVerdictHeaders(h http.Header) *Verdict {
	name := strings.ToUpper(strings.TrimSpace(h.Get("x-cleansheet-verdict")))
	if !ValidVerdict(name) {
		return nil
	}

	v := &Verdict{Verdict: name}
	if raw := h.Get("x-cleansheet-score"); raw != "" {
		if score, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			v.Score = &score
		}
	}
	v.Reasons = splitReasons(h.Get("x-cleansheet-reasons"))
	return v
}

func splitReasons(raw string) []string {
	if raw == "" {
		return nil
	}
	var reasons []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			reasons = append(reasons, part)
		}
	}
	return reasons
}

// DisplayReasons maps reason codes to human strings, truncated to the first
// 2 for WARN and the first 3 for FAIL. Order matters; duplicates are kept.
func DisplayReasons(v *Verdict) []string {
	if v == nil {
		return nil
	}
	limit := maxFailReasons
	if v.Verdict == VerdictWarn {
		limit = maxWarnReasons
	}
	reasons := v.Reasons
	if len(reasons) > limit {
		reasons = reasons[:limit]
	}
	out := make([]string, 0, len(reasons))
	for _, code := range reasons {
		out = append(out, humanReason(code))
	}
	return out
}

var reasonText = map[string]string{
	ReasonPageBurdenHigh:  "The document would span too many pages to stay readable.",
	"column_overflow":     "Some columns did not fit the page width.",
	"row_truncated":       "Long rows were truncated to fit.",
	"text_truncated":      "Long text was shortened to fit its cell.",
	"merged_cells_approx": "Merged cells were approximated.",
	"low_fit_score":       "The layout engine had low confidence in the fit.",
}

func humanReason(code string) string {
	if text, ok := reasonText[code]; ok {
		return text
	}
	return strings.ReplaceAll(code, "_", " ")
}

// HasPageBurden reports whether a page-burden failure is signaled via either
// response headers or a JSON payload.
func HasPageBurden(h http.Header, payload map[string]interface{}) bool {
	if h != nil {
		if reasonsContain(splitReasons(h.Get("x-cleansheet-reasons")), ReasonPageBurdenHigh) {
			return true
		}
	}
	if payload != nil {
		if v := ParseVerdictPayload(payload); v != nil && reasonsContain(v.Reasons, ReasonPageBurdenHigh) {
			return true
		}
		// Some error payloads carry reasons without a verdict field.
		if r, ok := quota.FirstDefined(payload, verdictSynonyms["reasons"]); ok {
			if list, ok := r.([]interface{}); ok {
				for _, item := range list {
					if s, ok := item.(string); ok && s == ReasonPageBurdenHigh {
						return true
					}
				}
			}
		}
	}
	return false
}

func reasonsContain(reasons []string, code string) bool {
	for _, r := range reasons {
		if r == code {
			return true
		}
	}
	return false
}

// NormalizeRecommendations folds server-supplied recommendation strings into
// the two canonical tokens. Unrecognized suggestions are dropped; an empty
// input yields both tokens so the oversized panel always has an action.
func NormalizeRecommendations(raw []string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(token string) {
		if !seen[token] {
			seen[token] = true
			out = append(out, token)
		}
	}
	for _, rec := range raw {
		lower := strings.ToLower(rec)
		switch {
		case strings.Contains(lower, "compact"):
			add(RecommendRetryCompact)
		case strings.Contains(lower, "scope"), strings.Contains(lower, "reduce"),
			strings.Contains(lower, "split"), strings.Contains(lower, "fewer"):
			add(RecommendReduceScope)
		}
	}
	if len(out) == 0 {
		return []string{RecommendRetryCompact, RecommendReduceScope}
	}
	return out
}
