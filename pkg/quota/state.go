package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Exhaustion codes the render backend attaches to HTTP 402 responses.
const (
	CodeFreeQuotaExhausted = "free_quota_exhausted"
	CodeCreditsExhausted   = "credits_exhausted"
	CodeProQuotaExhausted  = "pro_quota_exhausted"
)

// ExhaustionPlan maps a 402 exhaustion code to the plan it locks.
// The second return value is false for unrecognized codes.
func ExhaustionPlan(code string) (PlanType, bool) {
	switch code {
	case CodeFreeQuotaExhausted:
		return PlanFree, true
	case CodeCreditsExhausted:
		return PlanCredits, true
	case CodeProQuotaExhausted:
		return PlanPro, true
	}
	return "", false
}

const defaultSyncTimeout = 10 * time.Second

// State is the client-side single source of truth for the caller's plan and
// remaining-export display. It refreshes itself from GET /api/quota on a
// best-effort basis and reacts to exhaustion signals embedded in render
// errors.
type State struct {
	baseURL string
	client  *http.Client
	group   singleflight.Group

	mu       sync.RWMutex
	snap     Snapshot
	message  string
	paywall  bool
	lastSync time.Time
}

// NewState creates a State that syncs against baseURL (e.g.
// "https://fitforpdf.app"). A nil client falls back to a default with a
// conservative timeout.
func NewState(baseURL string, client *http.Client) *State {
	if client == nil {
		client = &http.Client{Timeout: defaultSyncTimeout}
	}
	return &State{
		baseURL: baseURL,
		client:  client,
		snap:    Snapshot{PlanType: PlanFree},
	}
}

// Sync refreshes the snapshot from GET /api/quota. Network failures and
// non-2xx responses are swallowed: the previous in-memory state is kept
// untouched. Concurrent callers share a single request.
func (s *State) Sync(ctx context.Context) {
	_, _, _ = s.group.Do("sync", func() (interface{}, error) {
		s.syncOnce(ctx)
		return nil, nil
	})
}

func (s *State) syncOnce(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/quota", nil)
	if err != nil {
		return
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return
	}

	snap := SnapshotFromPayload(payload)

	s.mu.Lock()
	s.snap = snap
	// A confirmed sync supersedes any locally-patched exhaustion state.
	s.message = ""
	s.paywall = false
	s.lastSync = time.Now()
	s.mu.Unlock()
}

// ApplyExhaustion force-sets the snapshot to an exhausted state for the plan
// identified by code, using whatever figures the error payload supplies
// (missing figures default to 0). The patch is local and unconfirmed; the
// next successful Sync is authoritative. Returns false for codes it does not
// recognize.
func (s *State) ApplyExhaustion(code string, payload map[string]interface{}) bool {
	plan, ok := ExhaustionPlan(code)
	if !ok {
		return false
	}

	zero := 0
	snap := Snapshot{PlanType: plan}

	switch plan {
	case PlanPro:
		snap.RemainingInPeriod = &zero
		snap.UsedInPeriod = pickInt(payload, snapshotSynonyms["used_in_period"])
		snap.PeriodLimit = pickInt(payload, snapshotSynonyms["period_limit"])
		if snap.PeriodLimit == nil {
			limit := DefaultProPeriodLimit
			snap.PeriodLimit = &limit
		}
	default:
		left := 0
		if v := pickInt(payload, snapshotSynonyms["free_exports_left"]); v != nil {
			left = *v
		}
		if left < 0 {
			left = 0
		}
		snap.FreeExportsLeft = &left
		snap.FreeExportsLimit = pickInt(payload, snapshotSynonyms["free_exports_limit"])
	}

	s.mu.Lock()
	s.snap = snap
	s.message = exhaustionMessage(plan)
	s.paywall = true
	s.mu.Unlock()
	return true
}

func exhaustionMessage(plan PlanType) string {
	switch plan {
	case PlanCredits:
		return "Your credit pack is used up. Top up to keep exporting."
	case PlanPro:
		return "You've reached this period's export limit."
	default:
		return "You've used all your free exports. Buy credits or go Pro to keep exporting."
	}
}

// Locked reports whether the current plan's authoritative remaining count
// has reached zero, blocking new render submissions.
func (s *State) Locked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Exhausted()
}

// Snapshot returns a copy of the current quota snapshot.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Message returns the plan-specific exhaustion message, if any.
func (s *State) Message() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.message
}

// PaywallVisible reports whether the paywall UI state is active.
func (s *State) PaywallVisible() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paywall
}

// SetSnapshot replaces the snapshot wholesale. Intended for tests and for
// callers that hydrate state from a cache.
func (s *State) SetSnapshot(snap Snapshot) {
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}

// String summarizes the snapshot for display, e.g. "free: 2/5 exports left".
func (s *State) String() string {
	snap := s.Snapshot()
	remaining, ok := snap.Remaining()
	if !ok {
		return string(snap.PlanType)
	}
	switch snap.PlanType {
	case PlanPro:
		limit := DefaultProPeriodLimit
		if snap.PeriodLimit != nil {
			limit = *snap.PeriodLimit
		}
		return fmt.Sprintf("pro: %d/%d exports left this period", remaining, limit)
	default:
		if snap.FreeExportsLimit != nil {
			return fmt.Sprintf("%s: %d/%d exports left", snap.PlanType, remaining, *snap.FreeExportsLimit)
		}
		return fmt.Sprintf("%s: %d exports left", snap.PlanType, remaining)
	}
}
