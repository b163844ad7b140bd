// Package quota tracks the caller's remaining export allowance across plan
// tiers and gates conversion submissions when the allowance is exhausted.
package quota

import "strings"

// PlanType identifies the billing plan a quota snapshot belongs to.
type PlanType string

const (
	// PlanFree is the default plan with a fixed number of free exports.
	PlanFree PlanType = "free"
	// PlanCredits is the pre-paid credit pack plan.
	PlanCredits PlanType = "credits"
	// PlanPro is the subscription plan with a per-period export allowance.
	PlanPro PlanType = "pro"
)

// DefaultProPeriodLimit is assumed when the server reports a pro plan
// without a period limit.
const DefaultProPeriodLimit = 500

// Snapshot represents the caller's current allowance as last reported by the
// quota endpoint (or locally patched after an exhaustion error).
type Snapshot struct {
	PlanType PlanType

	// FreeExportsLeft and FreeExportsLimit are meaningful for the free and
	// credits plans.
	FreeExportsLeft  *int
	FreeExportsLimit *int

	// RemainingInPeriod, UsedInPeriod and PeriodLimit are meaningful for the
	// pro plan.
	RemainingInPeriod *int
	UsedInPeriod      *int
	PeriodLimit       *int
}

// Remaining returns the authoritative remaining count for the snapshot's
// plan. The second return value is false when the server never reported a
// figure for the current plan.
func (s Snapshot) Remaining() (int, bool) {
	switch s.PlanType {
	case PlanPro:
		if s.RemainingInPeriod != nil {
			return *s.RemainingInPeriod, true
		}
	default: // free and credits share the free-exports counter
		if s.FreeExportsLeft != nil {
			return *s.FreeExportsLeft, true
		}
	}
	return 0, false
}

// Exhausted reports whether the plan's authoritative remaining count is
// known and has reached zero.
func (s Snapshot) Exhausted() bool {
	remaining, ok := s.Remaining()
	return ok && remaining <= 0
}

// NormalizePlan lowercases a plan name and falls back to free for anything
// unrecognized.
func NormalizePlan(raw string) PlanType {
	switch PlanType(strings.ToLower(strings.TrimSpace(raw))) {
	case PlanCredits:
		return PlanCredits
	case PlanPro:
		return PlanPro
	default:
		return PlanFree
	}
}

// SnapshotFromPayload builds a Snapshot from a loosely-typed quota payload,
// resolving each field through the synonym table. Unknown plans fall back to
// free; a pro plan without a reported period limit assumes
// DefaultProPeriodLimit.
func SnapshotFromPayload(payload map[string]interface{}) Snapshot {
	snap := Snapshot{
		PlanType: NormalizePlan(pickString(payload, snapshotSynonyms["plan_type"])),
	}

	snap.FreeExportsLeft = pickInt(payload, snapshotSynonyms["free_exports_left"])
	snap.FreeExportsLimit = pickInt(payload, snapshotSynonyms["free_exports_limit"])
	snap.RemainingInPeriod = pickInt(payload, snapshotSynonyms["remaining_in_period"])
	snap.UsedInPeriod = pickInt(payload, snapshotSynonyms["used_in_period"])
	snap.PeriodLimit = pickInt(payload, snapshotSynonyms["period_limit"])

	if snap.PlanType == PlanPro {
		if snap.PeriodLimit == nil {
			limit := DefaultProPeriodLimit
			snap.PeriodLimit = &limit
		}
		// Derive remaining when the server only reports used + limit.
		if snap.RemainingInPeriod == nil && snap.UsedInPeriod != nil {
			remaining := *snap.PeriodLimit - *snap.UsedInPeriod
			if remaining < 0 {
				remaining = 0
			}
			snap.RemainingInPeriod = &remaining
		}
	}

	return snap
}
