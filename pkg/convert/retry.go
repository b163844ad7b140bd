package convert

// RetryPolicy bounds the automatic fallback chain. The legacy flow threaded
// an isFallback boolean through call sites; the policy object makes the
// no-infinite-loop invariant structural: at most MaxRetries fallback
// attempts, and only when Condition holds.
type RetryPolicy struct {
	// MaxRetries is the number of automatic re-submissions allowed per
	// flow.
	MaxRetries int

	// Condition decides whether a failed attempt at the given mode is
	// eligible for fallback. Quota-exhaustion and page-burden failures are
	// never passed to Condition; they terminate the chain earlier.
	Condition func(mode Mode, err *RequestError) bool

	// FallbackMode is the mode re-submitted on fallback.
	FallbackMode Mode
}

// DefaultRetryPolicy retries an optimized-mode upstream failure exactly once
// as a normal-mode render.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 1,
		Condition: func(mode Mode, _ *RequestError) bool {
			return mode == ModeOptimized
		},
		FallbackMode: ModeNormal,
	}
}

// allows reports whether a fallback may be issued for the given attempt.
func (p RetryPolicy) allows(mode Mode, attempt int, err *RequestError) bool {
	if attempt >= p.MaxRetries {
		return false
	}
	if p.Condition == nil {
		return false
	}
	return p.Condition(mode, err)
}
