package quota

import (
	"strconv"
	"strings"
)

// FieldSynonyms maps a canonical field name to the payload keys that may
// carry it, in priority order. Keys may use dotted paths into nested
// objects (e.g. "free.remaining").
type FieldSynonyms map[string][]string

// snapshotSynonyms is the single auditable source for the loosely-typed
// field names the quota endpoint has been observed to emit.
var snapshotSynonyms = FieldSynonyms{
	"plan_type":           {"plan_type", "planType", "plan", "tier"},
	"free_exports_left":   {"free_exports_left", "freeExportsLeft", "free_left", "free.remaining", "remaining"},
	"free_exports_limit":  {"free_exports_limit", "freeExportsLimit", "free_limit", "free.limit", "limit"},
	"remaining_in_period": {"remaining_in_period", "remainingInPeriod", "period_remaining", "pro.remaining"},
	"used_in_period":      {"used_in_period", "usedInPeriod", "period_used", "pro.used"},
	"period_limit":        {"period_limit", "periodLimit", "pro.limit"},
}

// FirstDefined resolves the first key present in the payload, walking dotted
// paths into nested maps. Returns false when no synonym is defined.
func FirstDefined(payload map[string]interface{}, keys []string) (interface{}, bool) {
	for _, key := range keys {
		if v, ok := lookupPath(payload, key); ok {
			return v, true
		}
	}
	return nil, false
}

func lookupPath(payload map[string]interface{}, key string) (interface{}, bool) {
	parts := strings.Split(key, ".")
	var current interface{} = payload
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok || current == nil {
			return nil, false
		}
	}
	return current, true
}

// pickInt resolves the first defined synonym and coerces it to an int.
// JSON numbers arrive as float64; strings are tolerated because some
// backends stringify counters.
func pickInt(payload map[string]interface{}, keys []string) *int {
	v, ok := FirstDefined(payload, keys)
	if !ok {
		return nil
	}
	switch n := v.(type) {
	case float64:
		i := int(n)
		return &i
	case int:
		return &n
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return &i
		}
	}
	return nil
}

// pickString resolves the first defined synonym as a string.
func pickString(payload map[string]interface{}, keys []string) string {
	v, ok := FirstDefined(payload, keys)
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
