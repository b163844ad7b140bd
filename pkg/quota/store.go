package quota

import (
	"context"
	"errors"
	"strconv"
)

// ErrNotFound is returned by Store implementations when a key is absent.
var ErrNotFound = errors.New("key not found")

// Store is a minimal key-value abstraction for client-local bookkeeping.
// The legacy funnel kept its dev-only free-export counter in browser
// storage; here the store is injectable so tests can use an in-memory
// implementation. See storage/memory and storage/redis.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Clear(ctx context.Context, key string) error
}

const counterKey = "fitforpdf:free_exports_used"

// Counter is the dev-only free-export counter from the legacy flow. It is a
// single-user local convenience, not a source of truth; the server-backed
// State supersedes it.
type Counter struct {
	store Store
	limit int
}

// NewCounter creates a counter capped at limit free exports.
func NewCounter(store Store, limit int) *Counter {
	return &Counter{store: store, limit: limit}
}

// Limit returns the counter's free-export cap.
func (c *Counter) Limit() int {
	return c.limit
}

// Used returns the number of exports recorded so far. Missing or malformed
// values count as zero.
func (c *Counter) Used(ctx context.Context) int {
	raw, err := c.store.Get(ctx, counterKey)
	if err != nil {
		return 0
	}
	used, err := strconv.Atoi(raw)
	if err != nil || used < 0 {
		return 0
	}
	return used
}

// Remaining returns the exports left before the local cap.
func (c *Counter) Remaining(ctx context.Context) int {
	remaining := c.limit - c.Used(ctx)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Increment records one export.
func (c *Counter) Increment(ctx context.Context) error {
	return c.store.Set(ctx, counterKey, strconv.Itoa(c.Used(ctx)+1))
}

// Reset clears the counter.
func (c *Counter) Reset(ctx context.Context) error {
	return c.store.Clear(ctx, counterKey)
}
