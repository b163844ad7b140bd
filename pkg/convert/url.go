package convert

import (
	"fmt"
	"net/url"
)

// BuildRenderURL builds the render endpoint URL for a submission. Column
// mapping is always forced; mode is only present for non-default modes and
// truncate_long_text is only present when the option is enabled — its
// absence in the default case is intentional, the backend treats a missing
// flag differently from "false".
func BuildRenderURL(base string, mode Mode, opts Options) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid render base URL: %w", err)
	}

	q := u.Query()
	q.Set("columnMap", "force")
	if mode == ModeOptimized || mode == ModeCompact {
		q.Set("mode", string(mode))
	}
	if opts.TruncateLongText {
		q.Set("truncate_long_text", "true")
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}
