package convert

import (
	"net/url"
	"testing"
)

func TestBuildRenderURL(t *testing.T) {
	tests := []struct {
		name string
		mode Mode
		opts Options
		want url.Values
	}{
		{
			name: "normal mode forces column map only",
			mode: ModeNormal,
			opts: DefaultOptions(),
			want: url.Values{"columnMap": {"force"}},
		},
		{
			name: "optimized mode",
			mode: ModeOptimized,
			opts: DefaultOptions(),
			want: url.Values{"columnMap": {"force"}, "mode": {"optimized"}},
		},
		{
			name: "compact mode",
			mode: ModeCompact,
			opts: DefaultOptions(),
			want: url.Values{"columnMap": {"force"}, "mode": {"compact"}},
		},
		{
			name: "truncate flag present only when enabled",
			mode: ModeNormal,
			opts: Options{TruncateLongText: true},
			want: url.Values{"columnMap": {"force"}, "truncate_long_text": {"true"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildRenderURL("https://fitforpdf.app/api/render", tt.mode, tt.opts)
			if err != nil {
				t.Fatalf("BuildRenderURL: %v", err)
			}
			u, err := url.Parse(got)
			if err != nil {
				t.Fatalf("parse result: %v", err)
			}
			q := u.Query()
			if len(q) != len(tt.want) {
				t.Errorf("query = %v, want %v", q, tt.want)
			}
			for key, want := range tt.want {
				if q.Get(key) != want[0] {
					t.Errorf("query[%s] = %q, want %q", key, q.Get(key), want[0])
				}
			}
		})
	}
}

func TestBuildRenderURL_PreservesExistingQuery(t *testing.T) {
	got, err := BuildRenderURL("https://fitforpdf.app/api/render?debug=1", ModeNormal, Options{})
	if err != nil {
		t.Fatalf("BuildRenderURL: %v", err)
	}
	u, _ := url.Parse(got)
	if u.Query().Get("debug") != "1" {
		t.Errorf("existing query param dropped: %s", got)
	}
	if u.Query().Get("columnMap") != "force" {
		t.Errorf("columnMap missing: %s", got)
	}
}
