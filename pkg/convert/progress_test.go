package convert

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestProgressForElapsed_Anchors(t *testing.T) {
	cfg := ProgressConfig{}

	tests := []struct {
		elapsed     time.Duration
		wantIndex   int
		wantPercent int
		wantLabel   string
	}{
		{0, 0, 4, "Uploading"},
		{520 * time.Millisecond, 1, 30, "Structuring"},
		{1080 * time.Millisecond, 2, 62, "Generating"},
		{1720 * time.Millisecond, 2, 90, "Generating"},
		{1720*time.Millisecond + 500*time.Millisecond, 2, 91, "Generating"},
		// The creep caps below completion no matter how long the wait.
		{30 * time.Second, 2, 94, "Generating"},
	}
	for _, tt := range tests {
		got := ProgressForElapsed(tt.elapsed, cfg)
		if got.Index != tt.wantIndex || got.Percent != tt.wantPercent || got.Label != tt.wantLabel {
			t.Errorf("ProgressForElapsed(%v) = %+v, want index=%d percent=%d label=%q",
				tt.elapsed, got, tt.wantIndex, tt.wantPercent, tt.wantLabel)
		}
		if got.Finished {
			t.Errorf("ProgressForElapsed(%v) reported finished", tt.elapsed)
		}
	}
}

func TestProgressForElapsed_Monotone(t *testing.T) {
	cfg := ProgressConfig{}
	prev := -1
	for elapsed := time.Duration(0); elapsed <= 5*time.Second; elapsed += 10 * time.Millisecond {
		step := ProgressForElapsed(elapsed, cfg)
		if step.Percent < prev {
			t.Fatalf("percent decreased at %v: %d -> %d", elapsed, prev, step.Percent)
		}
		if step.Percent >= 100 {
			t.Fatalf("percent reached %d at %v without Finish", step.Percent, elapsed)
		}
		prev = step.Percent
	}
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTracker_Lifecycle(t *testing.T) {
	clock := newFakeClock()
	tracker := NewTracker(ProgressConfig{}, clock.Now)

	if tracker.Running() {
		t.Error("fresh tracker running")
	}

	tracker.Start()
	if !tracker.Running() {
		t.Error("tracker not running after Start")
	}
	if got := tracker.Snapshot(); got.Percent != 4 || got.Index != 0 {
		t.Errorf("initial snapshot = %+v", got)
	}

	clock.Advance(600 * time.Millisecond)
	if got := tracker.Snapshot(); got.Index != 1 {
		t.Errorf("snapshot after 600ms = %+v, want step 1", got)
	}

	clock.Advance(2 * time.Second)
	if got := tracker.Snapshot(); got.Percent < 90 {
		t.Errorf("snapshot after settle = %+v, want >= 90", got)
	}

	tracker.Finish()
	got := tracker.Snapshot()
	if !got.Finished || got.Percent != 100 {
		t.Errorf("finished snapshot = %+v", got)
	}
	if tracker.Running() {
		t.Error("tracker running after Finish")
	}
}

func TestTracker_StartResets(t *testing.T) {
	clock := newFakeClock()
	tracker := NewTracker(ProgressConfig{}, clock.Now)

	tracker.Start()
	clock.Advance(2 * time.Second)
	tracker.Finish()

	tracker.Start()
	if got := tracker.Snapshot(); got.Percent != 4 || got.Finished {
		t.Errorf("snapshot after restart = %+v, want fresh step 0", got)
	}
}

func TestTracker_Watch(t *testing.T) {
	tracker := NewTracker(ProgressConfig{Tick: time.Millisecond}, nil)
	tracker.Start()
	tracker.Finish()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var last Step
	tracker.Watch(ctx, func(step Step) { last = step })

	if !last.Finished || last.Percent != 100 {
		t.Errorf("watch final step = %+v, want finished 100%%", last)
	}
}
