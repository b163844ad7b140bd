package convert

import (
	"context"
	"sync"
	"time"
)

// Synthetic progress defaults. The offsets and floor are presentation
// polish; the only contract is that the loading state stays visible for at
// least MinVisible.
const (
	defaultStepOneAt   = 520 * time.Millisecond
	defaultStepTwoAt   = 1080 * time.Millisecond
	defaultStepThreeAt = 1720 * time.Millisecond
	defaultMinVisible  = 1800 * time.Millisecond
	defaultTick        = 80 * time.Millisecond
)

var stepLabels = [3]string{"Uploading", "Structuring", "Generating"}

// Step is the synthetic UI progress state at a point in time.
type Step struct {
	Index    int
	Percent  int
	Label    string
	Finished bool
}

// ProgressConfig parameterizes the synthetic progress sequence.
type ProgressConfig struct {
	// StepOffsets are the elapsed times at which the display advances.
	// Exactly three offsets; zero values take the defaults.
	StepOffsets [3]time.Duration

	// MinVisible is the minimum apparent duration of the loading state.
	MinVisible time.Duration

	// Tick is the tracker's update interval.
	Tick time.Duration
}

func (c ProgressConfig) withDefaults() ProgressConfig {
	if c.StepOffsets[0] == 0 {
		c.StepOffsets[0] = defaultStepOneAt
	}
	if c.StepOffsets[1] == 0 {
		c.StepOffsets[1] = defaultStepTwoAt
	}
	if c.StepOffsets[2] == 0 {
		c.StepOffsets[2] = defaultStepThreeAt
	}
	if c.MinVisible == 0 {
		c.MinVisible = defaultMinVisible
	}
	if c.Tick == 0 {
		c.Tick = defaultTick
	}
	return c
}

// ProgressForElapsed is the pure mapping from elapsed time to display state.
// Percent is monotone non-decreasing and caps below 100 until the tracker is
// explicitly finished.
func ProgressForElapsed(elapsed time.Duration, cfg ProgressConfig) Step {
	cfg = cfg.withDefaults()

	anchors := []struct {
		at      time.Duration
		percent int
	}{
		{0, 4},
		{cfg.StepOffsets[0], 30},
		{cfg.StepOffsets[1], 62},
		{cfg.StepOffsets[2], 90},
	}

	index := 0
	switch {
	case elapsed >= cfg.StepOffsets[1]:
		index = 2
	case elapsed >= cfg.StepOffsets[0]:
		index = 1
	}

	percent := anchors[len(anchors)-1].percent
	for i := 1; i < len(anchors); i++ {
		if elapsed < anchors[i].at {
			span := anchors[i].at - anchors[i-1].at
			into := elapsed - anchors[i-1].at
			percent = anchors[i-1].percent +
				int(int64(anchors[i].percent-anchors[i-1].percent)*int64(into)/int64(span))
			break
		}
	}
	if elapsed >= cfg.StepOffsets[2] {
		// Creep toward (but never reach) completion while waiting.
		percent = 90 + min(int((elapsed-cfg.StepOffsets[2])/(500*time.Millisecond)), 4)
	}

	return Step{Index: index, Percent: percent, Label: stepLabels[index]}
}

// Tracker drives the synthetic progress sequence from a single clock. It
// replaces the legacy pile of independently scheduled timeouts: one source,
// cancellable, testable with a fake clock.
type Tracker struct {
	cfg   ProgressConfig
	clock func() time.Time

	mu       sync.Mutex
	running  bool
	finished bool
	started  time.Time
	last     Step
}

// NewTracker creates a tracker. A nil clock uses time.Now.
func NewTracker(cfg ProgressConfig, clock func() time.Time) *Tracker {
	if clock == nil {
		clock = time.Now
	}
	return &Tracker{cfg: cfg.withDefaults(), clock: clock}
}

// Start resets the sequence to step 0. Any previous run is abandoned.
func (t *Tracker) Start() {
	t.mu.Lock()
	t.running = true
	t.finished = false
	t.started = t.clock()
	t.last = Step{Label: stepLabels[0], Percent: 4}
	t.mu.Unlock()
}

// Finish forces the display to 100% and stops the sequence.
func (t *Tracker) Finish() {
	t.mu.Lock()
	t.running = false
	t.finished = true
	t.last = Step{Index: 2, Percent: 100, Label: stepLabels[2], Finished: true}
	t.mu.Unlock()
}

// Running reports whether a sequence is active.
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Snapshot returns the current display state. Percent never decreases
// within a run.
func (t *Tracker) Snapshot() Step {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finished {
		return t.last
	}
	if !t.running {
		return Step{Label: stepLabels[0]}
	}

	step := ProgressForElapsed(t.clock().Sub(t.started), t.cfg)
	if step.Percent < t.last.Percent {
		step.Percent = t.last.Percent
	}
	t.last = step
	return step
}

// Watch invokes fn on every tick until the context is cancelled or Finish is
// called. The final 100% step is always delivered.
func (t *Tracker) Watch(ctx context.Context, fn func(Step)) {
	ticker := time.NewTicker(t.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			step := t.Snapshot()
			fn(step)
			if step.Finished {
				return
			}
		}
	}
}
