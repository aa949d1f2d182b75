package ratectl

import (
	"testing"
	"time"
)

func newTestController() *Controller {
	return New(Config{RecommendedDOP: 2, Connections: 1, HardCeiling: 20})
}

func TestNewStartsAtFloor(t *testing.T) {
	c := newTestController()
	if got := c.GetParallelism(); got != 2 {
		t.Errorf("initial parallelism = %d, want floor 2", got)
	}
}

func TestRecordSuccessClimbsByFloor(t *testing.T) {
	c := newTestController()
	c.RecordSuccess()
	if got := c.GetParallelism(); got != 4 {
		t.Errorf("after one success = %d, want 4", got)
	}
	c.RecordSuccess()
	if got := c.GetParallelism(); got != 6 {
		t.Errorf("after two successes = %d, want 6", got)
	}
}

func TestRecordSuccessNeverExceedsHardCeiling(t *testing.T) {
	c := newTestController()
	for i := 0; i < 50; i++ {
		c.RecordSuccess()
	}
	if got := c.GetParallelism(); got != 20 {
		t.Errorf("parallelism = %d, want clamped to hard ceiling 20", got)
	}
}

func TestRecordThrottleHalvesParallelism(t *testing.T) {
	c := newTestController()
	for i := 0; i < 4; i++ {
		c.RecordSuccess()
	}
	before := c.GetParallelism()
	c.RecordThrottle(time.Now(), 0)
	after := c.GetParallelism()
	if after != before/2 {
		t.Errorf("after throttle = %d, want %d", after, before/2)
	}
}

func TestRecordThrottleNeverGoesBelowFloor(t *testing.T) {
	c := newTestController()
	c.RecordThrottle(time.Now(), 0)
	if got := c.GetParallelism(); got != 2 {
		t.Errorf("parallelism = %d, want floor 2", got)
	}
}

func TestRecordThrottleWithRetryAfterOpensThrottleWindow(t *testing.T) {
	c := newTestController()
	now := time.Now()
	c.RecordThrottle(now, 5*time.Second)
	if !c.IsThrottled(now.Add(time.Second)) {
		t.Error("expected controller to report throttled within the retry window")
	}
	if c.IsThrottled(now.Add(6 * time.Second)) {
		t.Error("expected controller to clear throttled state after the retry window elapses")
	}
}

func TestRecordThrottlePinsThrottleCeiling(t *testing.T) {
	c := newTestController()
	for i := 0; i < 10; i++ {
		c.RecordSuccess()
	}
	now := time.Now()
	c.RecordThrottle(now, time.Second)
	ceilinged := c.GetParallelism()
	// Further successes must not climb past the pinned throttle ceiling.
	c.RecordSuccess()
	if got := c.GetParallelism(); got != ceilinged {
		t.Errorf("parallelism after success under an active throttle ceiling = %d, want %d", got, ceilinged)
	}
}

func TestRecordBatchDurationFastBatchesNeverApplyExecTimeCeiling(t *testing.T) {
	c := newTestController()
	for i := 0; i < 10; i++ {
		c.RecordSuccess()
	}
	for i := 0; i < 5; i++ {
		c.RecordBatchDuration(1500 * time.Millisecond)
	}
	if got := c.GetParallelism(); got != 20 {
		t.Errorf("fast batches must not cap parallelism below the hard ceiling: got %d", got)
	}
}

func TestRecordBatchDurationSlowBatchesApplyExecTimeCeiling(t *testing.T) {
	c := newTestController()
	for i := 0; i < 10; i++ {
		c.RecordSuccess()
	}
	for i := 0; i < 3; i++ {
		c.RecordBatchDuration(25 * time.Second)
	}
	// factor(250) / (ema(25000ms)/1000) = 10.
	if got := c.GetParallelism(); got > 10 {
		t.Errorf("25s batches should cap parallelism well below the hard ceiling: got %d", got)
	}
}

func TestRecordBatchDurationNeedsMinimumSamples(t *testing.T) {
	c := newTestController()
	for i := 0; i < 10; i++ {
		c.RecordSuccess()
	}
	c.RecordBatchDuration(30 * time.Second)
	c.RecordBatchDuration(30 * time.Second)
	if got := c.GetParallelism(); got != 20 {
		t.Errorf("fewer than min_samples_for_ceiling must not apply the ceiling yet: got %d", got)
	}
}
