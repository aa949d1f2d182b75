// Package ratectl implements the Adaptive Rate Controller (C8, §4.8): one
// AIMD control loop per remote connection, bounding the bulk executor's
// in-flight parallelism against the remote service's execution-time quota.
// Grounded on the teacher's conservative, explicitly-sized connection pool
// (mysql.Connect's SetMaxOpenConns/SetMaxIdleConns) — generalized from a
// single static pool size into per-connection state that climbs and backs
// off at runtime.
package ratectl

import (
	"sync"
	"time"
)

const (
	// emaAlpha is the exponential-moving-average smoothing factor for batch
	// duration (§3 "Rate-controller state").
	emaAlpha = 0.3
	// minSamplesForCeiling is the sample count below which the execution-time
	// ceiling is not yet trusted.
	minSamplesForCeiling = 3
	// slowBatchThresholdMs gates the execution-time ceiling: batches faster
	// than this never trigger it.
	slowBatchThresholdMs = 10_000
	// execTimeCeilingFactor is §4.8's "factor" in factor/(ema/1000).
	execTimeCeilingFactor = 250
)

// Config is the static shape of one connection's controller: the bounds
// AIMD climbs within and backs off to.
type Config struct {
	RecommendedDOP int // per-connection recommended degree of parallelism
	Connections    int // number of pooled connections sharing this controller
	HardCeiling    int
}

// floor returns the never-go-below parallelism: recommended DOP times pool
// width (§4.8 "Floor is recommended_dop × connections").
func (c Config) floor() int {
	f := c.RecommendedDOP * c.Connections
	if f < 1 {
		f = 1
	}
	return f
}

// Controller holds one connection's AIMD state, guarded by mu per §5
// ("Rate controller state... protected by a per-connection mutex").
type Controller struct {
	cfg Config

	mu                 sync.Mutex
	currentParallelism int
	throttleCeiling    int // 0 when no throttle response is active
	throttledUntil     time.Time
	batchDurationEmaMs float64
	sampleCount        int
	execTimeCeiling    int // 0 when not yet computed / not applicable
}

// New builds a Controller starting at its floor.
func New(cfg Config) *Controller {
	return &Controller{cfg: cfg, currentParallelism: cfg.floor()}
}

// GetParallelism returns the current dispatch target: the current AIMD
// value clamped to whichever ceilings are active (§4.8 "ceiling = min(...)").
func (c *Controller) GetParallelism() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clampedLocked(c.currentParallelism)
}

func (c *Controller) clampedLocked(v int) int {
	ceiling := c.cfg.HardCeiling
	if c.throttleCeiling > 0 && c.throttleCeiling < ceiling {
		ceiling = c.throttleCeiling
	}
	if c.execTimeCeiling > 0 && c.execTimeCeiling < ceiling {
		ceiling = c.execTimeCeiling
	}
	floor := c.cfg.floor()
	if v > ceiling {
		v = ceiling
	}
	if v < floor {
		v = floor
	}
	return v
}

// IsThrottled reports whether the caller must return its connection to the
// pool without dispatching work (§4.8 "Pre-flight").
func (c *Controller) IsThrottled(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Before(c.throttledUntil)
}

// RecordSuccess additively increases parallelism by one floor's worth after
// a successful batch (§4.8 "On success of a batch of size B").
func (c *Controller) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	floor := c.cfg.floor()
	c.currentParallelism = c.clampedLocked(c.currentParallelism + floor)
}

// RecordThrottle halves parallelism and, when the remote response carried a
// retry-after duration, opens a throttle window and pins the throttle
// ceiling to the post-backoff value (§4.8 "On throttle response").
func (c *Controller) RecordThrottle(now time.Time, retryAfter time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	floor := c.cfg.floor()
	c.currentParallelism = max(floor, c.currentParallelism/2)
	if retryAfter > 0 {
		c.throttledUntil = now.Add(retryAfter)
		c.throttleCeiling = c.currentParallelism
	}
}

// RecordBatchDuration updates the EMA and, once enough samples have
// accumulated and the EMA crosses the slow-batch threshold, (re)computes
// the execution-time ceiling (§4.8 "After each batch").
func (c *Controller) RecordBatchDuration(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ms := float64(d.Milliseconds())
	if c.sampleCount == 0 {
		c.batchDurationEmaMs = ms
	} else {
		c.batchDurationEmaMs = emaAlpha*ms + (1-emaAlpha)*c.batchDurationEmaMs
	}
	c.sampleCount++

	if c.sampleCount >= minSamplesForCeiling && c.batchDurationEmaMs >= slowBatchThresholdMs {
		c.execTimeCeiling = int(execTimeCeilingFactor / (c.batchDurationEmaMs / 1000))
	} else {
		c.execTimeCeiling = 0
	}
}

