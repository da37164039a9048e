package metrics

import (
	"context"
	"sync"
	"time"
)

// ThroughputWindow is the state of the current counting window.
type ThroughputWindow struct {
	StartedAt time.Time `json:"startedAt"`
	Count     int64     `json:"count"`
}

// ThroughputCounter counts requests issued by all virtual users and emits
// one instant_rps sample per elapsed window.
//
// The whole check-emit-reset sequence runs under one mutex, so increments
// are never lost and each window boundary is emitted exactly once, by
// whichever caller observes it first. Callers that lose the race simply
// increment the new window.
type ThroughputCounter struct {
	mu       sync.Mutex
	window   ThroughputWindow
	interval time.Duration
	sink     *TrendSink
	metric   string

	last    float64
	emitted int
}

// NewThroughputCounter creates a counter with a one-second window starting at start.
func NewThroughputCounter(sink *TrendSink, start time.Time) *ThroughputCounter {
	return &ThroughputCounter{
		window:   ThroughputWindow{StartedAt: start},
		interval: time.Second,
		sink:     sink,
		metric:   MetricInstantRPS,
	}
}

// RecordRequest increments the live window's count.
func (c *ThroughputCounter) RecordRequest() {
	c.mu.Lock()
	c.window.Count++
	c.mu.Unlock()
}

// Tick closes the window if at least one interval has elapsed since it
// started. It reports whether a sample was emitted.
//
// Windows are checked opportunistically, so boundaries drift by however
// long it takes a caller to come back to Tick.
func (c *ThroughputCounter) Tick(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Sub(c.window.StartedAt) < c.interval {
		return false
	}
	c.emitLocked(now)
	return true
}

// Flush emits the partial window if it counted anything. Used at run end so
// the sum of emitted samples equals the number of recorded requests.
func (c *ThroughputCounter) Flush(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.window.Count == 0 {
		return false
	}
	c.emitLocked(now)
	return true
}

func (c *ThroughputCounter) emitLocked(now time.Time) {
	count := c.window.Count
	c.sink.Record(c.metric, float64(count), nil)
	c.last = float64(count)
	c.emitted++
	c.window = ThroughputWindow{StartedAt: now}
}

// Run ticks on a dedicated timer until ctx is done. This is the precise
// alternative to calling Tick at iteration start.
func (c *ThroughputCounter) Run(ctx context.Context, resolution time.Duration) {
	if resolution <= 0 {
		resolution = 50 * time.Millisecond
	}
	ticker := time.NewTicker(resolution)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.Tick(now)
		}
	}
}

// Window returns a copy of the live window.
func (c *ThroughputCounter) Window() ThroughputWindow {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.window
}

// Last returns the most recently emitted window count.
func (c *ThroughputCounter) Last() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Emitted returns how many windows have been closed.
func (c *ThroughputCounter) Emitted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emitted
}
