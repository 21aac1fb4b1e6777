package stream

import (
	"time"

	"github.com/weibocom/breeze-sub003/protocol"
)

// TimeoutChecker detects stuck connections with a sliding window instead of
// a per-request timer wheel: within each cycle at least `least` responses
// must arrive, otherwise the connection is declared dead.
type TimeoutChecker struct {
	checkpoint time.Time
	cycle      time.Duration
	least      uint32
	ticks      uint32
}

// NewTimeoutChecker creates a checker over the given window.
func NewTimeoutChecker(cycle time.Duration, least uint32) *TimeoutChecker {
	return &TimeoutChecker{
		cycle:      cycle,
		least:      least,
		checkpoint: time.Now(),
	}
}

// Tick records one observed response.
func (t *TimeoutChecker) Tick() { t.ticks++ }

// Reset restarts the window.
func (t *TimeoutChecker) Reset() {
	t.ticks = 0
	t.checkpoint = time.Now()
}

// Check returns a TimeoutError when the window elapsed without enough
// responses.
func (t *TimeoutChecker) Check() error {
	if t.ticks >= t.least {
		t.Reset()
		return nil
	}
	elapsed := time.Since(t.checkpoint)
	if elapsed < t.cycle {
		return nil
	}
	return &protocol.TimeoutError{Elapsed: elapsed, Least: t.least}
}
