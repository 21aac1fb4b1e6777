package ring

import "time"

// ShrinkPolicy throttles buffer shrinking. A buffer that grew under a burst
// should only shrink back after the low watermark has held for a minimum
// interval, otherwise a periodic burst causes realloc churn.
type ShrinkPolicy struct {
	ticks int
	last  time.Time
	delay time.Duration
}

const shrinkTickMask = 31

// NewShrinkPolicy creates a policy with the given minimum interval between
// two positive ticks. The interval is clamped to [1s, 24h].
func NewShrinkPolicy(delay time.Duration) *ShrinkPolicy {
	return &ShrinkPolicy{
		delay: min(max(delay, time.Second), 24*time.Hour),
		last:  time.Now(),
	}
}

// Tick records one observation of a shrinkable buffer and reports whether the
// shrink should happen now. Only every 32nd tick even checks the clock.
func (p *ShrinkPolicy) Tick() bool {
	p.ticks++
	if p.ticks&shrinkTickMask != 0 {
		return false
	}
	if p.ticks == shrinkTickMask+1 {
		p.last = time.Now()
		return false
	}
	if time.Since(p.last) <= p.delay {
		return false
	}
	p.ticks = 0
	return true
}

// Reset clears accumulated ticks, typically after the buffer grew again.
func (p *ShrinkPolicy) Reset() {
	p.ticks = 0
}
