package ring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShrinkPolicyThrottles(t *testing.T) {
	p := NewShrinkPolicy(time.Second)

	// The first full tick window only arms the clock.
	fired := false
	for i := 0; i < 200; i++ {
		if p.Tick() {
			fired = true
		}
	}
	assert.False(t, fired, "must not fire before the delay elapses")
}

func TestShrinkPolicyFiresAfterDelay(t *testing.T) {
	p := NewShrinkPolicy(time.Second)
	p.last = time.Now().Add(-2 * time.Second)
	p.ticks = shrinkTickMask + 1 // past the arming window

	fired := false
	for i := 0; i < shrinkTickMask+1; i++ {
		if p.Tick() {
			fired = true
		}
	}
	assert.True(t, fired)
}

func TestShrinkPolicyReset(t *testing.T) {
	p := NewShrinkPolicy(time.Second)
	p.Tick()
	p.Reset()
	assert.Zero(t, p.ticks)
}
