package xsync

import "sync/atomic"

const wakerTaken = 1 << 31

// Waker delivers wake-ups to a single consumer goroutine. Multiple producers
// may call Wake; duplicate wakes between two consumer runs collapse into one.
// Take marks the consumer gone: later wakes become no-ops instead of writing
// to a channel nobody drains.
type Waker struct {
	state atomic.Uint32
	ch    chan struct{}
}

// NewWaker creates an idle waker.
func NewWaker() *Waker {
	return &Waker{ch: make(chan struct{}, 1)}
}

// Wake signals the consumer. Only the first wake since the last Clear
// delivers; the rest are absorbed.
func (w *Waker) Wake() {
	for {
		s := w.state.Load()
		if s != 0 {
			// Already pending, or taken.
			return
		}
		if w.state.CompareAndSwap(s, s|1) {
			select {
			case w.ch <- struct{}{}:
			default:
			}
			return
		}
	}
}

// Waking reports whether a wake is pending.
func (w *Waker) Waking() bool {
	return w.state.Load()&^uint32(wakerTaken) != 0
}

// Clear acknowledges a pending wake. The consumer calls it after draining.
func (w *Waker) Clear() {
	w.state.And(^uint32(1))
}

// Take marks the consumer as departed. Every subsequent Wake is a no-op.
func (w *Waker) Take() {
	w.state.Or(wakerTaken)
}

// C returns the channel the consumer parks on.
func (w *Waker) C() <-chan struct{} { return w.ch }
