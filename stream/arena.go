package stream

import "sync"

// Arena recycles CallbackContexts. Each connection keeps a small private free
// list; misses fall through to a process-wide pool, then to the allocator.
// Steady pipelined load settles into the first two tiers and stops touching
// the garbage collector entirely.
//
// The free list takes a mutex because the last reference to a context can
// drop on a backend goroutine (cancelled requests); contention is one
// uncontended lock per request in the common path.
type Arena struct {
	mu    sync.Mutex
	local []*CallbackContext
	cap   int
}

// globalArenaSlots bounds the shared pool: 32768 contexts, a few megabytes
// resident, enough for every worker's burst simultaneously.
const globalArenaSlots = 1 << 15

var globalArena = make(chan *CallbackContext, globalArenaSlots)

// NewArena creates a connection-local arena with the given free-list size.
func NewArena(localCap int) *Arena {
	return &Arena{local: make([]*CallbackContext, 0, localCap), cap: localCap}
}

// Get returns a context ready for init.
func (a *Arena) Get() *CallbackContext {
	a.mu.Lock()
	if n := len(a.local); n > 0 {
		c := a.local[n-1]
		a.local = a.local[:n-1]
		a.mu.Unlock()
		return c
	}
	a.mu.Unlock()

	select {
	case c := <-globalArena:
		return c
	default:
		return &CallbackContext{}
	}
}

// Put recycles a context. Called exactly once per context, after the last
// reference dropped.
func (a *Arena) Put(c *CallbackContext) {
	*c = CallbackContext{}

	a.mu.Lock()
	if len(a.local) < a.cap {
		a.local = append(a.local, c)
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	select {
	case globalArena <- c:
	default:
		// Pool full: let the allocator have it back.
	}
}
