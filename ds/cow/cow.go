// Package cow provides a single-writer, many-reader copy-on-write cell.
//
// Readers never block and never see a torn value: Enter pins the current
// generation behind a guard and the generation stays alive until the last
// guard drops. The writer publishes a complete replacement value and
// spin-waits until the generation before the previous one has been absorbed,
// so at most two generations are ever live.
package cow

import (
	"runtime"
	"sync/atomic"
)

type generation[T any] struct {
	value T
	refs  atomic.Int64
}

// New creates a cell holding v and returns its two handles. The WriteHandle
// must stay confined to a single goroutine; the ReadHandle may be shared
// freely.
func New[T any](v T) (*WriteHandle[T], *ReadHandle[T]) {
	cell := &cell[T]{}
	cell.cur.Store(&generation[T]{value: v})
	return &WriteHandle[T]{cell: cell}, &ReadHandle[T]{cell: cell}
}

type cell[T any] struct {
	cur atomic.Pointer[generation[T]]
}

// ReadHandle is the reader side of the cell.
type ReadHandle[T any] struct {
	cell *cell[T]
}

// Enter pins the current generation and returns a guard over it. The caller
// must Release the guard; holding it across blocking operations delays the
// writer.
func (h *ReadHandle[T]) Enter() Guard[T] {
	for {
		g := h.cell.cur.Load()
		g.refs.Add(1)
		// The generation may have been swapped between the load and the
		// increment; re-check before handing it out.
		if h.cell.cur.Load() == g {
			return Guard[T]{g: g}
		}
		g.refs.Add(-1)
	}
}

// Read runs fn against the current generation under a guard.
func (h *ReadHandle[T]) Read(fn func(T)) {
	g := h.Enter()
	fn(g.Get())
	g.Release()
}

// Guard pins one generation of the cell.
type Guard[T any] struct {
	g *generation[T]
}

// Get returns the pinned value.
func (g Guard[T]) Get() T { return g.g.value }

// Release unpins the generation. Release must be called exactly once.
func (g Guard[T]) Release() { g.g.refs.Add(-1) }

// WriteHandle is the writer side of the cell.
type WriteHandle[T any] struct {
	cell *cell[T]
	prev *generation[T]
}

// Publish installs v as the current generation. Before installing it waits
// for the generation displaced by the previous Publish to lose its last
// guard. This is the only spin in the process and it runs on the topology
// writer, never on the data path.
func (h *WriteHandle[T]) Publish(v T) {
	for h.prev != nil && h.prev.refs.Load() != 0 {
		runtime.Gosched()
	}
	next := &generation[T]{value: v}
	h.prev = h.cell.cur.Swap(next)
}

// Current returns the most recently published value, for read-modify-write
// sequences on the writer goroutine.
func (h *WriteHandle[T]) Current() T {
	return h.cell.cur.Load().value
}
