// Package cid allocates small dense connection ids from an atomic bitmap.
package cid

import (
	"fmt"
	"math/bits"
	"sync/atomic"
)

// Ids is a fixed-capacity id allocator. A set bit means the id is in use.
type Ids struct {
	words []atomic.Uint64
	cap   int
}

// WithCapacity creates an allocator handing out ids in [0, cap).
func WithCapacity(cap int) *Ids {
	return &Ids{
		words: make([]atomic.Uint64, (cap+63)/64),
		cap:   cap,
	}
}

// Cap returns the number of allocatable ids.
func (m *Ids) Cap() int { return m.cap }

// Next claims and returns the lowest free id. ok is false when every id is
// taken.
func (m *Ids) Next() (id int, ok bool) {
	for w := range m.words {
		for {
			word := m.words[w].Load()
			free := ^word
			if free == 0 {
				break
			}
			bit := bits.TrailingZeros64(free)
			id := w*64 + bit
			if id >= m.cap {
				break
			}
			if m.words[w].CompareAndSwap(word, word|1<<bit) {
				return id, true
			}
		}
	}
	return 0, false
}

// Release frees a previously claimed id. Releasing a free id panics: it means
// two owners believed they held the same connection.
func (m *Ids) Release(id int) {
	w, bit := id/64, uint64(1)<<(id%64)
	for {
		word := m.words[w].Load()
		if word&bit == 0 {
			panic(fmt.Sprintf("cid: double release of id %d", id))
		}
		if m.words[w].CompareAndSwap(word, word&^bit) {
			return
		}
	}
}

// Marked returns the currently claimed ids in ascending order.
func (m *Ids) Marked() []int {
	var out []int
	for w := range m.words {
		word := m.words[w].Load()
		for word != 0 {
			bit := bits.TrailingZeros64(word)
			word &= word - 1
			out = append(out, w*64+bit)
		}
	}
	return out
}

// Cid is a claimed connection id that releases itself on Close.
type Cid struct {
	id  int
	ids *Ids
}

// New claims an id from ids. ok is false when the allocator is exhausted.
func New(ids *Ids) (*Cid, bool) {
	id, ok := ids.Next()
	if !ok {
		return nil, false
	}
	return &Cid{id: id, ids: ids}, true
}

// Id returns the claimed id.
func (c *Cid) Id() int { return c.id }

// Close returns the id to the allocator.
func (c *Cid) Close() {
	c.ids.Release(c.id)
}
