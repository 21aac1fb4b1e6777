package ring

import (
	"io"
	"math/bits"
)

// Buffer is a fixed-capacity cyclic byte buffer with a single writer and a
// single reader. Read and write positions are monotonically increasing 64-bit
// counters; the occupied region is [r, w) and every physical index is the
// counter masked with cap-1.
//
// The reader side hands out Slice views over the occupied region. Consuming
// bytes still referenced by a live view is the caller's bug; the pipeline
// retires all contexts referencing a region before advancing past it.
type Buffer struct {
	data []byte
	mask uint64
	r, w uint64
}

// New creates a buffer with the given capacity, rounded up to a power of two.
func New(capacity int) *Buffer {
	if capacity < 2 {
		capacity = 2
	}
	capacity = 1 << bits.Len(uint(capacity-1))
	return &Buffer{data: make([]byte, capacity), mask: uint64(capacity - 1)}
}

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// Len returns the number of occupied bytes.
func (b *Buffer) Len() int { return int(b.w - b.r) }

// Free returns the number of writable bytes.
func (b *Buffer) Free() int { return b.Cap() - b.Len() }

// Readable returns a view over the occupied region.
func (b *Buffer) Readable() Slice {
	return Slice{data: b.data, mask: b.mask, start: b.r, size: b.Len()}
}

// Consume advances the reader past n bytes. It reports false, consuming
// nothing, if n exceeds the occupied length.
func (b *Buffer) Consume(n int) bool {
	if n < 0 || n > b.Len() {
		return false
	}
	b.r += uint64(n)
	return true
}

// Write copies p into the free region and commits it, returning the number of
// bytes accepted (possibly short of len(p) when the buffer fills).
func (b *Buffer) Write(p []byte) int {
	total := 0
	for len(p) > 0 && b.Free() > 0 {
		w := b.w & b.mask
		span := b.data[w:min(uint64(len(b.data)), w+uint64(b.Free()))]
		n := copy(span, p)
		b.w += uint64(n)
		p = p[n:]
		total += n
	}
	return total
}

// Fill reads from r into the free region, committing whatever was read. It
// invokes r.Read once per contiguous free span (at most twice) and stops on
// short read or error.
func (b *Buffer) Fill(r io.Reader) (int, error) {
	total := 0
	for i := 0; i < 2 && b.Free() > 0; i++ {
		w := b.w & b.mask
		end := min(uint64(len(b.data)), w+uint64(b.Free()))
		span := b.data[w:end]
		n, err := r.Read(span)
		if n > 0 {
			b.w += uint64(n)
			total += n
		}
		if err != nil {
			return total, err
		}
		if n < len(span) {
			break
		}
	}
	return total, nil
}

// WriteTo drains readable bytes into w, consuming what was written.
func (b *Buffer) WriteTo(w io.Writer) (int, error) {
	total := 0
	for b.Len() > 0 {
		r := b.r & b.mask
		end := min(uint64(len(b.data)), r+uint64(b.Len()))
		n, err := w.Write(b.data[r:end])
		if n > 0 {
			b.r += uint64(n)
			total += n
		}
		if err != nil {
			return total, err
		}
		if n < int(end-r) {
			break
		}
	}
	return total, nil
}

// Grow reallocates the buffer so that at least need bytes are free, keeping
// the occupied bytes and the absolute counters. It reports whether the buffer
// changed.
func (b *Buffer) Grow(need int) bool {
	if b.Free() >= need {
		return false
	}
	capacity := 1 << bits.Len(uint(b.Len()+need-1))
	return b.realloc(capacity)
}

// ShrinkTo reallocates down to capacity if the occupied bytes still fit.
func (b *Buffer) ShrinkTo(capacity int) bool {
	capacity = max(2, 1<<bits.Len(uint(capacity-1)))
	if capacity >= b.Cap() || b.Len() > capacity {
		return false
	}
	return b.realloc(capacity)
}

func (b *Buffer) realloc(capacity int) bool {
	data := make([]byte, capacity)
	mask := uint64(capacity - 1)
	occupied := b.Readable()
	occupied.Segments(func(span []byte, oft int, _ bool) {
		at := (b.r + uint64(oft)) & mask
		n := copy(data[at:], span)
		if n < len(span) {
			copy(data, span[n:])
		}
	})
	b.data = data
	b.mask = mask
	return true
}
