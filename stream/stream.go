// Package stream drives bytes between sockets and parsers: the per-client
// pipeline, the per-backend connection driver, and the callback contexts
// tying one request's fan-out, retries and timeout together.
package stream

import (
	"github.com/weibocom/breeze-sub003/ds/ring"
)

// connStream adapts a ring buffer to protocol.Stream. The parse cursor runs
// ahead of the ring reader: a taken frame stays pinned in the ring until the
// owning context retires and the driver consumes it.
type connStream struct {
	buf    *ring.Buffer
	parsed int
	ctx    uint64
}

func newConnStream(capacity int) *connStream {
	return &connStream{buf: ring.New(capacity)}
}

func (s *connStream) Slice() ring.Slice {
	r := s.buf.Readable()
	return r.SubSlice(s.parsed, r.Len()-s.parsed)
}

func (s *connStream) Take(n int) ring.Slice {
	frame := s.Slice().SubSlice(0, n)
	s.parsed += n
	return frame
}

func (s *connStream) Context() *uint64 { return &s.ctx }

// retire releases n bytes of fully processed frames back to the ring.
func (s *connStream) retire(n int) {
	if n <= 0 {
		return
	}
	s.buf.Consume(n)
	s.parsed -= n
}

// ensureFree grows the ring when a partial frame has filled it. Live views
// keep referencing the old storage, which stays reachable until they drop.
func (s *connStream) ensureFree(minFree, maxCap int) bool {
	if s.buf.Free() > 0 {
		return true
	}
	if s.buf.Cap() >= maxCap {
		return false
	}
	return s.buf.Grow(minFree)
}
