package stream

import (
	"bufio"

	"github.com/weibocom/breeze-sub003/ds/ring"
	"github.com/weibocom/breeze-sub003/protocol"
)

// sockWriter adapts a buffered socket writer to protocol.Writer.
type sockWriter struct {
	w *bufio.Writer
}

func (s sockWriter) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

func (s sockWriter) WriteSlice(sl ring.Slice) error {
	var err error
	sl.Segments(func(span []byte, _ int, _ bool) {
		if err == nil {
			_, err = s.w.Write(span)
		}
	})
	return err
}

// ringWriter adapts an egress ring to protocol.Writer, growing the ring up
// to maxCap before reporting BufferFull.
type ringWriter struct {
	buf    *ring.Buffer
	maxCap int
}

func (r *ringWriter) ensure(n int) error {
	if r.buf.Free() >= n {
		return nil
	}
	if r.buf.Len()+n > r.maxCap {
		return protocol.ErrBufferFull
	}
	r.buf.Grow(n)
	return nil
}

func (r *ringWriter) Write(p []byte) (int, error) {
	if err := r.ensure(len(p)); err != nil {
		return 0, err
	}
	return r.buf.Write(p), nil
}

func (r *ringWriter) WriteSlice(sl ring.Slice) error {
	if err := r.ensure(sl.Len()); err != nil {
		return err
	}
	var err error
	sl.Segments(func(span []byte, _ int, _ bool) {
		if err == nil {
			if n := r.buf.Write(span); n < len(span) {
				err = protocol.ErrBufferFull
			}
		}
	})
	return err
}
