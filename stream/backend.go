package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/weibocom/breeze-sub003/ds/xsync"
	"github.com/weibocom/breeze-sub003/endpoint"
	"github.com/weibocom/breeze-sub003/metrics"
	"github.com/weibocom/breeze-sub003/protocol"
)

const (
	dialTimeout       = 2 * time.Second
	backendBufSize    = 16 * 1024
	backendBufMax     = 4 * 1024 * 1024
	defaultQueueDepth = 512
)

// Backend is one logical connection to one backend address: a bounded
// submission queue feeding a single connection owner. The owner never shares
// the socket; ordering on the wire is submission order and responses are
// matched back FIFO.
type Backend struct {
	addr   string
	opts   endpoint.BackendOptions
	parser protocol.Parser

	queue  chan endpoint.Request
	ready  *xsync.Switcher
	closed atomic.Bool
	cancel context.CancelFunc

	log *zap.SugaredLogger
}

// NewBackend creates the backend and starts its connection owner.
func NewBackend(addr string, opts endpoint.BackendOptions, log *zap.SugaredLogger) *Backend {
	parser, ok := protocol.Get(opts.Resource)
	if !ok {
		// The topology builder validated the resource type already.
		panic(fmt.Sprintf("stream: no parser for resource %q", opts.Resource))
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Backend{
		addr:   addr,
		opts:   opts,
		parser: parser,
		queue:  make(chan endpoint.Request, defaultQueueDepth),
		ready:  xsync.NewSwitcher(false),
		cancel: cancel,
		log:    log.With("backend", addr),
	}
	go b.run(ctx)
	return b
}

// Send implements endpoint.Endpoint. A backend closed by a topology swap
// reports the swap so the request re-resolves instead of failing.
func (b *Backend) Send(req endpoint.Request) {
	if b.closed.Load() {
		req.OnErr(protocol.ErrTopologyChanged)
		return
	}
	select {
	case b.queue <- req:
	default:
		req.OnErr(protocol.ErrQueueFull)
	}
}

func (b *Backend) ShardIdx(int64) int { return 0 }

// Inited implements endpoint.Endpoint.
func (b *Backend) Inited() bool { return b.ready.Get() }

// Close stops the connection owner and fails queued requests.
func (b *Backend) Close() error {
	if !b.closed.Swap(true) {
		b.cancel()
	}
	return nil
}

func (b *Backend) run(ctx context.Context) {
	policy := NewReconnPolicy(b.addr)
	for {
		if ctx.Err() != nil {
			b.drainQueue(protocol.ErrTopologyChanged)
			return
		}
		conn, err := net.DialTimeout("tcp", b.addr, dialTimeout)
		if err != nil {
			b.log.Warnw("dial failed", zap.Error(err))
			policy.OnFailed(ctx)
			continue
		}
		err = b.serve(ctx, conn, policy)
		b.ready.Off()
		conn.Close()
		if ctx.Err() != nil {
			b.drainQueue(protocol.ErrTopologyChanged)
			return
		}
		b.log.Warnw("connection lost", zap.Error(err))
		policy.OnFailed(ctx)
	}
}

// retireEntry tracks one parsed response frame until its owning context
// releases it and the ring can advance.
type retireEntry struct {
	size int
	done *atomic.Bool
}

func (b *Backend) serve(ctx context.Context, conn net.Conn, policy *ReconnPolicy) error {
	rs := newConnStream(backendBufSize)
	bw := bufio.NewWriter(conn)

	if hs, ok := b.parser.(protocol.Handshaker); ok {
		if err := b.handshake(ctx, conn, rs, sockWriter{w: bw}, hs); err != nil {
			return err
		}
	}
	b.ready.On()
	defer b.ready.Off()
	policy.OnSuccess()

	inflight := make(chan endpoint.Request, cap(b.queue))
	writerErr := make(chan error, 1)
	writerCtx, stopWriter := context.WithCancel(ctx)
	defer stopWriter()

	go func() {
		writerErr <- b.writeLoop(writerCtx, inflight, bw)
	}()

	err := b.readLoop(ctx, conn, rs, inflight)

	stopWriter()
	// Requests sent but unanswered die with the connection; their contexts
	// decide between retry and failure. A timeout keeps its type so the
	// client-facing error says what actually happened.
	drainErr := protocol.ErrWaiting
	var terr *protocol.TimeoutError
	if errors.As(err, &terr) {
		drainErr = err
	}
	for {
		select {
		case req := <-inflight:
			req.OnErr(drainErr)
		default:
			select {
			case werr := <-writerErr:
				if err == nil {
					err = werr
				}
			default:
			}
			return err
		}
	}
}

func (b *Backend) handshake(ctx context.Context, conn net.Conn, rs *connStream, w sockWriter, hs protocol.Handshaker) error {
	deadline := time.Now().Add(5 * time.Second)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		done, err := hs.Handshake(rs, w, b.opts.Auth)
		if err != nil {
			return err
		}
		if werr := w.w.Flush(); werr != nil {
			return werr
		}
		if done {
			rs.retire(rs.parsed)
			return nil
		}
		conn.SetReadDeadline(deadline)
		if _, err := rs.buf.Fill(conn); err != nil {
			return fmt.Errorf("handshake read: %w", err)
		}
	}
}

func (b *Backend) writeLoop(ctx context.Context, inflight chan endpoint.Request, bw *bufio.Writer) error {
	w := sockWriter{w: bw}
	for {
		var req endpoint.Request
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req = <-b.queue:
		}
		for {
			// Enqueue before writing: the response cannot overtake the
			// bookkeeping.
			select {
			case inflight <- req:
			case <-ctx.Done():
				req.OnErr(protocol.ErrPending)
				return ctx.Err()
			}
			if err := b.parser.WriteRequest(req.Cmd(), w); err != nil {
				return err
			}
			// Batch: keep writing while requests are queued, flush once.
			select {
			case req = <-b.queue:
				continue
			default:
			}
			break
		}
		if err := bw.Flush(); err != nil {
			return err
		}
	}
}

func (b *Backend) readLoop(ctx context.Context, conn net.Conn, rs *connStream, inflight chan endpoint.Request) error {
	cycle := time.Duration(b.opts.TimeoutMs) * time.Millisecond
	if cycle <= 0 {
		cycle = 500 * time.Millisecond
	}
	checker := NewTimeoutChecker(cycle, 1)
	retires := queue.New()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		drainRetires(rs, retires)
		if !rs.ensureFree(backendBufSize, backendBufMax) {
			return protocol.ErrBufferFull
		}

		conn.SetReadDeadline(time.Now().Add(cycle))
		_, err := rs.buf.Fill(conn)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				if len(inflight) == 0 {
					checker.Reset()
					continue
				}
				if terr := checker.Check(); terr != nil {
					metrics.BackendTimeouts.WithLabelValues(b.addr).Inc()
					return terr
				}
				continue
			}
			return err
		}

		for {
			resp, perr := b.parser.ParseResponse(rs)
			if perr != nil {
				return perr
			}
			if resp == nil {
				break
			}
			var req endpoint.Request
			select {
			case req = <-inflight:
			default:
				return protocol.ErrNoResponseFound
			}
			entry := retireEntry{size: resp.Data.Len(), done: &atomic.Bool{}}
			done := entry.done
			resp.ArmRelease(func() { done.Store(true) })
			retires.Add(entry)

			checker.Tick()
			req.OnComplete(resp)
			drainRetires(rs, retires)
		}
	}
}

// drainRetires consumes the ring prefix covered by released response frames.
func drainRetires(rs *connStream, retires *queue.Queue) {
	for retires.Length() > 0 {
		head := retires.Peek().(retireEntry)
		if !head.done.Load() {
			return
		}
		retires.Remove()
		rs.retire(head.size)
	}
}

func (b *Backend) drainQueue(err error) {
	for {
		select {
		case req := <-b.queue:
			req.OnErr(err)
		default:
			return
		}
	}
}
