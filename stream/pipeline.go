package stream

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/weibocom/breeze-sub003/ds/ring"
	"github.com/weibocom/breeze-sub003/ds/xsync"
	"github.com/weibocom/breeze-sub003/endpoint"
	"github.com/weibocom/breeze-sub003/metrics"
	"github.com/weibocom/breeze-sub003/protocol"
)

const (
	clientBufSize = 8 * 1024
	clientBufMax  = 4 * 1024 * 1024
	egressBufMax  = 8 * 1024 * 1024
)

// PipelineOptions tunes one client connection handler.
type PipelineOptions struct {
	// Depth bounds the in-flight requests of one connection; a full window
	// stalls ingress and lets TCP push back on the client.
	Depth int
	// BufSize is the initial ingress/egress ring capacity.
	BufSize int
}

// Pipeline serves one client connection: ingress bytes are parsed into
// requests, dispatched through the current topology snapshot, and the
// responses are written back in strict request order.
type Pipeline struct {
	conn    net.Conn
	service string
	topo    *endpoint.Topology
	opts    PipelineOptions
	log     *zap.SugaredLogger

	ingress *connStream
	egress  *ringWriter
	arena   *Arena
	waker   *xsync.Waker

	// pending is the submission window: the reader blocks pushing into it
	// (TCP backpressure), the writer retires strictly in order from it.
	pending chan *CallbackContext

	// retired counts ingress bytes whose contexts finished; the reader
	// consumes them from the ring on its next pass.
	retired chan int

	// shrink cools down ingress downsizing after a burst grew the ring.
	shrink *ring.ShrinkPolicy
}

// NewPipeline creates a handler for an accepted client connection.
func NewPipeline(conn net.Conn, service string, topo *endpoint.Topology, opts PipelineOptions, log *zap.SugaredLogger) *Pipeline {
	if opts.Depth <= 0 {
		opts.Depth = 64
	}
	if opts.BufSize <= 0 {
		opts.BufSize = clientBufSize
	}
	return &Pipeline{
		conn:    conn,
		service: service,
		topo:    topo,
		opts:    opts,
		log:     log.With("client", conn.RemoteAddr().String()),
		ingress: newConnStream(opts.BufSize),
		egress:  &ringWriter{buf: ring.New(opts.BufSize), maxCap: egressBufMax},
		arena:   NewArena(64),
		waker:   xsync.NewWaker(),
		pending: make(chan *CallbackContext, opts.Depth),
		retired: make(chan int, opts.Depth+1),
		shrink:  ring.NewShrinkPolicy(10 * time.Minute),
	}
}

// Run drives the connection until the client quits, errors, or ctx ends.
func (p *Pipeline) Run(ctx context.Context) error {
	metrics.Connections.WithLabelValues(p.service).Inc()
	defer metrics.Connections.WithLabelValues(p.service).Dec()
	defer p.conn.Close()

	svc, ok := p.lookup()
	if !ok {
		return protocol.ErrNotInit
	}

	if greeter, ok := svc.Parser.(protocol.ClientHandshaker); ok {
		if err := p.greet(ctx, greeter); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	writerDone := make(chan error, 1)
	readerDone := make(chan error, 1)
	go func() {
		writerDone <- p.egressLoop(runCtx)
	}()
	go func() {
		readerDone <- p.ingressLoop(runCtx)
	}()

	var readerErr, writerErr error
	select {
	case readerErr = <-readerDone:
		// Stop admitting, cancel in-flight work, release writer references.
		cancel()
		p.waker.Wake()
		writerErr = <-writerDone
	case writerErr = <-writerDone:
		// The writer decided the connection's fate; the reader is unblocked
		// with a poisoned deadline and its error is an artifact of that.
		cancel()
		p.conn.SetReadDeadline(time.Now())
		<-readerDone
	}
	p.shutdown()

	// A malformed request owes the client its wire-format error before the
	// close.
	if wire, ok := protocol.IsWireError(readerErr); ok {
		p.conn.Write(wire)
		return readerErr
	}

	if writerErr != nil && !errors.Is(writerErr, context.Canceled) && !errors.Is(writerErr, protocol.ErrQuit) {
		return writerErr
	}
	if readerErr != nil && !errors.Is(readerErr, protocol.ErrReadEof) &&
		!errors.Is(readerErr, context.Canceled) {
		return readerErr
	}
	return nil
}

func (p *Pipeline) lookup() (*endpoint.Service, bool) {
	svc, guard, ok := p.topo.Lookup(p.service)
	if !ok {
		return nil, false
	}
	guard.Release()
	return svc, true
}

// greet runs protocols that speak first (MySQL) to completion before the
// split into reader and writer.
func (p *Pipeline) greet(ctx context.Context, greeter protocol.ClientHandshaker) error {
	bw := bufio.NewWriter(p.conn)
	w := sockWriter{w: bw}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		done, err := greeter.GreetClient(p.ingress, w)
		if err != nil {
			return err
		}
		if err := bw.Flush(); err != nil {
			return err
		}
		if done {
			p.ingress.retire(p.ingress.parsed)
			return nil
		}
		p.conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		if _, err := p.ingress.buf.Fill(p.conn); err != nil {
			return err
		}
	}
}

// ingressLoop fills the ring, parses requests and dispatches them.
func (p *Pipeline) ingressLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.drainRetired()

		svc, ok := p.lookup()
		if !ok {
			return protocol.ErrNotInit
		}
		if err := svc.Parser.ParseRequest(p.ingress, svc.Hasher, p.admit(ctx, svc)); err != nil {
			return err
		}

		if !p.ingress.ensureFree(p.opts.BufSize, clientBufMax) {
			p.drainRetired()
			if !p.ingress.ensureFree(p.opts.BufSize, clientBufMax) {
				return protocol.ErrBufferFull
			}
		}
		p.maybeShrink()
		p.conn.SetReadDeadline(time.Time{})
		n, err := p.ingress.buf.Fill(p.conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return protocol.ErrReadEof
			}
			return err
		}
		if n == 0 {
			return protocol.ErrReadEof
		}
	}
}

// admit builds the parser callback creating and dispatching one context per
// emitted request.
func (p *Pipeline) admit(ctx context.Context, svc *endpoint.Service) protocol.Proc {
	resolver := func() (*endpoint.Service, bool) { return p.lookup() }
	return func(cmd *protocol.HashedCommand) error {
		cctx := p.arena.Get()
		cctx.init(cmd, svc, p.waker, p.arena, resolver)

		select {
		case p.pending <- cctx:
		case <-ctx.Done():
			cctx.cancel()
			cctx.unref()
			cctx.unref()
			return ctx.Err()
		}

		switch {
		case cmd.NoForward():
			cctx.completeLocal()
		case cmd.Op == protocol.OpStore && !svc.CanWrite,
			cmd.Op.IsRetrieval() && !svc.CanRead:
			// Denied by access_mod: fail outright, no layer walking.
			cctx.finish(nil, protocol.ErrProtocolNotSupported, stDone|stFailed)
		default:
			svc.Endpoint.Send(cctx)
		}
		return nil
	}
}

// egressLoop writes responses back in request order.
func (p *Pipeline) egressLoop(ctx context.Context) error {
	for {
		var cctx *CallbackContext
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cctx = <-p.pending:
		}

		svc := cctx.svc
		deadline := cctx.start.Add(svc.TimeoutMaster)
		for !cctx.Done() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				cctx.cancel()
				terr := &protocol.TimeoutError{Elapsed: cctx.Elapsed(), Least: 1}
				p.failConn(cctx, terr)
				cctx.unref()
				return terr
			}
			select {
			case <-ctx.Done():
				p.requeueCancelled(cctx)
				return ctx.Err()
			case <-p.waker.C():
				p.waker.Clear()
			case <-time.After(remaining):
			}
		}

		if err := p.retire(cctx); err != nil {
			return err
		}
	}
}

// retire serializes one finished context and recycles it.
func (p *Pipeline) retire(cctx *CallbackContext) error {
	svc := cctx.svc
	cmd := &cctx.cmd
	op := cmd.Op

	status := "ok"
	var err error
	switch {
	case cctx.Failed():
		status = "err"
		p.failConn(cctx, cctx.err)
		err = cctx.err
	default:
		if werr := svc.Parser.WriteResponse(cmd, cctx.resp, p.egress); werr != nil {
			status = "err"
			err = werr
		}
	}

	metrics.RequestTotal.WithLabelValues(svc.Name, op.Name(), status).Inc()
	metrics.RequestLatency.WithLabelValues(svc.Name, op.Name()).Observe(cctx.Elapsed().Seconds())

	if err == nil {
		if _, werr := p.egress.buf.WriteTo(p.conn); werr != nil {
			err = werr
		}
	}

	if cmd.FrameLen > 0 {
		p.retired <- cmd.FrameLen
	}
	quit := op == protocol.OpQuit
	cctx.unref()

	if err != nil {
		return err
	}
	if quit {
		return protocol.ErrQuit
	}
	return nil
}

// failConn writes the dialect error for a failed request; the connection
// closes right after.
func (p *Pipeline) failConn(cctx *CallbackContext, err error) {
	svc := cctx.svc
	if ew, ok := svc.Parser.(protocol.ErrorWriter); ok && err != nil {
		if werr := ew.WriteError(&cctx.cmd, err, p.egress); werr == nil {
			p.egress.buf.WriteTo(p.conn)
		}
	}
}

// requeueCancelled hands one popped context through the cancellation path
// used by shutdown.
func (p *Pipeline) requeueCancelled(cctx *CallbackContext) {
	cctx.cancel()
	cctx.unref()
}

// shutdown cancels every admitted context still pending.
func (p *Pipeline) shutdown() {
	p.waker.Take()
	for {
		select {
		case cctx := <-p.pending:
			cctx.cancel()
			cctx.unref()
		default:
			return
		}
	}
}

// maybeShrink lets a burst-grown ingress ring settle back down once the low
// watermark has held long enough.
func (p *Pipeline) maybeShrink() {
	if p.ingress.buf.Cap() <= p.opts.BufSize || p.ingress.buf.Len() > p.opts.BufSize/2 {
		p.shrink.Reset()
		return
	}
	if p.shrink.Tick() {
		p.ingress.buf.ShrinkTo(p.opts.BufSize)
	}
}

// drainRetired consumes ingress bytes of retired frames.
func (p *Pipeline) drainRetired() {
	for {
		select {
		case n := <-p.retired:
			p.ingress.retire(n)
		default:
			return
		}
	}
}
