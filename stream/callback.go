package stream

import (
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/weibocom/breeze-sub003/ds/xsync"
	"github.com/weibocom/breeze-sub003/endpoint"
	"github.com/weibocom/breeze-sub003/metrics"
	"github.com/weibocom/breeze-sub003/protocol"
)

// Context state bits.
const (
	stDone uint32 = 1 << iota
	stFailed
	stCancelled
)

// CallbackContext is the per-request state machine: it owns one command,
// counts its outstanding dispatches, collects the response and runs the
// retry/write-back/timeout policy. Contexts come from the arena and go back
// to it when the last reference drops.
type CallbackContext struct {
	cmd protocol.HashedCommand
	svc *endpoint.Service

	start    time.Time
	attempts int32

	state atomic.Uint32
	// refs: one for the egress side, one per in-flight dispatch.
	refs atomic.Int32

	resp *protocol.Command
	err  error

	waker *xsync.Waker
	arena *Arena
	// resolver re-resolves the service under the current topology snapshot,
	// for the one-shot retry after a swap closed the old backend.
	resolver func() (*endpoint.Service, bool)
}

func (c *CallbackContext) init(cmd *protocol.HashedCommand, svc *endpoint.Service, waker *xsync.Waker, arena *Arena, resolver func() (*endpoint.Service, bool)) {
	c.cmd = *cmd
	c.svc = svc
	c.start = time.Now()
	c.attempts = 0
	c.state.Store(0)
	c.refs.Store(2)
	c.resp = nil
	c.err = nil
	c.waker = waker
	c.arena = arena
	c.resolver = resolver
}

// Cmd implements endpoint.Request.
func (c *CallbackContext) Cmd() *protocol.HashedCommand { return &c.cmd }

// Attempt implements endpoint.Request: how many dispatches came before.
func (c *CallbackContext) Attempt() int { return int(atomic.LoadInt32(&c.attempts)) }

// Done reports a delivered terminal state.
func (c *CallbackContext) Done() bool {
	return c.state.Load()&(stDone|stFailed) != 0
}

// Failed reports the terminal state was an error.
func (c *CallbackContext) Failed() bool { return c.state.Load()&stFailed != 0 }

// Elapsed returns the time since the request was admitted.
func (c *CallbackContext) Elapsed() time.Duration { return time.Since(c.start) }

// cancel marks the context abandoned by its client connection.
func (c *CallbackContext) cancel() {
	c.state.Or(stCancelled)
}

// OnComplete implements endpoint.Request. Runs on the backend driver's
// goroutine; it may re-dispatch instead of finishing.
func (c *CallbackContext) OnComplete(resp *protocol.Command) {
	if c.state.Load()&stCancelled != 0 {
		resp.Release()
		c.finish(nil, nil, stDone)
		return
	}

	// Layered miss fallback: re-issue the retrieval one layer down.
	if resp.Miss && c.cmd.Sentinel() && c.cmd.TryNext() && c.svc != nil && c.svc.Layered != nil {
		next := int(atomic.AddInt32(&c.attempts, 1))
		if next < c.svc.Layered.Layers() {
			resp.Release()
			c.svc.Layered.Send(c)
			return
		}
	}

	if c.svc != nil && c.svc.Layered != nil && c.cmd.Op.IsRetrieval() && resp.OK && !resp.Miss {
		metrics.LayerHits.WithLabelValues(c.svc.Name, strconv.Itoa(c.Attempt())).Inc()

		// Hit below the first layer: repair the layers above.
		if c.Attempt() > 0 {
			c.svc.Layered.OnHit(c, resp)
			metrics.WriteBacks.WithLabelValues(c.svc.Name).Inc()
		}
	}

	c.finish(resp, nil, stDone)
}

// OnErr implements endpoint.Request. A retryable request walks to the next
// layer immediately; the retry budget is the layer count. A request whose
// backend vanished under a topology swap re-resolves and re-issues once.
func (c *CallbackContext) OnErr(err error) {
	cancelled := c.state.Load()&stCancelled != 0

	swap := errors.Is(err, protocol.ErrTopologyChanged) || errors.Is(err, protocol.ErrClosed)
	if !cancelled && swap && atomic.LoadInt32(&c.attempts) == 0 && c.resolver != nil {
		if svc, ok := c.resolver(); ok {
			atomic.AddInt32(&c.attempts, 1)
			c.svc = svc
			svc.Endpoint.Send(c)
			return
		}
	}

	if !cancelled && c.cmd.TryNext() && c.svc != nil && c.svc.Layered != nil {
		next := int(atomic.AddInt32(&c.attempts, 1))
		if next < c.svc.Layered.Layers() {
			c.svc.Layered.Send(c)
			return
		}
	}
	c.finish(nil, err, stDone|stFailed)
}

// completeLocal finishes a request the agent answered itself (no-forward).
func (c *CallbackContext) completeLocal() {
	c.finish(nil, nil, stDone)
}

func (c *CallbackContext) finish(resp *protocol.Command, err error, bits uint32) {
	c.resp = resp
	c.err = err
	c.state.Or(bits)
	if c.waker != nil {
		c.waker.Wake()
	}
	c.unref()
}

// unref drops one reference, deallocating on the last.
func (c *CallbackContext) unref() {
	if c.refs.Add(-1) != 0 {
		return
	}
	if c.resp != nil {
		c.resp.Release()
		c.resp = nil
	}
	if c.arena != nil {
		c.arena.Put(c)
	}
}
