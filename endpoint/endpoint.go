// Package endpoint routes requests onto backend groups: plain sharded pools,
// layered cache hierarchies, and queue pools. Concrete connections are built
// by the stream package and injected through Builder.
package endpoint

import (
	"github.com/weibocom/breeze-sub003/protocol"
)

// Request is one routable unit: the command plus completion callbacks. The
// stream package's callback context implements it; endpoints never see the
// context itself.
type Request interface {
	// Cmd returns the command being routed.
	Cmd() *protocol.HashedCommand
	// Attempt returns how many times this request has been dispatched
	// before: layered endpoints use it as the layer cursor.
	Attempt() int
	// OnComplete delivers the response. Called exactly once per dispatch.
	OnComplete(resp *protocol.Command)
	// OnErr fails the dispatch.
	OnErr(err error)
}

// Endpoint accepts requests for one backend or backend group.
type Endpoint interface {
	// Send routes the request. Completion is delivered through the request's
	// callbacks, possibly before Send returns.
	Send(req Request)
	// ShardIdx returns the shard a hash routes to.
	ShardIdx(hash int64) int
	// Inited reports whether every underlying connection is ready.
	Inited() bool
}

// Builder creates the concrete connection endpoint for one backend address.
type Builder func(addr string, opt BackendOptions) Endpoint

// BackendOptions carries per-connection settings resolved from the service
// config.
type BackendOptions struct {
	Resource  string
	TimeoutMs int
	Auth      protocol.Auth
}

// asyncRequest is a fire-and-forget dispatch: repair writes and follower
// fan-outs complete silently.
type asyncRequest struct {
	cmd *protocol.HashedCommand
}

func (r *asyncRequest) Cmd() *protocol.HashedCommand { return r.cmd }

func (r *asyncRequest) Attempt() int { return 0 }

func (r *asyncRequest) OnComplete(resp *protocol.Command) {
	if resp != nil {
		resp.Release()
	}
}

func (r *asyncRequest) OnErr(error) {}
