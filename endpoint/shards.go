package endpoint

import (
	"go.uber.org/zap"

	"github.com/weibocom/breeze-sub003/sharding"
)

// Shards routes each request onto one backend of a group through a
// distribution.
type Shards struct {
	dist     sharding.Distribute
	backends []shardBackend
}

type shardBackend struct {
	ep   Endpoint
	addr string
}

// NewShards builds the group: one connection endpoint per address, indexed by
// the named distribution.
func NewShards(distribution string, addrs []string, build func(addr string) Endpoint, log *zap.SugaredLogger) *Shards {
	s := &Shards{
		dist:     sharding.From(distribution, addrs, log),
		backends: make([]shardBackend, 0, len(addrs)),
	}
	for _, addr := range addrs {
		s.backends = append(s.backends, shardBackend{ep: build(addr), addr: addr})
	}
	return s
}

func (s *Shards) Send(req Request) {
	idx := 0
	if len(s.backends) > 1 {
		idx = s.dist.Index(req.Cmd().Hash)
	}
	if idx >= len(s.backends) {
		req.OnErr(errIndexOutOfBound(idx, len(s.backends)))
		return
	}
	s.backends[idx].ep.Send(req)
}

func (s *Shards) ShardIdx(hash int64) int {
	if len(s.backends) <= 1 {
		return 0
	}
	return s.dist.Index(hash)
}

func (s *Shards) Inited() bool {
	if len(s.backends) == 0 {
		return false
	}
	for _, b := range s.backends {
		if !b.ep.Inited() {
			return false
		}
	}
	return true
}

// Addrs returns the backend addresses in shard order.
func (s *Shards) Addrs() []string {
	out := make([]string, len(s.backends))
	for i, b := range s.backends {
		out[i] = b.addr
	}
	return out
}
