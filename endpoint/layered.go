package endpoint

import (
	"fmt"
	"math/rand/v2"
	"sync/atomic"

	"github.com/weibocom/breeze-sub003/protocol"
)

func errIndexOutOfBound(idx, n int) error {
	return fmt.Errorf("shard index %d of %d: %w", idx, n, protocol.ErrIndexOutOfBound)
}

// RepairBuilder synthesizes the store request that repairs an upper layer
// after a read was served from a lower one. Protocols that cannot express
// the repair (mysql) simply do not implement it.
type RepairBuilder interface {
	BuildRepair(req *protocol.HashedCommand, resp *protocol.Command) (*protocol.HashedCommand, bool)
}

// Layered is the cache hierarchy: writes go to the master group and fan
// asynchronously to every follower group; reads walk the read sequence on
// miss and repair the layers above the hit.
type Layered struct {
	// writes
	master    Endpoint
	followers []Endpoint
	// reads, in fallback order: local L1 (if any), master, slave.
	readers []Endpoint

	repair RepairBuilder
}

// NewLayered assembles the hierarchy from per-group endpoints.
func NewLayered(master Endpoint, followers, readers []Endpoint, repair RepairBuilder) *Layered {
	return &Layered{
		master:    master,
		followers: followers,
		readers:   readers,
		repair:    repair,
	}
}

// Layers returns how many read layers a retrieval can traverse.
func (l *Layered) Layers() int { return len(l.readers) }

func (l *Layered) Send(req Request) {
	cmd := req.Cmd()
	if !cmd.Op.IsRetrieval() {
		// Writes: master answers the client; followers are repaired in the
		// background with a copy.
		for _, f := range l.followers {
			f.Send(&asyncRequest{cmd: cloneCmd(cmd)})
		}
		l.master.Send(req)
		return
	}
	layer := req.Attempt()
	if layer >= len(l.readers) {
		layer = len(l.readers) - 1
	}
	l.readers[layer].Send(req)
}

// OnHit repairs the read layers above the one that answered. The pipeline
// calls it when a retrieval completes on attempt > 0.
func (l *Layered) OnHit(req Request, resp *protocol.Command) {
	if l.repair == nil || !resp.OK || resp.Miss {
		return
	}
	hit := req.Attempt()
	if hit <= 0 {
		return
	}
	repair, ok := l.repair.BuildRepair(req.Cmd(), resp)
	if !ok {
		return
	}
	for layer := 0; layer < hit && layer < len(l.readers); layer++ {
		l.readers[layer].Send(&asyncRequest{cmd: cloneCmd(repair)})
	}
}

func (l *Layered) ShardIdx(hash int64) int {
	return l.master.ShardIdx(hash)
}

func (l *Layered) Inited() bool {
	if !l.master.Inited() {
		return false
	}
	for _, r := range l.readers {
		if !r.Inited() {
			return false
		}
	}
	return true
}

func cloneCmd(cmd *protocol.HashedCommand) *protocol.HashedCommand {
	c := *cmd
	c.FrameLen = 0 // clones never retire ingress bytes
	return &c
}

// L1Group spreads traffic across parallel L1 pools. The pool choice is a
// round-robin from a random start, so agents do not herd onto the same pool
// after a simultaneous restart.
type L1Group struct {
	pools []Endpoint
	seq   atomic.Uint64
}

func NewL1Group(pools []Endpoint) *L1Group {
	g := &L1Group{pools: pools}
	g.seq.Store(rand.Uint64() % 65536)
	return g
}

func (g *L1Group) Send(req Request) {
	idx := int(g.seq.Add(1) % uint64(len(g.pools)))
	g.pools[idx].Send(req)
}

func (g *L1Group) ShardIdx(hash int64) int {
	return g.pools[0].ShardIdx(hash)
}

func (g *L1Group) Inited() bool {
	for _, p := range g.pools {
		if !p.Inited() {
			return false
		}
	}
	return len(g.pools) > 0
}
