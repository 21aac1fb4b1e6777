package endpoint

import (
	"math/rand/v2"
	"sort"
	"sync/atomic"

	"github.com/weibocom/breeze-sub003/protocol"
)

// Queue routes message-queue traffic: reads round-robin over every readable
// backend from a random start, writes land on the smallest queue whose
// configured payload cap fits the message (the request hash carries the
// payload size).
type Queue struct {
	readers []Endpoint
	writers []sizedQueue
	rr      atomic.Uint64
}

type sizedQueue struct {
	maxSize int
	ep      Endpoint
}

// NewQueue assembles the pool. sizes aligns with eps; a zero size means
// unbounded.
func NewQueue(eps []Endpoint, sizes []int) *Queue {
	q := &Queue{readers: eps}
	for i, ep := range eps {
		size := 0
		if i < len(sizes) {
			size = sizes[i]
		}
		q.writers = append(q.writers, sizedQueue{maxSize: size, ep: ep})
	}
	// Bounded queues ascending, unbounded last.
	sort.SliceStable(q.writers, func(i, j int) bool {
		a, b := q.writers[i].maxSize, q.writers[j].maxSize
		if a == 0 {
			return false
		}
		if b == 0 {
			return true
		}
		return a < b
	})
	q.rr.Store(rand.Uint64() % 65536)
	return q
}

func (q *Queue) Send(req Request) {
	if req.Cmd().Op == protocol.OpGet {
		idx := int(q.rr.Add(1) % uint64(len(q.readers)))
		q.readers[idx].Send(req)
		return
	}
	size := int(req.Cmd().Hash)
	for _, w := range q.writers {
		if w.maxSize == 0 || size <= w.maxSize {
			w.ep.Send(req)
			return
		}
	}
	// Nothing fits: the largest queue takes it and reports its own limit.
	q.writers[len(q.writers)-1].ep.Send(req)
}

func (q *Queue) ShardIdx(int64) int { return 0 }

func (q *Queue) Inited() bool {
	for _, r := range q.readers {
		if !r.Inited() {
			return false
		}
	}
	return len(q.readers) > 0
}
