package cow

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReadSeesPublished(t *testing.T) {
	w, r := New(1)
	g := r.Enter()
	assert.Equal(t, 1, g.Get())
	g.Release()

	w.Publish(2)
	assert.Equal(t, 2, w.Current())
	r.Read(func(v int) {
		assert.Equal(t, 2, v)
	})
}

// A swap while readers hold guards leaves the pinned generation intact until
// the last guard drops.
func TestGuardPinsGeneration(t *testing.T) {
	w, r := New("old")

	guards := make([]Guard[string], 8)
	for i := range guards {
		guards[i] = r.Enter()
	}

	w.Publish("new")

	for _, g := range guards {
		assert.Equal(t, "old", g.Get())
	}
	g := r.Enter()
	assert.Equal(t, "new", g.Get())
	g.Release()

	for _, g := range guards {
		g.Release()
	}
}

// The writer must not complete a second publish while the displaced
// generation is still guarded.
func TestPublishWaitsForAbsorption(t *testing.T) {
	w, r := New(0)

	g := r.Enter() // pins generation 0
	w.Publish(1)   // displaces generation 0, still guarded

	published := make(chan struct{})
	go func() {
		w.Publish(2) // must wait for g to release
		close(published)
	}()

	select {
	case <-published:
		t.Fatal("publish completed while the old generation was guarded")
	case <-time.After(20 * time.Millisecond):
	}

	g.Release()
	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("publish did not complete after the guard dropped")
	}
}

func TestConcurrentReaders(t *testing.T) {
	w, r := New(int64(0))
	var stop atomic.Bool
	var regressions atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last int64
			for !stop.Load() {
				g := r.Enter()
				v := g.Get()
				g.Release()
				// Values must be monotone: no stale generation after a newer
				// one was observed.
				if v < last {
					regressions.Add(1)
					return
				}
				last = v
			}
		}()
	}

	for v := int64(1); v <= 1000; v++ {
		w.Publish(v)
	}
	stop.Store(true)
	wg.Wait()
	assert.Zero(t, regressions.Load())
	assert.Equal(t, int64(1000), w.Current())
}
