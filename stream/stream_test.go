package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weibocom/breeze-sub003/protocol"
)

func TestConnStreamTakeRetire(t *testing.T) {
	s := newConnStream(16)
	s.buf.Write([]byte("hello world"))

	assert.Equal(t, "hello world", s.Slice().String())
	frame := s.Take(6)
	assert.Equal(t, "hello ", frame.String())
	assert.Equal(t, "world", s.Slice().String())

	// The frame stays readable until retired.
	assert.Equal(t, "hello ", frame.String())
	s.retire(6)
	assert.Equal(t, "world", s.Slice().String())
	assert.Equal(t, 0, s.parsed)
}

func TestConnStreamEnsureFree(t *testing.T) {
	s := newConnStream(4)
	s.buf.Write([]byte("abcd"))
	require.Zero(t, s.buf.Free())

	assert.True(t, s.ensureFree(4, 64))
	assert.GreaterOrEqual(t, s.buf.Free(), 4)

	// Capped at maxCap.
	s2 := newConnStream(4)
	s2.buf.Write([]byte("abcd"))
	assert.False(t, s2.ensureFree(4, 4))
}

func TestTimeoutChecker(t *testing.T) {
	c := NewTimeoutChecker(10*time.Millisecond, 2)

	// Enough ticks: window resets, no error.
	c.Tick()
	c.Tick()
	require.NoError(t, c.Check())

	// Too few ticks but window not elapsed: still fine.
	c.Tick()
	require.NoError(t, c.Check())

	time.Sleep(15 * time.Millisecond)
	err := c.Check()
	require.Error(t, err)
	var terr *protocol.TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, uint32(2), terr.Least)
	assert.GreaterOrEqual(t, terr.Elapsed, 10*time.Millisecond)
}

func TestArenaRecycles(t *testing.T) {
	a := NewArena(4)
	c1 := a.Get()
	require.NotNil(t, c1)
	a.Put(c1)

	c2 := a.Get()
	assert.Same(t, c1, c2)

	// Recycled contexts come back zeroed.
	assert.Nil(t, c2.resp)
	assert.Zero(t, c2.state.Load())
	a.Put(c2)
}

func TestArenaOverflowsToGlobal(t *testing.T) {
	a := NewArena(1)
	c1, c2 := a.Get(), a.Get()
	a.Put(c1)
	a.Put(c2) // local full, goes global

	b := NewArena(0)
	got := b.Get() // pulled from the global pool
	require.NotNil(t, got)
}
