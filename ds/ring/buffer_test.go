package ring

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferRoundsCapacity(t *testing.T) {
	assert.Equal(t, 16, New(9).Cap())
	assert.Equal(t, 16, New(16).Cap())
	assert.Equal(t, 2, New(0).Cap())
}

func TestBufferWriteConsume(t *testing.T) {
	b := New(8)
	require.Equal(t, 5, b.Write([]byte("hello")))
	assert.Equal(t, 5, b.Len())
	assert.Equal(t, 3, b.Free())
	assert.Equal(t, "hello", b.Readable().String())

	require.True(t, b.Consume(5))
	assert.Equal(t, 0, b.Len())
	assert.False(t, b.Consume(1))
}

func TestBufferWrapPath(t *testing.T) {
	b := New(8)
	// Fill to cap-1, drain, then write across the wrap point.
	require.Equal(t, 7, b.Write([]byte("0123456")))
	require.True(t, b.Consume(7))
	require.Equal(t, 8, b.Write([]byte("abcdefgh")))
	assert.Equal(t, 0, b.Free())
	assert.Equal(t, "abcdefgh", b.Readable().String())
}

func TestBufferRejectsOverfill(t *testing.T) {
	b := New(4)
	assert.Equal(t, 4, b.Write([]byte("abcdef")))
	assert.Equal(t, "abcd", b.Readable().String())
}

func TestBufferFill(t *testing.T) {
	b := New(8)
	require.True(t, b.Consume(0))
	b.Write([]byte("xy"))
	b.Consume(2)

	// Reader starts at offset 2, so the free region wraps.
	n, err := b.Fill(bytes.NewReader([]byte("abcdefgh")))
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, "abcdefgh", b.Readable().String())
}

func TestBufferWriteTo(t *testing.T) {
	b := New(8)
	b.Write([]byte("0123456"))
	b.Consume(5)
	b.Write([]byte("abcd")) // wraps

	var out bytes.Buffer
	n, err := b.WriteTo(&out)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "56abcd", out.String())
	assert.Equal(t, 0, b.Len())
}

func TestBufferGrowKeepsContent(t *testing.T) {
	b := New(8)
	b.Write([]byte("0123456"))
	b.Consume(5)
	b.Write([]byte("abcdef")) // wrapped occupied region "56abcdef"

	require.True(t, b.Grow(10))
	assert.GreaterOrEqual(t, b.Free(), 10)
	assert.Equal(t, "56abcdef", b.Readable().String())
}

func TestBufferShrink(t *testing.T) {
	b := New(64)
	b.Write([]byte("abc"))
	require.True(t, b.ShrinkTo(8))
	assert.Equal(t, 8, b.Cap())
	assert.Equal(t, "abc", b.Readable().String())

	// Occupied bytes that do not fit block the shrink.
	b2 := New(64)
	b2.Write(bytes.Repeat([]byte{1}, 32))
	assert.False(t, b2.ShrinkTo(16))
}
