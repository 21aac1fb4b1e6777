package cid

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextAscending(t *testing.T) {
	ids := WithCapacity(4)
	for want := 0; want < 4; want++ {
		id, ok := ids.Next()
		require.True(t, ok)
		assert.Equal(t, want, id)
	}
	_, ok := ids.Next()
	assert.False(t, ok)
}

func TestReleaseReuse(t *testing.T) {
	ids := WithCapacity(4)
	for i := 0; i < 4; i++ {
		ids.Next()
	}
	ids.Release(2)
	id, ok := ids.Next()
	require.True(t, ok)
	assert.Equal(t, 2, id)
}

func TestMarked(t *testing.T) {
	ids := WithCapacity(130)
	for _, id := range []int{0, 5, 64, 129} {
		w, bit := id/64, uint64(1)<<(id%64)
		ids.words[w].Or(bit)
	}
	assert.Equal(t, []int{0, 5, 64, 129}, ids.Marked())

	ids.Release(5)
	ids.Release(64)
	assert.Equal(t, []int{0, 129}, ids.Marked())
}

func TestDoubleReleasePanics(t *testing.T) {
	ids := WithCapacity(4)
	ids.Next()
	ids.Release(0)
	assert.Panics(t, func() { ids.Release(0) })
}

// After N concurrent claim/release cycles the bitmap must be empty.
func TestConcurrentCycles(t *testing.T) {
	ids := WithCapacity(128)
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				c, ok := New(ids)
				if !ok {
					continue
				}
				c.Close()
			}
		}()
	}
	wg.Wait()
	assert.Empty(t, ids.Marked())
}

func TestCapNotMultipleOf64(t *testing.T) {
	ids := WithCapacity(65)
	var got []int
	for {
		id, ok := ids.Next()
		if !ok {
			break
		}
		got = append(got, id)
	}
	require.Len(t, got, 65)
	assert.Equal(t, 64, got[64])
}
