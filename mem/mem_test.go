package mem

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageArenaStability(t *testing.T) {
	var a PageArena
	first := a.Alloc([]byte("hello"))
	// Force many page allocations; the first slice must stay intact.
	for i := 0; i < 200_000; i++ {
		a.Alloc([]byte(fmt.Sprintf("filler-%d", i)))
	}
	assert.Equal(t, "hello", string(first))
	assert.Greater(t, a.Size(), int64(5))
}

func TestPageArenaLargeAlloc(t *testing.T) {
	var a PageArena
	big := make([]byte, 3*512*1024)
	for i := range big {
		big[i] = byte(i)
	}
	got := a.Alloc(big)
	assert.Equal(t, big, got)

	after := a.Alloc([]byte("small"))
	assert.Equal(t, "small", string(after))
}

func TestPageArenaEmpty(t *testing.T) {
	var a PageArena
	assert.Nil(t, a.Alloc(nil))
	assert.Equal(t, int64(0), a.Size())
}

func TestBucketSlice(t *testing.T) {
	var s BucketSlice[int]
	for i := 0; i < 1000; i++ {
		s.Append(i)
	}
	require.Equal(t, 1000, s.Len())
	for i := 0; i < 1000; i++ {
		assert.Equal(t, i, s.Get(i))
	}
	*s.Ptr(501) = -2
	assert.Equal(t, -2, s.Get(501))
	s.Reset()
	assert.Equal(t, 0, s.Len())
}

func TestBucketSlicePointerStability(t *testing.T) {
	var s BucketSlice[int]
	p := s.Append(7)
	for i := 0; i < 10_000; i++ {
		s.Append(i)
	}
	assert.Equal(t, 7, *p)
	assert.Same(t, p, s.Ptr(0))
}
