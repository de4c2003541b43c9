package malloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMallinfoTracksAllocationsAndFrees(t *testing.T) {
	t.Parallel()

	h := newTestHeap(t, WithMaxRecycleSize(0))

	p := h.Malloc(1024)
	assert.NotNil(t, p)

	afterAlloc := h.Mallinfo()
	assert.Positive(t, afterAlloc.ArenaBytes)
	assert.Positive(t, afterAlloc.AllocatedBytes)

	h.Free(p)

	afterFree := h.Mallinfo()
	assert.Positive(t, afterFree.OrdinaryFreeChunks)
	assert.GreaterOrEqual(t, afterFree.OrdinaryFreeBytes, 1024)
}

func TestMallinfoCountsRecycledChunks(t *testing.T) {
	t.Parallel()

	h := newTestHeap(t, WithMaxRecycleSize(recycleDefaultMax))

	p := h.Malloc(32)
	h.Free(p)

	stats := h.Mallinfo()
	assert.Equal(t, 1, stats.RecycleChunks)
}

func TestMallinfoExcludesLastRemainderFromAllocatedBytes(t *testing.T) {
	t.Parallel()

	h := newTestHeap(t, WithMaxRecycleSize(0))

	a := h.Malloc(8000)
	b := h.Malloc(8000)
	require.NotNil(t, a)
	require.NotNil(t, b)

	// A live chunk after b keeps it from merging into top when freed.
	guard := h.Malloc(16)
	require.NotNil(t, guard)

	h.Free(b)

	x := h.Malloc(2000)
	require.NotNil(t, x)
	require.NotEqual(t, noChunk, h.remainder.chunk)

	stats := h.Mallinfo()
	assert.Equal(t, stats.ArenaBytes-stats.OrdinaryFreeBytes-stats.RecycleBytes-
		int(h.remainder.chunk.size())-int(h.top.size()), stats.AllocatedBytes)
}
