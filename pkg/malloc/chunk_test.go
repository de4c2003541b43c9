package malloc

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

// chunkFromBuf treats buf as chunk-addressable memory for tests. buf must
// outlive every chunk value derived from it and must not be reallocated
// (e.g. via append) while those chunk values are in use.
func chunkFromBuf(buf []byte) chunk {
	return chunk(uintptr(unsafe.Pointer(&buf[0])))
}

func TestChunkHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 128)
	c := chunkFromBuf(buf)

	c.setHead(uintptr(64) | prevInUse)
	assert.Equal(t, uintptr(64), c.size())
	assert.True(t, c.prevInUse())
	assert.False(t, c.isMmapped())

	c.setHead(uintptr(64) | prevInUse | isMmapped)
	assert.True(t, c.isMmapped())
	assert.Equal(t, uintptr(64), c.size())
}

func TestChunkSetHeadSizePreservesPrevInUse(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 128)
	c := chunkFromBuf(buf)

	c.setHead(uintptr(64) | prevInUse)
	c.setHeadSize(uintptr(96))
	assert.Equal(t, uintptr(96), c.size())
	assert.True(t, c.prevInUse())
}

func TestChunkNextAndFooter(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 256)
	c := chunkFromBuf(buf)
	c.setHead(uintptr(64)) // prev_inuse clear: free chunk, has a footer

	next := c.next()
	assert.Equal(t, uintptr(c)+64, uintptr(next))

	c.setFoot(64)
	next.setHead(uintptr(64) | prevInUse)
	// next believes its predecessor is free, so it can recover c via prevSize.
	next.setHead(uintptr(64))
	assert.Equal(t, uintptr(64), next.prevSize())
	assert.Equal(t, c, next.prev())
}

func TestChunkMemRoundTrip(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 128)
	c := chunkFromBuf(buf)
	c.setHead(uintptr(64) | prevInUse)

	assert.Equal(t, c, chunkFromMem(c.mem()))
}

func TestChunkFdBkLinks(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 128)
	c := chunkFromBuf(buf)

	other := chunk(uintptr(c) + 64)
	c.setFd(other)
	c.setBk(other)

	assert.Equal(t, other, c.fd())
	assert.Equal(t, other, c.bk())
}
