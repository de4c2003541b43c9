// Package malloc implements a boundary-tag heap allocator in the style of
// Doug Lea's dlmalloc: a best-fit/address-ordered/quick-list hybrid that
// manages a single contiguous arena obtained from the operating system, plus
// isolated large-region mappings for oversized requests.
//
// The allocator is not safe for concurrent use; callers that need thread
// safety must provide their own synchronization. This is a deliberate scope
// boundary, not an oversight.
package malloc

import "unsafe"

// wordSize is the allocator's native machine word, used to size headers and
// link fields. On every platform Go targets this is 8 bytes.
const wordSize = int(unsafe.Sizeof(uintptr(0)))

// align is the required alignment of every user pointer: twice the machine
// word size.
const align = 2 * wordSize

const alignMask = uintptr(align - 1)

// Chunk header flags, packed into the low bits of the size field. Real
// chunk sizes are always a multiple of align (>= 16), so their low bits are
// free for flags.
const (
	prevInUse uintptr = 0x1 // previous physical chunk is allocated or recycled
	isMmapped uintptr = 0x2 // this chunk lives in its own page mapping
	sizeBits          = prevInUse | isMmapped
)

// headerSize is the size in bytes of a chunk's header word.
const headerSize = wordSize

// minChunk is the smallest possible chunk: header + fd + bk + footer.
const minChunk = 4 * wordSize

// chunk is the address of a chunk's header word. It is a bare uintptr, not a
// Go pointer: the memory it addresses comes from the operating system via
// mmap (see mmap.go) and is never touched by the garbage collector, so
// round-tripping through uintptr across calls is safe here in a way it would
// not be for ordinary heap memory. All boundary-tag arithmetic is
// concentrated in this file and bins.go; everything above it deals in terms
// of chunk and never performs raw pointer arithmetic of its own.
type chunk uintptr

// zero chunk value means "no chunk" (the allocator's nil).
const noChunk chunk = 0

func (c chunk) valid() bool { return c != noChunk }

//go:nocheckptr
func (c chunk) ptr() unsafe.Pointer { return unsafe.Pointer(c) }

func (c chunk) header() *uintptr { return (*uintptr)(c.ptr()) }

// rawSize returns the size field including its flag bits.
func (c chunk) rawSize() uintptr { return *c.header() }

// size returns the chunk's total size in bytes, header included, flags
// masked off.
func (c chunk) size() uintptr { return c.rawSize() &^ sizeBits }

func (c chunk) prevInUse() bool { return c.rawSize()&prevInUse != 0 }
func (c chunk) isMmapped() bool { return c.rawSize()&isMmapped != 0 }

// setHeadSize sets the size field, preserving the PREV_INUSE bit.
func (c chunk) setHeadSize(size uintptr) {
	*c.header() = (c.rawSize() & prevInUse) | size
}

// setHead sets the size field outright, flags included.
func (c chunk) setHead(size uintptr) { *c.header() = size }

// setPrevInUse sets or clears the PREV_INUSE bit without touching the rest
// of the size field. Callers use this on the chunk physically following one
// whose allocated/free state just changed.
func (c chunk) setPrevInUse(v bool) {
	if v {
		*c.header() |= prevInUse
	} else {
		*c.header() &^= prevInUse
	}
}

// setFoot writes size into the chunk's footer word (the last word of the
// chunk), used by the *next* physical chunk to find this chunk's start when
// it is free. Only valid to call on a free, non-mmapped, non-top chunk.
func (c chunk) setFoot(size uintptr) {
	foot := (*uintptr)(unsafe.Add(c.ptr(), uintptr(size)-uintptr(wordSize)))
	*foot = size
}

// mem returns the user pointer for this chunk (immediately past the header).
func (c chunk) mem() unsafe.Pointer { return unsafe.Add(c.ptr(), headerSize) }

// chunkFromMem recovers the chunk owning a user pointer.
//
//go:nocheckptr
func chunkFromMem(p unsafe.Pointer) chunk {
	return chunk(uintptr(p) - uintptr(headerSize))
}

// next returns the chunk physically following c.
func (c chunk) next() chunk { return chunk(uintptr(c) + c.size()) }

// prevSize reads the footer of the chunk physically preceding c. Only valid
// when that chunk is free (PREV_INUSE clear on c).
func (c chunk) prevSize() uintptr {
	return *(*uintptr)(unsafe.Add(c.ptr(), -wordSize))
}

// prev returns the chunk physically preceding c. Only valid when that chunk
// is free: the sentinel on the arena's first chunk ensures this is never
// called on it, since its PREV_INUSE bit is always set.
func (c chunk) prev() chunk {
	return chunk(uintptr(c) - c.prevSize())
}

// fd/bk access the forward/back link words stored at the start of a free
// chunk's payload. Only valid for chunks linked into a bin.
func (c chunk) fd() chunk       { return chunk(*(*uintptr)(unsafe.Add(c.ptr(), wordSize))) }
func (c chunk) setFd(v chunk)   { *(*uintptr)(unsafe.Add(c.ptr(), wordSize)) = uintptr(v) }
func (c chunk) bk() chunk       { return chunk(*(*uintptr)(unsafe.Add(c.ptr(), 2*wordSize))) }
func (c chunk) setBk(v chunk)   { *(*uintptr)(unsafe.Add(c.ptr(), 2*wordSize)) = uintptr(v) }

// recycleNext accesses the singly-linked "next" slot used while a chunk sits
// on the recycle list. It reuses the fd word: a chunk is never on both a bin
// and the recycle list at once.
func (c chunk) recycleNext() chunk     { return c.fd() }
func (c chunk) setRecycleNext(v chunk) { c.setFd(v) }

// roundUp rounds n up to a multiple of m, m a power of two.
func roundUp(n, m int) int { return (n + m - 1) &^ (m - 1) }

// maxRequest is the largest request request2size will honor before falling
// back to legacy minimum-size behavior: 2^31 minus header room.
const maxRequest = (1 << 31) - headerSize

// request2size pads a raw byte request into a chunk size: max(MINCHUNK,
// round_up(n+header, ALIGN)). Oversized or overflowing requests collapse to
// MINCHUNK, matching the documented legacy overflow behavior.
func request2size(n int) int {
	if n < 0 || n > maxRequest {
		return minChunk
	}
	sz := roundUp(n+headerSize, align)
	if sz < minChunk {
		return minChunk
	}
	return sz
}
