package malloc

import (
	"math/bits"
	"unsafe"

	"github.com/flier/malloc/internal/debug"
	"github.com/flier/malloc/pkg/xunsafe"
)

// Heap is a single-threaded boundary-tag allocator managing one contiguous
// arena obtained from the operating system, plus isolated large-region
// mappings for oversized requests. It is not safe for concurrent use;
// callers needing thread safety must synchronize externally, a deliberate
// scope boundary.
type Heap struct {
	_ xunsafe.NoCopy

	core *core
	top  chunk

	bins      [nBins]binSlot
	binBlocks uint32
	remainder lastRemainder

	recycleHead    chunk
	maxRecycleSize int

	topPad        int
	trimThreshold int
	mmapThreshold int
	mmapMax       int

	mmapCount int
	mmapped   map[uintptr]mmapRegion

	allocatedBytes int
	sbrkSize       int
}

// Option configures a Heap at construction time.
type Option func(*Heap)

// WithMaxRecycleSize overrides the max_recycle_size tunable.
func WithMaxRecycleSize(n int) Option { return func(h *Heap) { h.maxRecycleSize = n } }

// WithTrimThreshold overrides the trim_threshold tunable.
func WithTrimThreshold(n int) Option { return func(h *Heap) { h.trimThreshold = n } }

// WithTopPad overrides the top_pad tunable.
func WithTopPad(n int) Option { return func(h *Heap) { h.topPad = n } }

// WithMmapThreshold overrides the mmap_threshold tunable.
func WithMmapThreshold(n int) Option { return func(h *Heap) { h.mmapThreshold = n } }

// WithMmapMax overrides the n_mmaps_max tunable.
func WithMmapMax(n int) Option { return func(h *Heap) { h.mmapMax = n } }

// NewHeap creates an empty heap, reserving (but not committing) its core
// segment from the operating system.
func NewHeap(opts ...Option) (*Heap, error) {
	h := &Heap{
		maxRecycleSize: recycleDefaultMax,
		topPad:         topPadDefault,
		trimThreshold:  trimThresholdDefault,
		mmapThreshold:  mmapThresholdDefault,
		mmapMax:        mmapMaxDefault,
		mmapped:        make(map[uintptr]mmapRegion),
	}

	for _, opt := range opts {
		opt(h)
	}

	h.initBins()

	c, err := newCore()
	if err != nil {
		return nil, err
	}
	h.core = c

	return h, nil
}

// Close releases the heap's core segment and every outstanding large
// mapping. The Heap must not be used afterward.
func (h *Heap) Close() error {
	for _, r := range h.mmapped {
		if err := pageUnmap(r.region); err != nil {
			return err
		}
	}
	return h.core.close()
}

// Malloc allocates at least n bytes and returns a pointer to them, or nil if
// the request cannot be satisfied. Failure is communicated exclusively
// through the nil return; Malloc never panics for an unsatisfiable request.
func (h *Heap) Malloc(n int) unsafe.Pointer {
	if debug.Enabled {
		debug.Assert(h.checkInvariants(), "invariants hold on Malloc entry")
		defer func() { debug.Assert(h.checkInvariants(), "invariants hold on Malloc exit") }()
	}

	nb := request2size(n)

	if nb >= h.mmapThreshold && h.mmapCount < h.mmapMax {
		if c := h.mmapAlloc(nb); c.valid() {
			return c.mem()
		}
		// Falls through to ordinary allocation if mapping failed or the
		// process is out of address space for new mappings.
	}

	if c := h.allocSmall(nb); c.valid() {
		return c.mem()
	}

	// Consolidation always starts by draining the recycle list, so a chunk
	// parked there isn't invisible to the bin scan below.
	h.drainRecycle()

	if c := h.allocFromBins(nb); c.valid() {
		return c.mem()
	}

	if c := h.allocFromTop(nb); c.valid() {
		return c.mem()
	}

	return nil
}

// allocSmall services an exact-size small request from the recycle list,
// then the matching small bin.
func (h *Heap) allocSmall(nb int) chunk {
	if nb <= h.maxRecycleSize {
		if c := h.popRecycle(nb); c.valid() {
			return c
		}
	}

	if !isSmallRequest(nb) {
		return noChunk
	}

	idx := smallBinIndex(nb)
	if h.binEmpty(idx) {
		return noChunk
	}

	head := h.binHead(idx)
	c := head.bk()
	unlink(c)
	h.clearBinBlockIfEmpty(idx)
	c.next().setPrevInUse(true)

	return c
}

// allocFromBins services a request via an own-bin scan for large requests,
// then the last-remainder cache, then a best-fit scan of the bin-block
// bitvector.
func (h *Heap) allocFromBins(nb int) chunk {
	idx := binIndex(nb)

	if !isSmallRequest(nb) {
		if c := h.scanBin(idx, nb); c.valid() {
			return c
		}
	}

	if c := h.useLastRemainder(nb); c.valid() {
		c.next().setPrevInUse(true)
		return c
	}

	block := idx2binblock(idx)

	for blocks := h.binBlocks &^ (block - 1); blocks != 0; {
		b := bits.TrailingZeros32(blocks)
		base := b * 4

		for i := base; i < base+4 && i < 127; i++ {
			if i < 2 {
				continue
			}

			if c := h.scanBin(i, nb); c.valid() {
				return c
			}
		}

		blocks &^= uint32(1) << b
	}

	return noChunk
}

// scanBin returns the smallest chunk in bin idx at least nb bytes, unlinked
// and split down to size, or noChunk if none in the bin fits.
func (h *Heap) scanBin(idx, nb int) chunk {
	if h.binEmpty(idx) {
		return noChunk
	}

	head := h.binHead(idx)
	for c := head.bk(); c != head; c = c.bk() {
		if int(c.size()) < nb {
			continue
		}

		unlink(c)
		h.clearBinBlockIfEmpty(idx)

		return h.splitOrWhole(c, nb)
	}

	return noChunk
}

// splitOrWhole carves nb bytes out of c, caching the remainder as the new
// last-remainder if one is left over, or handing back the whole chunk if
// the leftover would be too small to be useful.
func (h *Heap) splitOrWhole(c chunk, nb int) chunk {
	size := int(c.size())
	remainderSize := size - nb

	if remainderSize < minChunk {
		c.next().setPrevInUse(true)
		return c
	}

	c.setHeadSize(uintptr(nb) | prevInUse)

	rem := chunk(uintptr(c) + uintptr(nb))
	rem.setHead(uintptr(remainderSize) | prevInUse)
	rem.setFoot(uintptr(remainderSize))
	h.setLastRemainder(rem, nb)

	return c
}

// allocFromTop splits the top chunk, growing it first if necessary.
func (h *Heap) allocFromTop(nb int) chunk {
	if !h.top.valid() || int(h.top.size()) < nb {
		if !h.growTop(nb) {
			return noChunk
		}
	}

	if int(h.top.size()) < nb {
		return noChunk
	}

	return h.splitTop(nb)
}

// Free releases a pointer previously returned by Malloc, Calloc, Realloc, or
// Memalign. Freeing nil, or a pointer not owned by this heap, is undefined
// behavior (checked only by debug-mode assertions), except that freeing nil
// is always a silent no-op, matching the conventional free(3) contract.
func (h *Heap) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}

	if debug.Enabled {
		debug.Assert(h.checkInvariants(), "invariants hold on Free entry")
		defer func() { debug.Assert(h.checkInvariants(), "invariants hold on Free exit") }()
	}

	c := chunkFromMem(p)

	if c.isMmapped() {
		h.mmapFree(c)
		return
	}

	if int(c.size()) <= h.maxRecycleSize {
		h.pushRecycle(c)
		return
	}

	h.coalesceAndLink(c)

	if h.top.valid() && int(h.top.size()) >= h.trimThreshold {
		h.trimTop(h.topPad)
	}
}

// coalesceAndLink merges c with any free physical neighbors and links the
// result into the appropriate bin, or folds it into the top chunk if it
// borders top. A neighbor that is the cached last-remainder is never bin
// linked, so it is absorbed by clearing the cache instead of calling unlink
// on it.
func (h *Heap) coalesceAndLink(c chunk) {
	size := c.size()

	if !c.prevInUse() {
		prev := c.prev()
		if prev == h.remainder.chunk {
			h.clearLastRemainder()
		} else {
			unlink(prev)
		}
		size += prev.size()
		c = prev
	}

	next := chunk(uintptr(c) + size)

	if h.top.valid() && next == h.top {
		h.top.setHeadSize(h.top.size() + size)
		c.setHead(uintptr(h.top.size()) | prevInUse)
		h.top = c
		return
	}

	// next is free when its own successor reports next as not in use: a
	// chunk's PREV_INUSE bit describes its predecessor, not itself.
	if !next.next().prevInUse() {
		if next == h.remainder.chunk {
			h.clearLastRemainder()
		} else {
			unlink(next)
		}
		size += next.size()
	}

	c.setHeadSize(size)
	c.setFoot(size)
	next = c.next()
	next.setPrevInUse(false)

	h.link(c)
}

// Realloc resizes a previously allocated block, preserving its contents up
// to the smaller of the old and new sizes. A nil p behaves as Malloc(n);
// n == 0 behaves as Free(p) and returns nil.
func (h *Heap) Realloc(p unsafe.Pointer, n int) unsafe.Pointer {
	if p == nil {
		return h.Malloc(n)
	}
	if n == 0 {
		h.Free(p)
		return nil
	}

	c := chunkFromMem(p)
	oldSize := int(c.size())
	nb := request2size(n)

	if c.isMmapped() {
		return h.mmapRealloc(c, nb)
	}

	if nb <= oldSize {
		if oldSize-nb >= minChunk {
			h.shrinkInPlace(c, nb)
		}
		return c.mem()
	}

	// Consolidation always starts by draining the recycle list, so a
	// recycled neighbor doesn't block an in-place grow that coalescing
	// would otherwise allow.
	h.drainRecycle()

	if h.growInPlace(c, nb) {
		return c.mem()
	}

	np := h.Malloc(n)
	if np == nil {
		return nil
	}

	xunsafe.Copy((*byte)(np), (*byte)(p), oldSize-headerSize)
	h.Free(p)

	return np
}

// shrinkInPlace splits a trailing remainder off c and frees it.
func (h *Heap) shrinkInPlace(c chunk, nb int) {
	size := int(c.size())
	remSize := size - nb

	c.setHeadSize(uintptr(nb) | prevInUse)

	rem := chunk(uintptr(c) + uintptr(nb))
	rem.setHead(uintptr(remSize) | prevInUse)
	h.coalesceAndLink(rem)
}

// growInPlace attempts to absorb a following free chunk (or top) to satisfy
// nb without moving the block. Returns false if that is not possible.
func (h *Heap) growInPlace(c chunk, nb int) bool {
	size := c.size()
	next := c.next()

	if h.top.valid() && next == h.top {
		need := nb - int(size)
		if need > 0 && !h.growTop(need) {
			return false
		}
		avail := int(size + h.top.size())
		if avail < nb {
			return false
		}

		c.setHeadSize(uintptr(nb) | prevInUse)
		newTop := c.next()
		newTop.setHead((uintptr(avail-nb) | prevInUse))
		h.top = newTop
		return true
	}

	// next is free when its own successor reports next as not in use: a
	// chunk's PREV_INUSE bit describes its predecessor, not itself.
	if next.next().prevInUse() {
		return false
	}
	if int(size+next.size()) < nb {
		return false
	}

	if next == h.remainder.chunk {
		h.clearLastRemainder()
	} else {
		unlink(next)
	}
	total := size + next.size()
	remainderSize := int(total) - nb

	if remainderSize < minChunk {
		c.setHeadSize(total)
		c.next().setPrevInUse(true)
		return true
	}

	c.setHeadSize(uintptr(nb) | prevInUse)
	rem := chunk(uintptr(c) + uintptr(nb))
	rem.setHead(uintptr(remainderSize) | prevInUse)
	rem.setFoot(uintptr(remainderSize))
	h.link(rem)

	return true
}

