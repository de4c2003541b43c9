package malloc

import "github.com/flier/malloc/internal/debug"

// topPadDefault is the extra slack requested from the core-extend primitive
// beyond what a request strictly needs, so consecutive extends are rarer.
const topPadDefault = 2 * 1024

// fenceSize is the size of the fencepost sentinel chunk that capSegment
// writes after a chunk that stops being top when growth is not contiguous, so
// a coalesce attempt that walks off the end of that segment finds an
// always-in-use chunk instead of foreign memory.
const fenceSize = minChunk

// growTop extends the top chunk by requesting more memory from core-extend
// when the current top is too small to satisfy nb bytes.
func (h *Heap) growTop(nb int) bool {
	need := nb + h.topPad
	if h.top.valid() {
		need -= int(h.top.size())
	}
	if need <= 0 {
		return true
	}

	n := roundUp(need, pageSize)
	base, ok := h.core.extend(n)
	if !ok {
		return false
	}

	debug.Log(nil, "growTop", "extended core by %d bytes at 0x%x", n, base)

	newTop := chunk(base)
	if h.top.valid() && newTop == h.top.next() {
		// Contiguous growth: fold the new pages into the existing top chunk.
		newTop = h.top
		newTop.setHeadSize(newTop.size() + uintptr(n))
	} else {
		// Non-contiguous: the old top (if it existed) is capped by a
		// fencepost and is not linked into any bin; a fresh top starts at
		// base.
		if h.top.valid() {
			h.capSegment(h.top)
		}
		newTop.setHead(uintptr(n) | prevInUse)
	}

	h.placeFencepost(newTop)
	h.top = newTop

	return true
}

// capSegment writes a fencepost immediately after a chunk that is about to
// stop being the top chunk of its segment, so later coalescing never reads
// past the segment's end.
func (h *Heap) capSegment(c chunk) {
	end := c.next()
	end.setHead(uintptr(fenceSize) | prevInUse)
}

// placeFencepost writes a zero-size, always-in-use sentinel chunk after the
// usable region of top, so a walk off the end of top's size never crosses
// into unmapped memory.
func (h *Heap) placeFencepost(top chunk) {
	end := chunk(uintptr(top) + top.size())
	end.setHead(uintptr(0) | prevInUse)
}

// splitTop carves nb bytes off the front of the top chunk, leaving the
// remainder as the new (smaller) top.
func (h *Heap) splitTop(nb int) chunk {
	c := h.top
	remainderSize := c.size() - uintptr(nb)

	c.setHeadSize(uintptr(nb) | prevInUse)

	newTop := c.next()
	newTop.setHead(remainderSize | prevInUse)
	h.top = newTop

	return c
}
