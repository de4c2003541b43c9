package malloc

// lastRemainder is the single-slot cache for the leftover piece of the most
// recent split allocation, kept outside the bins on the theory that the next
// request is likely to want it back (temporal locality of sequential small
// requests). size records the request that produced chunk, so a later
// request can be judged as "the same request repeating" even when it is not
// itself a small request.
type lastRemainder struct {
	chunk chunk // noChunk if empty
	size  int
}

func (h *Heap) clearLastRemainder() { h.remainder = lastRemainder{} }

func (h *Heap) setLastRemainder(c chunk, nb int) { h.remainder = lastRemainder{chunk: c, size: nb} }

// useLastRemainder tries to satisfy an nb-byte request by splitting the
// cached remainder. The cache is accepted only when the request is a
// near-exact fit, a small request, or the very request size that produced
// it; otherwise the remainder is not a good match and is instead handed to
// its proper bin, so it is not lost and a later, better-matching request can
// still find it there. Returns noChunk if there is no cached remainder, it
// is too small, or it was just handed off to a bin instead.
func (h *Heap) useLastRemainder(nb int) chunk {
	c := h.remainder.chunk
	if !c.valid() {
		return noChunk
	}

	size := int(c.size())
	remainderSize := size - nb

	if remainderSize < 0 {
		return noChunk
	}

	if remainderSize >= minChunk && !isSmallRequest(nb) && nb != h.remainder.size {
		h.clearLastRemainder()
		h.link(c)
		return noChunk
	}

	if remainderSize < minChunk {
		// The whole cached remainder is consumed; nothing left to re-cache.
		h.clearLastRemainder()
		c.setHeadSize(uintptr(size) | prevInUse)
		c.next().setHead(c.next().rawSize() | prevInUse)
		return c
	}

	c.setHeadSize(uintptr(nb) | prevInUse)

	rem := chunk(uintptr(c) + uintptr(nb))
	rem.setHead(uintptr(remainderSize) | prevInUse)
	rem.setFoot(uintptr(remainderSize))
	h.setLastRemainder(rem, nb)

	return c
}
