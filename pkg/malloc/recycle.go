package malloc

// recycleDefaultMax is the default max_recycle_size tunable: chunks at or
// below this size go on the recycle list instead of being coalesced and
// binned, confirmed against original_source/malloc-2.6.2k2.c's
// DEFAULT_RECYCLE_SIZE.
const recycleDefaultMax = 72

// pushRecycle prepends c to the recycle list: a single, size-unsegregated
// LIFO, deliberately not a set of per-size-class lists. Unlike an ordinary
// free chunk, a recycled chunk keeps the PREV_INUSE bit set on the chunk
// physically following it, so a coalesce attempt treats it as still
// allocated — this is what lets Free skip coalescing work for small,
// frequently-reused sizes. The bit stays set until the chunk is drained
// back into the bins.
func (h *Heap) pushRecycle(c chunk) {
	c.setRecycleNext(h.recycleHead)
	h.recycleHead = c
}

// popRecycle removes and returns the first chunk of exactly size nb on the
// recycle list, or noChunk if none matches. Recycle chunks are matched by
// exact size, mirroring the fastbin exact-match contract in the original
// source; chunks of other sizes are skipped and stay on the list.
func (h *Heap) popRecycle(nb int) chunk {
	var prev chunk

	for c := h.recycleHead; c.valid(); c = c.recycleNext() {
		if int(c.size()) != nb {
			prev = c
			continue
		}

		if prev.valid() {
			prev.setRecycleNext(c.recycleNext())
		} else {
			h.recycleHead = c.recycleNext()
		}

		return c
	}

	return noChunk
}

// drainRecycle empties the recycle list, clearing each chunk's bypass state
// and handing it to coalesceAndLink so it rejoins the ordinary bins.
// Consolidation always starts by draining the recycle list.
func (h *Heap) drainRecycle() {
	c := h.recycleHead
	h.recycleHead = noChunk

	for c.valid() {
		next := c.recycleNext()
		h.coalesceAndLink(c)
		c = next
	}
}
