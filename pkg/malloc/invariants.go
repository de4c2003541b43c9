package malloc

// checkInvariants walks the live structures and reports whether the
// allocator's internal bookkeeping is still consistent. Outside tests it is
// only called when internal/debug.Enabled is true, so it costs nothing in a
// release build.
func (h *Heap) checkInvariants() bool {
	return h.checkBinsSorted() &&
		h.checkBinBlocks() &&
		h.checkTopFlags() &&
		h.checkRecycleFlags()
}

// checkBinsSorted verifies I2: chunks within a bin are linked consistently
// (fd/bk are mutual inverses) and large bins are sorted descending by size.
func (h *Heap) checkBinsSorted() bool {
	for idx := 2; idx < 127; idx++ {
		if h.binEmpty(idx) {
			continue
		}

		head := h.binHead(idx)
		prevSize := ^uintptr(0)

		for c := head.fd(); c != head; c = c.fd() {
			if c.fd().bk() != c || c.bk().fd() != c {
				return false
			}
			if !isSmallRequest(int(c.size())) && c.size() > prevSize {
				return false
			}
			prevSize = c.size()
		}
	}

	return true
}

// checkBinBlocks verifies I7: every non-empty bin has its block bit set. The
// converse is not checked: a set bit may lag behind its bins becoming empty.
func (h *Heap) checkBinBlocks() bool {
	for idx := 2; idx < 127; idx++ {
		if !h.binEmpty(idx) && h.binBlocks&idx2binblock(idx) == 0 {
			return false
		}
	}
	return true
}

// checkTopFlags verifies I4: the top chunk, if any, always reports
// PREV_INUSE (it never has a footer, and nothing ever treats it as free).
func (h *Heap) checkTopFlags() bool {
	return !h.top.valid() || h.top.prevInUse()
}

// checkRecycleFlags verifies that every chunk on the recycle list still
// reports PREV_INUSE on its successor, i.e. it has not been mistaken for an
// ordinary free chunk by a coalesce.
func (h *Heap) checkRecycleFlags() bool {
	for c := h.recycleHead; c.valid(); c = c.recycleNext() {
		if !c.next().prevInUse() {
			return false
		}
	}
	return true
}
