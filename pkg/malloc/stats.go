package malloc

// Stats is the heap's reporting record, named Mallinfo after the original
// source's mallinfo(3)-style struct.
type Stats struct {
	// ArenaBytes is the total size of the core-extend segment committed so
	// far.
	ArenaBytes int
	// OrdinaryFreeChunks is the number of chunks currently linked into the
	// ordinary bins.
	OrdinaryFreeChunks int
	// OrdinaryFreeBytes is their combined size.
	OrdinaryFreeBytes int
	// RecycleChunks is the number of chunks currently on the recycle list.
	RecycleChunks int
	// RecycleBytes is their combined size.
	RecycleBytes int
	// AllocatedBytes is the combined size of chunks currently handed out to
	// callers (arena-backed only; mmapped allocations are excluded).
	AllocatedBytes int
	// MmapChunks is the number of currently outstanding page mappings.
	MmapChunks int
	// MmapBytes is their combined size.
	MmapBytes int
	// ReleasableBytes is the portion of the top chunk that Trim could give
	// back to the operating system right now.
	ReleasableBytes int
}

// Mallinfo walks the heap's bookkeeping structures and returns a snapshot.
// It performs no separate accounting pass: every field is derived from the
// live bins, recycle list, top chunk and mapping table.
func (h *Heap) Mallinfo() Stats {
	var s Stats

	s.ArenaBytes = int(h.core.brk - h.core.base)

	for idx := 2; idx < 127; idx++ {
		if h.binEmpty(idx) {
			continue
		}
		head := h.binHead(idx)
		for c := head.fd(); c != head; c = c.fd() {
			s.OrdinaryFreeChunks++
			s.OrdinaryFreeBytes += int(c.size())
		}
	}

	for c := h.recycleHead; c.valid(); c = c.recycleNext() {
		s.RecycleChunks++
		s.RecycleBytes += int(c.size())
	}

	for _, r := range h.mmapped {
		s.MmapChunks++
		s.MmapBytes += len(r.region)
	}

	s.AllocatedBytes = s.ArenaBytes - s.OrdinaryFreeBytes - s.RecycleBytes
	if h.remainder.chunk.valid() {
		s.AllocatedBytes -= int(h.remainder.chunk.size())
	}
	if h.top.valid() {
		s.AllocatedBytes -= int(h.top.size())
		if releasable := int(h.top.size()) - minChunk - h.topPad; releasable > 0 {
			s.ReleasableBytes = roundUp(releasable, pageSize) - pageSize
			if s.ReleasableBytes < 0 {
				s.ReleasableBytes = 0
			}
		}
	}

	return s
}
