package malloc

import "golang.org/x/sys/unix"

// Trim releases memory from the top chunk back to the operating system
// where possible, keeping at least pad bytes of slack, and reports whether
// anything was released.
func (h *Heap) Trim(pad int) bool {
	if !h.top.valid() {
		return false
	}
	return h.trimTop(pad)
}

// trimTop gives back whole committed pages from the tail of the top chunk,
// returning them to the PROT_NONE reservation (and moving core.brk down when
// top ends at the break), while keeping at least pad+minChunk bytes in top.
func (h *Heap) trimTop(pad int) bool {
	// A recycled chunk bordering top would otherwise hide releasable space
	// from the computation below.
	h.drainRecycle()

	extra := int(h.top.size()) - minChunk - pad
	extra = roundUp(extra, pageSize) - pageSize
	if extra <= 0 {
		return false
	}

	start := uintptr(h.top) + uintptr(h.top.size()) - uintptr(extra)
	start = (start + uintptr(pageSize-1)) &^ uintptr(pageSize-1)

	end := uintptr(h.top) + uintptr(h.top.size())
	releaseLen := int(end - start)
	if releaseLen < pageSize {
		return false
	}

	buf := unsafeSlice(start, releaseLen)
	if err := unix.Mprotect(buf, unix.PROT_NONE); err != nil {
		return false
	}
	if h.core.brk == end {
		h.core.brk = start
	}

	h.top.setHeadSize(uintptr(start - uintptr(h.top)))

	return true
}
