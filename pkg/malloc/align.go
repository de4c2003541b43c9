package malloc

import (
	"unsafe"

	"github.com/flier/malloc/internal/debug"
	"github.com/flier/malloc/pkg/xunsafe"
)

// Memalign allocates at least n bytes aligned to a, which must be a power
// of two. It over-allocates and carves the aligned block out of the middle,
// returning any leading and trailing slack to the allocator the same way
// the original source's mEMALIGn does.
func (h *Heap) Memalign(a, n int) unsafe.Pointer {
	if a <= align {
		return h.Malloc(n)
	}

	nb := request2size(n)
	total := nb + a + minChunk

	p := h.Malloc(total)
	if p == nil {
		return nil
	}

	c := chunkFromMem(p)

	if c.isMmapped() {
		return h.memalignMmapped(c, a, nb)
	}

	raw := uintptr(p)
	aligned := (raw + uintptr(a) - 1) &^ uintptr(a-1)

	if aligned == raw {
		if int(c.size())-nb >= minChunk {
			h.shrinkInPlace(c, nb)
		}
		return p
	}

	// Free the leading slack as its own chunk.
	front := chunkFromMem(unsafe.Pointer(aligned))
	if uintptr(front) < uintptr(c)+uintptr(minChunk) {
		aligned += uintptr(a)
		front = chunkFromMem(unsafe.Pointer(aligned))
	}

	leadSize := uintptr(front) - uintptr(c)
	front.setHead((c.size() - leadSize) | prevInUse)
	c.setHeadSize(leadSize)
	h.coalesceAndLink(c)

	if int(front.size())-nb >= minChunk {
		h.shrinkInPlace(front, nb)
	}

	return front.mem()
}

// memalignMmapped carves an aligned chunk out of a page mapping obtained for
// an over-sized Memalign request. A mapped region cannot be split the way an
// ordinary arena chunk can: there is no neighbor to free the leading slack
// into, so a leading offset is instead absorbed by re-keying the tracked
// mapping to the aligned address; the underlying mapping is still released
// as a whole, by its original base, when the chunk is eventually freed or
// reallocated. Only the tail may be trimmed, by reporting a smaller size.
func (h *Heap) memalignMmapped(c chunk, a, nb int) unsafe.Pointer {
	r, ok := h.mmapped[uintptr(c)]
	if !ok {
		debug.Assert(ok, "memalignMmapped: chunk 0x%x has no tracked mapping", uintptr(c))
		return nil
	}

	raw := uintptr(c) + uintptr(headerSize)
	aligned := (raw + uintptr(a) - 1) &^ uintptr(a-1)

	nc := c
	if aligned != raw {
		nc = chunkFromMem(unsafe.Pointer(aligned))
		delete(h.mmapped, uintptr(c))
		h.mmapped[uintptr(nc)] = r
	}

	avail := int(r.addr+uintptr(len(r.region))) - int(nc)
	usable := nb
	if avail < usable {
		usable = avail
	}

	nc.setHead(uintptr(usable) | prevInUse | isMmapped)

	return nc.mem()
}

// Calloc allocates zeroed memory for count objects of size bytes each,
// returning nil if count*size overflows (matching the original source's
// cALLOc overflow contract).
func (h *Heap) Calloc(count, size int) unsafe.Pointer {
	if count < 0 || size < 0 {
		return nil
	}
	if count != 0 && size > maxRequest/count {
		return nil
	}

	n := count * size
	p := h.Malloc(n)
	if p == nil {
		return nil
	}

	xunsafe.Clear((*byte)(p), n)

	return p
}

// Pvalloc allocates at least n bytes aligned to the system page size.
func (h *Heap) Pvalloc(n int) unsafe.Pointer {
	return h.Memalign(pageSize, n)
}

// UsableSize returns the number of bytes actually usable at p, which may
// exceed the size originally requested due to rounding.
func (h *Heap) UsableSize(p unsafe.Pointer) int {
	if p == nil {
		return 0
	}

	c := chunkFromMem(p)
	return int(c.size()) - headerSize
}
