package malloc

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/flier/malloc/internal/debug"
	"github.com/flier/malloc/pkg/xunsafe"
)

// pageSize is the OS page size, used to round core-extend requests and
// large-chunk mappings up to whole pages.
var pageSize = os.Getpagesize()

// coreReserve is the size of the single anonymous reservation core.extend
// draws from, emulating a classic sbrk(2) contiguous data segment without a
// real break syscall.
const coreReserve = 1 << 32 // 4 GiB of address space, committed lazily

// core emulates sbrk: a single large PROT_NONE reservation made once, with
// the "program break" advanced by mprotecting newly-needed pages.
type core struct {
	region []byte // the full PROT_NONE reservation
	base   uintptr
	brk    uintptr // first byte not yet committed
}

func newCore() (*core, error) {
	region, err := unix.Mmap(-1, 0, coreReserve,
		unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("malloc: reserve core segment: %w", err)
	}

	base := uintptr(unsafe.Pointer(&region[0]))

	return &core{region: region, base: base, brk: base}, nil
}

// extend commits n more bytes (rounded up to a page) at the current break
// and returns the address of the newly committed region. Returns false if
// the reservation is exhausted.
func (c *core) extend(n int) (uintptr, bool) {
	n = roundUp(n, pageSize)

	if c.brk+uintptr(n) > c.base+uintptr(len(c.region)) {
		return 0, false
	}

	buf := unsafe.Slice((*byte)(unsafe.Pointer(c.brk)), n)
	if err := unix.Mprotect(buf, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		debug.Log(nil, "core.extend", "mprotect failed: %v", err)
		return 0, false
	}

	start := c.brk
	c.brk += uintptr(n)

	return start, true
}

// close releases the entire reservation. Only used by tests: a real process
// keeps its core segment for its whole lifetime.
func (c *core) close() error {
	return unix.Munmap(c.region)
}

// pageMap creates an isolated, page-aligned mapping of at least size bytes
// for a single large chunk.
func pageMap(size int) (uintptr, []byte, error) {
	size = roundUp(size, pageSize)

	region, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return 0, nil, fmt.Errorf("malloc: mmap large chunk: %w", err)
	}

	return uintptr(unsafe.Pointer(&region[0])), region, nil
}

// pageUnmap releases a region obtained from pageMap.
func pageUnmap(region []byte) error {
	return unix.Munmap(region)
}

// unsafeSlice views n bytes starting at addr as a []byte, for handing to
// unix.Mprotect/unix.Munmap which expect slices rather than raw addresses.
func unsafeSlice(addr uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}

// mmapRegion records the backing Go slice for a page-mapped chunk, since
// unix.Munmap needs the original slice header, not just an address.
type mmapRegion struct {
	addr   uintptr
	region []byte
}

// mmapFrontOffset is the size of the one-word gap left before the chunk
// header at the start of a page mapping. Nothing is stored in that word: the
// mapping's true base address (which may differ from the chunk address once
// alignment padding is applied) is recovered from h.mmapped, keyed by chunk
// address.
const mmapFrontOffset = wordSize

// mmapAlloc satisfies a request of at least nb bytes with its own isolated
// page mapping. Returns noChunk if the mapping could not be created.
func (h *Heap) mmapAlloc(nb int) chunk {
	total := nb + mmapFrontOffset

	base, region, err := pageMap(total)
	if err != nil {
		debug.Log(nil, "mmapAlloc", "failed: %v", err)
		return noChunk
	}

	c := chunk(base + uintptr(mmapFrontOffset))
	c.setHead(uintptr(len(region)-mmapFrontOffset) | prevInUse | isMmapped)

	h.mmapped[uintptr(c)] = mmapRegion{addr: base, region: region}
	h.mmapCount++

	return c
}

// mmapFree releases a chunk obtained from mmapAlloc.
func (h *Heap) mmapFree(c chunk) {
	r, ok := h.mmapped[uintptr(c)]
	if !ok {
		debug.Assert(ok, "mmapFree: chunk 0x%x has no tracked mapping", uintptr(c))
		return
	}

	delete(h.mmapped, uintptr(c))
	h.mmapCount--

	if err := pageUnmap(r.region); err != nil {
		debug.Log(nil, "mmapFree", "unmap failed: %v", err)
	}
}

// mmapRealloc resizes a page-mapped chunk by mapping a fresh region and
// copying, since individual mappings cannot be grown in place. If the
// existing mapping is already large enough, it is returned unchanged.
func (h *Heap) mmapRealloc(c chunk, nb int) unsafe.Pointer {
	oldSize := int(c.size())
	if oldSize >= nb {
		return c.mem()
	}

	nc := h.mmapAlloc(nb)
	if !nc.valid() {
		return nil
	}

	n := oldSize
	if nb < n {
		n = nb
	}
	xunsafe.Copy((*byte)(nc.mem()), (*byte)(c.mem()), n-headerSize)

	h.mmapFree(c)

	return nc.mem()
}
