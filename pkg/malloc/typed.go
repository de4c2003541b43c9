package malloc

import (
	"unsafe"

	"github.com/flier/malloc/pkg/xunsafe"
	"github.com/flier/malloc/pkg/xunsafe/layout"
)

// New allocates space for a value of type T from h and copies value into it,
// returning a pointer suitable for use until the matching Free. T must not
// contain any Go pointers: the memory behind it is invisible to the garbage
// collector.
func New[T any](h *Heap, value T) *T {
	raw := (*byte)(h.Malloc(layout.Of[T]().Size))
	if raw == nil {
		return nil
	}
	p := xunsafe.Cast[T](raw)
	*p = value
	return p
}

// Free releases a value of type T previously obtained from New. Like
// Heap.Free, it takes the size from the chunk header, so callers never have
// to track it by hand.
func Free[T any](h *Heap, p *T) {
	h.Free(unsafe.Pointer(xunsafe.Cast[byte](p)))
}
