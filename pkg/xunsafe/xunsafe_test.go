package xunsafe_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flier/malloc/pkg/xunsafe"
)

func TestBitCast(t *testing.T) {
	t.Parallel()

	var i int32 = -1
	u := xunsafe.BitCast[uint32](i)
	assert.Equal(t, uint32(0xffffffff), u)

	back := xunsafe.BitCast[int32](u)
	assert.Equal(t, i, back)
}

func TestNoCopy(t *testing.T) {
	t.Parallel()

	// NoCopy is a zero-size array of sync.Mutex so that `go vet -copylocks`
	// flags accidental copies of structs embedding it.
	type withNoCopy struct {
		_ xunsafe.NoCopy
		n int
	}

	v := withNoCopy{n: 7}
	assert.Equal(t, 7, v.n)
}
