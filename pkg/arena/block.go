//go:build go1.22

package arena

import (
	"github.com/sysalloc/breakheap/internal/debug"
	"github.com/sysalloc/breakheap/pkg/xunsafe"
	"github.com/sysalloc/breakheap/pkg/xunsafe/layout"
)

// Header is the boundary-tag header that prefixes every block of an arena,
// allocated or free, including the two fence posts.
//
// Header.size always counts the header itself: a block's usable payload is
// Header.size - H bytes, starting immediately after the header.
type Header struct {
	size      uintptr // total bytes of this block, including this header; multiple of 8
	leftSize  uintptr // size of the immediately-preceding contiguous block; 0 if leftmost
	allocated bool    // true iff allocated or a fence post; false iff on the free list
	next      *Header // free-list linkage; meaningful only when !allocated, or for the sentinel
	prev      *Header
}

// H is the header size in bytes, rounded up to a multiple of 8 as required
// by spec invariant I2. On every platform this target supports, Header
// already comes out to a multiple of 8 thanks to pointer alignment, but the
// rounding is computed rather than assumed.
var H = layout.RoundUp(layout.Size[Header](), Align)

// Align is the alignment (and size granularity) every block, and every
// pointer handed back to a caller, must respect.
const Align = 8

func init() {
	debug.Assert(H%8 == 0, "header size %d is not a multiple of 8", H)
}

// headerOf returns the header belonging to a previously returned user
// pointer p, i.e. p - H.
func headerOf(p *byte) *Header {
	return xunsafe.ByteAdd[Header](p, -H)
}

// payload returns the address of the first usable byte of b's payload.
func (b *Header) payload() *byte {
	return xunsafe.ByteAdd[byte](b, H)
}

// right returns b's right physical neighbor, computed as address(b) + b.size.
//
// For a correctly laid-out arena this is always a valid header: the worst
// case is the fence-post foot.
func (b *Header) right() *Header {
	return xunsafe.ByteAdd[Header](b, int(b.size))
}

// left returns b's left physical neighbor, computed as address(b) - b.leftSize.
//
// When b is the leftmost interior block, b.leftSize is 0 and this returns b
// itself rather than the fence-post head — see recycle.go for why that is
// still the correct thing to check against.
func (b *Header) left() *Header {
	return xunsafe.ByteAdd[Header](b, -int(b.leftSize))
}

// payloadSize returns the number of usable bytes in b's payload.
func (b *Header) payloadSize() uintptr {
	return b.size - uintptr(H)
}

// PayloadSize returns the number of usable payload bytes in the block
// backing a pointer previously returned by [Allocate].
func PayloadSize(p *byte) uintptr {
	return headerOf(p).payloadSize()
}

// Addr returns the address of b itself, for diagnostics.
func (b *Header) Addr() xunsafe.Addr[byte] {
	return xunsafe.Addr[byte](xunsafe.AddrOf(b))
}

// Size returns the total size of b, header included, for diagnostics.
func (b *Header) Size() uintptr {
	return b.size
}
