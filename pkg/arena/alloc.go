//go:build go1.22

package arena

import (
	"github.com/sysalloc/breakheap/internal/debug"
	"github.com/sysalloc/breakheap/pkg/res"
	"github.com/sysalloc/breakheap/pkg/xunsafe"
)

// MinSplit is the smallest payload size a leftover remainder block may have
// after a high-end split; a remainder smaller than this is handed out whole
// instead, since a block that can't hold a header plus Align bytes of
// payload can never be reused.
const MinSplit = uintptr(Align)

// Allocate finds a free block of at least n bytes on fl and returns a
// pointer to the payload. When the remainder is worth keeping, the
// allocation is carved from the block's high-address end and the
// low-address remainder stays on fl at its existing position.
//
// n is the number of payload bytes requested by the caller; it does not
// include header overhead. Allocate returns errNoFit if no free block on fl
// is large enough, in which case the caller (pkg/malloc.Heap) is expected
// to obtain a fresh arena and retry.
func Allocate(fl *FreeList, n uintptr) res.Result[*byte] {
	need := roundUp(n, Align) + uintptr(H)

	return res.AndThen(fl.FirstFit(need), func(b *Header) res.Result[*byte] {
		a := split(fl, b, need)
		a.allocated = true
		return res.Ok(a.payload())
	})
}

// split carves need bytes off the high end of the free block b and returns
// the header of the carved-off block; b keeps the low end, shrunk to the
// remainder, at its existing free-list position. If the remainder is too
// small to ever be reused, b is unlinked from fl and returned whole.
func split(fl *FreeList, b *Header, need uintptr) *Header {
	remainder := b.size - need
	if remainder < uintptr(H)+MinSplit {
		fl.Remove(b)
		debug.Log(nil, "allocate", "whole %v size=%d", xunsafe.AddrOf(b), b.size)
		return b
	}

	b.size = remainder

	a := b.right()
	*a = Header{size: need, leftSize: b.size}

	// The block to the right of a must learn that its left neighbor is now
	// a, not b.
	a.right().leftSize = a.size

	debug.Log(nil, "allocate", "split %v need=%d remainder=%d", xunsafe.AddrOf(a), need, remainder)
	return a
}

// roundUp rounds n up to a multiple of align, which must be a power of two.
func roundUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}
