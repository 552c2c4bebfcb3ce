//go:build go1.22

package arena

import (
	"github.com/sysalloc/breakheap/internal/debug"
	"github.com/sysalloc/breakheap/pkg/xunsafe"
)

// Deallocate returns the block backing p to fl, immediately coalescing it
// with whichever physical neighbors are currently free.
//
// p must be a pointer previously returned by [Allocate] and not already
// deallocated. There are four cases, matched on the allocated bit of the
// left and right physical neighbors:
//
//  1. both free: b merges into its left neighbor, which absorbs b and the
//     right neighbor in one combined block, at L's existing free-list
//     position;
//  2. left free, right allocated: b merges into its left neighbor, which
//     keeps its existing free-list position;
//  3. left allocated, right free: the right neighbor merges into b, which
//     takes over R's free-list slot in place;
//  4. both allocated: b alone becomes a new free block, inserted at the
//     head of the free list.
//
// Only case 4 ever moves a block to the head of the list; cases 1-3 grow an
// already-free block in place (or splice in for the one that was removed),
// matching the position-preserving behavior the spec describes for each.
//
// The leftmost interior block of an arena reports leftSize == 0, which
// makes [Header.left] return b itself; b.allocated is still true at the
// point left() is evaluated (it is only cleared below), so the "left
// neighbor is free" test naturally comes out false and case (3) or (4)
// is taken without any special-casing for the arena boundary.
func Deallocate(fl *FreeList, p *byte) {
	b := headerOf(p)
	debug.Assert(b.allocated, "double free at %v", xunsafe.AddrOf(b))

	l := b.left()
	r := b.right()

	leftFree := !l.allocated
	rightFree := !r.allocated

	switch {
	case leftFree && rightFree:
		fl.Remove(r)
		l.size += b.size + r.size
		l.right().leftSize = l.size
		debug.Log(nil, "deallocate", "merge both %v size=%d", xunsafe.AddrOf(l), l.size)

	case leftFree:
		l.size += b.size
		l.right().leftSize = l.size
		debug.Log(nil, "deallocate", "merge left %v size=%d", xunsafe.AddrOf(l), l.size)

	case rightFree:
		b.size += r.size
		b.right().leftSize = b.size
		fl.Replace(r, b)
		debug.Log(nil, "deallocate", "merge right %v size=%d", xunsafe.AddrOf(b), b.size)

	default:
		fl.PushFront(b)
		debug.Log(nil, "deallocate", "alone %v size=%d", xunsafe.AddrOf(b), b.size)
	}
}
