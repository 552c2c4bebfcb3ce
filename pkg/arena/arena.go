//go:build go1.22

// Package arena implements a boundary-tag free-block engine over raw,
// OS-obtained memory.
//
// # Key Concepts
//
// An [Arena] is a single contiguous region of memory obtained from the OS
// (see [github.com/sysalloc/breakheap/pkg/osmem]), framed by two fence
// posts and, initially, one large interior free block spanning everything
// in between. Every block in an arena, free or allocated, is prefixed by a
// [Header] (the "boundary tag") recording its own size and the size of its
// immediately-preceding neighbor, which is what lets [Deallocate] find and
// merge adjacent free blocks in constant time without a separate index.
//
// # Design
//
// This follows the classic K&R/Doug Lea boundary-tag design: headers live
// in-band with the payload rather than in a side table, so a pointer
// returned to a caller can be walked back to its header with simple pointer
// arithmetic ([headerOf]). Free blocks are additionally threaded onto a
// single process-wide [FreeList], independent of which arena they live in,
// so allocation never has to consult more than one structure.
//
// # Usage
//
//	fl := arena.NewFreeList()
//	a := arena.Establish(mem, fl) // mem is arena.Size bytes from the OS
//	...
//	p := arena.Allocate(fl, 128)
//	...
//	arena.Deallocate(fl, p.Unwrap())
package arena

import (
	"fmt"

	"github.com/sysalloc/breakheap/internal/debug"
	"github.com/sysalloc/breakheap/pkg/xunsafe"
)

// Size is the fixed number of bytes requested from the OS for each arena,
// matching the historical 2 MiB `sbrk` chunk this design is modeled on.
const Size = 2097152

// errNoFit is returned by [FreeList.FirstFit] when no free block is large
// enough to satisfy a request. [Allocate] passes it on to its caller, and
// pkg/malloc.Heap answers it by obtaining a fresh arena.
var errNoFit = fmt.Errorf("no free block large enough")

// MaxPayload is the largest payload size n, in bytes, for which
// req = roundUp8(n+H) can ever pass the req+4H+8 <= ARENA oversized-request
// gate, even against a freshly established, entirely empty arena. A request
// above this bound can never succeed no matter how many fresh arenas are
// obtained, so callers should reject it outright instead of cycling through
// the OS.
var MaxPayload = uintptr(Size) - 5*uintptr(H) - 8

// Arena is one OS-obtained region of memory, framed by two zero-payload
// fence posts (allocated=true, size=0) that stop neighbor-merging from ever
// walking off the end of the region.
//
// Arena itself holds no allocator state beyond its own extent: all
// allocation bookkeeping lives in the blocks within it and in the
// process-wide [FreeList] they are threaded onto.
type Arena struct {
	_ xunsafe.NoCopy

	base xunsafe.Addr[byte] // first byte obtained from the OS
	size uintptr            // total bytes obtained from the OS, including both fence posts
}

// Base returns the first address obtained from the OS for this arena.
func (a *Arena) Base() xunsafe.Addr[byte] { return a.base }

// End returns the address one past the last byte obtained from the OS for
// this arena.
func (a *Arena) End() xunsafe.Addr[byte] { return a.base.ByteAdd(int(a.size)) }

// Contains reports whether p falls within this arena's extent, inclusive of
// the fence posts.
func (a *Arena) Contains(p xunsafe.Addr[byte]) bool {
	return p >= a.base && p < a.End()
}

// Establish lays out a fresh arena over mem: a head fence post, one interior
// free block spanning everything else, and a foot fence post, then pushes
// the interior block onto fl.
//
// mem must be exactly Size bytes, 8-byte aligned, and not otherwise in use;
// Establish takes ownership of it. It never returns an error: the only way
// to hand Establish a bad mem is a bug in the caller, which is exactly what
// the assertions below are for.
func Establish(mem []byte, fl *FreeList) *Arena {
	debug.Assert(len(mem) == Size, "arena memory must be exactly %d bytes, got %d", Size, len(mem))

	base := xunsafe.AddrOf(&mem[0])
	debug.Assert(uintptr(base)%Align == 0, "arena memory %v is not %d-byte aligned", base, Align)

	a := &Arena{base: base, size: uintptr(len(mem))}

	head := base.AssertValid()
	*xunsafe.Cast[Header](head) = Header{size: 0, leftSize: 0, allocated: true}

	// The interior block starts immediately after the head fence post's
	// header and ends immediately before the foot fence post's header.
	interior := xunsafe.ByteAdd[Header](head, H)
	interiorSize := a.size - 2*uintptr(H)

	foot := xunsafe.ByteAdd[Header](head, int(a.size)-H)
	*foot = Header{size: 0, leftSize: interiorSize, allocated: true}

	*interior = Header{size: interiorSize, leftSize: 0, allocated: false}
	fl.PushFront(interior)

	debug.Log(nil, "establish", "%v:%v interior=%v size=%d", a.base, a.End(), xunsafe.AddrOf(interior), interiorSize)

	return a
}
