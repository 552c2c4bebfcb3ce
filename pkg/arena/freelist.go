//go:build go1.22

package arena

import (
	"github.com/sysalloc/breakheap/internal/debug"
	"github.com/sysalloc/breakheap/pkg/res"
)

// FreeList is a circular doubly-linked list of currently-free interior
// blocks, threaded through Header.next/Header.prev and anchored by a
// sentinel node that lives outside any arena.
//
// A zero FreeList is not ready to use; call NewFreeList.
type FreeList struct {
	sentinel Header
}

// NewFreeList returns an empty free list.
func NewFreeList() *FreeList {
	fl := &FreeList{}
	fl.sentinel.next = &fl.sentinel
	fl.sentinel.prev = &fl.sentinel
	return fl
}

// Empty reports whether no blocks are currently free.
func (fl *FreeList) Empty() bool {
	return fl.sentinel.next == &fl.sentinel
}

// PushFront inserts b at the head of the free list, i.e. immediately after
// the sentinel. b.allocated is set to false.
func (fl *FreeList) PushFront(b *Header) {
	debug.Assert(b != &fl.sentinel, "pushing sentinel onto free list")

	b.allocated = false
	b.next = fl.sentinel.next
	b.prev = &fl.sentinel
	fl.sentinel.next.prev = b
	fl.sentinel.next = b
}

// Remove splices b out of the free list. b's own next/prev fields are left
// dangling; callers that keep b around (rather than reusing or discarding
// it) must not rely on them.
func (fl *FreeList) Remove(b *Header) {
	b.prev.next = b.next
	b.next.prev = b.prev
}

// Replace splices newb into old's exact position in the free list, leaving
// every other block's relative order untouched, and sets newb.allocated to
// false. old's own next/prev fields are left dangling, same as after Remove.
//
// This is what lets the deallocator's right-merge case absorb a free right
// neighbor into the block being freed without moving anything to the front
// of the list, matching the boundary-tag-splice behavior the spec describes
// for that case.
func (fl *FreeList) Replace(old, newb *Header) {
	debug.Assert(old != &fl.sentinel, "replacing sentinel in free list")

	newb.allocated = false
	newb.next = old.next
	newb.prev = old.prev
	old.prev.next = newb
	old.next.prev = newb
}

// FirstFit walks the free list from the sentinel and returns the first
// block whose size is at least req, per the first-fit allocation policy.
func (fl *FreeList) FirstFit(req uintptr) res.Result[*Header] {
	for b := fl.sentinel.next; b != &fl.sentinel; b = b.next {
		debug.Assert(!b.allocated, "allocated block %p found on free list", b)

		if b.size >= req {
			return res.Ok(b)
		}
	}

	return res.Err[*Header](errNoFit)
}

// Blocks returns the free list's contents as a slice, head first. It exists
// for tests and diagnostics; the allocator itself never needs a snapshot.
func (fl *FreeList) Blocks() []*Header {
	var out []*Header
	for b := fl.sentinel.next; b != &fl.sentinel; b = b.next {
		out = append(out, b)
	}
	return out
}
