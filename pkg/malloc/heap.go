// Package malloc implements a single process-wide heap on top of
// [github.com/sysalloc/breakheap/pkg/arena]'s boundary-tag free-block
// engine, exposing the four classic allocator operations as methods on one
// mutex-guarded value.
package malloc

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/sysalloc/breakheap/internal/debug"
	"github.com/sysalloc/breakheap/pkg/arena"
	"github.com/sysalloc/breakheap/pkg/osmem"
	"github.com/sysalloc/breakheap/pkg/xerrors"
	"github.com/sysalloc/breakheap/pkg/xunsafe"
	"github.com/sysalloc/breakheap/pkg/zc"
)

// ErrOversizedRequest classifies any error returned for a request that can
// never be satisfied by any arena, regardless of how many are obtained
// from the OS. Use [errors.Is] against this sentinel, or [AsA] with
// [*OversizedError] to recover the requested size.
var ErrOversizedRequest = errors.New("malloc: oversized request")

// ErrOSExhausted is returned when the OS refuses to hand back a fresh
// arena. It wraps [osmem.ErrExhausted].
var ErrOSExhausted = fmt.Errorf("malloc: %w", osmem.ErrExhausted)

// OversizedError is the concrete error [Heap.Allocate] and friends return
// for a request above [arena.MaxPayload]; it unwraps to
// [ErrOversizedRequest] and additionally carries the offending size.
type OversizedError struct {
	Requested uintptr
	Max       uintptr
}

func (e *OversizedError) Error() string {
	return fmt.Sprintf("malloc: request of %d bytes exceeds the largest payload any arena can hold (%d)", e.Requested, e.Max)
}

func (e *OversizedError) Unwrap() error { return ErrOversizedRequest }

// Stats is a snapshot of a [Heap]'s call counters and total OS footprint,
// mirroring what the original allocator this package is modeled on prints
// at exit.
type Stats struct {
	HeapBytes uintptr
	Mallocs   uint64
	Reallocs  uint64
	Callocs   uint64
	Frees     uint64
}

// Heap is a single heap's worth of state: the arenas obtained from the OS
// so far, the free list threaded through them, call counters, and the
// mutex serializing every public operation.
//
// A zero Heap is not ready to use; call [New].
type Heap struct {
	mu sync.Mutex

	fl     *arena.FreeList
	arenas []*arena.Arena
	stats  Stats

	// verbose mirrors the MALLOCVERBOSE environment variable: when true,
	// PrintStats writes a summary instead of doing nothing.
	verbose bool
}

// New creates a heap with one freshly obtained arena, ready to serve
// allocations.
//
// verbose is read from the MALLOCVERBOSE environment variable: any value
// other than the literal string "NO" leaves verbose reporting enabled,
// matching the allocator this package is modeled on, which defaults to on.
func New() (*Heap, error) {
	h := &Heap{
		fl:      arena.NewFreeList(),
		verbose: os.Getenv("MALLOCVERBOSE") != "NO",
	}

	if err := h.grow(); err != nil {
		return nil, err
	}

	return h, nil
}

// grow obtains one more arena from the OS and adds it to the heap. The
// caller must hold h.mu.
func (h *Heap) grow() error {
	mem, err := osmem.Obtain()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOSExhausted, err)
	}

	a := arena.Establish(mem, h.fl)
	h.arenas = append(h.arenas, a)
	h.stats.HeapBytes += uintptr(arena.Size)

	debug.Log(nil, "grow", "arena %v:%v, %d arenas total", a.Base(), a.End(), len(h.arenas))

	return nil
}

// Allocate returns a pointer to n freshly allocated, uninitialized bytes.
//
// If no free block is currently large enough, Allocate obtains a fresh
// arena from the OS and retries exactly once; if n itself cannot fit in
// any arena, it returns [ErrOversizedRequest] without touching the OS.
func (h *Heap) Allocate(n uintptr) (*byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stats.Mallocs++

	return h.allocateLocked(n)
}

// allocateLocked is the body of Allocate, factored out so that Reallocate
// and Callocate can drive it from inside their own single critical section
// instead of recursing into the public, self-locking Allocate. The caller
// must hold h.mu.
func (h *Heap) allocateLocked(n uintptr) (*byte, error) {
	if n > arena.MaxPayload {
		return nil, &OversizedError{Requested: n, Max: arena.MaxPayload}
	}

	fit := arena.Allocate(h.fl, n)
	if fit.IsOk() {
		return fit.Unwrap(), nil
	}

	if err := h.grow(); err != nil {
		return nil, err
	}

	fit = arena.Allocate(h.fl, n)
	if fit.IsErr() {
		// A request under MaxPayload must fit a freshly grown arena; if it
		// doesn't, something upstream miscalculated the bound.
		debug.Assert(false, "request of %d bytes failed against a fresh arena", n)
		return nil, &OversizedError{Requested: n, Max: arena.MaxPayload}
	}

	return fit.Unwrap(), nil
}

// Deallocate returns a previously allocated block to the heap. Deallocate
// on a nil pointer is a no-op, matching the C ABI's free(NULL).
func (h *Heap) Deallocate(p *byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stats.Frees++

	if p == nil {
		return
	}

	arena.Deallocate(h.fl, p)
}

// Reallocate resizes the block at p to n bytes, preserving the lesser of
// its old and new sizes' worth of contents, and returns a pointer to the
// (possibly moved) block. A nil p behaves like [Heap.Allocate].
//
// The whole operation runs under one acquisition of h.mu, per spec §5's
// "exactly one critical section per public call": it drives arena.Allocate/
// arena.Deallocate directly rather than calling back into Heap.Allocate/
// Heap.Deallocate, which would both re-lock h.mu and let another goroutine's
// call interleave partway through this one. Freeing the old block here also
// does not bump stats.Frees — this call counts once, as a realloc.
func (h *Heap) Reallocate(p *byte, n uintptr) (*byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stats.Reallocs++

	if p == nil {
		return h.allocateLocked(n)
	}

	oldSize := arena.PayloadSize(p)

	newPtr, err := h.allocateLocked(n)
	if err != nil {
		return nil, err
	}

	xunsafe.Copy(newPtr, p, min(oldSize, n))

	arena.Deallocate(h.fl, p)

	return newPtr, nil
}

// Callocate allocates nelem*elsize bytes, zeroed, as if by calloc.
//
// Like Reallocate, this runs under one acquisition of h.mu and calls
// allocateLocked directly instead of the public, self-locking Allocate.
func (h *Heap) Callocate(nelem, elsize uintptr) (*byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stats.Callocs++

	size := nelem * elsize

	p, err := h.allocateLocked(size)
	if err != nil {
		return nil, err
	}

	xunsafe.Clear(p, size)

	return p, nil
}

// Stats returns a snapshot of this heap's call counters and OS footprint.
func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.stats
}

// PrintStats writes a human-readable summary of Stats to w, but only if
// this heap was constructed with MALLOCVERBOSE enabled.
func (h *Heap) PrintStats(w *os.File) {
	if !h.verbose {
		return
	}

	s := h.Stats()
	_, _ = fmt.Fprintf(w, "\n-------------------\n")
	_, _ = fmt.Fprintf(w, "HeapSize:\t%d bytes\n", s.HeapBytes)
	_, _ = fmt.Fprintf(w, "# mallocs:\t%d\n", s.Mallocs)
	_, _ = fmt.Fprintf(w, "# reallocs:\t%d\n", s.Reallocs)
	_, _ = fmt.Fprintf(w, "# callocs:\t%d\n", s.Callocs)
	_, _ = fmt.Fprintf(w, "# frees:\t%d\n", s.Frees)
	_, _ = fmt.Fprintf(w, "\n-------------------\n")
}

// DumpFreeList returns every currently-free block as a [zc.View] relative
// to the base of whichever arena contains it, alongside the index of that
// arena in the order it was obtained from the OS.
func (h *Heap) DumpFreeList() []FreeBlock {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []FreeBlock
	for _, b := range h.fl.Blocks() {
		addr := b.Addr()
		for i, a := range h.arenas {
			if a.Contains(addr) {
				offset := int(uintptr(addr) - uintptr(a.Base()))
				out = append(out, FreeBlock{Arena: i, Range: zc.Raw(offset, int(b.Size()))})
				break
			}
		}
	}

	return out
}

// FreeBlock locates one free block within the arena that owns it.
type FreeBlock struct {
	Arena int
	Range zc.View
}

// AsA classifies err as one of this package's sentinel errors, if possible.
//
// This exists mainly so callers one layer up (e.g. the C ABI adapter) can
// distinguish "out of memory" from "request too large" without importing
// errors.As boilerplate of their own.
func AsA[E error](err error) (E, bool) {
	return xerrors.AsA[E](err)
}
