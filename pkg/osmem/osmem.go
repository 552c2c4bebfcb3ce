//go:build linux || darwin

// Package osmem obtains fixed-size, page-backed regions of memory directly
// from the OS, bypassing the Go allocator and GC entirely.
//
// This plays the role sbrk() plays in the original design this package is
// modeled on: a way to grow the process's address space by one arena's
// worth of bytes at a time, without those bytes ever being visible to
// runtime.mallocgc or scanned by the garbage collector.
package osmem

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/sysalloc/breakheap/pkg/arena"
)

// ErrExhausted is returned by [Obtain] when the OS refuses to hand back
// any more memory, e.g. because of an rlimit or a genuinely exhausted
// system.
var ErrExhausted = fmt.Errorf("osmem: exhausted")

// Obtain requests a fresh arena.Size-byte region from the OS via an
// anonymous, private mmap mapping, and returns it zeroed and ready to be
// handed to [arena.Establish].
//
// The returned slice is never touched by the Go allocator again: it is not
// freed by a GC finalizer, and Release must be called explicitly once the
// arena built on top of it is no longer needed.
func Obtain() ([]byte, error) {
	mem, err := unix.Mmap(-1, 0, arena.Size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExhausted, err)
	}

	return mem, nil
}

// Release returns a region previously obtained from Obtain back to the OS.
//
// mem must be exactly the slice returned by Obtain; breakheap never splits
// or merges OS mappings, only the logical blocks within them, so arenas are
// always released whole.
func Release(mem []byte) error {
	return unix.Munmap(mem)
}
