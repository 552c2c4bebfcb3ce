// Command libbreakheap builds breakheap as a C shared library, exporting
// malloc, free, realloc, and calloc so that it can be LD_PRELOAD'd in front
// of (or linked directly into) a C program in place of the system
// allocator.
//
// Build with:
//
//	go build -buildmode=c-shared -o libbreakheap.so ./cmd/libbreakheap
package main

/*
#include <stdlib.h>

extern void breakheapAtExit(void);

static void registerBreakheapAtExit(void) {
	atexit(breakheapAtExit);
}
*/
import "C"

import (
	"os"
	"sync"
	"unsafe"

	bhmalloc "github.com/sysalloc/breakheap/pkg/malloc"
)

var (
	heapOnce sync.Once
	heap     *bhmalloc.Heap
)

// ofHeap lazily constructs the process-wide heap on first use, mirroring
// the lazy `if (!_initialized) initialize();` check every entry point of
// the original allocator performs.
func ofHeap() *bhmalloc.Heap {
	heapOnce.Do(func() {
		h, err := bhmalloc.New()
		if err != nil {
			panic(err)
		}
		heap = h
	})
	return heap
}

//export malloc
func malloc(size C.size_t) unsafe.Pointer {
	p, err := ofHeap().Allocate(uintptr(size))
	if err != nil {
		return nil
	}
	return unsafe.Pointer(p)
}

//export free
func free(ptr unsafe.Pointer) {
	if ptr == nil {
		ofHeap().Deallocate(nil)
		return
	}
	ofHeap().Deallocate((*byte)(ptr))
}

//export realloc
func realloc(ptr unsafe.Pointer, size C.size_t) unsafe.Pointer {
	p, err := ofHeap().Reallocate((*byte)(ptr), uintptr(size))
	if err != nil {
		return nil
	}
	return unsafe.Pointer(p)
}

//export calloc
func calloc(nelem, elsize C.size_t) unsafe.Pointer {
	p, err := ofHeap().Callocate(uintptr(nelem), uintptr(elsize))
	if err != nil {
		return nil
	}
	return unsafe.Pointer(p)
}

//export breakheapAtExit
func breakheapAtExit() {
	ofHeap().PrintStats(os.Stderr)
}

func init() {
	C.registerBreakheapAtExit()
}

func main() {}
