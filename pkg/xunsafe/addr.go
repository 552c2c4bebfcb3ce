//go:build go1.20

package xunsafe

import (
	"fmt"
	"unsafe"

	"github.com/sysalloc/breakheap/pkg/xunsafe/layout"
)

// Addr is an untyped pointer to a T, represented as a raw address.
//
// Unlike *T, an Addr[T] can be the zero value without representing an
// invalid pointer load waiting to happen; it is just a number until
// [Addr.AssertValid] is called. This makes it convenient for representing
// addresses that are computed well before the memory at them is known to be
// live, such as the free-standing cursor of an arena or the boundary tags of
// a heap allocator.
type Addr[T any] uintptr

// AddrOf returns the address of p.
func AddrOf[T any](p *T) Addr[T] {
	return Addr[T](unsafe.Pointer(p))
}

// EndOf returns the address one past the end of s.
func EndOf[S ~[]E, E any](s S) Addr[E] {
	return AddrOf(unsafe.SliceData(s)).Add(len(s))
}

// AssertValid converts this address back into a pointer.
//
// This is named AssertValid, rather than Ptr or similar, as a reminder that
// the caller is asserting that this address denotes live, correctly-aligned
// memory of type T; nothing in this package can check that for you.
func (a Addr[T]) AssertValid() *T {
	return (*T)(unsafe.Pointer(uintptr(a)))
}

// Add adds n, scaled by the size of T, to this address.
func (a Addr[T]) Add(n int) Addr[T] {
	return a.ByteAdd(n * layout.Size[T]())
}

// ByteAdd adds n unscaled bytes to this address.
func (a Addr[T]) ByteAdd(n int) Addr[T] {
	return Addr[T](uintptr(a) + uintptr(n))
}

// Sub computes the distance between this address and that, scaled by the
// size of T.
func (a Addr[T]) Sub(that Addr[T]) int {
	return int(uintptr(a)-uintptr(that)) / layout.Size[T]()
}

// Padding returns the number of bytes needed to round this address up to
// align, which must be a power of two.
func (a Addr[T]) Padding(align int) int {
	return layout.Padding(int(a), align)
}

// RoundUpTo rounds this address up to the given alignment, which must be a
// power of two.
func (a Addr[T]) RoundUpTo(align int) Addr[T] {
	return Addr[T](layout.RoundUp(int(a), align))
}

// SignBit returns whether the topmost bit of this address is set.
//
// This is occasionally useful for branchless comparisons against zero when
// working with sizes and offsets stored as addresses.
func (a Addr[T]) SignBit() bool {
	return a>>(unsafe.Sizeof(a)*8-1) != 0
}

// SignBitMask returns an all-ones mask if [Addr.SignBit] is set, and an
// all-zeros mask otherwise.
func (a Addr[T]) SignBitMask() Addr[T] {
	return Addr[T](int(a) >> (unsafe.Sizeof(a)*8 - 1))
}

// ClearSignBit returns a with its topmost bit cleared.
func (a Addr[T]) ClearSignBit() Addr[T] {
	return a &^ (Addr[T](1) << (unsafe.Sizeof(a)*8 - 1))
}

// String implements [fmt.Stringer].
func (a Addr[T]) String() string {
	return fmt.Sprintf("%#x", uintptr(a))
}

// Format implements [fmt.Formatter], forwarding to the underlying uintptr so
// that %x and similar verbs behave as expected.
func (a Addr[T]) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		_, _ = fmt.Fprint(s, a.String())
	default:
		_, _ = fmt.Fprintf(s, fmt.FormatString(s, verb), uintptr(a))
	}
}
