package selectortest

import (
	"fmt"
	"math"
	"sync/atomic"
)

// FileDescriptor is the identity of a synthetic handle.
//
// It converts to and from int by value, but is a distinct type, so
// FileDescriptor(3) and int(3) are different keys in any map[any]V, and
// compare unequal as interface values. A synthetic handle and a real
// descriptor of the same number may therefore be registered together.
type FileDescriptor int

// String implements fmt.Stringer.
func (fd FileDescriptor) String() string {
	return fmt.Sprintf("FileDescriptor(%d)", int(fd))
}

// Allocator issues FileDescriptor values, from a watermark that only moves
// forward (until Reset). It is safe for concurrent use, and the zero value
// is ready to use, starting from 0.
type Allocator struct {
	next atomic.Int64
}

var defaultAllocator Allocator

// DefaultAllocator returns the package allocator, used wherever a nil
// *Allocator is accepted.
func DefaultAllocator() *Allocator {
	return &defaultAllocator
}

// Allocate returns the current watermark, and advances it by one.
//
// The result is strictly greater than every value previously returned by
// Allocate or FromValue, since the last Reset.
func (a *Allocator) Allocate() FileDescriptor {
	return FileDescriptor(a.next.Add(1) - 1)
}

// FromValue returns FileDescriptor(n), raising the watermark to
// max(watermark+1, n+1), so later allocations never collide with n.
// Negative n and math.MaxInt are rejected, leaving the watermark alone.
func (a *Allocator) FromValue(n int) (FileDescriptor, error) {
	if n < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegativeDescriptor, n)
	}
	if n == math.MaxInt {
		return 0, fmt.Errorf("%w: %d", ErrDescriptorOverflow, n)
	}
	for {
		cur := a.next.Load()
		if a.next.CompareAndSwap(cur, max(cur+1, int64(n)+1)) {
			return FileDescriptor(n), nil
		}
	}
}

// Next reports the value the next Allocate will return.
func (a *Allocator) Next() FileDescriptor {
	return FileDescriptor(a.next.Load())
}

// Reset rewinds the watermark to zero. Values issued before the reset may
// be issued again.
func (a *Allocator) Reset() {
	a.next.Store(0)
}
