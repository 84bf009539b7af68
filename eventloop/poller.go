// I/O registration.
//
// Readiness notification is delegated to a Selector. See poller_linux.go and
// poller_darwin.go for the platform-specific implementations.

package eventloop

import (
	"fmt"
	"strings"
	"syscall"
	"time"
)

// maxFDs is the initial size of the direct-indexed registration table.
const maxFDs = 1024

// MaxFDLimit is the maximum FD value we support for dynamic growth.
const MaxFDLimit = 100000000 // 100M, enough for production with ulimit -n > 1M

// IOEvents represents the type of I/O events to monitor.
type IOEvents uint32

const (
	// EventRead indicates the file descriptor is ready for reading.
	EventRead IOEvents = 1 << iota
	// EventWrite indicates the file descriptor is ready for writing.
	EventWrite
	// EventError indicates an error condition on the file descriptor.
	EventError
	// EventHangup indicates the peer closed its end of the connection.
	EventHangup
)

// String returns the set flags joined by "|", e.g. "read|write".
func (e IOEvents) String() string {
	if e == 0 {
		return "none"
	}
	var parts []string
	for _, f := range [...]struct {
		v IOEvents
		s string
	}{
		{EventRead, "read"},
		{EventWrite, "write"},
		{EventError, "error"},
		{EventHangup, "hangup"},
	} {
		if e&f.v != 0 {
			parts = append(parts, f.s)
			e &^= f.v
		}
	}
	if e != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(e)))
	}
	return strings.Join(parts, "|")
}

// IOCallback is the callback type for I/O events.
type IOCallback func(IOEvents)

// SelectorKey is the registration of a file object with a [Selector].
//
// Keys are owned by the selector that returned them, and must be treated as
// read-only by callers.
type SelectorKey struct {
	// FileObj is the value originally passed to Register.
	FileObj any
	// Data is the opaque value supplied at registration.
	Data any
	// FD is the numeric descriptor the selector resolved FileObj to.
	FD int
	// Events is the registered interest set.
	Events IOEvents
}

// Ready pairs a registration with the events observed for it.
type Ready struct {
	Key    *SelectorKey
	Events IOEvents
}

// Selector multiplexes readiness notification for a set of file objects.
//
// Selectors are driven by a single goroutine (normally the loop goroutine),
// and implementations need not be safe for concurrent use, unless otherwise
// documented.
type Selector interface {
	// Register starts monitoring fileObj for events, returning the new key.
	// Returns ErrFDAlreadyRegistered if fileObj is already registered.
	Register(fileObj any, events IOEvents, data any) (*SelectorKey, error)

	// Unregister stops monitoring fileObj, returning the removed key.
	// Returns ErrFDNotRegistered if fileObj is not registered.
	Unregister(fileObj any) (*SelectorKey, error)

	// Modify changes the events and data of an existing registration,
	// returning the (possibly new) key.
	Modify(fileObj any, events IOEvents, data any) (*SelectorKey, error)

	// Select waits up to timeout for registered file objects to become
	// ready. A negative timeout blocks indefinitely, zero never blocks.
	Select(timeout time.Duration) ([]Ready, error)

	// GetKey returns the key for fileObj, or ErrFDNotRegistered.
	GetKey(fileObj any) (*SelectorKey, error)

	// Keys returns a snapshot of every registration.
	Keys() []*SelectorKey

	// Close releases the selector. Registrations are discarded.
	Close() error
}

// Waker is implemented by selectors that can interrupt a blocked Select
// from another goroutine.
type Waker interface {
	Wake() error
}

// ValidateEvents returns ErrInvalidEvents unless events is a non-empty
// combination of EventRead and EventWrite.
func ValidateEvents(events IOEvents) error {
	if events == 0 || events&^(EventRead|EventWrite) != 0 {
		return fmt.Errorf("%w: %s", ErrInvalidEvents, events)
	}
	return nil
}

// FileObjectFD resolves a real file object to its descriptor.
//
// Supported values are non-negative ints, [syscall.Conn] implementations
// (e.g. *os.File, *net.TCPConn), and values with an Fd() uintptr method.
// Named integer types are NOT accepted, so synthetic descriptors never reach
// a real selector by accident.
func FileObjectFD(fileObj any) (int, error) {
	var fd int
	switch v := fileObj.(type) {
	case int:
		fd = v
	case syscall.Conn:
		rc, err := v.SyscallConn()
		if err != nil {
			return -1, fmt.Errorf("%w: %w", ErrInvalidFileObject, err)
		}
		var raw uintptr
		if err := rc.Control(func(f uintptr) { raw = f }); err != nil {
			return -1, fmt.Errorf("%w: %w", ErrInvalidFileObject, err)
		}
		fd = int(raw)
	case interface{ Fd() uintptr }:
		fd = int(v.Fd())
	default:
		return -1, fmt.Errorf("%w: %T", ErrInvalidFileObject, fileObj)
	}
	if fd < 0 || fd >= MaxFDLimit {
		return -1, ErrFDOutOfRange
	}
	return fd, nil
}

// timeoutMillis converts a Select timeout to the millisecond form used by
// the poll syscalls, rounding sub-millisecond waits up to 1ms.
func timeoutMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	if timeout > 0 && timeout < time.Millisecond {
		return 1
	}
	return int(timeout.Milliseconds())
}
