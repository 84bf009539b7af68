package eventloop

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrLoopAlreadyRunning is returned when Run is called on a loop that is already running.
	ErrLoopAlreadyRunning = errors.New("eventloop: loop is already running")

	// ErrLoopTerminated is returned when operations are attempted on a terminated loop.
	ErrLoopTerminated = errors.New("eventloop: loop has been terminated")

	// ErrLoopOverloaded is passed to OnOverload when the external queue exceeds the tick budget.
	ErrLoopOverloaded = errors.New("eventloop: loop is overloaded")

	// ErrReentrantRun is returned when Run or RunOnce is called from within the loop itself.
	ErrReentrantRun = errors.New("eventloop: cannot call Run() from within the loop")

	// ErrSelectorInUse is returned by SetSelector while the loop is running.
	ErrSelectorInUse = errors.New("eventloop: cannot replace the selector of a running loop")

	// ErrNilSelector is returned when a nil Selector is supplied.
	ErrNilSelector = errors.New("eventloop: nil selector")

	ErrFDOutOfRange        = errors.New("eventloop: fd out of range (max 100000000)")
	ErrFDAlreadyRegistered = errors.New("eventloop: fd already registered")
	ErrFDNotRegistered     = errors.New("eventloop: fd not registered")
	ErrPollerClosed        = errors.New("eventloop: poller closed")

	// ErrInvalidEvents is returned when an event mask is empty or contains
	// anything other than EventRead and EventWrite.
	ErrInvalidEvents = errors.New("eventloop: invalid events")

	// ErrInvalidFileObject is returned when a value cannot be resolved to a
	// file descriptor.
	ErrInvalidFileObject = errors.New("eventloop: invalid file object")

	// ErrUnsupportedPlatform is returned by NewPollSelector on platforms
	// without an epoll or kqueue implementation.
	ErrUnsupportedPlatform = errors.New("eventloop: platform has no poll selector")
)

// PanicError wraps a value recovered from a panicking task or callback.
type PanicError struct {
	Value any
}

// Error implements the error interface.
func (e PanicError) Error() string {
	return fmt.Sprintf("eventloop: task panicked: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type.
// This enables use with [errors.Is] and [errors.As] for error matching
// through the cause chain.
//
// If the panic Value is not an error (e.g., a string or other type),
// returns nil.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
