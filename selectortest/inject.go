package selectortest

import (
	"fmt"
	"slices"

	"github.com/joeycumines/go-iomock/eventloop"
	"github.com/joeycumines/logiface"
)

// EventLoop is the part of an event loop used to inject readiness,
// satisfied by *eventloop.Loop.
type EventLoop interface {
	// Selector returns the active selector.
	Selector() eventloop.Selector
	// ProcessEvents dispatches ready keys, on the loop goroutine.
	ProcessEvents(ready []eventloop.Ready)
	// SubmitInternal runs task on the loop goroutine, in a later tick.
	SubmitInternal(task func()) error
}

var _ EventLoop = (*eventloop.Loop)(nil)

// SetReadReady schedules the callbacks registered for fileObj on loop, as
// if the selector reported it readable. See SetEventReady.
func SetReadReady(fileObj any, loop EventLoop) error {
	return SetEventReady(fileObj, loop, eventloop.EventRead)
}

// SetWriteReady schedules the callbacks registered for fileObj on loop, as
// if the selector reported it writable. See SetEventReady.
func SetWriteReady(fileObj any, loop EventLoop) error {
	return SetEventReady(fileObj, loop, eventloop.EventWrite)
}

// SetEventReady schedules the callbacks registered for fileObj on loop, as
// if the selector reported events. It is safe to call from any goroutine.
//
// Nothing is dispatched synchronously. A task is queued on the loop, which
// looks fileObj up in the selector active at that time, and feeds the key
// and events to ProcessEvents, once. If fileObj is not registered by then
// (or never was), the injection is silently dropped.
//
// The only error is a failure to queue the task, e.g. when the loop has
// terminated.
func SetEventReady(fileObj any, loop EventLoop, events eventloop.IOEvents) error {
	if err := loop.SubmitInternal(func() {
		setEventReady(fileObj, loop, events)
	}); err != nil {
		return fmt.Errorf("selectortest: failed to schedule %s event: %w", events, err)
	}
	return nil
}

func setEventReady(fileObj any, loop EventLoop, events eventloop.IOEvents) {
	selector := loop.Selector()
	key, err := selector.GetKey(fileObj)
	if err != nil {
		injectLogger(selector, loop).Debug().
			Stringer("events", events).
			Err(err).
			Log("selectortest: dropped event for unregistered object")
		return
	}
	loop.ProcessEvents([]eventloop.Ready{{Key: key, Events: events}})
}

func injectLogger(selector eventloop.Selector, loop EventLoop) *logiface.Logger[logiface.Event] {
	if s, ok := selector.(*Selector); ok && s.logger != nil {
		return s.logger
	}
	if l, ok := loop.(interface {
		Logger() *logiface.Logger[logiface.Event]
	}); ok {
		return l.Logger()
	}
	return nil
}

// Install wraps the active selector of loop in a Selector, and makes it the
// active selector, returning it. If the active selector is already a
// Selector, it is returned unchanged, and opts are ignored.
//
// The loop must not be running. Unless WithLogger is given, the Selector
// logs to the logger of the loop.
func Install(loop *eventloop.Loop, opts ...Option) (*Selector, error) {
	current := loop.Selector()
	if s, ok := current.(*Selector); ok {
		return s, nil
	}
	if !resolveOptions(opts).loggerSet {
		opts = append(slices.Clip(opts), WithLogger(loop.Logger()))
	}
	s := NewSelector(current, opts...)
	if err := loop.SetSelector(s); err != nil {
		return nil, err
	}
	return s, nil
}
