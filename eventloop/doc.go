// Package eventloop provides a single goroutine, cooperative event loop,
// with timers, microtask scheduling, and pluggable I/O readiness selectors.
//
// # Architecture
//
// The [Loop] core manages task scheduling, timer processing, and I/O
// readiness notification. Readiness is delegated to a [Selector], the
// platform-native one by default ([NewPollSelector]), which may be replaced
// via [WithSelector] or [Loop.SetSelector], e.g. by a test double.
//
// # Platform Support
//
// I/O polling is implemented using platform-native mechanisms:
//   - macOS: kqueue
//   - Linux: epoll
//
// Other platforms must supply their own [Selector].
//
// # Thread Safety
//
//   - [Loop.Submit], [Loop.SubmitInternal] and [Loop.ScheduleMicrotask] are
//     safe to call from any goroutine
//   - FD registration methods hand off to the loop goroutine when necessary
//   - [Loop.ProcessEvents] must only be called on the loop goroutine
//
// # Execution Model
//
// Task priority ordering within each tick:
//  1. Timer callbacks (earliest deadline first)
//  2. Internal queue tasks ([Loop.SubmitInternal])
//  3. External queue tasks ([Loop.Submit])
//  4. Microtasks (drained after each macrotask when strict ordering is enabled)
//  5. I/O callbacks, dispatched via [Loop.ProcessEvents]
//
// Tasks submitted during a tick run in a later tick, never the current one.
//
// # Usage
//
//	loop, err := eventloop.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	loop.RegisterFD(conn, eventloop.EventRead, func(events eventloop.IOEvents) {
//	    // Handle readable event
//	})
//
//	if err := loop.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Safety
//
// Always call UnregisterFD before closing a file descriptor to prevent
// stale event delivery due to FD recycling.
package eventloop
