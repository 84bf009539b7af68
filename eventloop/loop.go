package eventloop

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

// tickBudget bounds the external tasks and microtasks processed per phase.
const tickBudget = 1024

// Loop is a single goroutine, cooperative event loop.
//
// Each tick runs the phases:
//
//	timers → internal queue → external queue → microtasks → poll → microtasks
//
// The internal and external queues are drained from a snapshot of their
// length, taken at the start of the phase, so that tasks queued during one
// tick always run in a later tick.
//
// I/O readiness is delegated to the active [Selector], which may be replaced
// via SetSelector while the loop is not running.
type Loop struct { // betteralign:ignore
	// Prevent copying
	_ [0]func()

	logger     *logiface.Logger[logiface.Event]
	onOverload func(error)

	// selector is guarded by selMu, since it is read by any goroutine
	selector Selector
	selMu    sync.RWMutex

	state fastState

	internal   taskQueue
	external   taskQueue
	microtasks taskQueue

	// timers are owned by the loop goroutine
	timers   timerHeap
	timerSeq uint64

	// wakeCh carries at most one pending wake-up, for selectors that return
	// early without blocking
	wakeCh chan struct{}

	loopDone  chan struct{}
	doneOnce  sync.Once
	stopOnce  sync.Once
	closeOnce sync.Once

	loopGoroutineID atomic.Uint64

	id uint64

	strictMicrotaskOrdering bool
}

var loopIDCounter atomic.Uint64

// New creates a new event loop. Unless WithSelector is given, the
// platform-native selector from NewPollSelector is used.
func New(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	selector := cfg.selector
	if selector == nil {
		selector, err = NewPollSelector()
		if err != nil {
			return nil, err
		}
	}

	return &Loop{
		id:                      loopIDCounter.Add(1),
		logger:                  cfg.logger,
		onOverload:              cfg.onOverload,
		strictMicrotaskOrdering: cfg.strictMicrotaskOrdering,
		selector:                selector,
		wakeCh:                  make(chan struct{}, 1),
		loopDone:                make(chan struct{}),
	}, nil
}

// ID returns the unique, process-wide identifier of the loop.
func (l *Loop) ID() uint64 { return l.id }

// Logger returns the logger the loop was configured with, which may be nil.
func (l *Loop) Logger() *logiface.Logger[logiface.Event] { return l.logger }

// State returns the current loop state.
func (l *Loop) State() LoopState {
	return l.state.Load()
}

// Done returns a channel that is closed once the loop has terminated.
func (l *Loop) Done() <-chan struct{} {
	return l.loopDone
}

// Selector returns the active selector.
func (l *Loop) Selector() Selector {
	l.selMu.RLock()
	defer l.selMu.RUnlock()
	return l.selector
}

// SetSelector replaces the active selector. The previous selector is not
// closed, it returns to the custody of the caller.
//
// Returns ErrSelectorInUse unless the loop is awake (not running), or
// ErrLoopTerminated once the loop has terminated.
func (l *Loop) SetSelector(selector Selector) error {
	if selector == nil {
		return ErrNilSelector
	}
	l.selMu.Lock()
	defer l.selMu.Unlock()
	switch l.state.Load() {
	case StateAwake:
	case StateTerminated:
		return ErrLoopTerminated
	default:
		return ErrSelectorInUse
	}
	l.selector = selector
	l.debug(categorySelector).
		Str("selector", typeName(selector)).
		Log("selector replaced")
	return nil
}

// Run runs the event loop and blocks until fully stopped.
//
// Run blocks until the loop terminates (via Shutdown, Close, or ctx
// cancellation). To run in a separate goroutine, use: `go loop.Run(ctx)`.
func (l *Loop) Run(ctx context.Context) error {
	if l.isLoopThread() {
		return ErrReentrantRun
	}
	if !l.state.TryTransition(StateAwake, StateRunning) {
		if l.state.Load() == StateTerminated {
			return ErrLoopTerminated
		}
		return ErrLoopAlreadyRunning
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	l.loopGoroutineID.Store(getGoroutineID())
	defer l.loopGoroutineID.Store(0)

	// wake the loop on cancellation
	ctxDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			l.wake()
		case <-ctxDone:
		}
	}()
	defer close(ctxDone)

	for {
		select {
		case <-ctx.Done():
			l.state.requestTermination()
			l.terminate(true)
			return ctx.Err()
		default:
		}

		if state := l.state.Load(); state == StateTerminating || state == StateTerminated {
			l.terminate(true)
			return nil
		}

		l.tick(false)
	}
}

// RunOnce runs exactly one tick on the calling goroutine, with a
// non-blocking poll, then returns the loop to StateAwake.
//
// It is intended for tests that drive the loop step by step. If
// termination was requested during the tick, the loop terminates before
// RunOnce returns.
func (l *Loop) RunOnce(ctx context.Context) error {
	if l.isLoopThread() {
		return ErrReentrantRun
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !l.state.TryTransition(StateAwake, StateRunning) {
		if l.state.Load() == StateTerminated {
			return ErrLoopTerminated
		}
		return ErrLoopAlreadyRunning
	}

	l.loopGoroutineID.Store(getGoroutineID())
	defer l.loopGoroutineID.Store(0)

	l.tick(true)

	if !l.state.TryTransition(StateRunning, StateAwake) {
		l.terminate(true)
	}
	return nil
}

// Shutdown gracefully shuts down the event loop, running every task queued
// before termination. It blocks until termination completes or ctx expires.
func (l *Loop) Shutdown(ctx context.Context) error {
	err := ErrLoopTerminated
	l.stopOnce.Do(func() {
		err = l.shutdownImpl(ctx)
	})
	return err
}

func (l *Loop) shutdownImpl(ctx context.Context) error {
	prev, ok := l.state.requestTermination()
	if !ok {
		return ErrLoopTerminated
	}
	if prev == StateAwake {
		l.terminate(true)
		return nil
	}
	l.wake()

	select {
	case <-l.loopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close immediately terminates the event loop without waiting for graceful
// shutdown. If the loop is running, it terminates at the end of the
// current tick.
func (l *Loop) Close() error {
	prev, ok := l.state.requestTermination()
	if !ok {
		return ErrLoopTerminated
	}
	if prev == StateAwake {
		l.terminate(false)
		return nil
	}
	l.wake()
	return nil
}

// terminate performs the shutdown sequence. The queues are closed after
// the state is stored, so any submission that raced the state check is
// either rejected or drained here.
func (l *Loop) terminate(drain bool) {
	l.closeOnce.Do(func() {
		l.state.Store(StateTerminated)

		l.internal.close()
		l.external.close()
		l.microtasks.close()

		if drain {
			for {
				n := l.internal.drain(0, l.safeExecute)
				n += l.external.drain(0, l.safeExecute)
				l.drainMicrotasks()
				if n == 0 && l.microtasks.len() == 0 {
					break
				}
			}
		}

		if err := l.Selector().Close(); err != nil {
			l.logError(categoryShutdown, "failed to close selector", err)
		}

		l.debug(categoryShutdown).
			Bool("drained", drain).
			Log("loop terminated")

		l.doneOnce.Do(func() { close(l.loopDone) })
	})
}

// tick is a single iteration of the event loop.
//
// The internal queue is measured before timers run, so tasks submitted by
// timer callbacks wait for the next tick, like those of any other task.
func (l *Loop) tick(nonBlocking bool) {
	queued := l.internal.len()

	l.runTimers()

	l.internal.runN(queued, l.safeExecute)
	l.drainMicrotasks()

	l.processExternal()

	l.drainMicrotasks()

	l.poll(nonBlocking)

	l.drainMicrotasks()
}

// processExternal processes external tasks with budget.
func (l *Loop) processExternal() {
	run := l.safeExecute
	if l.strictMicrotaskOrdering {
		run = func(fn func()) {
			l.safeExecute(fn)
			l.drainMicrotasks()
		}
	}
	overloaded := l.external.len() > tickBudget
	l.external.drain(tickBudget, run)
	if overloaded && l.onOverload != nil {
		l.onOverload(ErrLoopOverloaded)
	}
}

// drainMicrotasks runs microtasks, including any they schedule, up to the
// tick budget.
func (l *Loop) drainMicrotasks() {
	for i := 0; i < tickBudget; i++ {
		fn, ok := l.microtasks.pop()
		if !ok {
			break
		}
		l.safeExecute(fn)
	}
}

func (l *Loop) hasPending() bool {
	return l.internal.len() > 0 || l.external.len() > 0 || l.microtasks.len() > 0
}

// poll waits for I/O readiness, then dispatches it via ProcessEvents.
func (l *Loop) poll(nonBlocking bool) {
	if !l.state.TryTransition(StateRunning, StateSleeping) {
		return
	}

	// discard stale wake-ups, pending work is checked below
	select {
	case <-l.wakeCh:
	default:
	}

	var timeout time.Duration
	if !nonBlocking && !l.hasPending() && l.state.Load() == StateSleeping {
		timeout = l.calculateTimeout()
	}

	start := time.Now()
	ready, err := l.Selector().Select(timeout)
	if err != nil {
		l.logCritical("selector failed, terminating loop", err)
		l.state.TryTransition(StateSleeping, StateTerminating)
		return
	}

	// selectors that cannot block (or were interrupted) return early
	if len(ready) == 0 && timeout > 0 {
		if remaining := timeout - time.Since(start); remaining > 0 {
			l.waitWake(remaining)
		}
	}

	if !l.state.TryTransition(StateSleeping, StateRunning) {
		return
	}

	l.ProcessEvents(ready)
}

func (l *Loop) waitWake(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-l.wakeCh:
	case <-t.C:
	}
}

// wake interrupts a sleeping poll. Safe to call from any goroutine.
func (l *Loop) wake() {
	select {
	case l.wakeCh <- struct{}{}:
	default:
	}
	if l.state.Load() != StateSleeping {
		return
	}
	if w, ok := l.Selector().(Waker); ok {
		// failures are expected during shutdown, the loop re-checks its
		// state after every poll regardless
		_ = w.Wake()
	}
}

// ProcessEvents dispatches ready registrations to their callbacks.
//
// Keys registered via RegisterFD have their callback invoked once per
// Ready, with the observed events that intersect the registered interest
// (EventError and EventHangup always pass). Keys registered directly with
// the selector, by other means, are ignored.
//
// ProcessEvents must only be called from the loop goroutine.
func (l *Loop) ProcessEvents(ready []Ready) {
	for _, r := range ready {
		if r.Key == nil {
			continue
		}
		h, ok := r.Key.Data.(*ioHandler)
		if !ok || h.cb == nil {
			continue
		}
		events := r.Events & (r.Key.Events | EventError | EventHangup)
		if events == 0 {
			continue
		}
		l.safeExecute(func() { h.cb(events) })

		if l.strictMicrotaskOrdering {
			l.drainMicrotasks()
		}
	}
}

// Submit submits a task to the external queue, from any goroutine.
//
// State Policy during shutdown:
//   - StateTerminated: returns ErrLoopTerminated
//   - StateTerminating: ALLOWS submission (loop needs to drain in-flight work)
func (l *Loop) Submit(task func()) error {
	return l.submit(&l.external, task)
}

// SubmitInternal submits a task to the internal priority queue, from any
// goroutine. Internal tasks run before external tasks, in the next tick.
func (l *Loop) SubmitInternal(task func()) error {
	return l.submit(&l.internal, task)
}

// ScheduleMicrotask schedules fn to run after the current task.
func (l *Loop) ScheduleMicrotask(fn func()) error {
	return l.submit(&l.microtasks, fn)
}

func (l *Loop) submit(q *taskQueue, task func()) error {
	if l.state.Load() == StateTerminated || !q.push(task) {
		return ErrLoopTerminated
	}
	l.wake()
	return nil
}

// ioHandler is the Data of keys registered via RegisterFD.
type ioHandler struct {
	cb IOCallback
}

// RegisterFD registers a file object with the active selector, invoking
// callback on the loop goroutine whenever it becomes ready.
//
// The file object may be anything the active selector accepts. When called
// from outside a running loop's goroutine, the registration is performed
// on the loop goroutine, and RegisterFD waits for the result.
func (l *Loop) RegisterFD(fileObj any, events IOEvents, callback IOCallback) error {
	return l.onLoop(func() error {
		_, err := l.Selector().Register(fileObj, events, &ioHandler{cb: callback})
		return err
	})
}

// UnregisterFD removes a file object from monitoring.
func (l *Loop) UnregisterFD(fileObj any) error {
	return l.onLoop(func() error {
		_, err := l.Selector().Unregister(fileObj)
		return err
	})
}

// ModifyFD updates the events being monitored for a file object, keeping
// its callback.
func (l *Loop) ModifyFD(fileObj any, events IOEvents) error {
	return l.onLoop(func() error {
		selector := l.Selector()
		key, err := selector.GetKey(fileObj)
		if err != nil {
			return err
		}
		_, err = selector.Modify(fileObj, events, key.Data)
		return err
	})
}

// onLoop runs fn directly on the loop goroutine, or while the loop is not
// running, otherwise it hands fn to the loop and waits.
func (l *Loop) onLoop(fn func() error) error {
	switch l.state.Load() {
	case StateTerminated:
		return ErrLoopTerminated
	case StateAwake:
		return fn()
	}
	if l.isLoopThread() {
		return fn()
	}
	result := make(chan error, 1)
	if err := l.SubmitInternal(func() { result <- fn() }); err != nil {
		return err
	}
	// the task is dropped if the loop terminates without draining
	select {
	case err := <-result:
		return err
	case <-l.loopDone:
		select {
		case err := <-result:
			return err
		default:
			return ErrLoopTerminated
		}
	}
}

// safeExecute executes fn with panic recovery.
func (l *Loop) safeExecute(fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.logError(categoryTask, "task panicked", PanicError{Value: r})
		}
	}()
	fn()
}

// isLoopThread checks if we're on the loop goroutine.
func (l *Loop) isLoopThread() bool {
	loopID := l.loopGoroutineID.Load()
	if loopID == 0 {
		return false
	}
	return getGoroutineID() == loopID
}

// getGoroutineID returns the current goroutine's ID.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
