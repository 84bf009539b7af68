package eventloop

import (
	"sync/atomic"
)

// LoopState represents the current state of the event loop.
//
// State Machine:
//
//	StateAwake → StateRunning              [Run(), RunOnce()]
//	StateRunning → StateAwake              [RunOnce() complete]
//	StateRunning → StateSleeping           [poll() via CAS]
//	StateSleeping → StateRunning           [poll() wake via CAS]
//	StateAwake|Running|Sleeping → StateTerminating [Shutdown(), Close(), ctx]
//	StateTerminating → StateTerminated     [shutdown complete]
//	StateTerminated → (terminal)
//
// Use TryTransition (CAS) for temporary states (Running, Sleeping), and
// Store only for the irreversible StateTerminated.
type LoopState uint64

const (
	// StateAwake indicates the loop has been created but is not running.
	StateAwake LoopState = 0
	// StateTerminated indicates the loop has been stopped and is fully shut down.
	StateTerminated LoopState = 1
	// StateSleeping indicates the loop is blocked in poll waiting for events.
	StateSleeping LoopState = 2
	// StateRunning indicates the loop is actively processing tasks.
	StateRunning LoopState = 3
	// StateTerminating indicates shutdown has been requested but not completed.
	StateTerminating LoopState = 4
)

// String returns a human-readable representation of the state.
func (s LoopState) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// fastState is a lock-free state machine.
type fastState struct {
	v atomic.Uint64
}

func (s *fastState) Load() LoopState {
	return LoopState(s.v.Load())
}

func (s *fastState) Store(state LoopState) {
	s.v.Store(uint64(state))
}

// TryTransition attempts to atomically transition from one state to another.
func (s *fastState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

// requestTermination moves any live state to StateTerminating, returning
// the state it replaced, or false if already terminating or terminated.
func (s *fastState) requestTermination() (LoopState, bool) {
	for {
		current := s.Load()
		if current == StateTerminating || current == StateTerminated {
			return current, false
		}
		if s.TryTransition(current, StateTerminating) {
			return current, true
		}
	}
}
