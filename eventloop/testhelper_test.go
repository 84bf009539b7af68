package eventloop

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// waitLoopState waits for a loop to reach a specific state within a timeout.
func waitLoopState(t *testing.T, loop *Loop, expected LoopState, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for loop.State() != expected && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if state := loop.State(); state != expected {
		// Accept either Running or Sleeping as "running"
		if expected == StateRunning && state == StateSleeping {
			return
		}
		t.Fatalf("Loop failed to reach %v state (got %v)", expected, state)
	}
}

// syncBuffer is a goroutine-safe bytes.Buffer, for capturing log output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// newTestLogger returns a debug level JSON logger writing to w.
func newTestLogger(w *syncBuffer) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(
			stumpy.WithWriter(w),
			stumpy.WithTimeField(``),
		),
		stumpy.L.WithLevel(stumpy.L.LevelDebug()),
	).Logger()
}

// memSelector is an in-memory Selector, keyed by any comparable value.
// Select never blocks, and returns whatever was queued via push.
type memSelector struct {
	mu      sync.Mutex
	keys    map[any]*SelectorKey
	pending []Ready
	selects int
	wakes   int
	err     error
	closed  bool
}

var _ Waker = (*memSelector)(nil)

func newMemSelector() *memSelector {
	return &memSelector{keys: make(map[any]*SelectorKey)}
}

func (s *memSelector) Register(fileObj any, events IOEvents, data any) (*SelectorKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ValidateEvents(events); err != nil {
		return nil, err
	}
	if _, ok := s.keys[fileObj]; ok {
		return nil, ErrFDAlreadyRegistered
	}
	key := &SelectorKey{FileObj: fileObj, FD: -1, Events: events, Data: data}
	s.keys[fileObj] = key
	return key, nil
}

func (s *memSelector) Unregister(fileObj any) (*SelectorKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[fileObj]
	if !ok {
		return nil, ErrFDNotRegistered
	}
	delete(s.keys, fileObj)
	return key, nil
}

func (s *memSelector) Modify(fileObj any, events IOEvents, data any) (*SelectorKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[fileObj]; !ok {
		return nil, ErrFDNotRegistered
	}
	key := &SelectorKey{FileObj: fileObj, FD: -1, Events: events, Data: data}
	s.keys[fileObj] = key
	return key, nil
}

func (s *memSelector) Select(time.Duration) ([]Ready, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selects++
	if s.err != nil {
		return nil, s.err
	}
	ready := s.pending
	s.pending = nil
	return ready, nil
}

func (s *memSelector) GetKey(fileObj any) (*SelectorKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[fileObj]
	if !ok {
		return nil, ErrFDNotRegistered
	}
	return key, nil
}

func (s *memSelector) Keys() []*SelectorKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]*SelectorKey, 0, len(s.keys))
	for _, key := range s.keys {
		keys = append(keys, key)
	}
	return keys
}

func (s *memSelector) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memSelector) Wake() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wakes++
	return nil
}

// push queues events for fileObj, to be returned by the next Select.
func (s *memSelector) push(fileObj any, events IOEvents) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[fileObj]
	if ok {
		s.pending = append(s.pending, Ready{Key: key, Events: events})
	}
	return ok
}

func (s *memSelector) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
