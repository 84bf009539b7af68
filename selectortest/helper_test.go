package selectortest

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/go-iomock/eventloop"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// backendMock implements eventloop.Selector (and eventloop.Waker) for testing
type backendMock struct {
	mock.Mock
}

func (m *backendMock) Register(fileObj any, events eventloop.IOEvents, data any) (*eventloop.SelectorKey, error) {
	args := m.Called(fileObj, events, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*eventloop.SelectorKey), args.Error(1)
}

func (m *backendMock) Unregister(fileObj any) (*eventloop.SelectorKey, error) {
	args := m.Called(fileObj)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*eventloop.SelectorKey), args.Error(1)
}

func (m *backendMock) Modify(fileObj any, events eventloop.IOEvents, data any) (*eventloop.SelectorKey, error) {
	args := m.Called(fileObj, events, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*eventloop.SelectorKey), args.Error(1)
}

func (m *backendMock) Select(timeout time.Duration) ([]eventloop.Ready, error) {
	args := m.Called(timeout)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]eventloop.Ready), args.Error(1)
}

func (m *backendMock) GetKey(fileObj any) (*eventloop.SelectorKey, error) {
	args := m.Called(fileObj)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*eventloop.SelectorKey), args.Error(1)
}

func (m *backendMock) Keys() []*eventloop.SelectorKey {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]*eventloop.SelectorKey)
}

func (m *backendMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *backendMock) Wake() error {
	args := m.Called()
	return args.Error(0)
}

// newBackendMock returns a backendMock with no initial registrations.
func newBackendMock(t *testing.T) *backendMock {
	t.Helper()
	m := &backendMock{}
	m.On("Keys").Return([]*eventloop.SelectorKey(nil)).Maybe()
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
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

func newTestLogger(w *syncBuffer) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(
			stumpy.WithWriter(w),
			stumpy.WithTimeField(``),
		),
		stumpy.L.WithLevel(stumpy.L.LevelDebug()),
	).Logger()
}

// newTestLoop returns a loop running a purely synthetic Selector.
func newTestLoop(t *testing.T, opts ...eventloop.LoopOption) (*eventloop.Loop, *Selector) {
	t.Helper()
	sel := NewSelector(nil)
	loop, err := eventloop.New(append([]eventloop.LoopOption{eventloop.WithSelector(sel)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = loop.Close() })
	return loop, sel
}
