//go:build linux || darwin

package eventloop

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipe(t *testing.T) (*os.File, *os.File) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = r.Close()
		_ = w.Close()
	})
	return r, w
}

func newPollSelector(t *testing.T) Selector {
	t.Helper()
	sel, err := NewPollSelector()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sel.Close() })
	return sel
}

func TestPollSelector_RegisterSelect(t *testing.T) {
	sel := newPollSelector(t)
	r, w := newPipe(t)

	key, err := sel.Register(r, EventRead, "payload")
	require.NoError(t, err)
	assert.Same(t, r, key.FileObj)
	assert.Equal(t, int(r.Fd()), key.FD)
	assert.Equal(t, EventRead, key.Events)

	_, err = sel.Register(int(r.Fd()), EventRead, nil)
	assert.ErrorIs(t, err, ErrFDAlreadyRegistered, "same descriptor, different file object")

	ready, err := sel.Select(0)
	require.NoError(t, err)
	assert.Empty(t, ready)

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)

	ready, err = sel.Select(time.Second)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Same(t, key, ready[0].Key)
	assert.NotZero(t, ready[0].Events&EventRead)

	got, err := sel.GetKey(r)
	require.NoError(t, err)
	assert.Same(t, key, got)
	assert.Equal(t, []*SelectorKey{key}, sel.Keys())
}

func TestPollSelector_ModifyUnregister(t *testing.T) {
	sel := newPollSelector(t)
	_, w := newPipe(t)

	_, err := sel.Register(w, EventRead, nil)
	require.NoError(t, err)

	key, err := sel.Modify(w, EventWrite, "data")
	require.NoError(t, err)
	assert.Equal(t, EventWrite, key.Events)
	assert.Equal(t, "data", key.Data)

	ready, err := sel.Select(time.Second)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.NotZero(t, ready[0].Events&EventWrite)

	removed, err := sel.Unregister(w)
	require.NoError(t, err)
	assert.Same(t, key, removed)

	_, err = sel.Unregister(w)
	assert.ErrorIs(t, err, ErrFDNotRegistered)
	_, err = sel.Modify(w, EventRead, nil)
	assert.ErrorIs(t, err, ErrFDNotRegistered)
	_, err = sel.GetKey(w)
	assert.ErrorIs(t, err, ErrFDNotRegistered)
}

func TestPollSelector_InvalidArguments(t *testing.T) {
	sel := newPollSelector(t)
	r, _ := newPipe(t)

	_, err := sel.Register(r, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidEvents)
	_, err = sel.Register("not a file", EventRead, nil)
	assert.ErrorIs(t, err, ErrInvalidFileObject)
}

func TestPollSelector_WakeInterruptsSelect(t *testing.T) {
	sel := newPollSelector(t)
	waker, ok := sel.(Waker)
	require.True(t, ok)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = waker.Wake()
	}()

	start := time.Now()
	ready, err := sel.Select(-1)
	require.NoError(t, err)
	assert.Empty(t, ready, "the wake descriptor is never reported")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestPollSelector_Close(t *testing.T) {
	sel, err := NewPollSelector()
	require.NoError(t, err)
	r, _ := newPipe(t)

	_, err = sel.Register(r, EventRead, nil)
	require.NoError(t, err)

	require.NoError(t, sel.Close())
	assert.NoError(t, sel.Close(), "close is idempotent")
	assert.Empty(t, sel.Keys())

	_, err = sel.Register(r, EventRead, nil)
	assert.ErrorIs(t, err, ErrPollerClosed)
	_, err = sel.Select(0)
	assert.ErrorIs(t, err, ErrPollerClosed)
	assert.ErrorIs(t, sel.(Waker).Wake(), ErrPollerClosed)
}

func TestLoop_PollSelector_PipeCallback(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	r, w := newPipe(t)

	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background()) }()
	waitLoopState(t, loop, StateSleeping, time.Second)

	fired := make(chan IOEvents, 1)
	require.NoError(t, loop.RegisterFD(r, EventRead, func(events IOEvents) {
		buf := make([]byte, 16)
		_, _ = r.Read(buf)
		select {
		case fired <- events:
		default:
		}
	}))

	_, err = w.Write([]byte("ping"))
	require.NoError(t, err)

	select {
	case events := <-fired:
		assert.Equal(t, EventRead, events&EventRead)
	case <-time.After(5 * time.Second):
		t.Fatal("read callback was not invoked")
	}

	require.NoError(t, loop.UnregisterFD(r))
	require.NoError(t, loop.Shutdown(context.Background()))
	require.NoError(t, <-done)
}
