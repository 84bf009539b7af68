//go:build linux

package eventloop

import (
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// epollSelector manages I/O event registration using epoll (Linux).
//
// Registration methods are safe for concurrent use (fdMu), while Select must
// only be called from one goroutine at a time, as it owns eventBuf.
type epollSelector struct { // betteralign:ignore
	eventBuf    [256]unix.EpollEvent // Preallocated, owned by Select
	table       fdTable              // Protected by fdMu
	fdMu        sync.RWMutex
	epfd        int
	wakeFD      int // eventfd, never exposed as a key
	wakePending atomic.Uint32
	closed      atomic.Bool
}

var _ Waker = (*epollSelector)(nil)

// NewPollSelector returns the platform-native Selector (epoll on Linux).
func NewPollSelector() (Selector, error) {
	return newEpollSelector()
}

func newEpollSelector() (*epollSelector, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	wakeFD, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFD)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFD, &ev); err != nil {
		_ = unix.Close(wakeFD)
		_ = unix.Close(epfd)
		return nil, err
	}

	return &epollSelector{epfd: epfd, wakeFD: wakeFD}, nil
}

// Register registers a file object for I/O event monitoring.
// THREAD SAFE: Uses fdMu for table access.
func (p *epollSelector) Register(fileObj any, events IOEvents, data any) (*SelectorKey, error) {
	if p.closed.Load() {
		return nil, ErrPollerClosed
	}
	if err := ValidateEvents(events); err != nil {
		return nil, err
	}
	fd, err := FileObjectFD(fileObj)
	if err != nil {
		return nil, err
	}

	key := &SelectorKey{FileObj: fileObj, FD: fd, Events: events, Data: data}

	p.fdMu.Lock()
	defer p.fdMu.Unlock()

	if !p.table.put(fd, key) {
		return nil, ErrFDAlreadyRegistered
	}

	ev := unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		p.table.del(fd) // Rollback
		return nil, err
	}
	return key, nil
}

// Unregister removes a file object from monitoring.
//
// Errors from the kernel are ignored, as the descriptor may have been closed
// since it was registered.
func (p *epollSelector) Unregister(fileObj any) (*SelectorKey, error) {
	if p.closed.Load() {
		return nil, ErrPollerClosed
	}
	fd, err := FileObjectFD(fileObj)
	if err != nil {
		return nil, err
	}

	p.fdMu.Lock()
	defer p.fdMu.Unlock()

	key := p.table.del(fd)
	if key == nil {
		return nil, ErrFDNotRegistered
	}
	_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	return key, nil
}

// Modify updates the events and data for a registration.
func (p *epollSelector) Modify(fileObj any, events IOEvents, data any) (*SelectorKey, error) {
	if p.closed.Load() {
		return nil, ErrPollerClosed
	}
	if err := ValidateEvents(events); err != nil {
		return nil, err
	}
	fd, err := FileObjectFD(fileObj)
	if err != nil {
		return nil, err
	}

	p.fdMu.Lock()
	defer p.fdMu.Unlock()

	old := p.table.get(fd)
	if old == nil {
		return nil, ErrFDNotRegistered
	}

	if old.Events != events {
		ev := unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
		if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
			return nil, err
		}
	}

	key := &SelectorKey{FileObj: fileObj, FD: fd, Events: events, Data: data}
	p.table.replace(fd, key)
	return key, nil
}

// GetKey returns the registration for fileObj.
func (p *epollSelector) GetKey(fileObj any) (*SelectorKey, error) {
	fd, err := FileObjectFD(fileObj)
	if err != nil {
		return nil, err
	}
	p.fdMu.RLock()
	key := p.table.get(fd)
	p.fdMu.RUnlock()
	if key == nil {
		return nil, ErrFDNotRegistered
	}
	return key, nil
}

// Keys returns a snapshot of all registrations.
func (p *epollSelector) Keys() []*SelectorKey {
	p.fdMu.RLock()
	defer p.fdMu.RUnlock()
	return p.table.snapshot()
}

// Select polls for I/O events.
// PERFORMANCE: No lock during the syscall, keys are resolved under RLock.
func (p *epollSelector) Select(timeout time.Duration) ([]Ready, error) {
	if p.closed.Load() {
		return nil, ErrPollerClosed
	}

	n, err := unix.EpollWait(p.epfd, p.eventBuf[:], timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	var ready []Ready
	p.fdMu.RLock()
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Fd)
		if fd == p.wakeFD {
			p.drainWake()
			continue
		}
		if key := p.table.get(fd); key != nil {
			ready = append(ready, Ready{Key: key, Events: epollToEvents(p.eventBuf[i].Events)})
		}
	}
	p.fdMu.RUnlock()

	return ready, nil
}

// Wake interrupts a blocked Select. Safe to call from any goroutine.
func (p *epollSelector) Wake() error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	if !p.wakePending.CompareAndSwap(0, 1) {
		return nil
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(p.wakeFD, buf[:]); err != nil {
		p.wakePending.Store(0)
		return err
	}
	return nil
}

// drainWake resets the eventfd counter.
func (p *epollSelector) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(p.wakeFD, buf[:]); err != nil {
			break
		}
	}
	p.wakePending.Store(0)
}

// Close closes the epoll instance. Subsequent calls return nil.
func (p *epollSelector) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.fdMu.Lock()
	p.table.reset()
	p.fdMu.Unlock()
	return errors.Join(unix.Close(p.epfd), unix.Close(p.wakeFD))
}

// eventsToEpoll converts IOEvents to epoll event flags.
func eventsToEpoll(events IOEvents) uint32 {
	var epollEvents uint32
	if events&EventRead != 0 {
		epollEvents |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		epollEvents |= unix.EPOLLOUT
	}
	return epollEvents
}

// epollToEvents converts epoll event flags to IOEvents.
func epollToEvents(epollEvents uint32) IOEvents {
	var events IOEvents
	if epollEvents&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if epollEvents&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if epollEvents&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if epollEvents&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}
