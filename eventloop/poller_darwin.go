//go:build darwin

package eventloop

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// kqueueSelector manages I/O event registration using kqueue (Darwin).
//
// Registration methods are safe for concurrent use (fdMu), while Select must
// only be called from one goroutine at a time, as it owns eventBuf.
type kqueueSelector struct { // betteralign:ignore
	eventBuf    [256]unix.Kevent_t // Preallocated, owned by Select
	table       fdTable            // Protected by fdMu
	fdMu        sync.RWMutex
	kq          int
	wakeRead    int // self-pipe, never exposed as a key
	wakeWrite   int
	wakePending atomic.Uint32
	closed      atomic.Bool
}

var _ Waker = (*kqueueSelector)(nil)

// NewPollSelector returns the platform-native Selector (kqueue on Darwin).
func NewPollSelector() (Selector, error) {
	return newKqueueSelector()
}

func newKqueueSelector() (*kqueueSelector, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)

	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		_ = unix.Close(kq)
		return nil, err
	}
	cleanup := func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
		_ = unix.Close(kq)
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			cleanup()
			return nil, err
		}
	}

	if _, err := unix.Kevent(kq, eventsToKevents(fds[0], EventRead, unix.EV_ADD|unix.EV_ENABLE), nil, nil); err != nil {
		cleanup()
		return nil, err
	}

	return &kqueueSelector{kq: kq, wakeRead: fds[0], wakeWrite: fds[1]}, nil
}

// Register registers a file object for I/O event monitoring.
func (p *kqueueSelector) Register(fileObj any, events IOEvents, data any) (*SelectorKey, error) {
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

	// Hold lock across Kevent to prevent race with concurrent Unregister.
	p.fdMu.Lock()
	defer p.fdMu.Unlock()

	if !p.table.put(fd, key) {
		return nil, ErrFDAlreadyRegistered
	}
	if _, err := unix.Kevent(p.kq, eventsToKevents(fd, events, unix.EV_ADD|unix.EV_ENABLE), nil, nil); err != nil {
		p.table.del(fd) // Rollback
		return nil, err
	}
	return key, nil
}

// Unregister removes a file object from monitoring.
func (p *kqueueSelector) Unregister(fileObj any) (*SelectorKey, error) {
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
	_, _ = unix.Kevent(p.kq, eventsToKevents(fd, key.Events, unix.EV_DELETE), nil, nil) // Ignore errors on delete
	return key, nil
}

// Modify updates the events and data for a registration.
func (p *kqueueSelector) Modify(fileObj any, events IOEvents, data any) (*SelectorKey, error) {
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

	if removed := old.Events &^ events; removed != 0 {
		_, _ = unix.Kevent(p.kq, eventsToKevents(fd, removed, unix.EV_DELETE), nil, nil) // Ignore errors
	}
	if added := events &^ old.Events; added != 0 {
		if _, err := unix.Kevent(p.kq, eventsToKevents(fd, added, unix.EV_ADD|unix.EV_ENABLE), nil, nil); err != nil {
			return nil, err
		}
	}

	key := &SelectorKey{FileObj: fileObj, FD: fd, Events: events, Data: data}
	p.table.replace(fd, key)
	return key, nil
}

// GetKey returns the registration for fileObj.
func (p *kqueueSelector) GetKey(fileObj any) (*SelectorKey, error) {
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
func (p *kqueueSelector) Keys() []*SelectorKey {
	p.fdMu.RLock()
	defer p.fdMu.RUnlock()
	return p.table.snapshot()
}

// Select polls for I/O events. Read and write filters for the same
// descriptor are merged into a single Ready.
func (p *kqueueSelector) Select(timeout time.Duration) ([]Ready, error) {
	if p.closed.Load() {
		return nil, ErrPollerClosed
	}

	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(int64(timeout))
		ts = &t
	}

	n, err := unix.Kevent(p.kq, nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	var ready []Ready
	var index map[int]int
	p.fdMu.RLock()
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Ident)
		if fd == p.wakeRead {
			p.drainWake()
			continue
		}
		key := p.table.get(fd)
		if key == nil {
			continue
		}
		events := keventToEvents(&p.eventBuf[i])
		if j, ok := index[fd]; ok {
			ready[j].Events |= events
			continue
		}
		if index == nil {
			index = make(map[int]int)
		}
		index[fd] = len(ready)
		ready = append(ready, Ready{Key: key, Events: events})
	}
	p.fdMu.RUnlock()

	return ready, nil
}

// Wake interrupts a blocked Select. Safe to call from any goroutine.
func (p *kqueueSelector) Wake() error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	if !p.wakePending.CompareAndSwap(0, 1) {
		return nil
	}
	if _, err := unix.Write(p.wakeWrite, []byte{1}); err != nil {
		p.wakePending.Store(0)
		return err
	}
	return nil
}

func (p *kqueueSelector) drainWake() {
	var buf [64]byte
	for {
		if _, err := unix.Read(p.wakeRead, buf[:]); err != nil {
			break
		}
	}
	p.wakePending.Store(0)
}

// Close closes the kqueue instance. Subsequent calls return nil.
func (p *kqueueSelector) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.fdMu.Lock()
	p.table.reset()
	p.fdMu.Unlock()
	return errors.Join(unix.Close(p.kq), unix.Close(p.wakeRead), unix.Close(p.wakeWrite))
}

// eventsToKevents converts IOEvents to kqueue kevent structures.
func eventsToKevents(fd int, events IOEvents, flags uint16) []unix.Kevent_t {
	var kevents []unix.Kevent_t

	if events&EventRead != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_READ,
			Flags:  flags,
		})
	}

	if events&EventWrite != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_WRITE,
			Flags:  flags,
		})
	}

	return kevents
}

// keventToEvents converts kqueue event to IOEvents.
func keventToEvents(kev *unix.Kevent_t) IOEvents {
	var events IOEvents
	switch kev.Filter {
	case unix.EVFILT_READ:
		events |= EventRead
	case unix.EVFILT_WRITE:
		events |= EventWrite
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		events |= EventError
	}
	if kev.Flags&unix.EV_EOF != 0 {
		events |= EventHangup
	}
	return events
}
