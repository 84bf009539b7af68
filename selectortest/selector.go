package selectortest

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/joeycumines/go-iomock/eventloop"
	"github.com/joeycumines/logiface"
)

// Selector is an [eventloop.Selector] supporting synthetic handles.
//
// Synthetic handles (see IsFileMock) are always registered locally, and
// are never passed to the backend. Everything else is forwarded to the
// backend, if any, with the returned keys mirrored locally, so GetKey and
// Keys cover both. Without a backend, real file objects are registered
// locally as well, and Select reports nothing.
//
// Registrations are keyed by FileDescriptor for synthetic handles, and by
// int for real descriptors, so both may share a number.
//
// A Selector is not safe for concurrent use, it belongs to the loop
// goroutine. Wake is the exception.
type Selector struct {
	backend eventloop.Selector
	keys    map[any]*eventloop.SelectorKey
	logger  *logiface.Logger[logiface.Event]
	closed  bool
}

var (
	_ eventloop.Selector = (*Selector)(nil)
	_ eventloop.Waker    = (*Selector)(nil)
)

// NewSelector returns a Selector wrapping backend, which may be nil.
// Registrations already held by backend are mirrored.
func NewSelector(backend eventloop.Selector, opts ...Option) *Selector {
	cfg := resolveOptions(opts)
	s := &Selector{
		backend: backend,
		keys:    make(map[any]*eventloop.SelectorKey),
		logger:  cfg.logger,
	}
	s.mirror()
	return s
}

func (s *Selector) mirror() {
	if s.backend == nil {
		return
	}
	for _, key := range s.backend.Keys() {
		s.keys[key.FD] = key
	}
}

// Backend returns the wrapped selector, or nil.
func (s *Selector) Backend() eventloop.Selector {
	return s.backend
}

// lookup resolves the map key of fileObj, and its numeric descriptor. The
// error is always nil for synthetic handles.
func lookup(fileObj any) (id any, fd int, synthetic bool, err error) {
	if sfd, ierr := identify(fileObj); ierr == nil {
		return sfd, int(sfd), true, nil
	}
	fd, err = eventloop.FileObjectFD(fileObj)
	if err != nil {
		return nil, -1, false, err
	}
	return fd, fd, false, nil
}

// Register registers fileObj, see eventloop.Selector.
func (s *Selector) Register(fileObj any, events eventloop.IOEvents, data any) (*eventloop.SelectorKey, error) {
	if s.closed {
		return nil, eventloop.ErrPollerClosed
	}

	id, fd, synthetic, err := lookup(fileObj)
	if !synthetic && s.backend != nil {
		key, err := s.backend.Register(fileObj, events, data)
		if err != nil {
			return nil, err
		}
		s.keys[key.FD] = key
		s.logRoute("forwarded", "register", key)
		return key, nil
	}
	if err != nil {
		return nil, err
	}

	if err := eventloop.ValidateEvents(events); err != nil {
		return nil, err
	}
	if _, ok := s.keys[id]; ok {
		return nil, fmt.Errorf("%w: %v", eventloop.ErrFDAlreadyRegistered, id)
	}
	key := &eventloop.SelectorKey{FileObj: fileObj, FD: fd, Events: events, Data: data}
	s.keys[id] = key
	s.logRoute("local", "register", key)
	return key, nil
}

// Unregister unregisters fileObj, see eventloop.Selector.
func (s *Selector) Unregister(fileObj any) (*eventloop.SelectorKey, error) {
	if s.closed {
		return nil, eventloop.ErrPollerClosed
	}

	id, _, synthetic, err := lookup(fileObj)
	if !synthetic && s.backend != nil {
		key, err := s.backend.Unregister(fileObj)
		if err != nil {
			return nil, err
		}
		delete(s.keys, key.FD)
		s.logRoute("forwarded", "unregister", key)
		return key, nil
	}
	if err != nil {
		return nil, err
	}

	key, ok := s.keys[id]
	if !ok {
		return nil, fmt.Errorf("%w: %v", eventloop.ErrFDNotRegistered, id)
	}
	delete(s.keys, id)
	s.logRoute("local", "unregister", key)
	return key, nil
}

// Modify changes the registration of fileObj, see eventloop.Selector.
//
// For forwarded objects, the mirrored key is removed before the backend is
// called, and replaced by the key it returns. If the backend fails, but
// still holds a registration for fileObj, that registration is mirrored
// again.
func (s *Selector) Modify(fileObj any, events eventloop.IOEvents, data any) (*eventloop.SelectorKey, error) {
	if s.closed {
		return nil, eventloop.ErrPollerClosed
	}

	id, fd, synthetic, err := lookup(fileObj)
	if !synthetic && s.backend != nil {
		if err == nil {
			delete(s.keys, id)
		}
		key, err := s.backend.Modify(fileObj, events, data)
		if err != nil {
			if restored, gerr := s.backend.GetKey(fileObj); gerr == nil {
				s.keys[restored.FD] = restored
				s.logger.Warning().
					Int("fd", restored.FD).
					Err(err).
					Log("selectortest: backend modify failed, restored mirrored key")
			}
			return nil, err
		}
		s.keys[key.FD] = key
		s.logRoute("forwarded", "modify", key)
		return key, nil
	}
	if err != nil {
		return nil, err
	}

	old, ok := s.keys[id]
	if !ok {
		return nil, fmt.Errorf("%w: %v", eventloop.ErrFDNotRegistered, id)
	}
	if old.Events != events {
		if err := eventloop.ValidateEvents(events); err != nil {
			return nil, err
		}
	}
	key := &eventloop.SelectorKey{FileObj: fileObj, FD: fd, Events: events, Data: data}
	s.keys[id] = key
	s.logRoute("local", "modify", key)
	return key, nil
}

// Select forwards to the backend, or returns immediately with no events,
// if there is no backend. Synthetic handles are never reported, use
// SetReadReady or SetWriteReady.
func (s *Selector) Select(timeout time.Duration) ([]eventloop.Ready, error) {
	if s.closed {
		return nil, eventloop.ErrPollerClosed
	}
	if s.backend == nil {
		return nil, nil
	}
	return s.backend.Select(timeout)
}

// GetKey returns the registration of fileObj, synthetic or forwarded.
func (s *Selector) GetKey(fileObj any) (*eventloop.SelectorKey, error) {
	if s.closed {
		return nil, eventloop.ErrPollerClosed
	}
	id, _, _, err := lookup(fileObj)
	if err != nil {
		return nil, err
	}
	key, ok := s.keys[id]
	if !ok {
		return nil, fmt.Errorf("%w: %v", eventloop.ErrFDNotRegistered, id)
	}
	return key, nil
}

// Keys returns every registration, ordered by descriptor, with real
// descriptors before synthetic ones of the same number.
func (s *Selector) Keys() []*eventloop.SelectorKey {
	type entry struct {
		key       *eventloop.SelectorKey
		synthetic bool
	}
	entries := make([]entry, 0, len(s.keys))
	for id, key := range s.keys {
		_, synthetic := id.(FileDescriptor)
		entries = append(entries, entry{key, synthetic})
	}
	slices.SortFunc(entries, func(a, b entry) int {
		if c := cmp.Compare(a.key.FD, b.key.FD); c != 0 {
			return c
		}
		switch {
		case a.synthetic == b.synthetic:
			return 0
		case a.synthetic:
			return 1
		default:
			return -1
		}
	})
	keys := make([]*eventloop.SelectorKey, len(entries))
	for i, e := range entries {
		keys[i] = e.key
	}
	return keys
}

// Len returns the number of registrations.
func (s *Selector) Len() int {
	return len(s.keys)
}

// Close closes the backend, if any, then discards every registration,
// returning the error from the backend. Subsequent calls return nil.
func (s *Selector) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var err error
	if s.backend != nil {
		err = s.backend.Close()
	}
	clear(s.keys)
	return err
}

// Wake forwards to the backend, if it implements eventloop.Waker. Safe to
// call from any goroutine.
func (s *Selector) Wake() error {
	if w, ok := s.backend.(eventloop.Waker); ok {
		return w.Wake()
	}
	return nil
}

func (s *Selector) logRoute(route, op string, key *eventloop.SelectorKey) {
	s.logger.Debug().
		Str("route", route).
		Str("op", op).
		Int("fd", key.FD).
		Stringer("events", key.Events).
		Log("selectortest: " + op)
}
