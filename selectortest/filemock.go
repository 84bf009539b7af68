package selectortest

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/stretchr/testify/mock"
)

// Identifier is implemented by synthetic handles.
type Identifier interface {
	FileDescriptor() FileDescriptor
}

// FileMock mocks a file-like object, recording calls via [mock.Mock].
//
// Every FileMock has its own FileDescriptor, returned by the recorded
// FileDescriptor method, which is pre-configured (as optional) by
// NewFileMock. Other methods must be configured with On, as usual. Read
// and Write also accept a func([]byte) (int, error) as their first return
// value, which is called with the caller's buffer (see OnRead).
type FileMock struct {
	mock.Mock
}

var (
	_ Identifier         = (*FileMock)(nil)
	_ io.ReadWriteCloser = (*FileMock)(nil)
)

// NewFileMock returns a FileMock with a fresh identity from alloc, or
// from DefaultAllocator if alloc is nil.
func NewFileMock(alloc *Allocator) *FileMock {
	m := &FileMock{}
	m.init(alloc)
	return m
}

func (m *FileMock) init(alloc *Allocator) FileDescriptor {
	if alloc == nil {
		alloc = DefaultAllocator()
	}
	fd := alloc.Allocate()
	m.On("FileDescriptor").Return(fd).Maybe()
	return fd
}

func (m *FileMock) FileDescriptor() FileDescriptor {
	args := m.Called()
	return args.Get(0).(FileDescriptor)
}

func (m *FileMock) Read(p []byte) (int, error) {
	args := m.Called(p)
	if fn, ok := args.Get(0).(func([]byte) (int, error)); ok {
		return fn(p)
	}
	return args.Int(0), args.Error(1)
}

func (m *FileMock) Write(p []byte) (int, error) {
	args := m.Called(p)
	if fn, ok := args.Get(0).(func([]byte) (int, error)); ok {
		return fn(p)
	}
	return args.Int(0), args.Error(1)
}

func (m *FileMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

// OnRead configures the next Read to copy data into the caller's buffer.
// Empty data reads as io.EOF. The call is not repeated, chain further
// OnRead calls for subsequent reads.
func (m *FileMock) OnRead(data []byte) *mock.Call {
	return m.On("Read", mock.Anything).
		Return(func(p []byte) (int, error) {
			if len(data) == 0 {
				return 0, io.EOF
			}
			return copy(p, data), nil
		}, nil).
		Once()
}

// Addr is the net.Addr of a SocketMock.
type Addr struct {
	FD FileDescriptor
}

func (Addr) Network() string { return "mock" }

func (a Addr) String() string { return fmt.Sprintf("mock:%d", int(a.FD)) }

// SocketMock mocks a connected socket. LocalAddr and RemoteAddr are
// pre-configured (as optional) to return an Addr carrying the mock's
// descriptor, the remaining net.Conn methods must be configured with On.
type SocketMock struct {
	FileMock
}

var _ net.Conn = (*SocketMock)(nil)

// NewSocketMock returns a SocketMock with a fresh identity from alloc, or
// from DefaultAllocator if alloc is nil.
func NewSocketMock(alloc *Allocator) *SocketMock {
	m := &SocketMock{}
	m.init(alloc)
	return m
}

func (m *SocketMock) init(alloc *Allocator) FileDescriptor {
	fd := m.FileMock.init(alloc)
	m.On("LocalAddr").Return(Addr{FD: fd}).Maybe()
	m.On("RemoteAddr").Return(Addr{FD: fd}).Maybe()
	return fd
}

func (m *SocketMock) LocalAddr() net.Addr {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(net.Addr)
}

func (m *SocketMock) RemoteAddr() net.Addr {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(net.Addr)
}

func (m *SocketMock) SetDeadline(t time.Time) error {
	args := m.Called(t)
	return args.Error(0)
}

func (m *SocketMock) SetReadDeadline(t time.Time) error {
	args := m.Called(t)
	return args.Error(0)
}

func (m *SocketMock) SetWriteDeadline(t time.Time) error {
	args := m.Called(t)
	return args.Error(0)
}

// SSLSocketMock mocks a TLS connection, see SocketMock.
type SSLSocketMock struct {
	SocketMock
}

// NewSSLSocketMock returns an SSLSocketMock with a fresh identity from
// alloc, or from DefaultAllocator if alloc is nil.
func NewSSLSocketMock(alloc *Allocator) *SSLSocketMock {
	m := &SSLSocketMock{}
	m.init(alloc)
	return m
}

func (m *SSLSocketMock) Handshake() error {
	args := m.Called()
	return args.Error(0)
}

func (m *SSLSocketMock) HandshakeContext(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *SSLSocketMock) ConnectionState() tls.ConnectionState {
	args := m.Called()
	if args.Get(0) == nil {
		return tls.ConnectionState{}
	}
	return args.Get(0).(tls.ConnectionState)
}

// IsFileMock reports whether obj is a FileDescriptor, or an Identifier
// whose FileDescriptor method succeeds. A panicking FileDescriptor method is
// reported as false.
//
// A mock bound to a test with mock.Mock.Test does not panic on unexpected
// calls, it fails the test via t.FailNow, which exits the calling goroutine.
// Such a mock must have FileDescriptor configured (as NewFileMock does)
// before it is passed to IsFileMock, Fd, or a Selector.
func IsFileMock(obj any) bool {
	_, err := identify(obj)
	return err == nil
}

// Fd returns the synthetic identity of obj, which must be a FileDescriptor
// or an Identifier, otherwise ErrInvalidHandle. Plain integers are
// rejected.
func Fd(obj any) (FileDescriptor, error) {
	return identify(obj)
}

func identify(obj any) (fd FileDescriptor, err error) {
	switch v := obj.(type) {
	case FileDescriptor:
		return v, nil
	case Identifier:
		defer func() {
			if r := recover(); r != nil {
				if e, ok := r.(error); ok {
					err = fmt.Errorf("%w: %w", ErrInvalidHandle, e)
				} else {
					err = fmt.Errorf("%w: %v", ErrInvalidHandle, r)
				}
			}
		}()
		return v.FileDescriptor(), nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrInvalidHandle, obj)
	}
}
