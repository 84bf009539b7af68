// Package selectortest provides synthetic I/O handles, and a selector that
// multiplexes them alongside real file objects, for testing code driven by
// an [eventloop.Loop].
//
// A [FileMock] (or [SocketMock], [SSLSocketMock]) carries a synthetic
// [FileDescriptor], distinct from any real descriptor of the same value. A
// [Selector] registers synthetic handles locally, forwarding everything
// else to a real backend selector, and [SetReadReady] / [SetWriteReady]
// inject readiness for any registered object, from any goroutine:
//
//	sel, err := selectortest.Install(loop)
//	if err != nil {
//	    t.Fatal(err)
//	}
//
//	conn := selectortest.NewSocketMock(nil)
//	conn.OnRead([]byte("data"))
//
//	_ = loop.RegisterFD(conn, eventloop.EventRead, func(eventloop.IOEvents) {
//	    buf := make([]byte, 1024)
//	    n, _ := conn.Read(buf)
//	    fmt.Printf("received: %s\n", buf[:n])
//	})
//
//	_ = selectortest.SetReadReady(conn, loop)
//	_ = loop.RunOnce(ctx) // prints received: data
//
// Injected readiness is always delivered by a later loop tick, never
// synchronously, and is dropped if the object is no longer registered by
// then.
package selectortest
