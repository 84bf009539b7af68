package selectortest_test

import (
	"context"
	"fmt"

	"github.com/joeycumines/go-iomock/eventloop"
	"github.com/joeycumines/go-iomock/selectortest"
)

func ExampleSetReadReady() {
	loop, err := eventloop.New(eventloop.WithSelector(selectortest.NewSelector(nil)))
	if err != nil {
		panic(err)
	}
	defer loop.Close()

	conn := selectortest.NewSocketMock(nil)
	conn.OnRead([]byte("data"))

	if err := loop.RegisterFD(conn, eventloop.EventRead, func(eventloop.IOEvents) {
		buf := make([]byte, 1024)
		n, _ := conn.Read(buf)
		fmt.Printf("received: %s\n", buf[:n])
	}); err != nil {
		panic(err)
	}

	if err := selectortest.SetReadReady(conn, loop); err != nil {
		panic(err)
	}
	fmt.Println("injected")

	_ = loop.RunOnce(context.Background())

	//output:
	//injected
	//received: data
}

func ExampleFileDescriptor() {
	var alloc selectortest.Allocator
	a := selectortest.NewFileMock(&alloc)
	b := selectortest.NewFileMock(&alloc)

	fmt.Println(a.FileDescriptor(), b.FileDescriptor())
	fmt.Println(selectortest.IsFileMock(a), selectortest.IsFileMock(3))

	//output:
	//FileDescriptor(0) FileDescriptor(1)
	//true false
}
