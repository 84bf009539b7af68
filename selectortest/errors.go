package selectortest

import (
	"errors"
)

var (
	// ErrNegativeDescriptor is returned by Allocator.FromValue for n < 0.
	ErrNegativeDescriptor = errors.New("selectortest: negative file descriptor")

	// ErrDescriptorOverflow is returned by Allocator.FromValue for
	// math.MaxInt, since no later value could exceed it.
	ErrDescriptorOverflow = errors.New("selectortest: file descriptor overflow")

	// ErrInvalidHandle is returned by Fd for values without a synthetic
	// identity, including plain integers.
	ErrInvalidHandle = errors.New("selectortest: not a synthetic handle")
)
