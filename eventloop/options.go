// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"github.com/joeycumines/logiface"
)

// loopOptions holds configuration options for Loop creation.
type loopOptions struct {
	selector                Selector
	logger                  *logiface.Logger[logiface.Event]
	onOverload              func(error)
	strictMicrotaskOrdering bool
}

// --- Loop Options ---

// LoopOption configures a Loop instance.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

// loopOptionImpl implements LoopOption.
type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithSelector sets the Selector the loop polls for I/O readiness.
// The loop takes ownership, closing it when the loop terminates.
// By default, the platform-native selector from NewPollSelector is used.
func WithSelector(selector Selector) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if selector == nil {
			return ErrNilSelector
		}
		opts.selector = selector
		return nil
	}}
}

// WithLogger attaches a structured logger to the loop.
// A nil logger (the default) disables structured logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithStrictMicrotaskOrdering sets whether microtasks should be drained
// after each task execution for strict ordering.
// When enabled, microtasks are guaranteed to run after every task.
// When disabled (default), microtasks are drained in batches for better performance.
func WithStrictMicrotaskOrdering(enabled bool) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.strictMicrotaskOrdering = enabled
		return nil
	}}
}

// WithOnOverload sets a callback invoked (on the loop goroutine) with
// ErrLoopOverloaded, whenever external tasks remain after the per-tick budget.
func WithOnOverload(fn func(error)) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.onOverload = fn
		return nil
	}}
}

// resolveLoopOptions applies LoopOption instances to loopOptions.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
