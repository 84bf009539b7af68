package selectortest

import (
	"github.com/joeycumines/logiface"
)

type selectorOptions struct {
	logger    *logiface.Logger[logiface.Event]
	loggerSet bool
}

// Option configures a Selector.
type Option interface {
	applySelector(*selectorOptions)
}

type selectorOptionImpl struct {
	applySelectorFunc func(*selectorOptions)
}

func (o *selectorOptionImpl) applySelector(opts *selectorOptions) {
	o.applySelectorFunc(opts)
}

// WithLogger attaches a structured logger, used for debug level routing
// events. A nil logger disables logging. Install defaults to the logger of
// the loop.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &selectorOptionImpl{func(opts *selectorOptions) {
		opts.logger = logger
		opts.loggerSet = true
	}}
}

func resolveOptions(opts []Option) *selectorOptions {
	cfg := &selectorOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt.applySelector(cfg)
		}
	}
	return cfg
}
