package ratelimit

import (
	"time"

	"go.uber.org/zap"
)

// Options holds cross-cutting limiter configuration.
type Options struct {
	Clock        Clock
	Logger       *zap.Logger
	StoreTimeout time.Duration
}

// Option configures a limiter.
type Option func(*Options)

// WithClock replaces the time source. Intended for tests.
func WithClock(c Clock) Option {
	return func(o *Options) { o.Clock = c }
}

// WithLogger sets the structured logger. Default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithStoreTimeout bounds each store round-trip. Keep this short relative
// to the request latency budget; a timeout is absorbed as a fail-open
// allow, not an error. Default: 50ms. Zero disables the bound.
func WithStoreTimeout(d time.Duration) Option {
	return func(o *Options) { o.StoreTimeout = d }
}

func defaultOptions() *Options {
	return &Options{
		Clock:        systemClock{},
		Logger:       zap.NewNop(),
		StoreTimeout: 50 * time.Millisecond,
	}
}

func applyOptions(opts []Option) *Options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}
