package guard

import (
	"time"

	session "github.com/goliatone/go-session"
)

// Option customizes guard construction.
type Option func(*options)

type options struct {
	logger         session.Logger
	loggerProvider session.LoggerProvider
	now            func() time.Time
}

// WithLogger overrides the guard logger.
func WithLogger(logger session.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLoggerProvider resolves the "guard" logger from provider.
func WithLoggerProvider(provider session.LoggerProvider) Option {
	return func(o *options) {
		if provider != nil {
			o.loggerProvider = provider
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts ...Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
