package session

import "time"

// Option configures a Store, Commands or Manager.
type Option func(*options)

type options struct {
	logger         Logger
	loggerProvider LoggerProvider
	activity       ActivitySink
	now            func() time.Time
}

// WithLogger sets the logger used by the component.
func WithLogger(logger Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLoggerProvider sets the provider used to build named loggers.
func WithLoggerProvider(provider LoggerProvider) Option {
	return func(o *options) {
		if provider != nil {
			o.loggerProvider = provider
		}
	}
}

// WithActivitySink sets the sink that receives audit events.
func WithActivitySink(sink ActivitySink) Option {
	return func(o *options) {
		o.activity = normalizeActivitySink(sink)
	}
}

// WithClock overrides the clock used to stamp activity events.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts ...Option) options {
	o := options{
		activity: noopActivitySink{},
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

func (o options) resolveLogger(name string) (LoggerProvider, Logger) {
	return ResolveLogger(name, o.loggerProvider, o.logger)
}
