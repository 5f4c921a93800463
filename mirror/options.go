package mirror

import session "github.com/goliatone/go-session"

// Option customizes the mirror client.
type Option func(*options)

type options struct {
	logger         session.Logger
	loggerProvider session.LoggerProvider
}

func WithLogger(logger session.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithLoggerProvider(provider session.LoggerProvider) Option {
	return func(o *options) {
		if provider != nil {
			o.loggerProvider = provider
		}
	}
}

func buildOptions(opts ...Option) options {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
