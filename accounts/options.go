package accounts

import session "github.com/goliatone/go-session"

// Option customizes the accounts service and controller.
type Option func(*options)

type options struct {
	logger         session.Logger
	loggerProvider session.LoggerProvider
	debug          bool
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

// WithDebug dumps request payloads to the log.
func WithDebug(debug bool) Option {
	return func(o *options) {
		o.debug = debug
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
