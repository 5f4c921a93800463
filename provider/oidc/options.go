package oidc

import (
	"context"
	"sync"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	goerrors "github.com/goliatone/go-errors"
	session "github.com/goliatone/go-session"
)

// Option configures a Federator.
type Option func(*options)

type options struct {
	logger         session.Logger
	loggerProvider session.LoggerProvider
	opener         Opener
	keySet         gooidc.KeySet
	now            func() time.Time
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

// WithOpener sets how the authorization URL reaches the user.
func WithOpener(opener Opener) Option {
	return func(o *options) {
		o.opener = opener
	}
}

// WithKeySet verifies id tokens against keys instead of the issuer JWKS.
func WithKeySet(keySet gooidc.KeySet) Option {
	return func(o *options) {
		o.keySet = keySet
	}
}

// WithClock overrides the clock used for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
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

// LogOpener asks the user to open the URL through the log.
func LogOpener(logger session.Logger) Opener {
	return func(authURL string) error {
		if logger != nil {
			logger.Info("open this URL to continue signing in", "url", authURL)
		}
		return nil
	}
}

// Relay hands authorization URLs from running flows to whoever presents
// them, such as an HTTP handler answering the login request.
type Relay struct {
	mu      sync.Mutex
	latest  string
	waiters []chan string
}

func NewRelay() *Relay {
	return &Relay{}
}

// Open implements Opener.
func (r *Relay) Open(authURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.latest = authURL
	for _, w := range r.waiters {
		w <- authURL
	}
	r.waiters = nil
	return nil
}

// Latest returns the last URL opened.
func (r *Relay) Latest() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest
}

// Expect registers interest in the next URL. Call it before starting the
// flow so the URL cannot be missed.
func (r *Relay) Expect() <-chan string {
	ch := make(chan string, 1)
	r.mu.Lock()
	r.waiters = append(r.waiters, ch)
	r.mu.Unlock()
	return ch
}

// Next waits for the next URL opened after the call.
func (r *Relay) Next(ctx context.Context) (string, error) {
	select {
	case url := <-r.Expect():
		return url, nil
	case <-ctx.Done():
		return "", goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "no sign-in URL was produced")
	}
}
