package local

import (
	"time"

	session "github.com/goliatone/go-session"
)

const (
	// DefaultMaxLoginAttempts is the number of failed logins tolerated
	// inside the cooldown window.
	DefaultMaxLoginAttempts = 5
	// DefaultCoolDownPeriod is the window failed logins are counted in.
	DefaultCoolDownPeriod = 24 * time.Hour
	// DefaultResetTTL is how long a reset link stays valid.
	DefaultResetTTL = time.Hour
)

// Option configures a Provider.
type Option func(*options)

type options struct {
	logger         session.Logger
	loggerProvider session.LoggerProvider
	tokens         TokenStore
	signingKey     []byte
	tokenIssuer    string
	tokenTTL       time.Duration
	federator      Federator
	linking        LinkingPolicy
	mailer         Mailer
	now            func() time.Time
	hashCost       int
	maxAttempts    int
	coolDown       time.Duration
	resetTTL       time.Duration
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

// WithTokenStore persists the sign-in token so the principal survives restarts.
func WithTokenStore(store TokenStore) Option {
	return func(o *options) {
		if store != nil {
			o.tokens = store
		}
	}
}

// WithSigningKey sets the HS256 key for sign-in tokens. Without it a random
// key is generated and stored tokens do not survive a restart.
func WithSigningKey(key []byte) Option {
	return func(o *options) {
		if len(key) > 0 {
			o.signingKey = key
		}
	}
}

func WithTokenIssuer(issuer string) Option {
	return func(o *options) {
		o.tokenIssuer = issuer
	}
}

func WithTokenTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.tokenTTL = ttl
		}
	}
}

// WithFederator enables FederatedLogin.
func WithFederator(federator Federator) Option {
	return func(o *options) {
		o.federator = federator
	}
}

// WithLinkingPolicy sets how federated profiles are matched to local
// accounts. The default is PolicyAutoCreate.
func WithLinkingPolicy(policy LinkingPolicy) Option {
	return func(o *options) {
		o.linking = policy
	}
}

// WithMailer sets the password reset mail hook.
func WithMailer(mailer Mailer) Option {
	return func(o *options) {
		if mailer != nil {
			o.mailer = mailer
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithHashCost sets the bcrypt cost for new password hashes.
func WithHashCost(cost int) Option {
	return func(o *options) {
		o.hashCost = cost
	}
}

// WithLoginCooldown limits failed logins to maxAttempts per window.
func WithLoginCooldown(maxAttempts int, window time.Duration) Option {
	return func(o *options) {
		if maxAttempts > 0 {
			o.maxAttempts = maxAttempts
		}
		if window > 0 {
			o.coolDown = window
		}
	}
}

func WithResetTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.resetTTL = ttl
		}
	}
}

func buildOptions(opts ...Option) options {
	o := options{
		now:         time.Now,
		hashCost:    defaultHashCost(),
		maxAttempts: DefaultMaxLoginAttempts,
		coolDown:    DefaultCoolDownPeriod,
		resetTTL:    DefaultResetTTL,
		tokenIssuer: DefaultTokenIssuer,
		tokenTTL:    DefaultTokenTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
