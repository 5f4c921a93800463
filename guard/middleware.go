package guard

import (
	"net/http"
	"time"

	"github.com/goliatone/go-router"
	session "github.com/goliatone/go-session"
)

const (
	DefaultLoginPath  = "/login"
	DefaultContextKey = "session_identity"
)

// Config controls how protected routes respond to each decision.
type Config struct {
	// Filter skips the guard when it returns true.
	Filter func(router.Context) bool
	// LoginPath is the redirect target for unauthorized requests.
	LoginPath string
	// ContextKey is the locals key holding the *session.Identity.
	ContextKey string
	// ReadyWait lets a request wait for the first provider report before
	// the loading placeholder is rendered. Zero never waits.
	ReadyWait time.Duration
	// LoadingHandler renders the loading placeholder.
	LoadingHandler router.HandlerFunc
	// UnauthorizedHandler overrides the login redirect.
	UnauthorizedHandler router.HandlerFunc
}

// GetDefaultConfig fills the zero values of the first config provided.
func GetDefaultConfig(config ...Config) Config {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.LoginPath == "" {
		cfg.LoginPath = DefaultLoginPath
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}

	if cfg.LoadingHandler == nil {
		cfg.LoadingHandler = func(ctx router.Context) error {
			return ctx.JSON(http.StatusAccepted, map[string]string{
				"status": session.StatusLoading.String(),
			})
		}
	}

	if cfg.UnauthorizedHandler == nil {
		loginPath := cfg.LoginPath
		cfg.UnauthorizedHandler = func(ctx router.Context) error {
			return ctx.Redirect(loginPath, RedirectStatus(ctx.Method()))
		}
	}

	return cfg
}

// RedirectStatus picks the status used to replace the protected URL with
// the login entry point.
func RedirectStatus(method string) int {
	if method == http.MethodGet || method == http.MethodHead {
		return http.StatusFound
	}
	return http.StatusSeeOther
}

// Middleware protects go-router routes.
func (g *Guard) Middleware(config ...Config) router.MiddlewareFunc {
	cfg := GetDefaultConfig(config...)
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return ctx.Next()
			}

			decision, st := g.Resolve(ctx.Context(), cfg.ReadyWait)
			switch decision {
			case Loading:
				return cfg.LoadingHandler(ctx)
			case Unauthorized:
				g.logger.Debug("guard redirecting to login", "login_path", cfg.LoginPath)
				return cfg.UnauthorizedHandler(ctx)
			}

			ctx.Locals(cfg.ContextKey, st.Identity)
			ctx.SetContext(session.WithIdentity(ctx.Context(), st.Identity))

			return ctx.Next()
		}
	}
}

// IdentityFromLocals returns the identity stored by the middleware.
func IdentityFromLocals(ctx router.Context, key ...string) (*session.Identity, bool) {
	k := DefaultContextKey
	if len(key) > 0 && key[0] != "" {
		k = key[0]
	}
	identity, ok := ctx.Locals(k).(*session.Identity)
	return identity, ok && identity != nil
}
