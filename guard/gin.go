package guard

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	session "github.com/goliatone/go-session"
)

// GinConfig configures the gin adapter.
type GinConfig struct {
	// SkipPaths are URL path prefixes that bypass the guard.
	SkipPaths []string
	// LoginPath is the redirect target for unauthorized requests.
	LoginPath string
	// ContextKey is the gin key holding the *session.Identity.
	ContextKey string
	// ReadyWait mirrors Config.ReadyWait.
	ReadyWait time.Duration
}

// Gin protects gin routes with the same decisions as Middleware.
func (g *Guard) Gin(cfg GinConfig) gin.HandlerFunc {
	base := GetDefaultConfig(Config{
		LoginPath:  cfg.LoginPath,
		ContextKey: cfg.ContextKey,
		ReadyWait:  cfg.ReadyWait,
	})

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, skip := range cfg.SkipPaths {
			if strings.HasPrefix(path, skip) {
				c.Next()
				return
			}
		}

		decision, st := g.Resolve(c.Request.Context(), base.ReadyWait)
		switch decision {
		case Loading:
			c.AbortWithStatusJSON(http.StatusAccepted, gin.H{
				"status": session.StatusLoading.String(),
			})
			return
		case Unauthorized:
			c.Redirect(RedirectStatus(c.Request.Method), base.LoginPath)
			c.Abort()
			return
		}

		c.Set(base.ContextKey, st.Identity)
		c.Request = c.Request.WithContext(session.WithIdentity(c.Request.Context(), st.Identity))
		c.Next()
	}
}
