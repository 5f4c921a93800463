package config

import (
	"strings"
	"time"

	"github.com/uptrace/bun/driver/sqliteshim"
)

func (c Config) GetApp() App                 { return c.App }
func (c Config) GetServer() Server           { return c.Server }
func (c Config) GetPersistence() Persistence { return c.Persistence }
func (c Config) GetSession() Session         { return c.Session }
func (c Config) GetLocal() Local             { return c.Local }
func (c Config) GetOIDC() OIDC               { return c.OIDC }
func (c Config) GetMirror() Mirror           { return c.Mirror }
func (c Config) GetFeatures() Features       { return c.Features }

func (s Server) GetShutdownTimeout() time.Duration {
	return parseDuration(s.ShutdownTimeoutExpression, 10*time.Second)
}

func (p Persistence) GetDebug() bool { return p.Debug }

// GetDriver returns the database/sql driver name for the configured dialect.
func (p Persistence) GetDriver() string {
	if p.GetDialect() == "postgres" {
		return "postgres"
	}
	return sqliteshim.ShimName
}

// GetDialect returns "postgres" or "sqlite".
func (p Persistence) GetDialect() string {
	switch strings.ToLower(strings.TrimSpace(p.Driver)) {
	case "postgres", "pg", "postgresql":
		return "postgres"
	default:
		return "sqlite"
	}
}

func (p Persistence) GetServer() string { return p.Server }

func (p Persistence) GetPingTimeout() time.Duration {
	return parseDuration(p.PingTimeoutExpression, 5*time.Second)
}

func (p Persistence) GetOtelIdentifier() string { return p.OtelIdentifier }

func (s Session) GetReadyWait() time.Duration {
	return parseDuration(s.ReadyWaitExpression, 0)
}

func (l Local) GetTokenTTL() time.Duration {
	return parseDuration(l.TokenTTLExpression, 0)
}

func (l Local) GetLoginCooldown() time.Duration {
	return parseDuration(l.LoginCooldownExpression, 0)
}

func (l Local) GetResetTTL() time.Duration {
	return parseDuration(l.ResetTTLExpression, 0)
}

func (o OIDC) GetFlowTimeout() time.Duration {
	return parseDuration(o.FlowTimeoutExpression, 0)
}

func (m Mirror) GetTimeout() time.Duration {
	return parseDuration(m.TimeoutExpression, 0)
}

func parseDuration(expr string, fallback time.Duration) time.Duration {
	if strings.TrimSpace(expr) == "" {
		return fallback
	}
	d, err := time.ParseDuration(expr)
	if err != nil {
		return fallback
	}
	return d
}
