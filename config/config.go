package config

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
)

const (
	// EnvConfigPath overrides the config file location.
	EnvConfigPath = "APP_CONFIG"
	// DefaultPath is read when EnvConfigPath is not set.
	DefaultPath = "config/app.json"
)

// envOverrides maps environment variables onto dotted config keys.
var envOverrides = map[string]string{
	"APP_SERVER_ADDR":        "server.addr",
	"APP_DATABASE_DRIVER":    "persistence.driver",
	"APP_DATABASE_DSN":       "persistence.server",
	"APP_SIGNING_KEY":        "local.signing_key",
	"APP_TOKEN_FILE":         "local.token_file",
	"APP_OIDC_CLIENT_ID":     "oidc.client_id",
	"APP_OIDC_CLIENT_SECRET": "oidc.client_secret",
	"APP_MIRROR_BASE_URL":    "mirror.base_url",
}

type Config struct {
	App         App         `koanf:"app" mapstructure:"app" json:"app"`
	Server      Server      `koanf:"server" mapstructure:"server" json:"server"`
	Persistence Persistence `koanf:"persistence" mapstructure:"persistence" json:"persistence"`
	Session     Session     `koanf:"session" mapstructure:"session" json:"session"`
	Local       Local       `koanf:"local" mapstructure:"local" json:"local"`
	OIDC        OIDC        `koanf:"oidc" mapstructure:"oidc" json:"oidc"`
	Mirror      Mirror      `koanf:"mirror" mapstructure:"mirror" json:"mirror"`
	Features    Features    `koanf:"features" mapstructure:"features" json:"features"`
}

type App struct {
	Name  string `koanf:"name" mapstructure:"name" json:"name"`
	Debug bool   `koanf:"debug" mapstructure:"debug" json:"debug"`
}

type Server struct {
	Addr                      string `koanf:"addr" mapstructure:"addr" json:"addr"`
	ShutdownTimeoutExpression string `koanf:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`
	// ServeAccounts mounts POST /users on this server so the mirror can
	// target the same process.
	ServeAccounts bool `koanf:"serve_accounts" mapstructure:"serve_accounts" json:"serve_accounts"`
}

type Persistence struct {
	Debug                 bool   `koanf:"debug" mapstructure:"debug" json:"debug"`
	Driver                string `koanf:"driver" mapstructure:"driver" json:"driver"`
	Server                string `koanf:"server" mapstructure:"server" json:"server"`
	PingTimeoutExpression string `koanf:"ping_timeout" mapstructure:"ping_timeout" json:"ping_timeout"`
	OtelIdentifier        string `koanf:"otel_identifier" mapstructure:"otel_identifier" json:"otel_identifier"`
}

type Session struct {
	LoginPath           string `koanf:"login_path" mapstructure:"login_path" json:"login_path"`
	ReadyWaitExpression string `koanf:"ready_wait" mapstructure:"ready_wait" json:"ready_wait"`
}

type Local struct {
	TokenFile               string `koanf:"token_file" mapstructure:"token_file" json:"token_file"`
	SigningKey              string `koanf:"signing_key" mapstructure:"signing_key" json:"signing_key"`
	TokenIssuer             string `koanf:"token_issuer" mapstructure:"token_issuer" json:"token_issuer"`
	TokenTTLExpression      string `koanf:"token_ttl" mapstructure:"token_ttl" json:"token_ttl"`
	HashCost                int    `koanf:"hash_cost" mapstructure:"hash_cost" json:"hash_cost"`
	MaxLoginAttempts        int    `koanf:"max_login_attempts" mapstructure:"max_login_attempts" json:"max_login_attempts"`
	LoginCooldownExpression string `koanf:"login_cooldown" mapstructure:"login_cooldown" json:"login_cooldown"`
	ResetTTLExpression      string `koanf:"reset_ttl" mapstructure:"reset_ttl" json:"reset_ttl"`
	ResetLinkPath           string `koanf:"reset_link_path" mapstructure:"reset_link_path" json:"reset_link_path"`
}

type OIDC struct {
	Enabled               bool     `koanf:"enabled" mapstructure:"enabled" json:"enabled"`
	Issuer                string   `koanf:"issuer" mapstructure:"issuer" json:"issuer"`
	ClientID              string   `koanf:"client_id" mapstructure:"client_id" json:"client_id"`
	ClientSecret          string   `koanf:"client_secret" mapstructure:"client_secret" json:"client_secret"`
	Scopes                []string `koanf:"scopes" mapstructure:"scopes" json:"scopes"`
	ProviderName          string   `koanf:"provider_name" mapstructure:"provider_name" json:"provider_name"`
	ListenAddr            string   `koanf:"listen_addr" mapstructure:"listen_addr" json:"listen_addr"`
	FlowTimeoutExpression string   `koanf:"flow_timeout" mapstructure:"flow_timeout" json:"flow_timeout"`
}

type Mirror struct {
	Enabled           bool   `koanf:"enabled" mapstructure:"enabled" json:"enabled"`
	BaseURL           string `koanf:"base_url" mapstructure:"base_url" json:"base_url"`
	Path              string `koanf:"path" mapstructure:"path" json:"path"`
	TimeoutExpression string `koanf:"timeout" mapstructure:"timeout" json:"timeout"`
	RetryAttempts     int    `koanf:"retry_attempts" mapstructure:"retry_attempts" json:"retry_attempts"`
}

type Features struct {
	Signup                bool `koanf:"signup" mapstructure:"signup" json:"signup"`
	PasswordReset         bool `koanf:"password_reset" mapstructure:"password_reset" json:"password_reset"`
	PasswordResetFinalize bool `koanf:"password_reset_finalize" mapstructure:"password_reset_finalize" json:"password_reset_finalize"`
}

// Defaults returns a config that runs locally against SQLite.
func Defaults() Config {
	return Config{
		App: App{Name: "go-session"},
		Server: Server{
			Addr:                      ":8572",
			ShutdownTimeoutExpression: "10s",
			ServeAccounts:             true,
		},
		Persistence: Persistence{
			Driver:                "sqlite",
			Server:                "file:go-session.db?cache=shared",
			PingTimeoutExpression: "5s",
			OtelIdentifier:        "go-session",
		},
		Session: Session{
			LoginPath:           "/login",
			ReadyWaitExpression: "500ms",
		},
		Local: Local{
			TokenFile:               ".session/token",
			TokenIssuer:             "go-session",
			TokenTTLExpression:      "336h",
			HashCost:                14,
			MaxLoginAttempts:        5,
			LoginCooldownExpression: "24h",
			ResetTTLExpression:      "1h",
			ResetLinkPath:           "/password-reset/confirm",
		},
		OIDC: OIDC{
			Issuer:                "https://accounts.google.com",
			ProviderName:          "google.com",
			ListenAddr:            "127.0.0.1:0",
			FlowTimeoutExpression: "5m",
		},
		Mirror: Mirror{
			Enabled:           true,
			BaseURL:           "http://localhost:8572",
			Path:              "/users",
			TimeoutExpression: "10s",
			RetryAttempts:     1,
		},
		Features: Features{
			Signup:                true,
			PasswordReset:         true,
			PasswordResetFinalize: true,
		},
	}
}

// Load reads the file named by APP_CONFIG (or DefaultPath), applies the
// environment overrides and validates the result. A missing default file
// is not an error.
func Load(ctx context.Context) (Config, error) {
	path := os.Getenv(EnvConfigPath)
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	return LoadFile(ctx, path, explicit)
}

// LoadFile builds the config from path. When required is false a missing
// file yields the defaults.
func LoadFile(ctx context.Context, path string, required bool) (Config, error) {
	raw, err := readRaw(path, required)
	if err != nil {
		return Config{}, err
	}
	return Build(ctx, raw)
}

// Build decodes raw over the defaults after applying env overrides.
func Build(_ context.Context, raw map[string]any) (Config, error) {
	if raw == nil {
		raw = map[string]any{}
	}
	applyEnv(raw)

	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(Defaults()),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid configuration").
			WithTextCode("CONFIG_INVALID")
	}
	return cfg, nil
}

func readRaw(path string, required bool) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return map[string]any{}, nil
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryNotFound, "failed to read config file").
			WithTextCode("CONFIG_READ_FAILED").
			WithMetadata(map[string]any{"path": path})
	}

	raw := map[string]any{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse config file").
			WithTextCode("CONFIG_PARSE_FAILED").
			WithMetadata(map[string]any{"path": path})
	}
	return raw, nil
}

func applyEnv(raw map[string]any) {
	for env, key := range envOverrides {
		value, ok := os.LookupEnv(env)
		if !ok {
			continue
		}
		setPath(raw, strings.Split(key, "."), value)
	}
}

func setPath(raw map[string]any, keys []string, value any) {
	for _, key := range keys[:len(keys)-1] {
		next, ok := raw[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			raw[key] = next
		}
		raw = next
	}
	raw[keys[len(keys)-1]] = value
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Server),
		validation.Field(&c.Persistence),
		validation.Field(&c.Session),
		validation.Field(&c.Local),
		validation.Field(&c.OIDC),
		validation.Field(&c.Mirror),
	)
}

func (s Server) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Addr, validation.Required),
		validation.Field(&s.ShutdownTimeoutExpression, validation.By(isDuration)),
	)
}

func (p Persistence) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Driver, validation.Required, validation.In("sqlite", "postgres")),
		validation.Field(&p.Server, validation.Required),
		validation.Field(&p.PingTimeoutExpression, validation.By(isDuration)),
	)
}

func (s Session) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.LoginPath, validation.Required),
		validation.Field(&s.ReadyWaitExpression, validation.By(isDuration)),
	)
}

func (l Local) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.TokenTTLExpression, validation.By(isDuration)),
		validation.Field(&l.LoginCooldownExpression, validation.By(isDuration)),
		validation.Field(&l.ResetTTLExpression, validation.By(isDuration)),
		validation.Field(&l.HashCost, validation.Min(4), validation.Max(31)),
		validation.Field(&l.MaxLoginAttempts, validation.Min(0)),
	)
}

func (o OIDC) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.ClientID, validation.When(o.Enabled, validation.Required)),
		validation.Field(&o.Issuer, validation.When(o.Enabled, validation.Required, is.URL)),
		validation.Field(&o.FlowTimeoutExpression, validation.By(isDuration)),
	)
}

func (m Mirror) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.BaseURL, validation.When(m.Enabled, validation.Required, is.URL)),
		validation.Field(&m.TimeoutExpression, validation.By(isDuration)),
		validation.Field(&m.RetryAttempts, validation.Min(0)),
	)
}

func isDuration(value any) error {
	expr, _ := value.(string)
	if expr == "" {
		return nil
	}
	if _, err := time.ParseDuration(expr); err != nil {
		return validation.NewError("validation_is_duration", "must be a duration such as 10s or 5m")
	}
	return nil
}
