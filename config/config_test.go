package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goliatone/go-session/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `{"server": {"addr": ":9000"}}`)

	cfg, err := config.LoadFile(context.Background(), path, true)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.GetServer().Addr)
	assert.Equal(t, "sqlite", cfg.GetPersistence().GetDialect())
	assert.Equal(t, 5, cfg.GetLocal().MaxLoginAttempts)
	assert.Equal(t, 24*time.Hour, cfg.GetLocal().GetLoginCooldown())
	assert.True(t, cfg.GetFeatures().Signup)
}

func TestLoadFileMissingOptional(t *testing.T) {
	cfg, err := config.LoadFile(context.Background(), filepath.Join(t.TempDir(), "missing.json"), false)
	require.NoError(t, err)
	assert.Equal(t, config.Defaults().Server.Addr, cfg.Server.Addr)
}

func TestLoadFileMissingRequired(t *testing.T) {
	_, err := config.LoadFile(context.Background(), filepath.Join(t.TempDir(), "missing.json"), true)
	require.Error(t, err)
}

func TestLoadUsesEnvironment(t *testing.T) {
	path := writeConfig(t, `{"oidc": {"enabled": true}}`)
	t.Setenv(config.EnvConfigPath, path)
	t.Setenv("APP_OIDC_CLIENT_ID", "client-from-env")
	t.Setenv("APP_SERVER_ADDR", ":7000")

	cfg, err := config.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "client-from-env", cfg.OIDC.ClientID)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, 5*time.Minute, cfg.OIDC.GetFlowTimeout())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "unknown driver", mutate: func(c *config.Config) { c.Persistence.Driver = "oracle" }},
		{name: "bad duration", mutate: func(c *config.Config) { c.Session.ReadyWaitExpression = "soon" }},
		{name: "oidc without client id", mutate: func(c *config.Config) { c.OIDC.Enabled = true }},
		{name: "mirror without base url", mutate: func(c *config.Config) { c.Mirror.BaseURL = "" }},
		{name: "hash cost too low", mutate: func(c *config.Config) { c.Local.HashCost = 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Defaults()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDefaultsAreValid(t *testing.T) {
	require.NoError(t, config.Defaults().Validate())
}

func TestPersistenceDriver(t *testing.T) {
	p := config.Persistence{Driver: "postgres"}
	assert.Equal(t, "postgres", p.GetDriver())
	assert.Equal(t, "postgres", p.GetDialect())

	p.Driver = "sqlite"
	assert.Equal(t, "sqlite", p.GetDialect())
	assert.NotEqual(t, "postgres", p.GetDriver())
}
