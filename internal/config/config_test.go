package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_FileValues(t *testing.T) {
	path := writeConfig(t, `
auth:
  mode: hmac
  jwt_secret: file-secret
  clock_skew: 30s
db:
  driver: sqlite
  sqlite_path: /tmp/nexus.db
workflow:
  max_concurrency: 4
  task_timeout: 10s
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "file-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, 30*time.Second, cfg.Auth.ClockSkew)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, "/tmp/nexus.db", cfg.DB.SQLitePath)
	assert.Equal(t, 4, cfg.Workflow.MaxConcurrency)
	assert.Equal(t, 10*time.Second, cfg.Workflow.TaskTimeout)

	// untouched keys keep their defaults
	assert.Equal(t, "HS256", cfg.Auth.Algorithm)
	assert.True(t, cfg.Auth.RequireExp)
	assert.Equal(t, 30*time.Second, cfg.Workflow.PlanTimeout)
	assert.Equal(t, 10, cfg.Workflow.DefaultHistoryLimit)
	assert.Equal(t, "mock", cfg.Generation.Provider)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: file-secret
`)
	t.Setenv("NEXUS_WORKFLOW_MAX_TASKS", "7")
	t.Setenv("NEXUS_GENERATION_PROVIDER", "OpenAI")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Workflow.MaxTasks)
	assert.Equal(t, "openai", cfg.Generation.Provider)
}

func TestLoadConfig_LegacySecretName(t *testing.T) {
	path := writeConfig(t, "log:\n  level: debug\n")
	t.Setenv("SUPABASE_JWT_SECRET", "legacy-secret")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "legacy-secret", cfg.Auth.JWTSecret)
}

func TestLoadConfig_MissingSecret(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "jwt_secret")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		cfg.Environment = "PROD"
		cfg.Auth.Mode = "hmac"
		cfg.Auth.JWTSecret = "s"
		cfg.Auth.Algorithm = "HS256"
		cfg.DB.Driver = "postgres"
		cfg.Generation.Provider = "mock"
		cfg.Workflow.MaxTasks = 5
		cfg.Workflow.DefaultHistoryLimit = 10
		cfg.Workflow.MaxHistoryLimit = 100
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bypass outside dev", mutate: func(c *Config) { c.DevModeBypass = true }, wantErr: "dev_mode_bypass"},
		{name: "bypass in dev without secret", mutate: func(c *Config) {
			c.Environment = "dev"
			c.DevModeBypass = true
			c.Auth.JWTSecret = ""
		}},
		{name: "asymmetric algorithm in hmac mode", mutate: func(c *Config) { c.Auth.Algorithm = "RS256" }, wantErr: "not an HMAC"},
		{name: "oidc without issuer", mutate: func(c *Config) { c.Auth.Mode = "oidc" }, wantErr: "oidc_issuer"},
		{name: "unknown auth mode", mutate: func(c *Config) { c.Auth.Mode = "none" }, wantErr: "auth.mode"},
		{name: "negative skew", mutate: func(c *Config) { c.Auth.ClockSkew = -time.Second }, wantErr: "clock_skew"},
		{name: "unknown driver", mutate: func(c *Config) { c.DB.Driver = "mysql" }, wantErr: "db.driver"},
		{name: "http provider without url", mutate: func(c *Config) { c.Generation.Provider = "http" }, wantErr: "sidecar.url"},
		{name: "zero max tasks", mutate: func(c *Config) { c.Workflow.MaxTasks = 0 }, wantErr: "max_tasks"},
		{name: "history limits inverted", mutate: func(c *Config) { c.Workflow.MaxHistoryLimit = 5 }, wantErr: "history"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestNormalizeIssuer(t *testing.T) {
	assert.Equal(t, "https://issuer.example.com/oauth2/default", normalizeIssuer(" https://issuer.example.com/oauth2/default/ "))
	assert.Equal(t, "", normalizeIssuer(""))
}
