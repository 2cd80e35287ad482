package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus/backend/internal/config"
	"nexus/backend/internal/logging"
	"nexus/backend/pkg/models"
)

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "auth:\n  jwt_secret: s\n" +
		"db:\n  driver: sqlite\n  sqlite_path: " + filepath.Join(dir, "nexus.db") + "\n" +
		"generation:\n  mock_delay: 1ms\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	configPath = path
	t.Cleanup(func() { configPath = "" })

	cfg, _, err := loadConfig()
	require.NoError(t, err)
	return cfg
}

func TestOpenStoreAndRunWithMockProvider(t *testing.T) {
	cfg := sqliteConfig(t)
	logger := logging.Discard()
	ctx := context.Background()

	store, err := openStore(ctx, cfg, logger)
	require.NoError(t, err)
	defer closeStore(store, logger)

	svc, closeCache, err := newWorkflowService(ctx, cfg, store, logger)
	require.NoError(t, err)
	defer closeCache()

	res, err := svc.Run(ctx, "alice", "market strategy")
	require.NoError(t, err)
	assert.True(t, res.Persisted())
	// the mock planner answers with one task per analyst role
	require.Len(t, res.Record.Results, 3)
	assert.Equal(t, models.RoleMarketResearcher, res.Record.Results[0].Role)
	assert.Equal(t, models.RoleTechnicalAnalyst, res.Record.Results[1].Role)
	assert.Equal(t, models.RoleCompetitorAnalyst, res.Record.Results[2].Role)
	for _, r := range res.Record.Results {
		assert.Equal(t, models.AgentStatusCompleted, r.Status)
	}

	records, err := svc.List(ctx, "alice", 0, 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	n, err := store.NormalizeLegacyResults(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNewPlanCache_DisabledWithoutAddr(t *testing.T) {
	cfg := &config.Config{}
	cache, closeCache := newPlanCache(context.Background(), cfg, logging.Discard())
	defer closeCache()
	assert.Nil(t, cache)
}

func TestNewPlanCache_UnreachableRedisDisablesCache(t *testing.T) {
	cfg := &config.Config{}
	cfg.Redis.Addr = "127.0.0.1:1"
	cfg.Redis.PlanTTL = time.Minute

	cache, closeCache := newPlanCache(context.Background(), cfg, logging.Discard())
	defer closeCache()
	assert.Nil(t, cache)
}

func TestNewEcho_CORS(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000"}
	e := newEcho(cfg, logging.Discard())
	e.GET("/ping", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/ping", nil)
	req.Header.Set("Origin", "http://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestIssuerFor(t *testing.T) {
	cfg := &config.Config{}
	cfg.Auth.Mode = "oidc"
	cfg.Auth.OIDCIssuer = "https://issuer.example.com"
	assert.Equal(t, "https://issuer.example.com", issuerFor(cfg))

	cfg.Auth.Mode = "hmac"
	cfg.Auth.Issuer = "https://project.supabase.co/auth/v1"
	assert.Equal(t, "https://project.supabase.co/auth/v1", issuerFor(cfg))
}
