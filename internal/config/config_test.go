package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "alittlebitofmoney", cfg.L402.Location)
	assert.Equal(t, int64(32768), cfg.MaxRequestBytes)
	assert.Equal(t, 600, cfg.InvoiceExpiry)
	assert.Equal(t, 3600, cfg.UsedHashTTLSeconds)
	assert.Equal(t, 300, cfg.UsedHashCleanupIntervalSeconds)
	assert.Equal(t, int64(50), cfg.Hire.TaskFeeSats)
	assert.Equal(t, int64(10), cfg.Hire.QuoteFeeSats)
	assert.Equal(t, int32(1), cfg.Database.MinConns)
	assert.Equal(t, int32(5), cfg.Database.MaxConns)
	assert.Equal(t, 20*time.Second, cfg.Phoenix.Timeout.Duration)
}

func TestLoadAPIEndpoints(t *testing.T) {
	path := writeTempConfig(t, `
apis:
  openai:
    name: OpenAI
    upstream_base: https://api.openai.com/
    api_key_env: OPENAI_API_KEY
    auth_prefix: "Bearer "
    endpoints:
      - path: /v1/chat/completions/
        price_type: per_model
        models:
          gpt-4o-mini: 10
          gpt-4o:
            price_sats: 50
            max_output_tokens: 4096
          _default: 25
      - path: v1/embeddings
        method: post
        price_type: flat
        price_sats: 5
        daily_limit: 100
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	api, ok := cfg.APIs["openai"]
	require.True(t, ok)
	assert.Equal(t, "https://api.openai.com", api.UpstreamBase)
	assert.Equal(t, "Authorization", api.AuthHeader)
	require.Len(t, api.Endpoints, 2)

	chat := api.Endpoints[0]
	assert.Equal(t, "/v1/chat/completions", chat.Path)
	assert.Equal(t, "POST", chat.Method)
	assert.Equal(t, int64(10), chat.Models["gpt-4o-mini"].PriceSats)
	assert.Equal(t, int64(50), chat.Models["gpt-4o"].PriceSats)
	assert.Equal(t, 4096, chat.Models["gpt-4o"].MaxOutputTokens)
	assert.Equal(t, int64(25), chat.Models["_default"].PriceSats)

	emb := api.Endpoints[1]
	assert.Equal(t, "/v1/embeddings", emb.Path)
	assert.Equal(t, "POST", emb.Method)
	assert.Equal(t, int64(5), emb.PriceSats)
	assert.Equal(t, 100, emb.DailyLimit)
}

func TestLoadRejectsBadPricing(t *testing.T) {
	path := writeTempConfig(t, `
apis:
  openai:
    upstream_base: https://api.openai.com
    endpoints:
      - path: /v1/chat/completions
        price_type: subscription
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "price_type")
}

func TestLoadRejectsMissingUpstream(t *testing.T) {
	path := writeTempConfig(t, `
apis:
  openai:
    endpoints:
      - path: /v1/embeddings
        price_type: flat
        price_sats: 5
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream_base")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ABL_SERVER_ADDRESS", ":9999")
	t.Setenv("PHOENIX_URL", "http://phoenix:9740")
	t.Setenv("PHOENIX_PASSWORD", "hunter2")
	t.Setenv("L402_ROOT_KEY", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Address)
	assert.Equal(t, "http://phoenix:9740", cfg.Phoenix.URL)
	assert.Equal(t, "hunter2", cfg.Phoenix.Password)
	assert.Len(t, cfg.L402.RootKeyHex, 64)
}

func TestEnvRejectsShortRootKey(t *testing.T) {
	t.Setenv("L402_ROOT_KEY", "deadbeef")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "L402_ROOT_KEY")
}

func TestDurationUnmarshal(t *testing.T) {
	path := writeTempConfig(t, `
server:
  read_timeout: 30s
  idle_timeout: 120
phoenix:
  timeout: 1m30s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout.Duration)
	assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout.Duration)
	assert.Equal(t, 90*time.Second, cfg.Phoenix.Timeout.Duration)
}
