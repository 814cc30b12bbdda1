package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DB_USER", "chama")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", "3306")
	t.Setenv("DB_NAME", "chama")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("SUPABASE_URL", "https://example.supabase.co/")
	t.Setenv("SUPABASE_ANON_KEY", "anon")
}

func TestLoadFromEnvDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("APP_ENV", "")
	t.Setenv("ACCESS_TOKEN_TTL_MIN", "")
	t.Setenv("WEB3_PROVIDER_URL", "")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, 15, cfg.AccessTTLMin)
	assert.Equal(t, 10, cfg.BcryptCost)
	assert.Equal(t, "https://example.supabase.co", cfg.SupabaseURL)
	assert.False(t, cfg.Chain.Enabled())
	assert.Equal(t, uint64(2000000), cfg.Chain.DefaultGasLimit)
	assert.Equal(t, int64(20), cfg.Chain.DefaultGasGwei)
}

func TestLoadFromEnvMissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("JWT_SECRET", "")
	t.Setenv("SUPABASE_ANON_KEY", "")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "SUPABASE_ANON_KEY")
}

func TestLoadFromEnvProductionAndChain(t *testing.T) {
	setRequired(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("WEB3_PROVIDER_URL", "https://api.avax-test.network/ext/bc/C/rpc")
	t.Setenv("ACCESS_TOKEN_TTL_MIN", "30")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.True(t, cfg.Chain.Enabled())
	assert.Equal(t, 30, cfg.AccessTTLMin)
}

func TestLoadFromEnvRejectsBadTTL(t *testing.T) {
	setRequired(t)
	t.Setenv("ACCESS_TOKEN_TTL_MIN", "0")

	_, err := LoadFromEnv()
	assert.Error(t, err)
}

func TestRateLimitForAuth(t *testing.T) {
	t.Setenv("RATE_LIMIT_AUTH_CAPACITY", "3")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "10s")
	t.Setenv("RATE_LIMIT_TTL", "1s")

	rl := LoadRateLimitConfig()
	assert.Equal(t, 50*time.Second, rl.TTL)

	auth := rl.ForAuth()
	assert.Equal(t, 3, auth.Capacity)
	assert.Equal(t, rl.Prefix+":auth", auth.Prefix)
}
