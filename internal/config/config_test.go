package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_MissingPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "riskbrain.yaml")
	body := `
logging:
  level: debug
  pretty: true
guardian:
  max_position_notional: 75000
  symbol_whitelist: ["BTC/USDT"]
breaker:
  max_daily_drawdown_pct: 0.03
persistence:
  redis:
    enabled: true
    addr: "redis:6379"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 75000.0, cfg.Guardian.MaxPositionNotional)
	assert.Equal(t, []string{"BTC/USDT"}, cfg.Guardian.SymbolWhitelist)
	assert.Equal(t, 0.03, cfg.Breaker.MaxDailyDrawdownPct)
	assert.True(t, cfg.Persistence.Redis.Enabled)

	// Untouched sections keep their defaults.
	assert.Equal(t, Default().Allocation, cfg.Allocation)
	assert.Equal(t, Default().Governance, cfg.Governance)
}

func TestLoad_RejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("guardian:\n  symbol_whitelist: []\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "whitelist")
}

func TestApplyOverridesIsPure(t *testing.T) {
	base := Default()

	out, err := ApplyOverrides(base, func(c *Config) {
		c.Guardian.MaxPositionNotional = 10000
	})
	require.NoError(t, err)
	assert.Equal(t, 10000.0, out.Guardian.MaxPositionNotional)
	assert.Equal(t, Default().Guardian.MaxPositionNotional, base.Guardian.MaxPositionNotional)

	// An override producing an invalid tree is rejected and the
	// original returned.
	same, err := ApplyOverrides(base, func(c *Config) {
		c.HTTP.Port = -1
	})
	require.Error(t, err)
	assert.Equal(t, base, same)
}

func TestHMACSecret(t *testing.T) {
	cfg := Default()
	cfg.Security.HMACSecretEnv = "RISKBRAIN_TEST_SECRET"

	_, err := cfg.HMACSecret()
	require.Error(t, err, "unset secret must not default")

	t.Setenv("RISKBRAIN_TEST_SECRET", "hunter2")
	secret, err := cfg.HMACSecret()
	require.NoError(t, err)
	assert.Equal(t, "hunter2", secret)
}
