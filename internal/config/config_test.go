package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
exchanges:
  - name: bybit
    api_key: yaml-key
    api_secret: yaml-secret
    rest_endpoint: https://api-testnet.bybit.com
  - name: binance
strategy:
  poll_interval: 3s
  timeframes: [15m, 1h]
  min_notional: 7.5
storage:
  driver: redis
  redis_addr: localhost:6379
`

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("BYBIT_API_KEY", "env-key")
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	bybit, ok := cfg.Exchange("BYBIT")
	require.True(t, ok)
	assert.Equal(t, "env-key", bybit.APIKey)
	assert.Equal(t, "yaml-secret", bybit.APISecret)

	assert.Equal(t, "redis", cfg.Storage.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)

	engine := cfg.Engine()
	assert.Equal(t, 3*time.Second, engine.PollInterval)
	assert.Equal(t, 5*time.Second, engine.DuplicateWait)
	assert.Equal(t, []string{"15m", "1h"}, engine.Timeframes)
	assert.Equal(t, 7.5, engine.MinNotional)
	assert.Equal(t, "1h", engine.TrailingTimeframe)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "strategy:\n  poll_interval: soon\n"))
	assert.Error(t, err)
}
