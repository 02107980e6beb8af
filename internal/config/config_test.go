package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.FlushInterval)
	assert.Equal(t, 100, cfg.MaxBufferSize)
	assert.Equal(t, "CORE", cfg.NativeSymbol)
	assert.Equal(t, "USDT", cfg.TipToken)
	assert.Equal(t, "mint", cfg.RewardMode)
	assert.Equal(t, 3000, cfg.APIPort)
	assert.Equal(t, "https://rpc.test2.btcs.network", cfg.RPCURL)
	assert.True(t, cfg.WebAppAuth)
	assert.InDelta(t, 1000, cfg.MaxTipAmount, 0.0001)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("ADMIN_USER_IDS", "42, 43,not-a-number")
	t.Setenv("FLUSH_INTERVAL", "5s")
	t.Setenv("MAX_BUFFER_SIZE", "7")
	t.Setenv("RPC_URL", "http://localhost:8545")
	t.Setenv("PORT", "8081")
	t.Setenv("TIMEZONE", "Europe/Berlin")
	t.Setenv("REWARD_MODE", "TRANSFER")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.BotToken)
	assert.True(t, cfg.IsAdmin(42))
	assert.True(t, cfg.IsAdmin(43))
	assert.False(t, cfg.IsAdmin(44))
	assert.Equal(t, 5*time.Second, cfg.FlushInterval)
	assert.Equal(t, 7, cfg.MaxBufferSize)
	assert.Equal(t, "http://localhost:8545", cfg.RPCURL)
	assert.Equal(t, 8081, cfg.APIPort)
	assert.Equal(t, "transfer", cfg.RewardMode)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("REWARD_MODE", "airdrop")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aura.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database_path: /tmp/from-file.db\nmax_buffer_size: 12\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("MAX_BUFFER_SIZE", "15")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-file.db", cfg.DBPath)
	assert.Equal(t, 15, cfg.MaxBufferSize)
}
