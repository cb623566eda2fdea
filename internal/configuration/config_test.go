package configuration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatch/internal/logger"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const minimalConfig = `
telegram_bot_token = "123456:ABC"
auth_secret_key = "secret"
use_mock_prices = true
`

func TestGetConfigDefaults(t *testing.T) {
	c, err := GetConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "localhost:8888", c.ServerAddress)
	assert.Equal(t, "data/watches.json", c.DataFilePath)
	assert.Equal(t, 25, c.TickBudget)
	assert.Equal(t, time.Duration(0), c.TickInterval)
	assert.Equal(t, 15*time.Second, c.FetchTimeout)
	assert.Equal(t, logger.LevelInfo, c.LogLevel)
	assert.NotNil(t, c.AuthSecretKey)
}

func TestGetConfigFull(t *testing.T) {
	c, err := GetConfig(writeConfig(t, `
server_address = "0.0.0.0:9999"
data_file_path = "/var/lib/pricewatch/watches.json"
redis_uri = "redis://localhost:6379/0"
telegram_bot_token = "123456:ABC"
affiliate_tag = "pricewatch-21"
price_api_url = "https://api.example.com"
price_api_key = "k"
tick_budget = 10
tick_interval = "5m"
fetch_timeout = "30s"
log_level = "debug"
log_to_file = true
auth_secret_key = "secret"
`))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9999", c.ServerAddress)
	assert.Equal(t, "/var/lib/pricewatch/watches.json", c.DataFilePath)
	assert.Equal(t, 10, c.TickBudget)
	assert.Equal(t, 5*time.Minute, c.TickInterval)
	assert.Equal(t, 30*time.Second, c.FetchTimeout)
	assert.Equal(t, logger.LevelDebug, c.LogLevel)
	assert.True(t, c.LogToFile)
}

func TestGetConfigMissingFile(t *testing.T) {
	_, err := GetConfig(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestGetConfigRequiredFields(t *testing.T) {
	_, err := GetConfig(writeConfig(t, `auth_secret_key = "secret"`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram_bot_token")

	_, err = GetConfig(writeConfig(t, `telegram_bot_token = "t"`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth_secret_key")
}

func TestGetConfigPriceAPIRequiredUnlessMocked(t *testing.T) {
	_, err := GetConfig(writeConfig(t, `
telegram_bot_token = "t"
auth_secret_key = "secret"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "price_api_url")

	_, err = GetConfig(writeConfig(t, `
telegram_bot_token = "t"
auth_secret_key = "secret"
price_api_url = "https://api.example.com"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "price_api_key")
}

func TestGetConfigBadValues(t *testing.T) {
	_, err := GetConfig(writeConfig(t, minimalConfig+`tick_budget = -1`))
	assert.Error(t, err)

	_, err = GetConfig(writeConfig(t, minimalConfig+`tick_interval = "5s"`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tick_interval")

	_, err = GetConfig(writeConfig(t, minimalConfig+`tick_interval = "soon"`))
	assert.Error(t, err)

	_, err = GetConfig(writeConfig(t, minimalConfig+`fetch_timeout = "-1s"`))
	assert.Error(t, err)

	_, err = GetConfig(writeConfig(t, minimalConfig+`log_level = "loud"`))
	assert.Error(t, err)
}
