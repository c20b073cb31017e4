package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "pchat", cfg.Redis.Prefix)
	assert.Equal(t, "window", cfg.RateLimit.Algorithm)
	assert.Equal(t, 60, cfg.RateLimit.WindowSecs)
	assert.Equal(t, 20, cfg.RateLimit.IPLimit)
	assert.Equal(t, 120, cfg.RateLimit.HandleLimit)
	assert.Equal(t, 240, cfg.RateLimit.AgentLimit)
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 60, cfg.Breaker.CooldownSecs)
	assert.Equal(t, 10, cfg.Pipeline.HistoryLimit)
	assert.Equal(t, 25, cfg.Pipeline.ReplyTimeoutSecs)
	assert.Equal(t, DefaultSupportedModels, cfg.Pipeline.SupportedModels)
	assert.InDelta(t, 0.2, cfg.Pipeline.MinTemperature, 0.001)
	assert.InDelta(t, 0.8, cfg.Pipeline.MaxTemperature, 0.001)
	assert.Equal(t, int64(1), cfg.Credits.PerMessage)
	assert.Equal(t, int64(1024), cfg.Anthropic.MaxTokens)
	assert.Equal(t, 300, cfg.Anthropic.InitialBackoffMs)
	assert.Equal(t, 3000, cfg.Anthropic.MaxBackoffMs)
	assert.Equal(t, "https://api.sendgrid.com", cfg.SendGrid.BaseURL)
	assert.Equal(t, "https://login.salesforce.com", cfg.Salesforce.LoginURL)
	assert.Equal(t, "portfolio-chat", cfg.OTel.ServiceName)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.False(t, cfg.Server.TrustProxy)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
  format: console
ratelimit:
  ip_limit: 5
breaker:
  failure_threshold: 7
pipeline:
  supported_models:
    - claude-haiku-4-5-20251001
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 5, cfg.RateLimit.IPLimit)
	assert.Equal(t, 7, cfg.Breaker.FailureThreshold)
	assert.Equal(t, []string{"claude-haiku-4-5-20251001"}, cfg.Pipeline.SupportedModels)
	// Defaults still apply for unset values
	assert.Equal(t, 120, cfg.RateLimit.HandleLimit)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("PORTFOLIO_CHAT_STORE_DRIVER", "postgres")
	t.Setenv("PORTFOLIO_CHAT_LOG_LEVEL", "warn")
	t.Setenv("PORTFOLIO_CHAT_REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config that passes validation in every mode.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.RateLimit = RateLimitConfig{Algorithm: "window", WindowSecs: 60, IPLimit: 20, HandleLimit: 120, AgentLimit: 240}
	cfg.Breaker = BreakerConfig{FailureThreshold: 3, CooldownSecs: 60}
	cfg.Pipeline.SupportedModels = DefaultSupportedModels
	cfg.Pipeline.MinTemperature = 0.2
	cfg.Pipeline.MaxTemperature = 0.8
	cfg.Credits.PerMessage = 1
	cfg.Anthropic.Key = "sk-ant-key"
	cfg.Server.Port = 8080
	return cfg
}

func TestValidate_AllModesPass(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{"migrate", "chat", "serve"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidate_PostgresNeedsURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"

	err := cfg.Validate("migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/chat"
	assert.NoError(t, cfg.Validate("migrate"))
}

func TestValidate_MigrateIgnoresPipeline(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = ""
	cfg.Breaker.FailureThreshold = 0

	assert.NoError(t, cfg.Validate("migrate"))

	err := cfg.Validate("chat")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")
	assert.Contains(t, err.Error(), "breaker.failure_threshold")
}

func TestValidate_Temperatures(t *testing.T) {
	cfg := validDefaults()
	cfg.Pipeline.MinTemperature = 0.9

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_temperature")
}

func TestValidate_ServePort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	assert.NoError(t, cfg.Validate("chat"))
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidate_UnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidate_BadAlgorithmAndDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	cfg.RateLimit.Algorithm = "leaky"

	err := cfg.Validate("chat")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `store.driver "mysql"`)
	assert.Contains(t, err.Error(), `ratelimit.algorithm "leaky"`)
}
