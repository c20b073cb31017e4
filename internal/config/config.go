package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	RateLimit  RateLimitConfig  `yaml:"ratelimit" mapstructure:"ratelimit"`
	Breaker    BreakerConfig    `yaml:"breaker" mapstructure:"breaker"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Credits    CreditsConfig    `yaml:"credits" mapstructure:"credits"`
	Lead       LeadConfig       `yaml:"lead" mapstructure:"lead"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	SendGrid   SendGridConfig   `yaml:"sendgrid" mapstructure:"sendgrid"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	OTel       OTelConfig       `yaml:"otel" mapstructure:"otel"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RedisConfig configures the shared counter store. When Addr is empty the
// rate limiter and failure guard keep their state in process memory.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
}

// RateLimitConfig configures the three admission tiers.
type RateLimitConfig struct {
	Algorithm   string `yaml:"algorithm" mapstructure:"algorithm"` // "window" or "bucket"
	WindowSecs  int    `yaml:"window_secs" mapstructure:"window_secs"`
	IPLimit     int    `yaml:"ip_limit" mapstructure:"ip_limit"`
	HandleLimit int    `yaml:"handle_limit" mapstructure:"handle_limit"`
	AgentLimit  int    `yaml:"agent_limit" mapstructure:"agent_limit"`
}

// Window returns the configured window length.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSecs) * time.Second
}

// BreakerConfig configures the per-handle failure guard.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	CooldownSecs     int `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
}

// PipelineConfig configures the chat request pipeline.
type PipelineConfig struct {
	HistoryLimit          int      `yaml:"history_limit" mapstructure:"history_limit"`
	ReplyTimeoutSecs      int      `yaml:"reply_timeout_secs" mapstructure:"reply_timeout_secs"`
	BackgroundTimeoutSecs int      `yaml:"background_timeout_secs" mapstructure:"background_timeout_secs"`
	SupportedModels       []string `yaml:"supported_models" mapstructure:"supported_models"`
	MinTemperature        float64  `yaml:"min_temperature" mapstructure:"min_temperature"`
	MaxTemperature        float64  `yaml:"max_temperature" mapstructure:"max_temperature"`
	MaxMessageChars       int      `yaml:"max_message_chars" mapstructure:"max_message_chars"`
}

// CreditsConfig configures per-message credit accounting.
type CreditsConfig struct {
	PerMessage int64 `yaml:"per_message" mapstructure:"per_message"`
}

// LeadConfig configures the lead policy.
type LeadConfig struct {
	PolicyFile string `yaml:"policy_file" mapstructure:"policy_file"`
}

// AnthropicConfig holds Anthropic API settings for reply generation.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	MaxTokens   int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxAttempts int    `yaml:"max_attempts" mapstructure:"max_attempts"`

	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// SendGridConfig holds SendGrid settings for owner notifications.
type SendGridConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	FromEmail string `yaml:"from_email" mapstructure:"from_email"`
	FromName  string `yaml:"from_name" mapstructure:"from_name"`
}

// NotionConfig holds Notion credentials for the optional lead mirror.
type NotionConfig struct {
	Token  string `yaml:"token" mapstructure:"token"`
	LeadDB string `yaml:"lead_db" mapstructure:"lead_db"`
}

// SalesforceConfig holds Salesforce JWT auth settings for the optional lead mirror.
type SalesforceConfig struct {
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Username string `yaml:"username" mapstructure:"username"`
	KeyPath  string `yaml:"key_path" mapstructure:"key_path"`
	LoginURL string `yaml:"login_url" mapstructure:"login_url"`
}

// MonitoringConfig configures operational alerts.
type MonitoringConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// OTelConfig configures tracing.
type OTelConfig struct {
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
	Endpoint    string  `yaml:"endpoint" mapstructure:"endpoint"`
	Insecure    bool    `yaml:"insecure" mapstructure:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio" mapstructure:"sample_ratio"`
	ServiceName string  `yaml:"service_name" mapstructure:"service_name"`
	Environment string  `yaml:"environment" mapstructure:"environment"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	// TrustProxy honours X-Forwarded-For / X-Real-IP. Enable only behind a
	// proxy that overwrites those headers.
	TrustProxy bool `yaml:"trust_proxy" mapstructure:"trust_proxy"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultSupportedModels lists the models an agent may be configured with.
var DefaultSupportedModels = []string{
	"claude-haiku-4-5-20251001",
	"claude-sonnet-4-5-20250929",
	"claude-opus-4-6",
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PORTFOLIO_CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "pchat")
	v.SetDefault("ratelimit.algorithm", "window")
	v.SetDefault("ratelimit.window_secs", 60)
	v.SetDefault("ratelimit.ip_limit", 20)
	v.SetDefault("ratelimit.handle_limit", 120)
	v.SetDefault("ratelimit.agent_limit", 240)
	v.SetDefault("breaker.failure_threshold", 3)
	v.SetDefault("breaker.cooldown_secs", 60)
	v.SetDefault("pipeline.history_limit", 10)
	v.SetDefault("pipeline.reply_timeout_secs", 25)
	v.SetDefault("pipeline.background_timeout_secs", 15)
	v.SetDefault("pipeline.supported_models", DefaultSupportedModels)
	v.SetDefault("pipeline.min_temperature", 0.2)
	v.SetDefault("pipeline.max_temperature", 0.8)
	v.SetDefault("pipeline.max_message_chars", 4000)
	v.SetDefault("credits.per_message", 1)
	v.SetDefault("lead.policy_file", "")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.max_attempts", 2)
	v.SetDefault("anthropic.initial_backoff_ms", 300)
	v.SetDefault("anthropic.max_backoff_ms", 3000)
	v.SetDefault("sendgrid.key", "")
	v.SetDefault("sendgrid.base_url", "https://api.sendgrid.com")
	v.SetDefault("sendgrid.from_email", "")
	v.SetDefault("sendgrid.from_name", "Portfolio Assistant")
	v.SetDefault("notion.token", "")
	v.SetDefault("notion.lead_db", "")
	v.SetDefault("salesforce.client_id", "")
	v.SetDefault("salesforce.username", "")
	v.SetDefault("salesforce.key_path", "")
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.insecure", false)
	v.SetDefault("otel.sample_ratio", 0.1)
	v.SetDefault("otel.service_name", "portfolio-chat")
	v.SetDefault("otel.environment", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings required by the given command mode:
// "migrate" needs only the store, "chat" the whole pipeline, and "serve"
// the pipeline plus a listen port.
func (c *Config) Validate(mode string) error {
	var problems []string
	add := func(msg string) { problems = append(problems, msg) }

	switch mode {
	case "migrate", "chat", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required for postgres")
		}
	case "sqlite":
	default:
		add(fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	if mode != "migrate" {
		switch c.RateLimit.Algorithm {
		case "window", "bucket":
		default:
			add(fmt.Sprintf("ratelimit.algorithm %q is not supported", c.RateLimit.Algorithm))
		}
		if c.RateLimit.WindowSecs <= 0 {
			add("ratelimit.window_secs must be > 0")
		}
		if c.RateLimit.IPLimit <= 0 || c.RateLimit.HandleLimit <= 0 || c.RateLimit.AgentLimit <= 0 {
			add("ratelimit tier limits must be > 0")
		}
		if c.Breaker.FailureThreshold <= 0 || c.Breaker.CooldownSecs <= 0 {
			add("breaker.failure_threshold and breaker.cooldown_secs must be > 0")
		}
		if len(c.Pipeline.SupportedModels) == 0 {
			add("pipeline.supported_models must not be empty")
		}
		if c.Pipeline.MinTemperature > c.Pipeline.MaxTemperature {
			add("pipeline.min_temperature must be <= pipeline.max_temperature")
		}
		if c.Credits.PerMessage < 0 {
			add("credits.per_message must be >= 0")
		}
		if c.Anthropic.Key == "" {
			add("anthropic.key is required")
		}
	}

	if mode == "serve" && c.Server.Port <= 0 {
		add("server.port must be > 0")
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
