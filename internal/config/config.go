package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI     OpenAIConfig     `yaml:"openai" mapstructure:"openai"`
	AI         AIConfig         `yaml:"ai" mapstructure:"ai"`
	Predict    PredictConfig    `yaml:"predict" mapstructure:"predict"`
	Collector  CollectorConfig  `yaml:"collector" mapstructure:"collector"`
	Events     EventsConfig     `yaml:"events" mapstructure:"events"`
	Dashboard  DashboardConfig  `yaml:"dashboard" mapstructure:"dashboard"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the Postgres backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CacheConfig selects and configures the key-value cache.
type CacheConfig struct {
	Driver        string `yaml:"driver" mapstructure:"driver"` // memory, redis, sqlite
	RedisAddr     string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int    `yaml:"redis_db" mapstructure:"redis_db"`
	SQLitePath    string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MetricTTLSecs int    `yaml:"metric_ttl_secs" mapstructure:"metric_ttl_secs"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// OpenAIConfig holds OpenAI API settings.
type OpenAIConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// AIConfig configures the text-generation router.
type AIConfig struct {
	Primary          string  `yaml:"primary" mapstructure:"primary"`
	MaxTokens        int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSec   float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	FailureThreshold int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int     `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// PredictConfig configures the prediction engine. An empty URL selects the
// built-in linear model.
type PredictConfig struct {
	URL            string  `yaml:"url" mapstructure:"url"`
	Key            string  `yaml:"key" mapstructure:"key"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	CacheTTLSecs   int     `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
}

// CollectorConfig configures the metric collection tiers.
type CollectorConfig struct {
	RealtimeIntervalSecs int `yaml:"realtime_interval_secs" mapstructure:"realtime_interval_secs"`
	FrequentIntervalSecs int `yaml:"frequent_interval_secs" mapstructure:"frequent_interval_secs"`
	HourlyIntervalSecs   int `yaml:"hourly_interval_secs" mapstructure:"hourly_interval_secs"`
}

// EventsConfig configures the system event router.
type EventsConfig struct {
	Listen           bool `yaml:"listen" mapstructure:"listen"`
	PollIntervalSecs int  `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	BatchSize        int  `yaml:"batch_size" mapstructure:"batch_size"`
	MaxAttempts      int  `yaml:"max_attempts" mapstructure:"max_attempts"`
	// ClaimTimeoutSecs is how long an event may stay processing before a
	// sweep hands it back to pending.
	ClaimTimeoutSecs int `yaml:"claim_timeout_secs" mapstructure:"claim_timeout_secs"`
}

// DashboardConfig configures the dashboard aggregator.
type DashboardConfig struct {
	CacheTTLSecs int `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
	MetricsLimit int `yaml:"metrics_limit" mapstructure:"metrics_limit"`
	AlertsLimit  int `yaml:"alerts_limit" mapstructure:"alerts_limit"`
}

// MonitoringConfig configures KPI alerting.
type MonitoringConfig struct {
	WebhookURL        string `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.sqlite_path", "pulse-cache.db")
	v.SetDefault("cache.metric_ttl_secs", 300)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("openai.key", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("ai.primary", "anthropic")
	v.SetDefault("ai.max_tokens", 512)
	v.SetDefault("ai.timeout_secs", 30)
	v.SetDefault("ai.requests_per_sec", 2.0)
	v.SetDefault("ai.max_attempts", 2)
	v.SetDefault("ai.failure_threshold", 5)
	v.SetDefault("ai.reset_timeout_secs", 60)
	v.SetDefault("predict.url", "")
	v.SetDefault("predict.key", "")
	v.SetDefault("predict.timeout_secs", 15)
	v.SetDefault("predict.requests_per_sec", 5.0)
	v.SetDefault("predict.cache_ttl_secs", 300)
	v.SetDefault("collector.realtime_interval_secs", 60)
	v.SetDefault("collector.frequent_interval_secs", 900)
	v.SetDefault("collector.hourly_interval_secs", 3600)
	v.SetDefault("events.listen", true)
	v.SetDefault("events.poll_interval_secs", 30)
	v.SetDefault("events.batch_size", 100)
	v.SetDefault("events.max_attempts", 3)
	v.SetDefault("events.claim_timeout_secs", 600)
	v.SetDefault("dashboard.cache_ttl_secs", 60)
	v.SetDefault("dashboard.metrics_limit", 50)
	v.SetDefault("dashboard.alerts_limit", 5)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
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

// Validate checks the settings required by a command mode: "serve",
// "collect", "events", "export" or "migrate".
func (c *Config) Validate(mode string) error {
	switch mode {
	case "serve", "collect", "events", "export", "migrate":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	var problems []string

	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}

	switch c.Cache.Driver {
	case "memory", "sqlite":
	case "redis":
		if c.Cache.RedisAddr == "" {
			problems = append(problems, "cache.redis_addr is required for the redis driver")
		}
	default:
		problems = append(problems, "cache.driver must be one of memory, redis, sqlite")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be between 1 and 65535")
		}
		if c.Dashboard.CacheTTLSecs <= 0 {
			problems = append(problems, "dashboard.cache_ttl_secs must be positive")
		}
	case "events":
		if c.Events.BatchSize <= 0 {
			problems = append(problems, "events.batch_size must be positive")
		}
		if c.Events.ClaimTimeoutSecs <= 0 {
			problems = append(problems, "events.claim_timeout_secs must be positive")
		}
	case "collect":
		if c.Collector.RealtimeIntervalSecs <= 0 || c.Collector.FrequentIntervalSecs <= 0 || c.Collector.HourlyIntervalSecs <= 0 {
			problems = append(problems, "collector intervals must be positive")
		}
	}

	if mode == "serve" || mode == "export" {
		switch c.AI.Primary {
		case "anthropic", "openai":
		default:
			problems = append(problems, "ai.primary must be anthropic or openai")
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
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
