// Package config loads runtime configuration for the task manager and worker.
// Precedence: defaults < YAML file < environment variables (AITP_ prefix).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. AITP_SERVER_ADDR.
const EnvPrefix = "AITP"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logger     LoggerConfig     `mapstructure:"logger"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	DataForSEO DataForSEOConfig `mapstructure:"dataforseo"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ExitWaitTime time.Duration `mapstructure:"exit_wait_time"`
}

// DatabaseConfig selects the gorm dialector. Type is one of sqlite, mysql, postgres.
type DatabaseConfig struct {
	Type         string `mapstructure:"type"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	LogLevel     string `mapstructure:"log_level"`
}

type LoggerConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// SchedulerConfig drives the cron-like passes of the task engine.
type SchedulerConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	DispatchInterval   time.Duration `mapstructure:"dispatch_interval"`
	DependencyInterval time.Duration `mapstructure:"dependency_interval"`
	BatchLimit         int           `mapstructure:"batch_limit"`
	Workers            int           `mapstructure:"workers"`
	TaskTimeout        time.Duration `mapstructure:"task_timeout"`
}

// CacheConfig selects the API cache backend: memory, redis or tiered.
type CacheConfig struct {
	Backend      string        `mapstructure:"backend"`
	Prefix       string        `mapstructure:"prefix"`
	DefaultTTL   time.Duration `mapstructure:"default_ttl"`
	MaxCostBytes int64         `mapstructure:"max_cost_bytes"`
	RedisAddr    string        `mapstructure:"redis_addr"`
	RedisDB      int           `mapstructure:"redis_db"`
	L1Expire     time.Duration `mapstructure:"l1_expire"`
}

type KafkaConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Brokers       []string `mapstructure:"brokers"`
	EventsTopic   string   `mapstructure:"events_topic"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
}

type BreakerConfig struct {
	MaxFailures int           `mapstructure:"max_failures"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type OpenAIConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	DefaultModel string        `mapstructure:"default_model"`
	Sandbox      bool          `mapstructure:"sandbox"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type DataForSEOConfig struct {
	Login         string        `mapstructure:"login"`
	Password      string        `mapstructure:"password"`
	BaseURL       string        `mapstructure:"base_url"`
	Sandbox       bool          `mapstructure:"sandbox"`
	Timeout       time.Duration `mapstructure:"timeout"`
	CreditsPerUSD float64       `mapstructure:"credits_per_usd"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.exit_wait_time", 5*time.Second)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "ai_tasks.db")
	v.SetDefault("database.max_open_conns", 0)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "console")
	v.SetDefault("logger.output_paths", []string{"stdout"})
	v.SetDefault("logger.error_output_paths", []string{"stderr"})

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.dispatch_interval", time.Hour)
	v.SetDefault("scheduler.dependency_interval", 5*time.Minute)
	v.SetDefault("scheduler.batch_limit", 10)
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.task_timeout", 30*time.Second)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.prefix", "aitp_api_")
	v.SetDefault("cache.default_ttl", 24*time.Hour)
	v.SetDefault("cache.max_cost_bytes", int64(64<<20))
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.l1_expire", 10*time.Minute)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.events_topic", "ai_task_events")
	v.SetDefault("kafka.consumer_group", "ai-task-worker")

	v.SetDefault("breaker.max_failures", 5)
	v.SetDefault("breaker.timeout", 30*time.Second)

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.default_model", "gpt-4o-mini")
	v.SetDefault("openai.sandbox", false)
	v.SetDefault("openai.timeout", 30*time.Second)

	v.SetDefault("dataforseo.base_url", "https://api.dataforseo.com/v3")
	v.SetDefault("dataforseo.sandbox", false)
	v.SetDefault("dataforseo.timeout", 30*time.Second)
	v.SetDefault("dataforseo.credits_per_usd", 100.0)
}

// Load reads configuration from path. An empty path or a missing file falls back
// to defaults and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !isNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Type {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported database type %q", c.Database.Type)
	}
	switch c.Cache.Backend {
	case "memory", "redis", "tiered":
	default:
		return fmt.Errorf("unsupported cache backend %q", c.Cache.Backend)
	}
	if c.Scheduler.BatchLimit <= 0 {
		return errors.New("scheduler.batch_limit must be > 0")
	}
	if c.Scheduler.Workers <= 0 {
		return errors.New("scheduler.workers must be > 0")
	}
	return nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
