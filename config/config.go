package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/jwalitptl/messaging-api/internal/worker"
	"github.com/jwalitptl/messaging-api/pkg/backoff"
	"github.com/jwalitptl/messaging-api/pkg/messaging/redis"
	"github.com/jwalitptl/messaging-api/pkg/ratelimit"
	"github.com/jwalitptl/messaging-api/pkg/transport/email"
	"github.com/jwalitptl/messaging-api/pkg/transport/whatsapp"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Dispatcher  DispatcherConfig  `yaml:"dispatcher"`
	Cleanup     CleanupConfig     `yaml:"cleanup"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	WhatsApp    WhatsAppConfig    `yaml:"whatsapp"`
	Email       EmailConfig       `yaml:"email"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Port           int           `yaml:"port" envconfig:"SERVER_PORT"`
	ReadTimeout    time.Duration `yaml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT"`
	WriteTimeout   time.Duration `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT"`
	MaxHeaderBytes int           `yaml:"max_header_bytes" envconfig:"SERVER_MAX_HEADER_BYTES"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host" envconfig:"DB_HOST"`
	Port     int    `yaml:"port" envconfig:"DB_PORT"`
	User     string `yaml:"user" envconfig:"DB_USER"`
	Password string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name     string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode  string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
}

type RedisConfig struct {
	URL          string        `yaml:"url" envconfig:"REDIS_URL"`
	MaxRetries   int           `yaml:"max_retries" envconfig:"REDIS_MAX_RETRIES"`
	RetryBackoff time.Duration `yaml:"retry_backoff" envconfig:"REDIS_RETRY_BACKOFF"`
	PoolSize     int           `yaml:"pool_size" envconfig:"REDIS_POOL_SIZE"`
	MinIdleConns int           `yaml:"min_idle_conns" envconfig:"REDIS_MIN_IDLE_CONNS"`
}

type DispatcherConfig struct {
	BatchSize          int           `yaml:"batch_size" envconfig:"DISPATCHER_BATCH_SIZE"`
	PollInterval       time.Duration `yaml:"poll_interval" envconfig:"DISPATCHER_POLL_INTERVAL"`
	LeaseDuration      time.Duration `yaml:"lease_duration" envconfig:"DISPATCHER_LEASE_DURATION"`
	MaxTenantsPerCycle int           `yaml:"max_tenants_per_cycle" envconfig:"DISPATCHER_MAX_TENANTS_PER_CYCLE"`
	Deferral           time.Duration `yaml:"deferral" envconfig:"DISPATCHER_DEFERRAL"`
	BackoffBase        time.Duration `yaml:"backoff_base" envconfig:"DISPATCHER_BACKOFF_BASE"`
	BackoffMax         time.Duration `yaml:"backoff_max" envconfig:"DISPATCHER_BACKOFF_MAX"`
	BackoffJitter      float64       `yaml:"backoff_jitter" envconfig:"DISPATCHER_BACKOFF_JITTER"`
}

type CleanupConfig struct {
	Retention time.Duration `yaml:"retention" envconfig:"CLEANUP_RETENTION"`
	Interval  time.Duration `yaml:"interval" envconfig:"CLEANUP_INTERVAL"`
}

type RateLimitConfig struct {
	// Dispatch admission: token bucket per tenant+kind.
	Rate     float64 `yaml:"rate" envconfig:"RATELIMIT_RATE"`
	Capacity float64 `yaml:"capacity" envconfig:"RATELIMIT_CAPACITY"`
	// Front-door HTTP throttle.
	RequestsPerSecond float64 `yaml:"requests_per_second" envconfig:"RATELIMIT_RPS"`
	Burst             int     `yaml:"burst" envconfig:"RATELIMIT_BURST"`
}

type IdempotencyConfig struct {
	TTL time.Duration `yaml:"ttl" envconfig:"IDEMPOTENCY_TTL"`
}

type WhatsAppConfig struct {
	BaseURL     string        `yaml:"base_url" envconfig:"WHATSAPP_BASE_URL"`
	AccessToken string        `yaml:"access_token" envconfig:"WHATSAPP_ACCESS_TOKEN"`
	AppSecret   string        `yaml:"app_secret" envconfig:"WHATSAPP_APP_SECRET"`
	Timeout     time.Duration `yaml:"timeout" envconfig:"WHATSAPP_TIMEOUT"`
}

type EmailConfig struct {
	Host     string `yaml:"host" envconfig:"SMTP_HOST"`
	Port     int    `yaml:"port" envconfig:"SMTP_PORT"`
	Username string `yaml:"username" envconfig:"SMTP_USERNAME"`
	Password string `yaml:"password" envconfig:"SMTP_PASSWORD"`
	From     string `yaml:"from" envconfig:"SMTP_FROM"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LOG_LEVEL"`
	Pretty bool   `yaml:"pretty" envconfig:"LOG_PRETTY"`
}

// LoadConfig reads config.yml from the usual locations and then applies
// environment overrides. A missing file is not fatal: a fully env-configured
// deployment carries no file at all.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/app")
	viper.AddConfigPath("/app/config")

	config := defaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process("", config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	return config, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			MaxHeaderBytes: 1 << 20,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "postgres",
			Name:    "messaging",
			SSLMode: "disable",
		},
		Redis: RedisConfig{
			URL:          "redis://localhost:6379/0",
			MaxRetries:   3,
			RetryBackoff: 100 * time.Millisecond,
			PoolSize:     10,
			MinIdleConns: 2,
		},
		Dispatcher: DispatcherConfig{
			BatchSize:          100,
			PollInterval:       5 * time.Second,
			LeaseDuration:      30 * time.Second,
			MaxTenantsPerCycle: 50,
			Deferral:           2 * time.Second,
		},
		Cleanup: CleanupConfig{
			Retention: 7 * 24 * time.Hour,
			Interval:  time.Hour,
		},
		RateLimit: RateLimitConfig{
			Rate:              20,
			Capacity:          40,
			RequestsPerSecond: 50,
			Burst:             100,
		},
		Idempotency: IdempotencyConfig{
			TTL: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func (c *DispatcherConfig) ToWorkerConfig() worker.DispatcherConfig {
	cfg := worker.DispatcherConfig{
		BatchSize:          c.BatchSize,
		PollInterval:       c.PollInterval,
		LeaseDuration:      c.LeaseDuration,
		MaxTenantsPerCycle: c.MaxTenantsPerCycle,
		Deferral:           c.Deferral,
	}
	if c.BackoffBase > 0 || c.BackoffMax > 0 {
		cfg.Backoff = backoff.Policy{
			Base:   c.BackoffBase,
			Max:    c.BackoffMax,
			Jitter: c.BackoffJitter,
		}
	}
	return cfg
}

func (c *RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}

func (c *RateLimitConfig) ToBucketConfig() ratelimit.Config {
	return ratelimit.Config{
		Rate:     c.Rate,
		Capacity: c.Capacity,
	}
}

func (c *WhatsAppConfig) ToClientConfig() whatsapp.Config {
	return whatsapp.Config{
		BaseURL:     c.BaseURL,
		AccessToken: c.AccessToken,
		Timeout:     c.Timeout,
	}
}

func (c *EmailConfig) ToSenderConfig() email.Config {
	return email.Config{
		Host:     c.Host,
		Port:     c.Port,
		Username: c.Username,
		Password: c.Password,
		From:     c.From,
	}
}
