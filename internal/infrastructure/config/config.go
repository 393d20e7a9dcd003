// Package config loads service configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all service configuration
type Config struct {
	Environment string
	LogLevel    string

	Server         ServerConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	Circle         CircleConfig
	Reconciliation ReconciliationConfig
	Tracing        TracingConfig
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port         int
	ReadTimeout  int
	WriteTimeout int
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds redis settings; an empty Addr disables redis-backed
// webhook deduplication.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// CircleConfig holds processor API settings
type CircleConfig struct {
	APIURL                  string
	APIKey                  string
	AppID                   string
	WebhookSecret           string
	SkipWebhookVerification bool
}

// ReconciliationConfig holds polling sweep settings
type ReconciliationConfig struct {
	Enabled           bool
	Interval          time.Duration
	MaxTransactionAge time.Duration
	Currencies        []string
	MaxRetries        int
	RetryBackoff      time.Duration
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled      bool
	CollectorURL string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", 15)
	v.SetDefault("SERVER_WRITE_TIMEOUT", 15)

	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 25)
	v.SetDefault("DATABASE_MAX_IDLE_CONNS", 5)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "5m")

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("CIRCLE_API_URL", "https://api.circle.com/v1/w3s")
	v.SetDefault("CIRCLE_SKIP_WEBHOOK_VERIFICATION", false)

	v.SetDefault("RECONCILIATION_ENABLED", true)
	v.SetDefault("RECONCILIATION_INTERVAL", "30s")
	v.SetDefault("RECONCILIATION_MAX_TRANSACTION_AGE", "24h")
	v.SetDefault("RECONCILIATION_CURRENCIES", "USDC")
	v.SetDefault("RECONCILIATION_MAX_RETRIES", 3)
	v.SetDefault("RECONCILIATION_RETRY_BACKOFF", "1s")

	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("OTEL_COLLECTOR_URL", "localhost:4317")

	cfg := &Config{
		Environment: v.GetString("ENVIRONMENT"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		Server: ServerConfig{
			Port:         v.GetInt("SERVER_PORT"),
			ReadTimeout:  v.GetInt("SERVER_READ_TIMEOUT"),
			WriteTimeout: v.GetInt("SERVER_WRITE_TIMEOUT"),
		},
		Database: DatabaseConfig{
			URL:             v.GetString("DATABASE_URL"),
			MaxOpenConns:    v.GetInt("DATABASE_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DATABASE_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DATABASE_CONN_MAX_LIFETIME"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Circle: CircleConfig{
			APIURL:                  v.GetString("CIRCLE_API_URL"),
			APIKey:                  v.GetString("CIRCLE_API_KEY"),
			AppID:                   v.GetString("CIRCLE_APP_ID"),
			WebhookSecret:           v.GetString("CIRCLE_WEBHOOK_SECRET"),
			SkipWebhookVerification: v.GetBool("CIRCLE_SKIP_WEBHOOK_VERIFICATION"),
		},
		Reconciliation: ReconciliationConfig{
			Enabled:           v.GetBool("RECONCILIATION_ENABLED"),
			Interval:          v.GetDuration("RECONCILIATION_INTERVAL"),
			MaxTransactionAge: v.GetDuration("RECONCILIATION_MAX_TRANSACTION_AGE"),
			Currencies:        splitList(v.GetString("RECONCILIATION_CURRENCIES")),
			MaxRetries:        v.GetInt("RECONCILIATION_MAX_RETRIES"),
			RetryBackoff:      v.GetDuration("RECONCILIATION_RETRY_BACKOFF"),
		},
		Tracing: TracingConfig{
			Enabled:      v.GetBool("TRACING_ENABLED"),
			CollectorURL: v.GetString("OTEL_COLLECTOR_URL"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Circle.APIKey == "" && c.Environment == "production" {
		return fmt.Errorf("CIRCLE_API_KEY is required in production")
	}
	if c.Circle.WebhookSecret == "" && !c.Circle.SkipWebhookVerification && c.Environment == "production" {
		return fmt.Errorf("CIRCLE_WEBHOOK_SECRET is required in production")
	}
	if c.Reconciliation.Interval <= 0 {
		return fmt.Errorf("RECONCILIATION_INTERVAL must be positive")
	}
	if len(c.Reconciliation.Currencies) == 0 {
		return fmt.Errorf("RECONCILIATION_CURRENCIES must name at least one currency")
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
