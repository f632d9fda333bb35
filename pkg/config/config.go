package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all process-level configuration for the risk engine.
// The risk parameter surface (limits, triggers, scenarios) lives in a
// separate YAML document loaded by internal/riskconfig; this struct only
// covers the environment the process runs in.
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Risk parameter file
	RiskConfigPath string

	// Initial portfolio file (JSON); the feed keeps it current
	PortfolioPath string

	// Operator grants as "actor:role" pairs, comma separated. Empty
	// means allow-all in development and deny-all otherwise.
	OperatorGrants string

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// Market data feed
	Feed FeedConfig

	// Order execution service
	Exec ExecConfig

	// Notification webhook
	Notify NotifyConfig

	// Logging
	LogLevel  string
	LogFormat string
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// RedisConfig holds Redis configuration for the price/return cache.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// FeedConfig holds market data feed configuration.
type FeedConfig struct {
	WSURL           string        // websocket endpoint for streaming prices
	BenchmarkSymbol string        // symbol whose returns feed beta
	CacheTTL        time.Duration // price considered stale after this
	PollInterval    time.Duration // REST fallback poll cadence
}

// ExecConfig holds order execution service configuration. With an
// empty BaseURL the process runs in dry-run mode: close-all and order
// intents are logged but never leave the process.
type ExecConfig struct {
	BaseURL string
	APIKey  string
}

// NotifyConfig holds notification webhook configuration.
type NotifyConfig struct {
	WebhookURL     string
	RatePerMinute  int
	RequestTimeout time.Duration
}

// Load reads configuration from environment variables. This function is
// the only place in the codebase that calls os.Getenv.
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Port: getEnv("PORT", "8095"),
		Env:  getEnv("ENV", "development"),

		RiskConfigPath: getEnv("RISK_CONFIG_PATH", "config/risk.yaml"),
		PortfolioPath:  getEnv("PORTFOLIO_PATH", ""),
		OperatorGrants: getEnv("OPERATOR_GRANTS", ""),

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
		},

		Feed: FeedConfig{
			WSURL:           getEnv("FEED_WS_URL", ""),
			BenchmarkSymbol: getEnv("FEED_BENCHMARK_SYMBOL", "SPY"),
			CacheTTL:        getEnvAsDuration("FEED_CACHE_TTL", "5m"),
			PollInterval:    getEnvAsDuration("FEED_POLL_INTERVAL", "30s"),
		},

		Exec: ExecConfig{
			BaseURL: getEnv("EXEC_BASE_URL", ""),
			APIKey:  getEnv("EXEC_API_KEY", ""),
		},

		Notify: NotifyConfig{
			WebhookURL:     getEnv("NOTIFY_WEBHOOK_URL", ""),
			RatePerMinute:  getEnvAsInt("NOTIFY_RATE_PER_MINUTE", 30),
			RequestTimeout: getEnvAsDuration("NOTIFY_REQUEST_TIMEOUT", "10s"),
		},

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks that required configuration values are set.
func (c *Config) validate() error {
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	if c.RiskConfigPath == "" {
		return fmt.Errorf("RISK_CONFIG_PATH is required")
	}

	return nil
}

// loadEnvFile tries to load .env from a few likely locations.
func loadEnvFile() {
	paths := []string{
		".env",
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
