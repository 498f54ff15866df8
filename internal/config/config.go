// Package config loads process configuration from the environment,
// following the same getEnv/getEnvInt pattern the rest of this stack
// uses for its service configs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds everything cmd/server needs to boot.
type Config struct {
	ServerPort      string
	Environment     string
	LogLevel        string
	DatabaseHost    string
	DatabasePort    string
	DatabaseUser    string
	DatabasePass    string
	DatabaseName    string
	DatabaseSSLMode string
	MaxConnections  int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	RedisURL        string
	WebhookSecret   string
	WorkerPoolSize  int
	MinSampleSize   int
}

// Load reads configuration from the environment with defaults for
// everything except the webhook secret, which must be set explicitly
// when ENVIRONMENT is "production" (elsewhere it defaults to empty).
func Load() (*Config, error) {
	cfg := &Config{
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		Environment:     getEnv("ENVIRONMENT", "development"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		DatabaseHost:    getEnv("DB_HOST", "localhost"),
		DatabasePort:    getEnv("DB_PORT", "5432"),
		DatabaseUser:    getEnv("DB_USER", "postgres"),
		DatabasePass:    getEnv("DB_PASSWORD", "password"),
		DatabaseName:    getEnv("DB_NAME", "optimizations"),
		DatabaseSSLMode: getEnv("DB_SSL_MODE", "disable"),
		MaxConnections:  getEnvInt("DB_MAX_CONNECTIONS", 25),
		MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNECTIONS", 5),
		ConnMaxLifetime: time.Duration(getEnvInt("DB_CONN_MAX_LIFETIME_SECONDS", 300)) * time.Second,
		RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379"),
		WebhookSecret:   getEnv("WEBHOOK_SECRET", ""),
		WorkerPoolSize:  getEnvInt("WORKER_POOL_SIZE", 4),
		MinSampleSize:   getEnvInt("MIN_SAMPLE_SIZE", 100),
	}

	if cfg.Environment == "production" && cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("WEBHOOK_SECRET must be set in production")
	}

	return cfg, nil
}

// DSN renders the Postgres connection string gorm expects.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DatabaseHost, c.DatabasePort, c.DatabaseUser, c.DatabasePass, c.DatabaseName, c.DatabaseSSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}
