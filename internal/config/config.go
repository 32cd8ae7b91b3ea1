// Package config loads service configuration from environment variables,
// with an optional .env file for local development.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	Environment string
	HTTPAddr    string

	// DatabaseURL selects the backing store. Empty means the in-memory
	// store, which is only acceptable outside production.
	DatabaseURL string

	RedisAddr    string
	KafkaBrokers []string

	AuditDBPath string

	MaxBodyBytes      int64
	RateLimitCapacity int
	RateLimitRefill   float64
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment:       getEnv("APP_ENV", "development"),
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		AuditDBPath:       getEnv("AUDIT_DB_PATH", "audit.db"),
		MaxBodyBytes:      getEnvInt64("MAX_BODY_BYTES", 1<<20),
		RateLimitCapacity: int(getEnvInt64("RATE_LIMIT_CAPACITY", 50)),
		RateLimitRefill:   getEnvFloat("RATE_LIMIT_REFILL", 10),
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable for the environment.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("HTTP_ADDR must not be empty")
	}

	if c.Environment == "production" || c.Environment == "staging" {
		var missing []string
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
		if c.RedisAddr == "" {
			missing = append(missing, "REDIS_ADDR")
		}
		if len(missing) > 0 {
			return errors.New("missing required environment variables for " + c.Environment + ": " + strings.Join(missing, ", "))
		}
	}

	if c.MaxBodyBytes <= 0 {
		return errors.New("MAX_BODY_BYTES must be positive")
	}
	if c.RateLimitCapacity < 0 || c.RateLimitRefill < 0 {
		return errors.New("rate limit settings must not be negative")
	}
	return nil
}

// MemoryMode reports whether the service runs on in-memory stores.
func (c *Config) MemoryMode() bool {
	return c.DatabaseURL == ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
