// Package config loads runtime configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything the server needs to start. Every field has a
// default that works for local development with the memory store.
type Config struct {
	Port     string
	LogLevel string

	// StoreDriver selects the persistence backend:
	// "memory", "sqlite" or "postgres".
	StoreDriver string
	// DBPath is the SQLite file path (":memory:" for in-memory).
	DBPath string
	// PostgresDSN is the lib/pq connection string.
	PostgresDSN string

	// KafkaBrokers enables event publishing when non-empty.
	KafkaBrokers []string

	// Conflict retry tuning for the payment and refund processors.
	MaxRetries     int
	InitialBackoff time.Duration
}

// Load reads configuration from environment variables, falling back to
// defaults. Call godotenv.Load first if a .env file should be honored.
func Load() Config {
	return Config{
		Port:           getEnv("PORT", "8080"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		StoreDriver:    getEnv("STORE_DRIVER", "sqlite"),
		DBPath:         getEnv("DB_PATH", "billing.db"),
		PostgresDSN:    getEnv("POSTGRES_DSN", ""),
		KafkaBrokers:   getEnvList("KAFKA_BROKERS"),
		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 25*time.Millisecond),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
