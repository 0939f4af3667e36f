package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers understood by credentials.Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
)

const devSQLiteDSN = "file:./dev.db"

// Config holds all configuration for the gateway
type Config struct {
	// Server
	Port            string
	Env             string
	LogLevel        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	MetricsEnabled  bool
	MaxBodyBytes    int64

	// Credential store
	StoreDriver    string
	DatabaseURL    string
	DBAutoMigrate  bool
	RedisURL       string
	RedisKeyPrefix string

	// Upstream
	DefaultBaseURL        string
	UpstreamHeaderTimeout time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", "8080"),
		Env:                   getEnv("ENV", "development"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		ReadTimeout:           getEnvDuration("SERVER_READ_TIMEOUT", 60*time.Second),
		WriteTimeout:          getEnvDuration("SERVER_WRITE_TIMEOUT", 0),
		ShutdownTimeout:       getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		CORSOrigins:           getEnvList("CORS_ORIGINS", []string{"*"}),
		MetricsEnabled:        getEnvBool("METRICS_ENABLED", true),
		MaxBodyBytes:          getEnvInt64("MAX_REQUEST_BODY_BYTES", 10<<20),
		StoreDriver:           strings.ToLower(getEnv("STORE_DRIVER", "")),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		DBAutoMigrate:         getEnvBool("DB_AUTO_MIGRATE", false),
		RedisURL:              getEnv("REDIS_URL", "redis://localhost:6379"),
		RedisKeyPrefix:        getEnv("REDIS_KEY_PREFIX", "relay:"),
		DefaultBaseURL:        getEnv("DEFAULT_BASE_URL", "https://api.openai.com/v1"),
		UpstreamHeaderTimeout: getEnvDuration("UPSTREAM_HEADER_TIMEOUT", 60*time.Second),
	}

	// Development falls back to a local SQLite file when no database is configured.
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = DriverPostgres
		if cfg.DatabaseURL == "" && cfg.IsDevelopment() {
			cfg.StoreDriver = DriverSQLite
		}
	}
	if cfg.StoreDriver == DriverSQLite && cfg.DatabaseURL == "" {
		cfg.DatabaseURL = devSQLiteDSN
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDevelopment reports whether the gateway runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case DriverPostgres, DriverSQLite:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for STORE_DRIVER=%s", c.StoreDriver)
		}
	case DriverRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for STORE_DRIVER=redis")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q (want postgres, sqlite or redis)", c.StoreDriver)
	}

	if c.DefaultBaseURL == "" {
		return fmt.Errorf("DEFAULT_BASE_URL must not be empty")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.UpstreamHeaderTimeout < 0 {
		return fmt.Errorf("UPSTREAM_HEADER_TIMEOUT must not be negative")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// Bare integers are seconds.
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
