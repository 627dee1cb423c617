package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string `env:"PORT" envDefault:"8080"`

	// Database
	PostgresDSN string `env:"POSTGRES_DSN"`

	// Cache
	RedisAddr    string        `env:"REDIS_ADDR"`
	AuthCacheTTL time.Duration `env:"AUTH_CACHE_TTL" envDefault:"5m"`

	// Observability
	OTELExporterType     string `env:"OTEL_EXPORTER_TYPE"     envDefault:"stdout"` // "stdout", "otlp" or "none"
	OTELExporterEndpoint string `env:"OTEL_EXPORTER_ENDPOINT" envDefault:"localhost:4317"`

	// Rate Limiting
	IngestRateLimitRPM int64 `env:"INGEST_RATE_LIMIT_RPM" envDefault:"6000"` // records per project per minute

	// Seeds a test project on start-up
	RunSeed bool `env:"RUN_SEED" envDefault:"false"`

	CORS CORSConfig
}

// CORSConfig contains CORS policy settings for browser-based dashboards.
type CORSConfig struct {
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	AllowedMethods []string `env:"CORS_ALLOWED_METHODS" envSeparator:"," envDefault:"GET,POST,OPTIONS"`
	AllowedHeaders []string `env:"CORS_ALLOWED_HEADERS" envSeparator:"," envDefault:"Content-Type,Authorization"`
	MaxAge         int      `env:"CORS_MAX_AGE"                          envDefault:"86400"`
}

// DatabaseConfig is the subset of configuration used by the seed command.
type DatabaseConfig struct {
	PostgresDSN string `env:"POSTGRES_DSN"`
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Validation
	if cfg.PostgresDSN == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}
	if cfg.RedisAddr == "" {
		return nil, errors.New("REDIS_ADDR is required")
	}
	if cfg.IngestRateLimitRPM <= 0 {
		return nil, fmt.Errorf("invalid INGEST_RATE_LIMIT_RPM: %d", cfg.IngestRateLimitRPM)
	}
	switch cfg.OTELExporterType {
	case "stdout", "otlp", "none":
	default:
		return nil, fmt.Errorf("invalid OTEL_EXPORTER_TYPE: %q", cfg.OTELExporterType)
	}

	return &cfg, nil
}

func LoadDatabase() (*DatabaseConfig, error) {
	_ = godotenv.Load()

	var cfg DatabaseConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
