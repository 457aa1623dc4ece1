package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/ulule/limiter/v3"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Cache         CacheConfig
	Shortener     ShortenerConfig
	RateLimit     RateLimitConfig
	App           AppConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"SERVER_PORT" required:"true"`
	Host            string        `envconfig:"SERVER_HOST" required:"true"`
	BaseURL         string        `envconfig:"SERVER_BASE_URL" required:"true"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"10s"`
	IdleTimeout     time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"120s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
	AllowedOrigins  []string      `envconfig:"SERVER_ALLOWED_ORIGINS"`
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 || c.IdleTimeout <= 0 {
		return fmt.Errorf("read, write and idle timeouts must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// DatabaseConfig selects the durable store. The DB_* fields are only
// consulted for the postgres backend.
type DatabaseConfig struct {
	Backend  string `envconfig:"STORE_BACKEND" default:"postgres"`
	Host     string `envconfig:"DB_HOST"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	User     string `envconfig:"DB_USER"`
	Password string `envconfig:"DB_PASSWORD"`
	Name     string `envconfig:"DB_NAME"`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	MaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	MinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`
}

// Validate validates the database configuration.
func (c *DatabaseConfig) Validate() error {
	switch c.Backend {
	case StoreMemory:
		return nil
	case StorePostgres:
	default:
		return fmt.Errorf("invalid store backend: %s (must be one of: postgres, memory)", c.Backend)
	}

	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if c.User == "" {
		return fmt.Errorf("user cannot be empty")
	}
	if c.Password == "" {
		return fmt.Errorf("password cannot be empty")
	}
	if c.Name == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	if c.MaxConns <= 0 || c.MinConns <= 0 {
		return fmt.Errorf("connection limits must be positive")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("min connections (%d) cannot be greater than max connections (%d)", c.MinConns, c.MaxConns)
	}

	sslModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(sslModes, c.SSLMode) {
		return fmt.Errorf("invalid SSL mode: %s (must be one of: disable, require, verify-ca, verify-full)", c.SSLMode)
	}
	return nil
}

// ConnectionString returns the PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Cache backends. CacheNone disables caching.
const (
	CacheRedis  = "redis"
	CacheMemory = "memory"
	CacheNone   = "none"
)

// CacheConfig configures the forward and reverse link caches.
type CacheConfig struct {
	Backend       string        `envconfig:"CACHE_BACKEND" default:"memory"`
	RedisAddr     string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	ForwardTTL    time.Duration `envconfig:"CACHE_FORWARD_TTL" default:"1h"`
	ReverseTTL    time.Duration `envconfig:"CACHE_REVERSE_TTL" default:"1h"`
	Timeout       time.Duration `envconfig:"CACHE_TIMEOUT" default:"100ms"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	if !slices.Contains([]string{CacheRedis, CacheMemory, CacheNone}, c.Backend) {
		return fmt.Errorf("invalid cache backend: %s (must be one of: redis, memory, none)", c.Backend)
	}
	if c.Backend == CacheRedis && c.RedisAddr == "" {
		return fmt.Errorf("redis address is required for the redis backend")
	}
	if c.RedisDB < 0 {
		return fmt.Errorf("redis db cannot be negative")
	}
	if c.ForwardTTL <= 0 || c.ReverseTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("cache timeout must be positive")
	}
	return nil
}

// ShortenerConfig tunes the resolution engine.
type ShortenerConfig struct {
	MaxAttempts  int           `envconfig:"SHORTENER_MAX_ATTEMPTS" default:"5"`
	StoreTimeout time.Duration `envconfig:"SHORTENER_STORE_TIMEOUT" default:"2s"`
	AsyncClicks  bool          `envconfig:"SHORTENER_ASYNC_CLICKS" default:"false"`
}

// Validate validates the shortener configuration.
func (c *ShortenerConfig) Validate() error {
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("store timeout must be positive")
	}
	return nil
}

// RateLimitConfig limits short URL creation per client IP. Rate uses the
// "<limit>-<period>" format, e.g. "100-M". An empty Rate disables limiting.
type RateLimitConfig struct {
	Rate string `envconfig:"RATE_LIMIT" default:"100-M"`
}

// Validate validates the rate limit configuration.
func (c *RateLimitConfig) Validate() error {
	if c.Rate == "" {
		return nil
	}
	if _, err := limiter.NewRateFromFormatted(c.Rate); err != nil {
		return fmt.Errorf("invalid rate %q: %w", c.Rate, err)
	}
	return nil
}

// AppConfig holds application-specific configuration.
type AppConfig struct {
	Environment string `envconfig:"APP_ENV" required:"true"`   // development, staging, production, test
	LogLevel    string `envconfig:"LOG_LEVEL" required:"true"` // debug, info, warn, error
}

// Validate validates the app configuration.
func (c *AppConfig) Validate() error {
	envs := []string{"development", "staging", "production", "test"}
	if !slices.Contains(envs, c.Environment) {
		return fmt.Errorf("invalid environment: %s (must be one of: development, staging, production, test)", c.Environment)
	}

	levels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(levels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}
	return nil
}

// ObservabilityConfig holds metrics configuration.
type ObservabilityConfig struct {
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
	ServiceName    string `envconfig:"SERVICE_NAME" default:"shorturl"`
	ServiceVersion string `envconfig:"SERVICE_VERSION" default:"dev"`
}

// Validate validates the observability configuration.
func (c *ObservabilityConfig) Validate() error {
	if c.MetricsEnabled && c.ServiceName == "" {
		return fmt.Errorf("service name is required when metrics are enabled")
	}
	return nil
}

type section struct {
	name     string
	target   any
	validate func() error
}

// Load loads configuration from environment variables only.
// .env files are loaded by cmd/server for development.
func Load() (*Config, error) {
	cfg := &Config{}

	sections := []section{
		{"Server", &cfg.Server, cfg.Server.Validate},
		{"Database", &cfg.Database, cfg.Database.Validate},
		{"Cache", &cfg.Cache, cfg.Cache.Validate},
		{"Shortener", &cfg.Shortener, cfg.Shortener.Validate},
		{"RateLimit", &cfg.RateLimit, cfg.RateLimit.Validate},
		{"App", &cfg.App, cfg.App.Validate},
		{"Observability", &cfg.Observability, cfg.Observability.Validate},
	}

	for _, s := range sections {
		if err := envconfig.Process("", s.target); err != nil {
			return nil, fmt.Errorf("failed to load %s config: %w", s.name, err)
		}
		if err := s.validate(); err != nil {
			return nil, fmt.Errorf("invalid %s config: %w", s.name, err)
		}
	}

	return cfg, nil
}
