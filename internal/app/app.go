package app

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/ulule/limiter/v3"
	smemory "github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/sundayezeilo/shorturl/internal/cache"
	"github.com/sundayezeilo/shorturl/internal/config"
	"github.com/sundayezeilo/shorturl/internal/db"
	"github.com/sundayezeilo/shorturl/internal/metrics"
	"github.com/sundayezeilo/shorturl/internal/server"
	"github.com/sundayezeilo/shorturl/internal/shortener"
)

const memoryCacheCleanup = 5 * time.Minute

// App holds the application dependencies and configuration.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	DBPool  *pgxpool.Pool
	Cache   cache.Store
	Service shortener.Service
	Server  *server.Server
}

// New initializes and returns a new App instance with all dependencies wired up.
func New(ctx context.Context) (*App, error) {
	if err := loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := setupLogger(cfg.App.LogLevel)

	logger.Info("starting application",
		"env", cfg.App.Environment,
		"version", cfg.Observability.ServiceVersion,
		"store", cfg.Database.Backend,
		"cache", cfg.Cache.Backend,
	)

	a := &App{Config: cfg, Logger: logger}

	repo, err := a.setupRepository(ctx)
	if err != nil {
		return nil, err
	}

	if err := a.setupCache(ctx); err != nil {
		a.Shutdown()
		return nil, err
	}

	var m *metrics.Metrics
	if cfg.Observability.MetricsEnabled {
		m = metrics.New(cfg.Observability.ServiceVersion)
	}

	svcConfig := &shortener.ServiceConfig{
		MaxAttempts:  cfg.Shortener.MaxAttempts,
		ForwardTTL:   cfg.Cache.ForwardTTL,
		ReverseTTL:   cfg.Cache.ReverseTTL,
		CacheTimeout: cfg.Cache.Timeout,
		StoreTimeout: cfg.Shortener.StoreTimeout,
		AsyncClicks:  cfg.Shortener.AsyncClicks,
		Logger:       logger,
	}
	if a.Cache != nil {
		svcConfig.Cache = a.Cache
	}
	if m != nil {
		svcConfig.CacheStats = m
	}
	a.Service = shortener.NewService(repo, svcConfig)

	handler := shortener.NewHandler(shortener.HandlerConfig{
		Service: a.Service,
		Logger:  logger,
		BaseURL: cfg.Server.BaseURL,
	})

	rl, err := a.setupRateLimiter()
	if err != nil {
		a.Shutdown()
		return nil, err
	}

	a.Server = server.New(cfg, logger, server.Options{
		Handler:      handler,
		Metrics:      m,
		RateLimiter:  rl,
		HealthChecks: a.healthChecks(),
	})

	logger.Info("application initialized",
		"port", cfg.Server.Port,
		"base_url", cfg.Server.BaseURL,
	)

	return a, nil
}

// Start starts the application server.
func (a *App) Start(ctx context.Context) error {
	a.Logger.Info("server starting",
		"port", a.Config.Server.Port,
		"base_url", a.Config.Server.BaseURL,
	)

	if err := a.Server.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown releases resources in reverse dependency order. Pending
// background click writes finish before the store closes.
func (a *App) Shutdown() {
	a.Logger.Info("shutting down application")

	if a.Service != nil {
		a.Service.Close()
	}

	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.Logger.Warn("cache close failed", "error", err.Error())
		} else {
			a.Logger.Info("cache closed")
		}
	}

	if a.DBPool != nil {
		a.DBPool.Close()
		a.Logger.Info("database connection closed")
	}
}

func (a *App) setupRepository(ctx context.Context) (shortener.Repository, error) {
	if a.Config.Database.Backend == config.StoreMemory {
		a.Logger.Warn("using in-memory store, data will not survive a restart")
		return shortener.NewMemoryRepository(nil), nil
	}

	pool, err := connectDatabase(ctx, a.Config, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.DBPool = pool

	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return shortener.NewRepository(db.New(pool), nil), nil
}

func (a *App) setupCache(ctx context.Context) error {
	switch a.Config.Cache.Backend {
	case config.CacheRedis:
		a.Logger.Info("connecting to redis", "addr", a.Config.Cache.RedisAddr, "db", a.Config.Cache.RedisDB)
		r, err := cache.NewRedis(ctx, cache.RedisOptions{
			Addr:     a.Config.Cache.RedisAddr,
			Password: a.Config.Cache.RedisPassword,
			DB:       a.Config.Cache.RedisDB,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.Cache = r
	case config.CacheMemory:
		a.Cache = cache.NewMemory(memoryCacheCleanup)
	case config.CacheNone:
		a.Logger.Warn("link cache disabled")
	}
	return nil
}

// setupRateLimiter shares the Redis connection when there is one so the
// limit holds across instances.
func (a *App) setupRateLimiter() (*limiter.Limiter, error) {
	if a.Config.RateLimit.Rate == "" {
		return nil, nil
	}

	rate, err := limiter.NewRateFromFormatted(a.Config.RateLimit.Rate)
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit: %w", err)
	}

	store := smemory.NewStore()
	if r, ok := a.Cache.(*cache.Redis); ok {
		store, err = sredis.NewStoreWithOptions(r.Client(), limiter.StoreOptions{
			Prefix:   "ratelimit",
			MaxRetry: 3,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create rate limit store: %w", err)
		}
	}

	return limiter.New(store, rate), nil
}

func (a *App) healthChecks() []server.HealthCheck {
	var checks []server.HealthCheck
	if a.DBPool != nil {
		checks = append(checks, server.HealthCheck{Name: "postgres", Critical: true, Ping: a.DBPool.Ping})
	}
	if a.Cache != nil {
		checks = append(checks, server.HealthCheck{Name: "cache", Ping: a.Cache.Ping})
	}
	return checks
}

// loadEnv loads .env file only in non-production environments.
func loadEnv() error {
	env := os.Getenv("APP_ENV")
	if env == "development" || env == "test" {
		if err := godotenv.Load(); err != nil {
			log.Println("no .env file found.")
		}
	}
	return nil
}

// setupLogger creates a structured logger based on the log level.
func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}

// connectDatabase establishes a connection to the PostgreSQL database.
func connectDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.Database.MaxConns
	poolConfig.MinConns = cfg.Database.MinConns

	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established")

	return pool, nil
}
