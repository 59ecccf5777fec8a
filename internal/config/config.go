package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Pricing  PricingConfig
	Admin    AdminConfig
	Limits   LimitsConfig
	Log      LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type StorageConfig struct {
	Driver string
}

type RedisConfig struct {
	// Addr empty disables redis.
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	User     string
	Password string
	Name     string
	Host     string
	Port     int
	SSLMode  string
}

type PricingConfig struct {
	DiscountPercent   int64
	OverpaymentPolicy string
}

type AdminConfig struct {
	// Token empty leaves admin routes open.
	Token string
}

type LimitsConfig struct {
	RateLimitPerMinute int
	IdempotencyTTL     time.Duration
	EventCacheTTL      time.Duration
}

type LogConfig struct {
	Level  slog.Level
	Format string
}

func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

	var (
		cfg Config
		err error
	)

	cfg.Server.Host = getenv("SERVER_HOST", "localhost")
	if cfg.Server.Port, err = getenvInt("SERVER_PORT", 8080); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cfg.Storage.Driver = strings.ToLower(getenv("STORAGE_DRIVER", DriverPostgres))
	switch cfg.Storage.Driver {
	case DriverPostgres:
		if cfg.Postgres, err = loadPostgres(); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	case DriverMemory:
	default:
		return nil, fmt.Errorf("%s: invalid STORAGE_DRIVER %q", op, cfg.Storage.Driver)
	}

	cfg.Redis.Addr = os.Getenv("REDIS_ADDR")
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	if cfg.Redis.DB, err = getenvInt("REDIS_DB", 0); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	discount, err := getenvInt("DISCOUNT_PERCENT", 20)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if discount < 1 || discount > 100 {
		return nil, fmt.Errorf("%s: DISCOUNT_PERCENT must be in 1..100, got %d", op, discount)
	}
	cfg.Pricing.DiscountPercent = int64(discount)

	cfg.Pricing.OverpaymentPolicy = strings.ToLower(getenv("OVERPAYMENT_POLICY", "refund"))
	switch cfg.Pricing.OverpaymentPolicy {
	case "refund", "retain":
	default:
		return nil, fmt.Errorf("%s: invalid OVERPAYMENT_POLICY %q", op, cfg.Pricing.OverpaymentPolicy)
	}

	cfg.Admin.Token = os.Getenv("ADMIN_TOKEN")

	if cfg.Limits.RateLimitPerMinute, err = getenvInt("RATE_LIMIT_PER_MINUTE", 10); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.Limits.IdempotencyTTL, err = getenvDuration("IDEMPOTENCY_TTL", 2*time.Hour); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.Limits.EventCacheTTL, err = getenvDuration("EVENT_CACHE_TTL", 60*time.Second); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := cfg.Log.Level.UnmarshalText([]byte(getenv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("%s: invalid LOG_LEVEL: %w", op, err)
	}

	cfg.Log.Format = strings.ToLower(getenv("LOG_FORMAT", "text"))
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		return nil, fmt.Errorf("%s: invalid LOG_FORMAT %q", op, cfg.Log.Format)
	}

	return &cfg, nil
}

func loadPostgres() (PostgresConfig, error) {
	port, err := getenvInt("POSTGRES_PORT", 5432)
	if err != nil {
		return PostgresConfig{}, err
	}

	pg := PostgresConfig{
		Host:     getenv("POSTGRES_HOST", "localhost"),
		Port:     port,
		User:     os.Getenv("POSTGRES_USER"),
		Password: os.Getenv("POSTGRES_PASSWORD"),
		Name:     os.Getenv("POSTGRES_DB"),
		SSLMode:  getenv("POSTGRES_SSLMODE", "disable"),
	}

	switch {
	case pg.User == "":
		return PostgresConfig{}, fmt.Errorf("missing POSTGRES_USER")
	case pg.Password == "":
		return PostgresConfig{}, fmt.Errorf("missing POSTGRES_PASSWORD")
	case pg.Name == "":
		return PostgresConfig{}, fmt.Errorf("missing POSTGRES_DB")
	}

	return pg, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	s := getenv(key, "")
	if s == "" {
		return def, nil
	}

	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	s := getenv(key, "")
	if s == "" {
		return def, nil
	}

	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return v, nil
}
