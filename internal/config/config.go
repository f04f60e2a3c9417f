package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
	StorageRedis    = "redis"
	StorageNATS     = "nats"
)

type Config struct {
	Port     string
	BaseURL  string
	LogLevel slog.Level

	Storage       string
	PostgresURL   string
	SQLiteDSN     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	NATSURL       string
	NATSBucket    string

	ClickHouseAddr     string
	ClickHouseUser     string
	ClickHousePassword string
	ClickHouseDB       string
	GeoIPPath          string

	TelegramToken string

	CodeLength    int
	MaxAttempts   int
	EnforceExpiry bool
	PurgeInterval time.Duration
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Error loading .env file", "error", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		PostgresURL:        os.Getenv("DB_URL"),
		SQLiteDSN:          getEnv("SQLITE_DSN", "file:urlshortener.db"),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisPrefix:        getEnv("REDIS_PREFIX", "links:"),
		NATSURL:            getEnv("NATS_URL", "nats://localhost:4222"),
		NATSBucket:         getEnv("NATS_BUCKET", "links"),
		ClickHouseAddr:     os.Getenv("CLICKHOUSE_ADDR"),
		ClickHouseUser:     os.Getenv("CLICKHOUSE_USER"),
		ClickHousePassword: os.Getenv("CLICKHOUSE_PASSWORD"),
		ClickHouseDB:       os.Getenv("CLICKHOUSE_DB"),
		GeoIPPath:          os.Getenv("GEOIP_DB"),
		TelegramToken:      os.Getenv("TELEGRAM_API_TOKEN"),
	}
	cfg.BaseURL = getEnv("BASE_URL", "http://localhost:"+cfg.Port)

	defaultStorage := StorageSQLite
	if cfg.PostgresURL != "" {
		defaultStorage = StoragePostgres
	}
	cfg.Storage = strings.ToLower(getEnv("STORAGE", defaultStorage))

	var err error
	if cfg.LogLevel, err = parseLevel(getEnv("LOG_LEVEL", "info")); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.CodeLength, err = getInt("CODE_LENGTH", 7); err != nil {
		return nil, err
	}
	if cfg.MaxAttempts, err = getInt("CODE_MAX_ATTEMPTS", 10); err != nil {
		return nil, err
	}
	if cfg.EnforceExpiry, err = getBool("ENFORCE_EXPIRY", false); err != nil {
		return nil, err
	}
	if cfg.PurgeInterval, err = getDuration("PURGE_INTERVAL", 0); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage {
	case StoragePostgres:
		if c.PostgresURL == "" {
			return errors.New("DB_URL is required for postgres storage")
		}
	case StorageSQLite, StorageRedis, StorageNATS:
	default:
		return fmt.Errorf("unknown STORAGE %q", c.Storage)
	}
	if c.CodeLength < 6 || c.CodeLength > 8 {
		return fmt.Errorf("CODE_LENGTH must be between 6 and 8, got %d", c.CodeLength)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("CODE_MAX_ATTEMPTS must be positive, got %d", c.MaxAttempts)
	}
	if c.PurgeInterval < 0 {
		return fmt.Errorf("PURGE_INTERVAL must not be negative, got %s", c.PurgeInterval)
	}
	return nil
}

func (c *Config) AnalyticsEnabled() bool { return c.ClickHouseAddr != "" }

func (c *Config) BotEnabled() bool { return c.TelegramToken != "" }

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}
