package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	SequenceBackendStore = "store"
	SequenceBackendRedis = "redis"
)

type Config struct {
	Port                  string
	AppEnv                string
	LogLevel              string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AccessTokenTTLMinutes int

	TaxRate               decimal.Decimal
	ReportTimezone        string
	ReportTopN            int
	ReportCacheTTLSeconds int
	SequenceBackend       string

	AccrualWorkers        int
	AccrualMaxAttempts    int
	AccrualRetryBackoffMS int
	AccrualSweepSeconds   int
}

// Load reads configuration from the environment, with an optional .env file
// in the working directory underneath it.
func Load() Config {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("TAX_RATE", "0.10")
	v.SetDefault("REPORT_TIMEZONE", "UTC")
	v.SetDefault("REPORT_TOP_N", 5)
	v.SetDefault("REPORT_CACHE_TTL_SECONDS", 300)
	v.SetDefault("SEQUENCE_BACKEND", SequenceBackendStore)
	v.SetDefault("ACCRUAL_WORKERS", 2)
	v.SetDefault("ACCRUAL_MAX_ATTEMPTS", 5)
	v.SetDefault("ACCRUAL_RETRY_BACKOFF_MS", 500)
	v.SetDefault("ACCRUAL_SWEEP_SECONDS", 60)

	// A missing .env is normal outside local development.
	_ = v.ReadInConfig()

	taxRate, err := decimal.NewFromString(strings.TrimSpace(v.GetString("TAX_RATE")))
	if err != nil {
		// Keep the raw value invalid so startup validation rejects it.
		taxRate = decimal.NewFromInt(-1)
	}

	return Config{
		Port:                  v.GetString("PORT"),
		AppEnv:                strings.ToLower(v.GetString("APP_ENV")),
		LogLevel:              strings.ToLower(v.GetString("LOG_LEVEL")),
		AllowedOrigin:         v.GetString("ALLOWED_ORIGIN"),
		DatabaseURL:           strings.TrimSpace(v.GetString("DATABASE_URL")),
		RedisAddr:             strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               v.GetInt("REDIS_DB"),
		AuthSecret:            strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes: positive(v.GetInt("ACCESS_TOKEN_TTL_MINUTES"), 480),
		TaxRate:               taxRate,
		ReportTimezone:        strings.TrimSpace(v.GetString("REPORT_TIMEZONE")),
		ReportTopN:            positive(v.GetInt("REPORT_TOP_N"), 5),
		ReportCacheTTLSeconds: positive(v.GetInt("REPORT_CACHE_TTL_SECONDS"), 300),
		SequenceBackend:       strings.ToLower(strings.TrimSpace(v.GetString("SEQUENCE_BACKEND"))),
		AccrualWorkers:        positive(v.GetInt("ACCRUAL_WORKERS"), 2),
		AccrualMaxAttempts:    positive(v.GetInt("ACCRUAL_MAX_ATTEMPTS"), 5),
		AccrualRetryBackoffMS: positive(v.GetInt("ACCRUAL_RETRY_BACKOFF_MS"), 500),
		AccrualSweepSeconds:   positive(v.GetInt("ACCRUAL_SWEEP_SECONDS"), 60),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func (c Config) TokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c Config) ReportCacheTTL() time.Duration {
	return time.Duration(c.ReportCacheTTLSeconds) * time.Second
}

func (c Config) AccrualBackoff() time.Duration {
	return time.Duration(c.AccrualRetryBackoffMS) * time.Millisecond
}

func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.AccrualSweepSeconds) * time.Second
}

// Location resolves the reporting timezone used for day boundaries and
// sequence keys.
func (c Config) Location() (*time.Location, error) {
	name := c.ReportTimezone
	if name == "" {
		name = "UTC"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("REPORT_TIMEZONE %q: %w", name, err)
	}
	return loc, nil
}

func positive(value int, fallback int) int {
	if value < 1 {
		return fallback
	}
	return value
}
