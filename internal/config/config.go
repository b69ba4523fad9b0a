package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	AdminAPIToken      string
	CORSAllowedOrigins []string

	// Display calendar for settlement period boundaries.
	DisplayTZName        string
	DisplayUTCOffsetHour int

	// Default rates in basis points, applied when a record or payload does
	// not carry an explicit rate.
	VATRateBps        int
	DepositRateBps    int
	CommissionRateBps int
	UrgentRateBps     int
	MinTotalVATBps    int
	MinimumOrderTotal int64

	IdempotencyTTL   time.Duration
	LockTTL          time.Duration
	LockRetryBackoff time.Duration

	// AdminRateLimit uses the limiter formatted-rate syntax, e.g. "120-M".
	AdminRateLimit string

	// PeriodCloseCron schedules the monthly settlement close.
	PeriodCloseCron   string
	CloseBatchSize    int
	MigrateOnStart    bool
	WorkerConcurrency int
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		AdminAPIToken:      strings.TrimSpace(k.String("ADMIN_API_TOKEN")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		DisplayTZName:        valueOrDefault(k.String("DISPLAY_TZ_NAME"), "KST"),
		DisplayUTCOffsetHour: parseInt(k.String("DISPLAY_UTC_OFFSET_HOURS"), 9),

		VATRateBps:        parseInt(k.String("SETTLE_VAT_RATE_BPS"), 1000),
		DepositRateBps:    parseInt(k.String("SETTLE_DEPOSIT_RATE_BPS"), 2000),
		CommissionRateBps: parseInt(k.String("SETTLE_COMMISSION_RATE_BPS"), 1500),
		UrgentRateBps:     parseInt(k.String("PRICING_URGENT_RATE_BPS"), 1500),
		MinTotalVATBps:    parseInt(k.String("PRICING_MIN_TOTAL_VAT_BPS"), 0),
		MinimumOrderTotal: parseInt64(k.String("PRICING_MINIMUM_ORDER_TOTAL"), 0),

		IdempotencyTTL:   parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		LockTTL:          parseDuration(k.String("LOCK_TTL"), "30s"),
		LockRetryBackoff: parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),

		AdminRateLimit: valueOrDefault(k.String("ADMIN_RATE_LIMIT"), "120-M"),

		PeriodCloseCron:   valueOrDefault(k.String("PERIOD_CLOSE_CRON"), "0 0 1 * *"),
		CloseBatchSize:    parseInt(k.String("PERIOD_CLOSE_BATCH_SIZE"), 500),
		MigrateOnStart:    parseBool(k.String("DB_MIGRATE_ON_START")),
		WorkerConcurrency: parseInt(k.String("WORKER_CONCURRENCY"), 4),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.AdminAPIToken == "" {
		return nil, errors.New("ADMIN_API_TOKEN is required")
	}
	if cfg.VATRateBps < 0 || cfg.DepositRateBps < 0 || cfg.DepositRateBps > 10_000 {
		return nil, errors.New("settlement rate defaults out of range")
	}
	if cfg.CommissionRateBps < 0 || cfg.CommissionRateBps > 10_000 {
		return nil, errors.New("SETTLE_COMMISSION_RATE_BPS out of range")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// DisplayOffsetSeconds converts the configured offset to seconds for the
// civil calendar.
func (c *Config) DisplayOffsetSeconds() int {
	return c.DisplayUTCOffsetHour * 60 * 60
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseInt64(value string, fallback int64) int64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
