// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"tixwatch/internal/model"
)

// Variant selects which deployment shape the configuration is loaded for.
type Variant string

// Supported variants.
const (
	VariantChat   Variant = "chat"
	VariantWorker Variant = "worker"
	VariantServer Variant = "server"
)

// Extraction modes.
const (
	ExtractSections = "sections"
	ExtractText     = "text"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds the application configuration.
type Config struct {
	Variant          Variant
	TelegramBotToken string
	DatabaseDriver   string
	DatabasePath     string
	DatabaseURL      string
	LogLevel         string
	AllowedUsers     []int64

	Bounds          model.PeriodBounds
	DefaultPeriod   int
	MaxTasksPerPass int
	Workers         int
	TickInterval    time.Duration
	// TickSoftDeadline stops a pass from starting further tasks once it has
	// run this long. Zero disables it.
	TickSoftDeadline time.Duration
	AlwaysNotify     bool

	FetchTimeout    time.Duration
	FetchMaxRetries int
	FetchBackoff    time.Duration
	FetchCookies    string
	HostRPS         float64
	ExtractMode     string

	HTTPAddr      string
	RedisURL      string
	FanoutOffsets []time.Duration
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first when present; real environment variables
// take precedence over it.
func Load(variant Variant) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults(variant)

	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if cfg.TelegramBotToken == "" && variant == VariantChat {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	cfg.DatabaseDriver = getEnv("DATABASE_DRIVER", cfg.DatabaseDriver)
	switch cfg.DatabaseDriver {
	case DriverSQLite:
	case DriverPostgres:
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	default:
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}
	cfg.DatabasePath = getEnv("DATABASE_PATH", cfg.DatabasePath)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	allowed, err := parseUserIDs(os.Getenv("ALLOWED_USERS"))
	if err != nil {
		return nil, err
	}
	cfg.AllowedUsers = allowed

	if cfg.DefaultPeriod, err = getEnvInt("DEFAULT_PERIOD_SEC", cfg.DefaultPeriod); err != nil {
		return nil, err
	}
	cfg.DefaultPeriod = cfg.Bounds.Clamp(cfg.DefaultPeriod)

	if cfg.MaxTasksPerPass, err = getEnvInt("MAX_TASKS_PER_PASS", cfg.MaxTasksPerPass); err != nil {
		return nil, err
	}
	if cfg.MaxTasksPerPass < 1 {
		return nil, fmt.Errorf("MAX_TASKS_PER_PASS must be positive, got %d", cfg.MaxTasksPerPass)
	}
	if cfg.Workers, err = getEnvInt("WORKERS", cfg.Workers); err != nil {
		return nil, err
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("WORKERS must be positive, got %d", cfg.Workers)
	}

	timeoutSec, err := getEnvInt("FETCH_TIMEOUT_SEC", int(cfg.FetchTimeout/time.Second))
	if err != nil {
		return nil, err
	}
	cfg.FetchTimeout = time.Duration(timeoutSec) * time.Second

	if cfg.FetchMaxRetries, err = getEnvInt("FETCH_MAX_RETRIES", cfg.FetchMaxRetries); err != nil {
		return nil, err
	}
	backoffMS, err := getEnvInt("FETCH_BACKOFF_MS", int(cfg.FetchBackoff/time.Millisecond))
	if err != nil {
		return nil, err
	}
	cfg.FetchBackoff = time.Duration(backoffMS) * time.Millisecond
	cfg.FetchCookies = os.Getenv("FETCH_COOKIES")

	if raw := os.Getenv("HOST_RPS"); raw != "" {
		rps, err := strconv.ParseFloat(raw, 64)
		if err != nil || rps <= 0 {
			return nil, fmt.Errorf("invalid HOST_RPS %q", raw)
		}
		cfg.HostRPS = rps
	}

	cfg.ExtractMode = getEnv("EXTRACT_MODE", cfg.ExtractMode)
	if cfg.ExtractMode != ExtractSections && cfg.ExtractMode != ExtractText {
		return nil, fmt.Errorf("unsupported EXTRACT_MODE %q", cfg.ExtractMode)
	}

	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.RedisURL = os.Getenv("REDIS_URL")
	if raw := os.Getenv("FANOUT_OFFSETS_SEC"); raw != "" {
		offsets, err := parseOffsets(raw)
		if err != nil {
			return nil, err
		}
		cfg.FanoutOffsets = offsets
	}

	deadlineSec, err := getEnvInt("TICK_SOFT_DEADLINE_SEC", int(cfg.TickSoftDeadline/time.Second))
	if err != nil {
		return nil, err
	}
	if deadlineSec < 0 {
		return nil, fmt.Errorf("TICK_SOFT_DEADLINE_SEC must not be negative, got %d", deadlineSec)
	}
	cfg.TickSoftDeadline = time.Duration(deadlineSec) * time.Second

	cfg.AlwaysNotify = getEnvBool("ALWAYS_NOTIFY")

	return cfg, nil
}

func defaults(variant Variant) *Config {
	cfg := &Config{
		Variant:          variant,
		DatabaseDriver:   DriverSQLite,
		DatabasePath:     "./data/tixwatch.db",
		LogLevel:         "info",
		Bounds:           model.ChatBounds,
		DefaultPeriod:    60,
		MaxTasksPerPass:  6,
		Workers:          3,
		TickInterval:     15 * time.Second,
		TickSoftDeadline: 50 * time.Second,
		FetchTimeout:     12 * time.Second,
		FetchMaxRetries:  2,
		FetchBackoff:     1500 * time.Millisecond,
		HostRPS:          1,
		ExtractMode:      ExtractSections,
		HTTPAddr:         ":8080",
		FanoutOffsets:    []time.Duration{0, 15 * time.Second, 30 * time.Second, 45 * time.Second},
	}
	if variant == VariantWorker {
		cfg.Bounds = model.WorkerBounds
		cfg.DefaultPeriod = 15
		cfg.ExtractMode = ExtractText
		cfg.TickInterval = time.Second
	}
	return cfg
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func getEnvBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func parseUserIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		uid, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
		}
		ids = append(ids, uid)
	}
	return ids, nil
}

func parseOffsets(raw string) ([]time.Duration, error) {
	var offsets []time.Duration
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		sec, err := strconv.Atoi(s)
		if err != nil || sec < 0 {
			return nil, fmt.Errorf("invalid offset %q in FANOUT_OFFSETS_SEC", s)
		}
		offsets = append(offsets, time.Duration(sec)*time.Second)
	}
	if len(offsets) == 0 {
		return nil, fmt.Errorf("FANOUT_OFFSETS_SEC has no offsets")
	}
	return offsets, nil
}
