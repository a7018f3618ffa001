// Package app wires configuration into the components shared by the binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"tixwatch/internal/canon"
	"tixwatch/internal/config"
	"tixwatch/internal/extract"
	"tixwatch/internal/fetcher"
	"tixwatch/internal/scheduler"
	"tixwatch/internal/storage"
	"tixwatch/internal/watch"
)

// NewLogger returns a text logger writing to stderr at the named level.
func NewLogger(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// OpenStore opens the configured task store and applies migrations.
func OpenStore(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	switch cfg.DatabaseDriver {
	case config.DriverPostgres:
		return storage.NewPostgres(ctx, cfg.DatabaseURL)
	default:
		if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create data directory %s: %w", dir, err)
			}
		}
		return storage.NewSQLite(cfg.DatabasePath)
	}
}

// NewFetcher builds a page fetcher from the fetch settings.
func NewFetcher(cfg *config.Config, log *slog.Logger) *fetcher.Fetcher {
	opts := fetcher.DefaultOptions()
	opts.Timeout = cfg.FetchTimeout
	opts.MaxRetries = cfg.FetchMaxRetries
	opts.Backoff = cfg.FetchBackoff
	opts.Cookies = cfg.FetchCookies
	opts.HostRPS = cfg.HostRPS
	return fetcher.New(&http.Client{}, opts, log.With("component", "fetcher"))
}

// NewWatchService builds the task management service.
func NewWatchService(cfg *config.Config, store storage.Storage, f *fetcher.Fetcher, log *slog.Logger) *watch.Service {
	resolver := canon.NewResolver(f, log.With("component", "resolver"))
	return watch.NewService(store, resolver, f, extract.ForMode(cfg.ExtractMode),
		cfg.Bounds, cfg.DefaultPeriod, log.With("component", "watch"))
}

// SchedulerOptions derives scheduler settings for the configured variant.
// The chat variant paces passes by the tick interval; the worker keeps its
// short busy pause and randomized idle pause.
func SchedulerOptions(cfg *config.Config) scheduler.Options {
	opts := scheduler.DefaultOptions()
	opts.Bounds = cfg.Bounds
	opts.MaxTasksPerPass = cfg.MaxTasksPerPass
	opts.Workers = cfg.Workers
	opts.AlwaysNotify = cfg.AlwaysNotify
	opts.SoftDeadline = cfg.TickSoftDeadline
	if cfg.Variant != config.VariantWorker {
		opts.Busy = cfg.TickInterval
		opts.IdleMin = cfg.TickInterval
		opts.IdleMax = cfg.TickInterval
	}
	return opts
}

// NewRedis returns a client for the configured URL, or nil when no URL is
// set or the server does not answer.
func NewRedis(ctx context.Context, rawURL string, log *slog.Logger) *redis.Client {
	if rawURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		log.Warn("invalid REDIS_URL, delay queue disabled", "error", err)
		return nil
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis unreachable, delay queue disabled", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}
