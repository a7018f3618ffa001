package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"tixwatch/internal/app"
	"tixwatch/internal/bot"
	"tixwatch/internal/config"
	"tixwatch/internal/extract"
	"tixwatch/internal/scheduler"
)

func main() {
	cfg, err := config.Load(config.VariantChat)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := app.NewLogger(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		log.Error("open database", "driver", cfg.DatabaseDriver, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	f := app.NewFetcher(cfg, log)
	watches := app.NewWatchService(cfg, store, f, log)

	b, err := bot.New(cfg.TelegramBotToken, watches, cfg, log.With("component", "bot"))
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	sched := scheduler.New(store, f, extract.ForMode(cfg.ExtractMode), b,
		app.SchedulerOptions(cfg), log.With("component", "scheduler"))

	log.Info("starting bot", "min_period", cfg.Bounds.Min, "max_period", cfg.Bounds.Max)

	go sched.Run(ctx)

	b.Run(ctx)

	log.Info("bot stopped")
}
