package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"tixwatch/internal/app"
	"tixwatch/internal/bot"
	"tixwatch/internal/config"
	"tixwatch/internal/dispatch"
	"tixwatch/internal/extract"
	"tixwatch/internal/httpapi"
	"tixwatch/internal/notify"
	"tixwatch/internal/scheduler"
)

func main() {
	cfg, err := config.Load(config.VariantServer)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := app.NewLogger(cfg.LogLevel)
	if app.ParseLevel(cfg.LogLevel) > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

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

	var notifier notify.Notifier = notify.NewLogNotifier(log.With("component", "notify"))
	if cfg.TelegramBotToken != "" {
		b, err := bot.New(cfg.TelegramBotToken, watches, cfg, log.With("component", "bot"))
		if err != nil {
			log.Error("create bot", "error", err)
			os.Exit(1)
		}
		notifier = b
	}

	sched := scheduler.New(store, f, extract.ForMode(cfg.ExtractMode), notifier,
		app.SchedulerOptions(cfg), log.With("component", "scheduler"))

	rdb := app.NewRedis(ctx, cfg.RedisURL, log)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}
	fanout := dispatch.NewFanout(rdb, cfg.FanoutOffsets, sched, log.With("component", "dispatch"))
	if rdb != nil {
		go fanout.Run(ctx, time.Second)
	}

	handler := httpapi.NewHandler("tixwatch", fanout, watches, store, log.With("component", "http"))
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown http server", "error", err)
		}
	}()

	log.Info("starting server", "addr", cfg.HTTPAddr, "delay_queue", rdb != nil)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("http server", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
