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

	"github.com/mattdh/officepulse/internal/api"
	"github.com/mattdh/officepulse/internal/config"
	"github.com/mattdh/officepulse/internal/ingest"
	"github.com/mattdh/officepulse/internal/jobs"
	"github.com/mattdh/officepulse/internal/live"
	"github.com/mattdh/officepulse/internal/rankings"
	"github.com/mattdh/officepulse/internal/store"
	"github.com/mattdh/officepulse/internal/streaks"
	"github.com/mattdh/officepulse/internal/tiebreak"
)

// version is stamped via -ldflags at build time.
var version = "dev"

func main() {
	cfg := config.Load()
	lg := newLogger(cfg.LogLevel)
	lg.Info("starting", slog.String("version", version), slog.String("addr", cfg.ListenAddr))

	st, err := openStore(cfg, lg)
	if err != nil {
		lg.Error("store init failed", slog.String("err", err.Error()))
		os.Exit(1)
	}

	ranks := rankings.New(st, lg)
	tracker := streaks.New(st, lg)
	ties := tiebreak.New(st, ranks, lg)
	gateway := live.New(ties, lg)
	runner := jobs.New(ranks, tracker, ties, cfg.RefreshInterval, lg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go runner.Run(ctx)
	if consumer := ingest.New(cfg, st, runner.Kick, lg); consumer != nil {
		go consumer.Run(ctx)
	} else {
		lg.Info("kafka ingest disabled, no brokers configured")
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.New(cfg, ranks, tracker, ties, gateway, runner.Kick, version, lg).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		lg.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	lg.Info("listening", slog.String("addr", cfg.ListenAddr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		lg.Error("server failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

// openStore picks Postgres when DATABASE_URL is set, the in-memory
// store otherwise.
func openStore(cfg config.Config, lg *slog.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		lg.Warn("no DATABASE_URL set, using in-memory store")
		return store.NewMemory(), nil
	}
	return store.OpenPostgres(cfg.DatabaseURL, lg)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
