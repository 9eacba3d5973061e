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

	"github.com/berniyo/mvola-lambda/internal/config"
	"github.com/berniyo/mvola-lambda/internal/handler"
	"github.com/berniyo/mvola-lambda/internal/notify"
)

const (
	readHeaderTimeout     = 5 * time.Second
	gracefulShutdownDelay = 5 * time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Resolve(os.Getenv("MVOLA_CONFIG"))
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		cancel()
		return
	}

	var forward notify.HandlerFunc
	if cfg.Outcome.URL != "" {
		sender, err := handler.NewHTTPSOutcomeSender(cfg.Outcome.URL, cfg.Outcome.Secret, nil)
		if err != nil {
			logger.Error("failed to configure outcome sender", "error", err)
			cancel()
			return
		}
		client, err := cfg.NewClient(logger)
		if err != nil {
			logger.Error("failed to configure mvola client", "error", err)
			cancel()
			return
		}
		forward = handler.NewNotificationForwarder(client, sender, logger).Forward
	}

	router := notify.NewRouter(notify.NewReceiver(forward, logger))

	srv := &http.Server{
		Addr:              cfg.Notify.Addr,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		logger.Info("notification receiver starting", "addr", cfg.Notify.Addr, "path", notify.CallbackPath)
		if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("http serve failed", "error", serveErr)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), gracefulShutdownDelay)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
