package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	environment "slotpay/internal/env"
)

func main() {
	ctx := context.Background()

	env, err := environment.Setup(ctx)
	if err != nil {
		log.Fatalf("Failed to setup environment: %v", err)
	}

	logger := env.Logger
	logger.Info("Starting slotpay",
		"gateway", env.Config.Gateway.Provider,
		"slot_capacity", env.Config.Reservation.SlotCapacity,
	)

	// Start observability server in background
	if env.Servers.HTTP.Observability != nil {
		go serve(logger, "observability", env.Servers.HTTP.Observability)
	}

	if err := env.Workers.Start(); err != nil {
		logger.Error("Failed to start workers", slog.Any("error", err))
		closeAll(env)
		os.Exit(1)
	}

	go serve(logger, "api", env.Servers.HTTP.API)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server started. Press Ctrl+C to stop.")
	<-quit

	logger.Info("Shutting down application...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), env.Config.ShutdownDuration)
	defer cancel()

	// Сначала перестаём принимать запросы, потом гасим воркеры
	if err := env.Servers.HTTP.API.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", slog.Any("error", err))
	}

	env.Workers.Stop()

	if env.Servers.HTTP.Observability != nil {
		if err := env.Servers.HTTP.Observability.Shutdown(shutdownCtx); err != nil {
			logger.Error("Observability server shutdown error", slog.Any("error", err))
		}
	}

	closeAll(env)

	logger.Info("Application stopped")
}

func serve(logger *slog.Logger, name string, srv *http.Server) {
	logger.Info("Starting HTTP server", slog.String("server", name), slog.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("HTTP server error", slog.String("server", name), slog.Any("error", err))
	}
}

func closeAll(env *environment.Env) {
	for _, closer := range env.Closers {
		closer()
	}
}
