// Package cli holds the startup steps shared by the invoicer binaries.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"invoicer/internal/config"
	applog "invoicer/internal/log"
)

// LoadEnvFile loads .env for local development. A missing file is fine.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the text logger at the configured level and makes it
// the slog default.
func SetupLogger(level string) *applog.Logger {
	if level == "" {
		level = "info"
	}
	lvl, err := config.ParseLogLevel(level)
	logger := applog.New(applog.Config{Level: lvl, Component: applog.ComponentApp})
	applog.SetDefault(logger)
	if err != nil {
		logger.Warn("Unknown log level, using info", "level", level)
	}
	return logger
}

// LoadAndValidateConfig loads configuration and exits on validation failure.
func LoadAndValidateConfig(logger *applog.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

// Bootstrap runs the common startup: .env, config, logger.
func Bootstrap() (*config.Config, *applog.Logger) {
	LoadEnvFile()
	logger := SetupLogger(os.Getenv("LOG_LEVEL"))
	return LoadAndValidateConfig(logger), logger
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext(logger *applog.Logger) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		logger.Info("Shutdown signal received", slog.String(applog.FieldOperation, applog.OpShutdown))
	}()
	return ctx, stop
}
