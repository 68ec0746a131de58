package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"invoicer/internal/auth"
	"invoicer/internal/backend"
	"invoicer/internal/cache"
	"invoicer/internal/cli"
	"invoicer/internal/core"
	apphttp "invoicer/internal/http"
	"invoicer/internal/invoice"
	"invoicer/internal/invoice/render"
	applog "invoicer/internal/log"
	"invoicer/internal/services"
)

func main() {
	cfg, logger := cli.Bootstrap()
	ctx, stop := cli.SignalContext(logger)
	defer stop()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	result, err := backend.NewFactory(logger.WithComponent(applog.ComponentBackend).Slog()).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer func() {
		if err := result.Close(); err != nil {
			logger.Error("Backend cleanup failed", "error", err)
		}
	}()
	store := result.Backend

	rate, err := invoice.ParseRate(cfg.TaxRate)
	if err != nil {
		logger.Error("Invalid tax rate", "error", err)
		os.Exit(1)
	}
	calc, err := invoice.NewCalculator(rate)
	if err != nil {
		logger.Error("Invalid tax rate", "error", err)
		os.Exit(1)
	}
	renderer, err := render.New(cfg.PDFRenderer, render.PDFOptions{FontPath: cfg.PDFFontPath})
	if err != nil {
		logger.Error("Failed to initialize PDF renderer", "error", err, "renderer", cfg.PDFRenderer)
		os.Exit(1)
	}
	if pdfRenderer, ok := renderer.(*render.PDFRenderer); ok && !pdfRenderer.HasUnicodeFont() {
		logger.Warn("PDF_FONT_PATH is not set; invoices with Japanese text will fail to render",
			"renderer", cfg.PDFRenderer)
	}

	cacheLogger := logger.WithComponent(applog.ComponentCache).Slog()
	profileCache := cache.NewLRUCache[core.PayeeProfile](500, 5*time.Minute)
	caches := cache.NewManager(cacheLogger)
	caches.Register(profileCache)
	caches.StartCleanup(ctx, 10*time.Minute)
	defer caches.Stop()
	profiles := cache.NewProfileReader(store, profileCache)

	builder := invoice.NewBuilder(calc, profiles, store, cfg.InvoiceRecipient)
	invoiceLogger := logger.WithComponent(applog.ComponentInvoice).Slog()
	srv, err := apphttp.NewServer(apphttp.Options{
		Addr:               ":" + cfg.Port,
		TempDir:            cfg.TempDir,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Logger:             logger,
	}, apphttp.Deps{
		Invoices: services.NewInvoiceService(store, store, result.Publisher, builder, invoiceLogger),
		Earnings: services.NewEarningsService(store),
		Renderer: renderer,
		Auth:     auth.NewAuthenticator(store, logger.WithComponent(applog.ComponentAuth).Slog()),
		Ready:    store.Ping,
	})
	if err != nil {
		logger.Error("Failed to initialize HTTP server", "error", err)
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	}()

	logger.Info("Starting invoicer server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"renderer", cfg.PDFRenderer,
		"tax_rate", calc.Rate().String(),
		"events", result.Publisher != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
