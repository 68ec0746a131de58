package main

import (
	"context"
	"errors"
	"os"

	"invoicer/internal/amqp"
	"invoicer/internal/cli"
	applog "invoicer/internal/log"
	"invoicer/internal/ports"
	gsheet "invoicer/internal/sheets/google"
	"invoicer/internal/storage"
	"invoicer/internal/worker"
)

const prefetch = 5

func main() {
	cfg, logger := cli.Bootstrap()
	if err := cfg.ValidateLedger(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	ctx, stop := cli.SignalContext(logger)
	defer stop()

	logger.Info("Starting invoicer-worker")

	ledger, err := gsheet.New(ctx, cfg.GoogleSpreadsheetID, cfg.GoogleSheetName, gsheet.Credentials{
		JSON: cfg.GoogleServiceAccountJSON,
		File: cfg.GoogleServiceAccountFile,
	})
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", "error", err)
		os.Exit(1)
	}
	logger.Info("Google Sheets ledger initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID, "sheet", cfg.GoogleSheetName)

	// Payments are re-read from SQLite when the server shares its database;
	// the memory backend lives in the server process, so messages are used as is.
	var payments ports.PaymentReader
	if cfg.DataBackend == "sqlite" {
		repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
		if err != nil {
			logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
			os.Exit(1)
		}
		defer repo.Close()
		payments = repo
	}

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	w := worker.NewLedgerWorker(payments, ledger)
	workerLogger := logger.WithComponent(applog.ComponentWorker)

	err = client.ConsumeInvoiceGenerated(ctx, prefetch, func(ctx context.Context, msg *amqp.InvoiceGeneratedMessage) error {
		return w.HandleInvoiceGenerated(applog.NewContext(ctx, workerLogger), msg)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", "error", err)
		os.Exit(1)
	}
	logger.Info("invoicer-worker stopped")
}
