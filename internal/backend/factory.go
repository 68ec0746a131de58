package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"invoicer/internal/amqp"
	"invoicer/internal/storage"
	"invoicer/internal/storage/memory"
)

type DefaultFactory struct {
	logger *slog.Logger
}

func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{logger: logger}
}

// CreateBackend opens the configured store. An unreachable broker is logged
// and leaves Publisher nil; invoices are still issued without events.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		result *BackendResult
		err    error
	)
	switch config.Type {
	case SQLiteBackend:
		result, err = f.createSQLiteBackend(config)
	case MemoryBackend:
		result, err = f.createMemoryBackend(ctx, config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}

	if config.AMQPURL != "" {
		client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			f.logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without invoice events", "error", err)
		} else {
			f.logger.InfoContext(ctx, "Initialized AMQP publisher", "exchange", config.AMQPExchange, "queue", config.AMQPQueue)
			result.Publisher = client
			storeCleanup := result.Cleanup
			result.Cleanup = func() error {
				return errors.Join(client.Close(), runCleanup(storeCleanup))
			}
		}
	}
	return result, nil
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}
	f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
	return &BackendResult{Backend: repo, Cleanup: repo.Close}, nil
}

func (f *DefaultFactory) createMemoryBackend(ctx context.Context, config Config) (*BackendResult, error) {
	dataDir := config.DataDirectory
	if dataDir == "" {
		dataDir = "data"
	}
	store, err := memory.NewFromDir(ctx, dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load memory backend: %w", err)
	}
	f.logger.Info("Initialized memory backend", "data_directory", dataDir)
	return &BackendResult{Backend: store}, nil
}

func runCleanup(c CleanupFunc) error {
	if c == nil {
		return nil
	}
	return c()
}

// Close releases everything the result holds.
func (r *BackendResult) Close() error {
	if r == nil {
		return nil
	}
	return runCleanup(r.Cleanup)
}
