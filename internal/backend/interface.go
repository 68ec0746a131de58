package backend

import (
	"context"

	"invoicer/internal/core"
	"invoicer/internal/ports"
)

// Backend is the data store the HTTP server and CLI run against.
type Backend interface {
	ports.MatchingReader
	ports.ProfileReader
	ports.BankAccountReader
	ports.PaymentStore
	ports.TokenStore
	Ping(ctx context.Context) error
}

// Writer is implemented by backends that accept seed data.
type Writer interface {
	UpsertUser(ctx context.Context, u core.User) error
	CreateToken(ctx context.Context, userID, tokenHash, label string) error
	UpsertProfile(ctx context.Context, p core.PayeeProfile) error
	UpsertBankAccount(ctx context.Context, userID string, b core.BankAccount) error
	UpsertMatching(ctx context.Context, m core.MatchingRecord) error
}

type CleanupFunc func() error

// BackendResult is a backend with its optional publisher and cleanup.
type BackendResult struct {
	Backend Backend
	// Publisher is nil when AMQP is not configured or unreachable.
	Publisher ports.InvoicePublisher
	Cleanup   CleanupFunc
}

type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

type Config struct {
	Type BackendType

	SQLiteDBPath  string
	DataDirectory string

	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	}
	return false
}
