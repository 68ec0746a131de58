package ports

import (
	"context"

	"invoicer/internal/core"
)

// Ports for outbound adapters. Every lookup is scoped to the calling user;
// a record owned by someone else is reported as core.ErrNotFound.
type (
	MatchingReader interface {
		// ListMatchings returns every matching record of the user.
		ListMatchings(ctx context.Context, userID string) ([]core.MatchingRecord, error)
		// GetMatchings returns the records with the given ids. Unknown or
		// foreign ids are omitted from the result.
		GetMatchings(ctx context.Context, userID string, ids []string) ([]core.MatchingRecord, error)
	}

	ProfileReader interface {
		GetProfile(ctx context.Context, userID string) (core.PayeeProfile, error)
	}

	BankAccountReader interface {
		GetBankAccount(ctx context.Context, userID string) (core.BankAccount, error)
	}

	PaymentReader interface {
		GetPayment(ctx context.Context, userID, id string) (core.Payment, error)
	}

	PaymentStore interface {
		PaymentReader
		// SavePayment fails with core.ErrAlreadyInvoiced when one of the
		// payment's matchings belongs to another payment.
		SavePayment(ctx context.Context, p core.Payment) error
		// InvoicedMatchings maps each of ids that is already part of a
		// payment of the user to that payment's id.
		InvoicedMatchings(ctx context.Context, userID string, ids []string) (map[string]string, error)
	}

	// TokenStore resolves API tokens. Only SHA-256 hashes are stored.
	TokenStore interface {
		CreateToken(ctx context.Context, userID, tokenHash, label string) error
		UserByTokenHash(ctx context.Context, tokenHash string) (core.User, error)
	}

	// InvoicePublisher announces issued invoices to downstream consumers.
	InvoicePublisher interface {
		PublishInvoiceGenerated(ctx context.Context, p core.Payment) error
	}

	// LedgerWriter records issued invoices in an external ledger.
	LedgerWriter interface {
		AppendInvoice(ctx context.Context, entry LedgerEntry) error
	}
)

// LedgerEntry is one ledger row for an issued invoice.
type LedgerEntry struct {
	PaymentID     string
	UserID        string
	InvoiceNumber string
	Month         core.MonthKey
	Total         core.Yen
	Lines         int
	IssuedAt      string
}
