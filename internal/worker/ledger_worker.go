// Package worker records issued invoices in the external ledger.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"invoicer/internal/amqp"
	"invoicer/internal/core"
	"invoicer/internal/ports"
)

// LedgerWorker turns invoice.generated messages into ledger rows.
type LedgerWorker struct {
	payments ports.PaymentReader
	ledger   ports.LedgerWriter
}

// NewLedgerWorker builds a worker. payments may be nil, in which case the
// message content is trusted as is.
func NewLedgerWorker(payments ports.PaymentReader, ledger ports.LedgerWriter) *LedgerWorker {
	return &LedgerWorker{payments: payments, ledger: ledger}
}

// errMalformedMessage marks messages that can never be processed.
var errMalformedMessage = errors.New("malformed invoice message")

// HandleInvoiceGenerated processes a single message. Returning an error
// requeues the message, so malformed messages are logged and dropped.
func (w *LedgerWorker) HandleInvoiceGenerated(ctx context.Context, msg *amqp.InvoiceGeneratedMessage) error {
	slog.InfoContext(ctx, "Processing invoice message",
		"payment_id", msg.PaymentID,
		"invoice_number", msg.InvoiceNumber)

	entry, err := w.entryFor(ctx, msg)
	if errors.Is(err, core.ErrNotFound) {
		// The payment was never committed or has been removed; nothing to record.
		slog.WarnContext(ctx, "Payment not found, dropping message", "payment_id", msg.PaymentID)
		return nil
	}
	if errors.Is(err, errMalformedMessage) {
		slog.ErrorContext(ctx, "Dropping malformed invoice message", "payment_id", msg.PaymentID, "error", err)
		return nil
	}
	if err != nil {
		return err
	}

	if err := w.ledger.AppendInvoice(ctx, entry); err != nil {
		return fmt.Errorf("append ledger row: %w", err)
	}
	return nil
}

func (w *LedgerWorker) entryFor(ctx context.Context, msg *amqp.InvoiceGeneratedMessage) (ports.LedgerEntry, error) {
	if w.payments == nil {
		month, err := core.ParseMonthKey(msg.Month)
		if err != nil {
			return ports.LedgerEntry{}, fmt.Errorf("%w: month %q: %w", errMalformedMessage, msg.Month, err)
		}
		return ports.LedgerEntry{
			PaymentID:     msg.PaymentID,
			UserID:        msg.UserID,
			InvoiceNumber: msg.InvoiceNumber,
			Month:         month,
			Total:         core.Yen(msg.Total),
			Lines:         msg.Lines,
			IssuedAt:      msg.IssuedAt.UTC().Format(time.RFC3339),
		}, nil
	}

	p, err := w.payments.GetPayment(ctx, msg.UserID, msg.PaymentID)
	if err != nil {
		return ports.LedgerEntry{}, fmt.Errorf("get payment: %w", err)
	}
	return ports.LedgerEntry{
		PaymentID:     p.ID,
		UserID:        p.UserID,
		InvoiceNumber: p.InvoiceNumber,
		Month:         p.Month,
		Total:         p.Total,
		Lines:         len(p.MatchingIDs),
		IssuedAt:      p.IssuedAt.UTC().Format(time.RFC3339),
	}, nil
}
