package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"invoicer/internal/core"
	"invoicer/internal/invoice"
	"invoicer/internal/ports"
)

// InvoiceService validates invoice requests against stored matchings,
// builds invoices and records them as payments.
type InvoiceService struct {
	matchings ports.MatchingReader
	payments  ports.PaymentStore
	publisher ports.InvoicePublisher
	builder   *invoice.Builder
	logger    *slog.Logger

	// Now defaults to time.Now and is replaceable for tests.
	Now func() time.Time
}

// NewInvoiceService wires the service. publisher may be nil.
func NewInvoiceService(matchings ports.MatchingReader, payments ports.PaymentStore, publisher ports.InvoicePublisher, builder *invoice.Builder, logger *slog.Logger) *InvoiceService {
	if logger == nil {
		logger = slog.Default()
	}
	return &InvoiceService{
		matchings: matchings,
		payments:  payments,
		publisher: publisher,
		builder:   builder,
		logger:    logger,
		Now:       time.Now,
	}
}

// IssueRequest is a caller's request to invoice a set of matchings.
type IssueRequest struct {
	UserID string
	Month  core.MonthKey
	Lines  []invoice.Item
	// Total is the amount the caller expects to be invoiced.
	Total core.Yen
}

// Issued is the outcome of Issue.
type Issued struct {
	Invoice core.Invoice
	Payment core.Payment
	// Existing is set when the request repeated the matchings of an earlier
	// payment and that payment was returned instead of a new one.
	Existing bool
}

// StageFunc receives the finished invoice before anything is recorded.
type StageFunc func(ctx context.Context, inv core.Invoice) error

// Issue validates req, builds the invoice and passes it to stage. Only after
// stage succeeds is the payment persisted and announced, so a failed render
// leaves no trace. Repeating the exact matchings of an earlier payment returns
// that payment; any other overlap with invoiced matchings is rejected. A
// publish failure is logged and does not fail the call. stage may be nil.
func (s *InvoiceService) Issue(ctx context.Context, req IssueRequest, stage StageFunc) (Issued, error) {
	if stage == nil {
		stage = func(context.Context, core.Invoice) error { return nil }
	}
	items, err := s.verifiedItems(ctx, req)
	if err != nil {
		return Issued{}, err
	}

	previous, found, err := s.previousPayment(ctx, req.UserID, items)
	if err != nil {
		return Issued{}, err
	}
	if found {
		inv, err := s.Reissue(ctx, req.UserID, previous.ID)
		if err != nil {
			return Issued{}, err
		}
		if err := stage(ctx, inv); err != nil {
			return Issued{}, err
		}
		return Issued{Invoice: inv, Payment: previous, Existing: true}, nil
	}

	now := s.Now()
	inv, err := s.builder.Build(ctx, invoice.Request{
		UserID:    req.UserID,
		Month:     req.Month,
		Items:     items,
		IssueDate: core.NewDate(now.Year(), int(now.Month()), now.Day()),
	})
	if err != nil {
		return Issued{}, err
	}
	if err := stage(ctx, inv); err != nil {
		return Issued{}, err
	}

	payment := core.Payment{
		ID:            uuid.NewString(),
		UserID:        req.UserID,
		Month:         req.Month,
		InvoiceNumber: inv.Number,
		Total:         inv.GrandTotal,
		MatchingIDs:   make([]string, 0, len(inv.Lines)),
		BankAccount:   inv.BankAccount,
		IssuedAt:      now.UTC().Truncate(time.Second),
	}
	for _, l := range inv.Lines {
		payment.MatchingIDs = append(payment.MatchingIDs, l.MatchingID)
	}
	if err := s.payments.SavePayment(ctx, payment); err != nil {
		if errors.Is(err, core.ErrAlreadyInvoiced) {
			// Lost a race with a concurrent request for the same matchings.
			return Issued{}, invoice.NewValidationError("matchings", len(items), "matching is already invoiced")
		}
		return Issued{}, invoice.WrapGenerationError("save payment", err)
	}

	s.publish(ctx, payment)
	return Issued{Invoice: inv, Payment: payment}, nil
}

// previousPayment finds the payment that already covers exactly items. Lines
// that belong to a payment covering a different set are rejected.
func (s *InvoiceService) previousPayment(ctx context.Context, userID string, items []invoice.Item) (core.Payment, bool, error) {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.MatchingID
	}
	invoiced, err := s.payments.InvoicedMatchings(ctx, userID, ids)
	if err != nil {
		return core.Payment{}, false, invoice.WrapGenerationError("load invoiced matchings", err)
	}
	if len(invoiced) == 0 {
		return core.Payment{}, false, nil
	}

	paymentID := invoiced[ids[0]]
	for _, id := range ids {
		if pid, ok := invoiced[id]; !ok || pid != paymentID {
			return core.Payment{}, false, alreadyInvoiced(ids, invoiced)
		}
	}
	p, err := s.payments.GetPayment(ctx, userID, paymentID)
	if err != nil {
		return core.Payment{}, false, invoice.WrapGenerationError("load payment", err)
	}
	if len(p.MatchingIDs) != len(ids) {
		return core.Payment{}, false, alreadyInvoiced(ids, invoiced)
	}
	return p, true, nil
}

func alreadyInvoiced(ids []string, invoiced map[string]string) error {
	for i, id := range ids {
		if _, ok := invoiced[id]; ok {
			return invoice.NewValidationError(fmt.Sprintf("matchings[%d].id", i), id, "matching is already invoiced")
		}
	}
	return invoice.NewValidationError("matchings", nil, "matching is already invoiced")
}

func (s *InvoiceService) publish(ctx context.Context, p core.Payment) {
	if s.publisher == nil {
		s.logger.DebugContext(ctx, "No invoice publisher configured, skipping event", "payment_id", p.ID)
		return
	}
	if err := s.publisher.PublishInvoiceGenerated(ctx, p); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish invoice event",
			"payment_id", p.ID,
			"invoice_number", p.InvoiceNumber,
			"error", err)
	}
}

// verifiedItems checks every requested line against the stored record and
// returns items built from the stored values.
func (s *InvoiceService) verifiedItems(ctx context.Context, req IssueRequest) ([]invoice.Item, error) {
	if err := req.Month.Validate(); err != nil {
		return nil, invoice.NewValidationError("month", req.Month.String(), err.Error())
	}
	if len(req.Lines) == 0 {
		return nil, invoice.ErrNoLines
	}

	ids := make([]string, 0, len(req.Lines))
	seen := make(map[string]bool, len(req.Lines))
	for i, l := range req.Lines {
		if l.MatchingID == "" {
			return nil, invoice.NewValidationError(fmt.Sprintf("matchings[%d].id", i), l.MatchingID, "id is required")
		}
		if seen[l.MatchingID] {
			return nil, invoice.NewValidationError(fmt.Sprintf("matchings[%d].id", i), l.MatchingID, "duplicate matching")
		}
		seen[l.MatchingID] = true
		ids = append(ids, l.MatchingID)
	}

	stored, err := s.matchings.GetMatchings(ctx, req.UserID, ids)
	if err != nil {
		return nil, invoice.WrapGenerationError("load matchings", err)
	}
	byID := make(map[string]core.MatchingRecord, len(stored))
	for _, m := range stored {
		byID[m.ID] = m
	}

	items := make([]invoice.Item, 0, len(req.Lines))
	var sum core.Yen
	for i, l := range req.Lines {
		field := func(name string) string { return fmt.Sprintf("matchings[%d].%s", i, name) }
		m, ok := byID[l.MatchingID]
		if !ok {
			return nil, invoice.NewValidationError(field("id"), l.MatchingID, "matching not found")
		}
		if !m.Approved() {
			return nil, invoice.NewValidationError(field("id"), l.MatchingID, "matching is not approved")
		}
		if !req.Month.Contains(m.Date) {
			return nil, invoice.NewValidationError(field("date"), m.Date.String(), "matching date is outside "+req.Month.String())
		}
		if !l.Date.IsZero() && !l.Date.Equal(m.Date.Time) {
			return nil, invoice.NewValidationError(field("date"), l.Date.String(), "date does not match the matching record")
		}
		if l.Amount != m.Amount {
			return nil, invoice.NewValidationError(field("amount"), l.Amount, "amount does not match the matching record")
		}
		sum += m.Amount
		items = append(items, invoice.Item{
			MatchingID:  m.ID,
			CompanyName: m.CompanyName,
			Date:        m.Date,
			Amount:      m.Amount,
		})
	}
	if req.Total != sum {
		return nil, invoice.NewValidationError("total", req.Total, fmt.Sprintf("total does not equal the sum of amounts (%d)", sum))
	}
	return items, nil
}

// Reissue rebuilds the invoice of a stored payment with its original
// number, issue date and bank snapshot.
func (s *InvoiceService) Reissue(ctx context.Context, userID, paymentID string) (core.Invoice, error) {
	p, err := s.payments.GetPayment(ctx, userID, paymentID)
	if err != nil {
		return core.Invoice{}, err
	}

	stored, err := s.matchings.GetMatchings(ctx, userID, p.MatchingIDs)
	if err != nil {
		return core.Invoice{}, invoice.WrapGenerationError("load matchings", err)
	}
	byID := make(map[string]core.MatchingRecord, len(stored))
	for _, m := range stored {
		byID[m.ID] = m
	}
	items := make([]invoice.Item, 0, len(p.MatchingIDs))
	for _, id := range p.MatchingIDs {
		m, ok := byID[id]
		if !ok {
			return core.Invoice{}, &invoice.GenerationError{Op: "load matchings", Err: fmt.Errorf("%w: %s", invoice.ErrMissingMatchings, id)}
		}
		items = append(items, invoice.Item{MatchingID: m.ID, CompanyName: m.CompanyName, Date: m.Date, Amount: m.Amount})
	}

	issued := p.IssuedAt.In(time.Local)
	bank := p.BankAccount
	inv, err := s.builder.Build(ctx, invoice.Request{
		UserID:      userID,
		Month:       p.Month,
		Items:       items,
		Number:      p.InvoiceNumber,
		IssueDate:   core.NewDate(issued.Year(), int(issued.Month()), issued.Day()),
		BankAccount: &bank,
	})
	if err != nil {
		return core.Invoice{}, err
	}
	if inv.GrandTotal != p.Total {
		return core.Invoice{}, &invoice.GenerationError{
			Op:  "reissue",
			Err: fmt.Errorf("%w: payment total %d, rebuilt %d", invoice.ErrTotalsDiverged, p.Total, inv.GrandTotal),
		}
	}
	return inv, nil
}

// IsNotFound reports whether err means the requested resource does not
// exist for the caller.
func IsNotFound(err error) bool {
	return errors.Is(err, core.ErrNotFound) && !invoice.IsUpstreamDataError(err)
}
