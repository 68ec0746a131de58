package invoice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"invoicer/internal/core"
	"invoicer/internal/ports"
)

// Request asks for an invoice covering one month of a user's matchings.
type Request struct {
	UserID string
	Month  core.MonthKey
	Items  []Item

	// Number and IssueDate reproduce a previously issued invoice when set.
	Number    string
	IssueDate core.Date
	// BankAccount overrides the stored account with an issuance snapshot.
	BankAccount *core.BankAccount
}

// profileInvalidator is implemented by caching profile readers. An
// incomplete profile is dropped so the completed one is read next time.
type profileInvalidator interface {
	Invalidate(userID string)
}

// Builder assembles invoices from stored payee data. It never returns a
// partially populated invoice.
type Builder struct {
	calc      Calculator
	profiles  ports.ProfileReader
	banks     ports.BankAccountReader
	recipient string

	// Now defaults to time.Now and is replaceable for tests.
	Now func() time.Time
}

func NewBuilder(calc Calculator, profiles ports.ProfileReader, banks ports.BankAccountReader, recipient string) *Builder {
	return &Builder{
		calc:      calc,
		profiles:  profiles,
		banks:     banks,
		recipient: recipient,
		Now:       time.Now,
	}
}

// Build loads the payee profile and bank account concurrently, validates the
// request and computes the invoice.
func (b *Builder) Build(ctx context.Context, req Request) (core.Invoice, error) {
	if err := req.Month.Validate(); err != nil {
		return core.Invoice{}, NewValidationError("month", req.Month, err.Error())
	}
	if len(req.Items) == 0 {
		return core.Invoice{}, ErrNoLines
	}
	for i, it := range req.Items {
		if !it.Date.IsZero() && !req.Month.Contains(it.Date) {
			return core.Invoice{}, NewValidationError(fmt.Sprintf("matchings[%d].date", i), it.Date, "date is outside "+req.Month.String())
		}
	}

	var (
		profile core.PayeeProfile
		bank    core.BankAccount
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := b.profiles.GetProfile(gctx, req.UserID)
		if err != nil {
			return lookupError("load profile", ErrMissingProfile, err)
		}
		if err := p.Validate(); err != nil {
			if c, ok := b.profiles.(profileInvalidator); ok {
				c.Invalidate(req.UserID)
			}
			return &GenerationError{Op: "load profile", Err: fmt.Errorf("%w: %w", ErrMissingProfile, err)}
		}
		profile = p
		return nil
	})
	if req.BankAccount != nil {
		bank = *req.BankAccount
	} else {
		g.Go(func() error {
			a, err := b.banks.GetBankAccount(gctx, req.UserID)
			if err != nil {
				return lookupError("load bank account", ErrMissingBankAccount, err)
			}
			bank = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return core.Invoice{}, err
	}
	if err := bank.Validate(); err != nil {
		return core.Invoice{}, &GenerationError{Op: "load bank account", Err: fmt.Errorf("%w: %w", ErrMissingBankAccount, err)}
	}

	totals, lines, err := b.calc.Calculate(req.Items, profile.TaxRegistered())
	if err != nil {
		return core.Invoice{}, err
	}

	number := req.Number
	if number == "" {
		number = NewNumber(req.Month)
	}
	issued := req.IssueDate
	if issued.IsZero() {
		now := b.Now()
		issued = core.NewDate(now.Year(), int(now.Month()), now.Day())
	}

	return core.Invoice{
		Number:      number,
		IssueDate:   issued,
		Month:       req.Month,
		Recipient:   b.recipient,
		Payee:       profile,
		Lines:       lines,
		Breakdown:   totals.Breakdown,
		GrandTotal:  totals.GrandTotal,
		BankAccount: bank,
	}, nil
}

// lookupError keeps context cancellation distinguishable from missing data.
func lookupError(op string, sentinel, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &GenerationError{Op: op, Err: err}
	}
	return &GenerationError{Op: op, Err: fmt.Errorf("%w: %w", sentinel, err)}
}

// NewNumber returns an invoice number of the form INV-YYYYMM-XXXXXXXX.
func NewNumber(month core.MonthKey) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("INV-%s-%s", month.Compact(), strings.ToUpper(id[:8]))
}
