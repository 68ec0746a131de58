package invoice

import (
	"errors"
	"fmt"
)

// Invoice generation errors.
var (
	// ErrMissingProfile is returned when the payee profile cannot be loaded
	// or lacks fields required on an invoice.
	ErrMissingProfile = errors.New("payee profile unavailable")

	// ErrMissingBankAccount is returned when the payout bank account cannot be
	// loaded or is incomplete.
	ErrMissingBankAccount = errors.New("bank account unavailable")

	// ErrNoLines is returned for an invoice request without line items.
	ErrNoLines = errors.New("invoice has no lines")

	// ErrMissingMatchings is returned when matchings referenced by an
	// invoice are no longer available.
	ErrMissingMatchings = errors.New("matching records unavailable")

	// ErrTotalsDiverged is returned when subtotal plus tax does not equal the
	// sum of the original amounts.
	ErrTotalsDiverged = errors.New("invoice totals diverged")

	// ErrAmountOverflow is returned when the line amounts cannot be summed
	// without overflowing.
	ErrAmountOverflow = errors.New("invoice amount overflow")

	// ErrInvalidRate is returned for a tax rate outside [0, 1).
	ErrInvalidRate = errors.New("invalid tax rate")
)

// ValidationError describes a rejected invoice input field.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s (value: %v)", e.Field, e.Message, e.Value)
}

func NewValidationError(field string, value any, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// GenerationError wraps a failure that prevented an invoice from being
// produced.
type GenerationError struct {
	// Op is the step that failed, e.g. "load profile" or "render".
	Op  string
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("invoice: %s failed: %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// WrapGenerationError wraps err unless it is nil or already a GenerationError.
func WrapGenerationError(op string, err error) error {
	if err == nil {
		return nil
	}
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return err
	}
	return &GenerationError{Op: op, Err: err}
}

// IsUpstreamDataError reports whether err was caused by missing or
// incomplete caller data rather than an internal failure.
func IsUpstreamDataError(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr) ||
		errors.Is(err, ErrMissingProfile) ||
		errors.Is(err, ErrMissingBankAccount) ||
		errors.Is(err, ErrNoLines) ||
		errors.Is(err, ErrMissingMatchings)
}
