// Package invoice computes invoice lines and totals and assembles complete
// invoices from stored payee data.
package invoice

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"invoicer/internal/core"
)

// DefaultRate is the standard consumption tax rate.
var DefaultRate = decimal.RequireFromString("0.10")

// Item is one billable engagement submitted for invoicing.
type Item struct {
	MatchingID  string    `json:"id"`
	CompanyName string    `json:"company_name"`
	Date        core.Date `json:"date"`
	Amount      core.Yen  `json:"amount"`
}

// Totals are the invoice level sums. Breakdown is nil unless the payee is
// tax registered.
type Totals struct {
	GrandTotal core.Yen
	Breakdown  *core.TaxBreakdown
}

// Calculator splits tax-inclusive amounts at a fixed rate.
type Calculator struct {
	rate    decimal.Decimal
	divisor decimal.Decimal
}

// NewCalculator returns a calculator for rate, e.g. 0.10 or 0.08.
func NewCalculator(rate decimal.Decimal) (Calculator, error) {
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return Calculator{}, fmt.Errorf("%w: %s", ErrInvalidRate, rate)
	}
	return Calculator{rate: rate, divisor: decimal.NewFromInt(1).Add(rate)}, nil
}

// ParseRate parses a decimal tax rate such as "0.10".
func ParseRate(s string) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrInvalidRate, s)
	}
	if _, err := NewCalculator(rate); err != nil {
		return decimal.Decimal{}, err
	}
	return rate, nil
}

// Rate returns the tax rate. The zero Calculator uses DefaultRate.
func (c Calculator) Rate() decimal.Decimal {
	if c.divisor.IsZero() {
		return DefaultRate
	}
	return c.rate
}

// Split divides a tax-inclusive amount into its tax-exclusive part, rounded
// down to the yen, and the tax. The two always add up to amount.
func (c Calculator) Split(amount core.Yen) (taxExcluded, tax core.Yen) {
	divisor := decimal.NewFromInt(1).Add(c.Rate())
	q, r := decimal.NewFromInt(int64(amount)).QuoRem(divisor, 0)
	if r.IsNegative() {
		q = q.Sub(decimal.NewFromInt(1))
	}
	taxExcluded = core.Yen(q.IntPart())
	return taxExcluded, amount - taxExcluded
}

// Calculate validates items and produces invoice lines with totals. For a
// tax-registered payee every line carries its tax split and the totals carry
// a breakdown.
func (c Calculator) Calculate(items []Item, taxRegistered bool) (Totals, []core.InvoiceLine, error) {
	if len(items) == 0 {
		return Totals{}, nil, ErrNoLines
	}

	lines := make([]core.InvoiceLine, 0, len(items))
	var grand, subtotal, taxTotal core.Yen
	for i, it := range items {
		if err := validateItem(i, it); err != nil {
			return Totals{}, nil, err
		}
		if grand > core.Yen(math.MaxInt64)-it.Amount {
			return Totals{}, nil, ErrAmountOverflow
		}
		grand += it.Amount

		line := core.InvoiceLine{
			MatchingID:  it.MatchingID,
			Description: strings.TrimSpace(it.CompanyName),
			Date:        it.Date,
			Amount:      it.Amount,
		}
		if taxRegistered {
			line.TaxExcluded, line.Tax = c.Split(it.Amount)
			subtotal += line.TaxExcluded
			taxTotal += line.Tax
		}
		lines = append(lines, line)
	}

	totals := Totals{GrandTotal: grand}
	if taxRegistered {
		if subtotal+taxTotal != grand {
			return Totals{}, nil, fmt.Errorf("%w: subtotal %d + tax %d != %d", ErrTotalsDiverged, subtotal, taxTotal, grand)
		}
		totals.Breakdown = &core.TaxBreakdown{
			Subtotal: subtotal,
			TaxTotal: taxTotal,
			Rate:     c.Rate(),
		}
	}
	return totals, lines, nil
}

func validateItem(i int, it Item) error {
	field := func(name string) string { return fmt.Sprintf("matchings[%d].%s", i, name) }
	if strings.TrimSpace(it.CompanyName) == "" {
		return NewValidationError(field("company_name"), it.CompanyName, "company name is required")
	}
	if it.Amount <= 0 {
		return NewValidationError(field("amount"), it.Amount, "amount must be positive")
	}
	if it.Date.IsZero() {
		return NewValidationError(field("date"), it.Date, "date is required")
	}
	return nil
}
