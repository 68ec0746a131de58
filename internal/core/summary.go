package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MonthKey identifies a calendar month bucket.
type MonthKey struct {
	Year  int
	Month int // 1-12
}

// MonthlyEarnings is the derived total of approved matchings in one month.
type MonthlyEarnings struct {
	Key       MonthKey         `json:"month"`
	Total     Yen              `json:"total"`
	Matchings []MatchingRecord `json:"matchings"`
}

// InvoiceLine is one row of an issued invoice. TaxExcluded and Tax are zero
// when the payee is not tax registered.
type InvoiceLine struct {
	MatchingID  string `json:"matching_id"`
	Description string `json:"description"`
	Date        Date   `json:"date"`
	Amount      Yen    `json:"amount"`
	TaxExcluded Yen    `json:"tax_excluded,omitempty"`
	Tax         Yen    `json:"tax,omitempty"`
}

// TaxBreakdown is only present on invoices issued by tax-registered payees.
type TaxBreakdown struct {
	Subtotal Yen             `json:"subtotal"`
	TaxTotal Yen             `json:"tax_total"`
	Rate     decimal.Decimal `json:"rate"`
}

type Invoice struct {
	Number      string        `json:"number"`
	IssueDate   Date          `json:"issue_date"`
	Month       MonthKey      `json:"month"`
	Recipient   string        `json:"recipient"`
	Payee       PayeeProfile  `json:"payee"`
	Lines       []InvoiceLine `json:"lines"`
	Breakdown   *TaxBreakdown `json:"breakdown,omitempty"`
	GrandTotal  Yen           `json:"grand_total"`
	BankAccount BankAccount   `json:"bank_account"`
}

// Payment records an issued invoice so it can be downloaded again.
type Payment struct {
	ID            string
	UserID        string
	Month         MonthKey
	InvoiceNumber string
	Total         Yen
	MatchingIDs   []string
	BankAccount   BankAccount
	IssuedAt      time.Time
}

// ParseMonthKey parses a YYYY-MM identifier.
func ParseMonthKey(s string) (MonthKey, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, "-")
	if len(parts) != 2 || len(parts[0]) != 4 || len(parts[1]) != 2 {
		return MonthKey{}, fmt.Errorf("invalid month key %q: want YYYY-MM", s)
	}
	y, err := strconv.Atoi(parts[0])
	if err != nil {
		return MonthKey{}, fmt.Errorf("invalid month key %q: %w", s, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return MonthKey{}, fmt.Errorf("invalid month key %q: %w", s, err)
	}
	k := MonthKey{Year: y, Month: m}
	if err := k.Validate(); err != nil {
		return MonthKey{}, err
	}
	return k, nil
}

func (k MonthKey) Validate() error {
	if k.Year < 1 || k.Year > 9999 {
		return fmt.Errorf("invalid year %d", k.Year)
	}
	if k.Month < 1 || k.Month > 12 {
		return fmt.Errorf("invalid month %d", k.Month)
	}
	return nil
}

func (k MonthKey) String() string {
	return fmt.Sprintf("%04d-%02d", k.Year, k.Month)
}

// Compact returns the key as YYYYMM.
func (k MonthKey) Compact() string {
	return fmt.Sprintf("%04d%02d", k.Year, k.Month)
}

// Before orders keys chronologically.
func (k MonthKey) Before(o MonthKey) bool {
	if k.Year != o.Year {
		return k.Year < o.Year
	}
	return k.Month < o.Month
}

// Contains reports whether d falls inside the month.
func (k MonthKey) Contains(d Date) bool {
	return d.Key() == k
}

func (k MonthKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *MonthKey) UnmarshalText(b []byte) error {
	parsed, err := ParseMonthKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
