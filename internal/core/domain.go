package core

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	StatusPending  MatchingStatus = "pending"
	StatusApproved MatchingStatus = "approved"
	StatusRejected MatchingStatus = "rejected"
)

const dateLayout = "2006-01-02"

type (
	MatchingStatus string

	Date struct {
		time.Time
	}

	// MatchingRecord is an engagement between an advertiser and the payee that
	// generates a payable amount. Records are produced by the approval
	// workflow and are never mutated here.
	MatchingRecord struct {
		ID          string         `json:"id" yaml:"id"`
		UserID      string         `json:"-" yaml:"user_id"`
		CompanyName string         `json:"company_name" yaml:"company_name"`
		Amount      Yen            `json:"amount" yaml:"amount"`
		Date        Date           `json:"date" yaml:"date"`
		Status      MatchingStatus `json:"status" yaml:"status"`
	}

	// PayeeProfile is the invoicing party. RegistrationNumber holds the
	// qualified invoice issuer number when the payee is registered.
	PayeeProfile struct {
		UserID             string `json:"-" yaml:"user_id"`
		FullName           string `json:"full_name" yaml:"full_name"`
		PostalCode         string `json:"postal_code" yaml:"postal_code"`
		Address            string `json:"address" yaml:"address"`
		Email              string `json:"email" yaml:"email"`
		Phone              string `json:"phone" yaml:"phone"`
		RegistrationNumber string `json:"registration_number,omitempty" yaml:"registration_number"`
	}

	BankAccount struct {
		BankName      string `json:"bank_name" yaml:"bank_name"`
		BranchName    string `json:"branch_name" yaml:"branch_name"`
		AccountType   string `json:"account_type" yaml:"account_type"`
		AccountNumber string `json:"account_number" yaml:"account_number"`
		AccountHolder string `json:"account_holder" yaml:"account_holder"`
	}

	User struct {
		ID          string `json:"id" yaml:"id"`
		Email       string `json:"email" yaml:"email"`
		DisplayName string `json:"display_name" yaml:"display_name"`
	}
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidDate       = errors.New("invalid date")
	ErrInvalidStatus     = errors.New("invalid matching status")
	ErrEmptyCompany      = errors.New("empty company name")
	ErrIncompleteProfile = errors.New("incomplete payee profile")
	ErrIncompleteBank    = errors.New("incomplete bank account")
	ErrAlreadyInvoiced   = errors.New("matching already invoiced")
)

var registrationNumberRe = regexp.MustCompile(`^T[0-9]{13}$`)

func (s MatchingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a date in YYYY-MM-DD format.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

// Key returns the month bucket the date falls in.
func (d Date) Key() MonthKey {
	return MonthKey{Year: d.Year(), Month: d.Month()}
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	return d.UnmarshalText([]byte(s))
}

func (m MatchingRecord) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return errors.New("empty matching id")
	}
	if strings.TrimSpace(m.CompanyName) == "" {
		return ErrEmptyCompany
	}
	if err := m.Amount.Validate(); err != nil {
		return err
	}
	if err := m.Date.Validate(); err != nil {
		return err
	}
	if !m.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}

func (m MatchingRecord) Approved() bool {
	return m.Status == StatusApproved
}

// TaxRegistered reports whether the payee holds a well-formed qualified
// invoice issuer number (T followed by 13 digits).
func (p PayeeProfile) TaxRegistered() bool {
	return registrationNumberRe.MatchString(strings.TrimSpace(p.RegistrationNumber))
}

func (p PayeeProfile) Validate() error {
	if strings.TrimSpace(p.FullName) == "" {
		return fmt.Errorf("%w: missing full name", ErrIncompleteProfile)
	}
	if strings.TrimSpace(p.Address) == "" {
		return fmt.Errorf("%w: missing address", ErrIncompleteProfile)
	}
	if rn := strings.TrimSpace(p.RegistrationNumber); rn != "" && !p.TaxRegistered() {
		return fmt.Errorf("%w: malformed registration number %q", ErrIncompleteProfile, rn)
	}
	return nil
}

func (b BankAccount) Validate() error {
	fields := []struct{ name, value string }{
		{"bank name", b.BankName},
		{"branch name", b.BranchName},
		{"account type", b.AccountType},
		{"account number", b.AccountNumber},
		{"account holder", b.AccountHolder},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: missing %s", ErrIncompleteBank, f.name)
		}
	}
	return nil
}
