// Package google appends issued invoices to a Google Sheets ledger.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"invoicer/internal/ports"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Ledger columns, in sheet order.
var ledgerHeader = []any{"Payment ID", "Invoice number", "User", "Month", "Total", "Lines", "Issued at"}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	// sheetBase is the sheet name without year, e.g. "Invoices"; the issue
	// year is prefixed per entry.
	sheetBase string
}

var _ ports.LedgerWriter = (*Client)(nil)

// Credentials selects a service account. JSON takes precedence over File.
type Credentials struct {
	JSON string
	File string
}

func New(ctx context.Context, spreadsheetID, sheetBase string, creds Credentials, opts ...goption.ClientOption) (*Client, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if strings.TrimSpace(sheetBase) == "" {
		sheetBase = "Invoices"
	}

	if len(opts) == 0 {
		credentialsJSON, err := resolveCredentials(ctx, creds)
		if err != nil {
			return nil, err
		}
		opts = []goption.ClientOption{
			goption.WithCredentialsJSON(credentialsJSON),
			goption.WithScopes(gsheet.SpreadsheetsScope),
		}
	}

	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Client{svc: svc, spreadsheetID: spreadsheetID, sheetBase: sheetBase}, nil
}

func resolveCredentials(ctx context.Context, creds Credentials) ([]byte, error) {
	file := strings.TrimSpace(creds.File)
	if file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	switch {
	case strings.TrimSpace(creds.JSON) != "":
		slog.InfoContext(ctx, "Using inline service account credentials")
		return []byte(creds.JSON), nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		slog.InfoContext(ctx, "Read service account credentials", "path", file, "size", len(data))
		return data, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

// AppendInvoice adds one row for entry unless its payment is already
// recorded, so redelivered messages do not duplicate rows.
func (c *Client) AppendInvoice(ctx context.Context, entry ports.LedgerEntry) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	if entry.PaymentID == "" {
		return errors.New("ledger entry without payment id")
	}

	sheet := yearPrefixedName(c.sheetBase, entryYear(entry))
	rng := fmt.Sprintf("%s!A:A", sheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read %s: %w", rng, err)
	}
	if containsPaymentID(resp.Values, entry.PaymentID) {
		slog.InfoContext(ctx, "Ledger row already present", "payment_id", entry.PaymentID, "sheet", sheet)
		return nil
	}

	rows := [][]any{ledgerRow(entry)}
	if len(resp.Values) == 0 {
		rows = append([][]any{ledgerHeader}, rows...)
	}
	vr := &gsheet.ValueRange{Values: rows}
	_, err = c.svc.Spreadsheets.Values.Append(c.spreadsheetID, fmt.Sprintf("%s!A:G", sheet), vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append to %s: %w", sheet, err)
	}

	slog.InfoContext(ctx, "Ledger row appended",
		"payment_id", entry.PaymentID,
		"invoice_number", entry.InvoiceNumber,
		"sheet", sheet)
	return nil
}

func ledgerRow(e ports.LedgerEntry) []any {
	return []any{e.PaymentID, e.InvoiceNumber, e.UserID, e.Month.String(), int64(e.Total), e.Lines, e.IssuedAt}
}

func entryYear(e ports.LedgerEntry) int {
	if t, err := time.Parse(time.RFC3339, e.IssuedAt); err == nil {
		return t.Year()
	}
	if e.Month.Year > 0 {
		return e.Month.Year
	}
	return time.Now().Year()
}

func containsPaymentID(values [][]any, id string) bool {
	for _, row := range values {
		if len(row) > 0 && strings.TrimSpace(fmt.Sprint(row[0])) == id {
			return true
		}
	}
	return false
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
