package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"invoicer/internal/core"
)

func testInvoice(lines int, registered bool) core.Invoice {
	inv := core.Invoice{
		Number:    "INV-202503-1A2B3C4D",
		IssueDate: core.NewDate(2025, 4, 1),
		Month:     core.MonthKey{Year: 2025, Month: 3},
		Recipient: "Matching Platform Inc.",
		Payee: core.PayeeProfile{
			FullName:   "Sato Hanako",
			PostalCode: "150-0001",
			Address:    "1-2-3 Jingumae, Shibuya-ku, Tokyo",
			Email:      "hanako@example.com",
		},
		BankAccount: core.BankAccount{
			BankName:      "Mizuho",
			BranchName:    "Shibuya",
			AccountType:   "ordinary",
			AccountNumber: "1234567",
			AccountHolder: "SATO HANAKO",
		},
	}
	var breakdown core.TaxBreakdown
	for i := 0; i < lines; i++ {
		l := core.InvoiceLine{
			MatchingID:  fmt.Sprintf("m%d", i),
			Description: fmt.Sprintf("Company %d", i),
			Date:        core.NewDate(2025, 3, 1+i%28),
			Amount:      1100,
		}
		if registered {
			l.TaxExcluded, l.Tax = 1000, 100
			breakdown.Subtotal += 1000
			breakdown.TaxTotal += 100
		}
		inv.GrandTotal += l.Amount
		inv.Lines = append(inv.Lines, l)
	}
	if registered {
		inv.Payee.RegistrationNumber = "T1234567890123"
		breakdown.Rate = decimal.RequireFromString("0.10")
		inv.Breakdown = &breakdown
	}
	return inv
}

func TestFilename(t *testing.T) {
	tests := []struct {
		number string
		want   string
	}{
		{"INV-202503-1A2B3C4D", "invoice_2025-03_INV-202503-1A2B3C4D.pdf"},
		{"../../etc/passwd", "invoice_2025-03_etcpasswd.pdf"},
		{"", "invoice_2025-03_draft.pdf"},
	}
	for _, tt := range tests {
		inv := core.Invoice{Number: tt.number, Month: core.MonthKey{Year: 2025, Month: 3}}
		if got := Filename(inv); got != tt.want {
			t.Errorf("Filename(%q) = %q, want %q", tt.number, got, tt.want)
		}
	}
}

func TestPDFRendererWritesPDF(t *testing.T) {
	r, err := NewPDFRenderer(PDFOptions{})
	if err != nil {
		t.Fatal(err)
	}
	for _, registered := range []bool{true, false} {
		var buf bytes.Buffer
		if err := r.Render(context.Background(), testInvoice(3, registered), &buf); err != nil {
			t.Fatalf("registered=%v: %v", registered, err)
		}
		if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF")) {
			t.Fatalf("registered=%v: output is not a PDF", registered)
		}
	}
}

func TestPDFRendererPaginates(t *testing.T) {
	r, err := NewPDFRenderer(PDFOptions{LinesPerPage: 10})
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		lines    int
		minPages int
	}{
		{1, 1},
		{10, 1},
		{11, 2},
		{35, 4},
	}
	for _, tt := range tests {
		pdf, err := r.layout(testInvoice(tt.lines, true))
		if err != nil {
			t.Fatal(err)
		}
		if got := pdf.PageCount(); got < tt.minPages {
			t.Errorf("%d lines: %d pages, want at least %d", tt.lines, got, tt.minPages)
		}
	}
}

func TestPDFRendererCanceled(t *testing.T) {
	r, _ := NewPDFRenderer(PDFOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var buf bytes.Buffer
	if err := r.Render(ctx, testInvoice(1, false), &buf); err == nil {
		t.Fatal("expected error for canceled context")
	}
	if buf.Len() != 0 {
		t.Fatal("no bytes should be written when rendering is canceled")
	}
}

func TestPDFRendererRequiresFontForJapanese(t *testing.T) {
	r, err := NewPDFRenderer(PDFOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if r.HasUnicodeFont() {
		t.Fatal("no font configured")
	}

	inv := testInvoice(2, false)
	inv.Payee.FullName = "佐藤 花子"
	var buf bytes.Buffer
	if err := r.Render(context.Background(), inv, &buf); !errors.Is(err, ErrFontRequired) {
		t.Fatalf("err = %v, want ErrFontRequired", err)
	}
	if buf.Len() != 0 {
		t.Fatal("no bytes should be written without a usable font")
	}

	latin := testInvoice(2, false)
	latin.Lines[0].Description = "Café Société"
	buf.Reset()
	if err := r.Render(context.Background(), latin, &buf); err != nil {
		t.Fatalf("cp1252 text rejected: %v", err)
	}
}

func TestNewPDFRendererMissingFont(t *testing.T) {
	if _, err := NewPDFRenderer(PDFOptions{FontPath: "/nonexistent/font.ttf"}); err == nil {
		t.Fatal("expected error for missing font file")
	}
}

func TestPaginate(t *testing.T) {
	if got := paginate(nil, 5); len(got) != 1 {
		t.Fatalf("empty invoice should still produce one page, got %d", len(got))
	}
	lines := testInvoice(12, false).Lines
	chunks := paginate(lines, 5)
	if len(chunks) != 3 || len(chunks[2]) != 2 {
		t.Fatalf("unexpected chunks: %d", len(chunks))
	}
}

func TestChromeTemplate(t *testing.T) {
	r, err := NewChromeRenderer()
	if err != nil {
		t.Fatal(err)
	}
	html, err := r.HTML(testInvoice(2, true))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"INV-202503-1A2B3C4D", "T1234567890123", "¥2,200", "¥1,000", "10%", "Mizuho"} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered HTML missing %q", want)
		}
	}

	html, err = r.HTML(testInvoice(2, false))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(html, "T1234567890123") || strings.Contains(html, "税抜金額") {
		t.Error("unregistered invoice should not show tax columns or registration number")
	}
}

func TestNew(t *testing.T) {
	if r, err := New("", PDFOptions{}); err != nil {
		t.Fatal(err)
	} else if _, ok := r.(*PDFRenderer); !ok {
		t.Fatalf("default renderer = %T", r)
	}
	if r, err := New("chrome", PDFOptions{}); err != nil {
		t.Fatal(err)
	} else if _, ok := r.(*ChromeRenderer); !ok {
		t.Fatalf("chrome renderer = %T", r)
	}
	if _, err := New("word", PDFOptions{}); err == nil {
		t.Fatal("expected error for unknown renderer")
	}
}
