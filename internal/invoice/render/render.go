// Package render turns invoices into PDF documents.
package render

import (
	"context"
	"fmt"
	"io"
	"regexp"

	"invoicer/internal/core"
)

// Renderer writes a finished document for inv to w.
type Renderer interface {
	Render(ctx context.Context, inv core.Invoice, w io.Writer) error
}

const ContentType = "application/pdf"

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Filename returns the download name of an invoice, e.g.
// invoice_2025-03_INV-202503-1A2B3C4D.pdf.
func Filename(inv core.Invoice) string {
	number := unsafeFilenameChars.ReplaceAllString(inv.Number, "")
	if number == "" {
		number = "draft"
	}
	return fmt.Sprintf("invoice_%s_%s.pdf", inv.Month, number)
}

// New selects a renderer by name. An empty name selects the native PDF
// renderer.
func New(name string, opts PDFOptions) (Renderer, error) {
	switch name {
	case "", "pdf", "native":
		return NewPDFRenderer(opts)
	case "chrome":
		return NewChromeRenderer()
	default:
		return nil, fmt.Errorf("unknown pdf renderer %q", name)
	}
}
