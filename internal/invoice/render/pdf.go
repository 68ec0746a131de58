package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-pdf/fpdf"
	"golang.org/x/text/encoding/charmap"

	"invoicer/internal/core"
)

const defaultLinesPerPage = 20

// ErrFontRequired is returned when invoice text cannot be written with the
// core fonts and no TrueType font is configured.
var ErrFontRequired = errors.New("invoice text needs a TrueType font (PDF_FONT_PATH)")

// PDFOptions configure the native renderer.
type PDFOptions struct {
	// FontPath points to a TrueType font with CJK coverage. Without it the
	// core Helvetica font is used and text is limited to cp1252.
	FontPath     string
	LinesPerPage int
}

// PDFRenderer lays out invoices directly with fpdf.
type PDFRenderer struct {
	fontPath     string
	linesPerPage int
}

func NewPDFRenderer(opts PDFOptions) (*PDFRenderer, error) {
	if opts.FontPath != "" {
		if _, err := os.Stat(opts.FontPath); err != nil {
			return nil, fmt.Errorf("pdf font: %w", err)
		}
	}
	lpp := opts.LinesPerPage
	if lpp <= 0 {
		lpp = defaultLinesPerPage
	}
	return &PDFRenderer{fontPath: opts.FontPath, linesPerPage: lpp}, nil
}

func (r *PDFRenderer) Render(ctx context.Context, inv core.Invoice, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.fontPath == "" {
		if s, ok := firstUnencodable(inv); ok {
			return fmt.Errorf("%w: %q", ErrFontRequired, s)
		}
	}
	pdf, err := r.layout(inv)
	if err != nil {
		return err
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

// HasUnicodeFont reports whether text outside cp1252 can be rendered.
func (r *PDFRenderer) HasUnicodeFont() bool {
	return r.fontPath != ""
}

// firstUnencodable returns the first invoice text the core fonts cannot
// represent.
func firstUnencodable(inv core.Invoice) (string, bool) {
	texts := []string{
		inv.Recipient,
		inv.Payee.FullName, inv.Payee.Address, inv.Payee.Email, inv.Payee.Phone,
		inv.BankAccount.BankName, inv.BankAccount.BranchName, inv.BankAccount.AccountType,
		inv.BankAccount.AccountNumber, inv.BankAccount.AccountHolder,
	}
	for _, l := range inv.Lines {
		texts = append(texts, l.Description)
	}
	enc := charmap.Windows1252.NewEncoder()
	for _, s := range texts {
		if _, err := enc.String(s); err != nil {
			return s, true
		}
	}
	return "", false
}

// page geometry in millimetres
const (
	marginLeft  = 15.0
	marginTop   = 15.0
	marginRight = 15.0
	pageWidth   = 210.0
	contentW    = pageWidth - marginLeft - marginRight
	rowH        = 7.0
)

type doc struct {
	pdf    *fpdf.Fpdf
	family string
	bold   string
	tr     func(string) string
	utf8   bool
}

func (r *PDFRenderer) layout(inv core.Invoice) (*fpdf.Fpdf, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(marginLeft, marginTop, marginRight)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AliasNbPages("")
	pdf.SetTitle(inv.Number, true)
	pdf.SetAuthor(inv.Payee.FullName, true)
	pdf.SetCreationDate(inv.IssueDate.Time)
	pdf.SetModificationDate(inv.IssueDate.Time)

	d := &doc{pdf: pdf, family: "Helvetica", bold: "B"}
	if r.fontPath != "" {
		pdf.AddUTF8Font("invoice", "", r.fontPath)
		d.family, d.bold, d.utf8 = "invoice", "", true
		d.tr = func(s string) string { return s }
	} else {
		d.tr = pdf.UnicodeTranslatorFromDescriptor("")
	}

	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		d.font("", 8)
		pdf.CellFormat(0, 10, fmt.Sprintf("%s  %d / {nb}", d.tr(inv.Number), pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	chunks := paginate(inv.Lines, r.linesPerPage)
	for i, chunk := range chunks {
		pdf.AddPage()
		if i == 0 {
			d.header(inv)
		} else {
			d.font(d.bold, 10)
			pdf.CellFormat(0, 8, d.tr(fmt.Sprintf("%s (continued)", inv.Number)), "", 1, "L", false, 0, "")
		}
		d.tableHeader(inv.Breakdown != nil)
		for _, l := range chunk {
			d.row(l, inv.Breakdown != nil)
		}
	}

	d.totals(inv)
	d.bank(inv.BankAccount)

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("layout pdf: %w", err)
	}
	return pdf, nil
}

func paginate(lines []core.InvoiceLine, per int) [][]core.InvoiceLine {
	if len(lines) == 0 {
		return [][]core.InvoiceLine{nil}
	}
	var out [][]core.InvoiceLine
	for start := 0; start < len(lines); start += per {
		end := min(start+per, len(lines))
		out = append(out, lines[start:end])
	}
	return out
}

func (d *doc) font(style string, size float64) {
	if d.family != "Helvetica" {
		style = ""
	}
	d.pdf.SetFont(d.family, style, size)
}

func (d *doc) text(w, h float64, s, border string, ln int, align string, fill bool) {
	d.pdf.CellFormat(w, h, d.tr(s), border, ln, align, fill, 0, "")
}

func (d *doc) header(inv core.Invoice) {
	pdf := d.pdf
	d.font(d.bold, 20)
	d.text(0, 12, "INVOICE", "", 1, "C", false)
	pdf.Ln(4)

	top := pdf.GetY()
	d.font(d.bold, 13)
	d.text(contentW/2, 8, inv.Recipient, "B", 1, "L", false)
	d.font("", 10)
	d.text(contentW/2, 6, "Billing period: "+inv.Month.String(), "", 1, "L", false)
	leftBottom := pdf.GetY()

	x := marginLeft + contentW/2
	pdf.SetXY(x, top)
	right := []string{
		"Issue date: " + inv.IssueDate.String(),
		"Invoice no.: " + inv.Number,
		inv.Payee.FullName,
	}
	if pc := inv.Payee.PostalCode; pc != "" {
		if d.utf8 {
			pc = "〒" + pc
		}
		right = append(right, pc)
	}
	right = append(right, inv.Payee.Address)
	for _, s := range []string{inv.Payee.Email, inv.Payee.Phone} {
		if s != "" {
			right = append(right, s)
		}
	}
	if inv.Payee.TaxRegistered() {
		right = append(right, "Registration no.: "+inv.Payee.RegistrationNumber)
	}
	for _, s := range right {
		pdf.SetX(x)
		d.text(contentW/2, 5, s, "", 1, "R", false)
	}
	pdf.SetY(max(leftBottom, pdf.GetY()) + 4)

	d.font(d.bold, 14)
	d.text(0, 10, "Amount due: "+inv.GrandTotal.String(), "TB", 1, "L", false)
	pdf.Ln(4)
}

func columns(taxed bool) []float64 {
	if taxed {
		return []float64{25, 71, 28, 28, 28}
	}
	return []float64{25, 127, 28}
}

func (d *doc) tableHeader(taxed bool) {
	d.pdf.SetFillColor(235, 235, 235)
	d.font(d.bold, 9)
	heads := []string{"Date", "Description"}
	if taxed {
		heads = append(heads, "Excl. tax", "Tax")
	}
	heads = append(heads, "Amount")
	cols := columns(taxed)
	for i, h := range heads {
		d.text(cols[i], rowH, h, "1", 0, "C", true)
	}
	d.pdf.Ln(-1)
}

func (d *doc) row(l core.InvoiceLine, taxed bool) {
	d.font("", 9)
	cols := columns(taxed)
	d.text(cols[0], rowH, l.Date.String(), "1", 0, "C", false)
	d.text(cols[1], rowH, l.Description, "1", 0, "L", false)
	i := 2
	if taxed {
		d.text(cols[2], rowH, l.TaxExcluded.String(), "1", 0, "R", false)
		d.text(cols[3], rowH, l.Tax.String(), "1", 0, "R", false)
		i = 4
	}
	d.text(cols[i], rowH, l.Amount.String(), "1", 0, "R", false)
	d.pdf.Ln(-1)
}

func (d *doc) ensureSpace(h float64) {
	_, pageH := d.pdf.GetPageSize()
	_, _, _, bottom := d.pdf.GetMargins()
	if d.pdf.GetY()+h > pageH-bottom-20 {
		d.pdf.AddPage()
	}
}

func (d *doc) totals(inv core.Invoice) {
	rows := [][2]string{}
	if b := inv.Breakdown; b != nil {
		rows = append(rows,
			[2]string{"Subtotal (excl. tax)", b.Subtotal.String()},
			[2]string{fmt.Sprintf("Consumption tax (%s%%)", b.Rate.Shift(2).String()), b.TaxTotal.String()},
		)
	}
	rows = append(rows, [2]string{"Total", inv.GrandTotal.String()})

	d.ensureSpace(float64(len(rows))*rowH + 6)
	d.pdf.Ln(4)
	for i, r := range rows {
		style := ""
		if i == len(rows)-1 {
			style = d.bold
		}
		d.font(style, 10)
		d.pdf.SetX(marginLeft + contentW - 100)
		d.text(60, rowH, r[0], "1", 0, "L", false)
		d.text(40, rowH, r[1], "1", 1, "R", false)
	}
}

func (d *doc) bank(b core.BankAccount) {
	rows := [][2]string{
		{"Bank", b.BankName},
		{"Branch", b.BranchName},
		{"Account type", b.AccountType},
		{"Account number", b.AccountNumber},
		{"Account holder", b.AccountHolder},
	}
	d.ensureSpace(float64(len(rows)+1)*6 + 10)
	d.pdf.Ln(8)
	d.font(d.bold, 11)
	d.text(0, 7, "Payment details", "B", 1, "L", false)
	d.font("", 10)
	for _, r := range rows {
		d.text(40, 6, r[0], "", 0, "L", false)
		d.text(0, 6, r[1], "", 1, "L", false)
	}
}
