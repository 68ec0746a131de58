package render

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/shopspring/decimal"

	"invoicer/internal/core"
	"invoicer/web"
)

const chromeTimeout = 30 * time.Second

// ChromeRenderer prints the HTML invoice template with headless Chrome.
type ChromeRenderer struct {
	tmpl *template.Template
	// AllocatorOptions are appended to chromedp's defaults.
	AllocatorOptions []chromedp.ExecAllocatorOption
}

// TemplateFuncs are the helpers available to invoice.html.
var TemplateFuncs = template.FuncMap{
	"percent": func(rate decimal.Decimal) string {
		return rate.Shift(2).String() + "%"
	},
}

func NewChromeRenderer() (*ChromeRenderer, error) {
	tmpl, err := template.New("invoice.html").Funcs(TemplateFuncs).ParseFS(web.TemplatesFS, "templates/invoice.html")
	if err != nil {
		return nil, fmt.Errorf("parse invoice template: %w", err)
	}
	return &ChromeRenderer{
		tmpl: tmpl,
		AllocatorOptions: []chromedp.ExecAllocatorOption{
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
		},
	}, nil
}

// HTML renders the invoice template without printing it.
func (r *ChromeRenderer) HTML(inv core.Invoice) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, inv); err != nil {
		return "", fmt.Errorf("execute invoice template: %w", err)
	}
	return buf.String(), nil
}

func (r *ChromeRenderer) Render(ctx context.Context, inv core.Invoice, w io.Writer) error {
	doc, err := r.HTML(inv)
	if err != nil {
		return err
	}

	allocCtx, cancel := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:], r.AllocatorOptions...)...,
	)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	browserCtx, cancel = context.WithTimeout(browserCtx, chromeTimeout)
	defer cancel()

	var data []byte
	err = chromedp.Run(browserCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			frameTree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(frameTree.Frame.ID, doc).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			data, _, err = page.PrintToPDF().
				WithPrintBackground(true).
				WithPreferCSSPageSize(true).
				WithDisplayHeaderFooter(true).
				WithHeaderTemplate(`<span></span>`).
				WithFooterTemplate(`<div style="font-size:8px;width:100%;text-align:center;"><span class="pageNumber"></span> / <span class="totalPages"></span></div>`).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return fmt.Errorf("print invoice with chrome: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}
