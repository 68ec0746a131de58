package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"invoicer/internal/core"
	"invoicer/internal/invoice"
	"invoicer/internal/invoice/render"
	"invoicer/internal/storage/memory"
)

type renderOptions struct {
	seed      string
	user      string
	month     string
	out       string
	renderer  string
	font      string
	rate      string
	recipient string
}

// newRenderCmd renders the approved matchings of one month from a seed file
// without touching any database.
func newRenderCmd() *cobra.Command {
	o := &renderOptions{}
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render an invoice offline from a YAML seed file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, inv, err := o.run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d lines, total %s\n", path, len(inv.Lines), inv.GrandTotal)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.seed, "seed", "data/seed.yaml", "seed file")
	f.StringVar(&o.user, "user", "", "user ID")
	f.StringVar(&o.month, "month", "", "invoice month, YYYY-MM")
	f.StringVar(&o.out, "out", "", "output file (default: the invoice file name)")
	f.StringVar(&o.renderer, "renderer", "pdf", "pdf or chrome")
	f.StringVar(&o.font, "font", "", "TTF font for the native renderer")
	f.StringVar(&o.rate, "rate", invoice.DefaultRate.String(), "consumption tax rate")
	f.StringVar(&o.recipient, "recipient", "", "invoice recipient")
	return cmd
}

func (o *renderOptions) run(ctx context.Context) (string, core.Invoice, error) {
	if o.user == "" {
		return "", core.Invoice{}, fmt.Errorf("--user is required")
	}
	month, err := core.ParseMonthKey(o.month)
	if err != nil {
		return "", core.Invoice{}, err
	}
	rate, err := invoice.ParseRate(o.rate)
	if err != nil {
		return "", core.Invoice{}, err
	}
	calc, err := invoice.NewCalculator(rate)
	if err != nil {
		return "", core.Invoice{}, err
	}

	seed, err := memory.LoadSeed(o.seed)
	if err != nil {
		return "", core.Invoice{}, err
	}
	store := memory.New()
	if err := seed.Apply(ctx, store); err != nil {
		return "", core.Invoice{}, err
	}
	records, err := store.ListMatchings(ctx, o.user)
	if err != nil {
		return "", core.Invoice{}, err
	}
	var items []invoice.Item
	for _, m := range records {
		if m.Approved() && month.Contains(m.Date) {
			items = append(items, invoice.Item{MatchingID: m.ID, CompanyName: m.CompanyName, Date: m.Date, Amount: m.Amount})
		}
	}

	inv, err := invoice.NewBuilder(calc, store, store, o.recipient).Build(ctx, invoice.Request{
		UserID: o.user,
		Month:  month,
		Items:  items,
	})
	if err != nil {
		return "", core.Invoice{}, err
	}

	r, err := render.New(o.renderer, render.PDFOptions{FontPath: o.font})
	if err != nil {
		return "", core.Invoice{}, err
	}
	path := o.out
	if path == "" {
		path = render.Filename(inv)
	}
	f, err := os.Create(path)
	if err != nil {
		return "", core.Invoice{}, err
	}
	if err := r.Render(ctx, inv, f); err != nil {
		f.Close()
		os.Remove(path)
		return "", core.Invoice{}, fmt.Errorf("render: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", core.Invoice{}, err
	}
	return path, inv, nil
}
