package invoice

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"

	"invoicer/internal/core"
)

func item(company string, amount core.Yen) Item {
	return Item{MatchingID: company, CompanyName: company, Date: core.NewDate(2025, 3, 10), Amount: amount}
}

func TestSplit(t *testing.T) {
	calc, err := NewCalculator(DefaultRate)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		amount          core.Yen
		wantExcl, wantT core.Yen
	}{
		{1100, 1000, 100},
		{1099, 999, 100},
		{1, 0, 1},
		{11, 10, 1},
		{110000, 100000, 10000},
		{33333, 30302, 3031},
	}
	for _, tt := range tests {
		excl, tax := calc.Split(tt.amount)
		if excl != tt.wantExcl || tax != tt.wantT {
			t.Errorf("Split(%d) = (%d, %d), want (%d, %d)", tt.amount, excl, tax, tt.wantExcl, tt.wantT)
		}
	}
}

func TestSplitReducedRate(t *testing.T) {
	calc, err := NewCalculator(decimal.RequireFromString("0.08"))
	if err != nil {
		t.Fatal(err)
	}
	excl, tax := calc.Split(1080)
	if excl != 1000 || tax != 80 {
		t.Fatalf("Split(1080) at 8%% = (%d, %d)", excl, tax)
	}
}

func TestZeroCalculatorUsesDefaultRate(t *testing.T) {
	var calc Calculator
	if !calc.Rate().Equal(DefaultRate) {
		t.Fatalf("rate = %s", calc.Rate())
	}
	if excl, tax := calc.Split(1100); excl != 1000 || tax != 100 {
		t.Fatalf("Split(1100) = (%d, %d)", excl, tax)
	}
}

func TestSplitPartitionsAmount(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for _, rate := range []string{"0.10", "0.08"} {
		calc, err := NewCalculator(decimal.RequireFromString(rate))
		if err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 2000; i++ {
			amount := core.Yen(r.Int63n(10_000_000) + 1)
			excl, tax := calc.Split(amount)
			if excl+tax != amount {
				t.Fatalf("rate %s: %d + %d != %d", rate, excl, tax, amount)
			}
			if excl < 0 || tax < 0 {
				t.Fatalf("rate %s: negative split for %d: (%d, %d)", rate, amount, excl, tax)
			}
		}
	}
}

func TestNewCalculatorRejectsBadRates(t *testing.T) {
	for _, s := range []string{"-0.01", "1", "1.5"} {
		if _, err := NewCalculator(decimal.RequireFromString(s)); !errors.Is(err, ErrInvalidRate) {
			t.Errorf("rate %s: expected ErrInvalidRate, got %v", s, err)
		}
	}
	if _, err := ParseRate("ten percent"); !errors.Is(err, ErrInvalidRate) {
		t.Errorf("expected ErrInvalidRate for unparsable rate, got %v", err)
	}
	if r, err := ParseRate(" 0.08 "); err != nil || !r.Equal(decimal.RequireFromString("0.08")) {
		t.Errorf("ParseRate(0.08) = %s, %v", r, err)
	}
}

func TestCalculateNotRegistered(t *testing.T) {
	var calc Calculator
	totals, lines, err := calc.Calculate([]Item{item("A", 1000), item("B", 2000), item("C", 3000)}, false)
	if err != nil {
		t.Fatal(err)
	}
	if totals.GrandTotal != 6000 {
		t.Fatalf("grand total = %d, want 6000", totals.GrandTotal)
	}
	if totals.Breakdown != nil {
		t.Fatalf("expected no breakdown, got %+v", totals.Breakdown)
	}
	for _, l := range lines {
		if l.Tax != 0 || l.TaxExcluded != 0 {
			t.Fatalf("unregistered line carries tax: %+v", l)
		}
	}
}

func TestCalculateRegistered(t *testing.T) {
	var calc Calculator
	totals, lines, err := calc.Calculate([]Item{item("A", 1100), item("B", 1099)}, true)
	if err != nil {
		t.Fatal(err)
	}
	if totals.GrandTotal != 2199 {
		t.Fatalf("grand total = %d", totals.GrandTotal)
	}
	if totals.Breakdown == nil {
		t.Fatal("expected breakdown")
	}
	if totals.Breakdown.Subtotal != 1999 || totals.Breakdown.TaxTotal != 200 {
		t.Fatalf("breakdown = %+v", totals.Breakdown)
	}
	if lines[0].TaxExcluded != 1000 || lines[0].Tax != 100 || lines[1].TaxExcluded != 999 || lines[1].Tax != 100 {
		t.Fatalf("lines = %+v", lines)
	}
}

func TestCalculateRegisteredSumsMatch(t *testing.T) {
	var calc Calculator
	r := rand.New(rand.NewSource(99))
	for iter := 0; iter < 200; iter++ {
		n := 1 + r.Intn(30)
		items := make([]Item, n)
		var sum core.Yen
		for i := range items {
			items[i] = item("Co", core.Yen(r.Int63n(1_000_000)+1))
			sum += items[i].Amount
		}
		totals, _, err := calc.Calculate(items, true)
		if err != nil {
			t.Fatal(err)
		}
		if totals.GrandTotal != sum || totals.Breakdown.Subtotal+totals.Breakdown.TaxTotal != sum {
			t.Fatalf("iteration %d: totals %+v do not add up to %d", iter, totals, sum)
		}
	}
}

func TestCalculateValidation(t *testing.T) {
	var calc Calculator
	tests := []struct {
		name  string
		items []Item
		field string
	}{
		{"zero amount", []Item{item("A", 0)}, "matchings[0].amount"},
		{"negative amount", []Item{item("A", 100), item("B", -5)}, "matchings[1].amount"},
		{"blank company", []Item{item("  ", 100)}, "matchings[0].company_name"},
		{"missing date", []Item{{CompanyName: "A", Amount: 100}}, "matchings[0].date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := calc.Calculate(tt.items, true)
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if vErr.Field != tt.field {
				t.Fatalf("field = %q, want %q", vErr.Field, tt.field)
			}
		})
	}

	if _, _, err := calc.Calculate(nil, false); !errors.Is(err, ErrNoLines) {
		t.Fatalf("expected ErrNoLines, got %v", err)
	}
}

func TestCalculateOverflow(t *testing.T) {
	var calc Calculator
	_, _, err := calc.Calculate([]Item{item("A", 1<<62), item("B", 1<<62)}, false)
	if !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected ErrAmountOverflow, got %v", err)
	}
}
