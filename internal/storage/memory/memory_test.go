package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"invoicer/internal/auth"
	"invoicer/internal/core"
)

const testSeed = `
users:
  - id: u1
    email: hanako@example.com
    display_name: Hanako
    tokens:
      - token: dev-token
        label: dev
    profile:
      full_name: Sato Hanako
      address: 1-2-3 Jingumae, Tokyo
      registration_number: T1234567890123
    bank_account:
      bank_name: Mizuho
      branch_name: Shibuya
      account_type: ordinary
      account_number: "1234567"
      account_holder: SATO HANAKO
    matchings:
      - id: m1
        company_name: Acme
        amount: 1100
        date: 2025-03-05
        status: approved
      - id: m2
        company_name: Globex
        amount: 2000
        date: "2025-03-20"
        status: pending
  - id: u2
    email: taro@example.com
`

func seededStore(t *testing.T) *Store {
	t.Helper()
	seed, err := ParseSeed([]byte(testSeed))
	if err != nil {
		t.Fatal(err)
	}
	s := New()
	if err := seed.Apply(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSeedApply(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)

	u, err := s.UserByTokenHash(ctx, auth.HashToken("dev-token"))
	if err != nil || u.ID != "u1" {
		t.Fatalf("token lookup = %+v, %v", u, err)
	}
	p, err := s.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if p.UserID != "u1" || !p.TaxRegistered() {
		t.Fatalf("profile = %+v", p)
	}
	b, err := s.GetBankAccount(ctx, "u1")
	if err != nil || b.AccountNumber != "1234567" {
		t.Fatalf("bank = %+v, %v", b, err)
	}
	ms, err := s.ListMatchings(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ms) != 2 || ms[0].Date.String() != "2025-03-05" || ms[0].UserID != "u1" || ms[1].Status != core.StatusPending {
		t.Fatalf("matchings = %+v", ms)
	}
	if _, err := s.GetProfile(ctx, "u2"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestParseSeedErrors(t *testing.T) {
	if _, err := ParseSeed([]byte("users:\n  - email: x@example.com\n")); err == nil {
		t.Fatal("expected error for user without id")
	}
	if _, err := ParseSeed([]byte("users: [")); err == nil {
		t.Fatal("expected yaml error")
	}
	bad := "users:\n  - id: u1\n    matchings:\n      - id: m1\n        company_name: A\n        amount: 1\n        date: 2025-13-01\n        status: approved\n"
	if _, err := ParseSeed([]byte(bad)); err == nil {
		t.Fatal("expected invalid date error")
	}
}

func TestGetMatchingsOwnership(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)
	got, err := s.GetMatchings(ctx, "u2", []string{"m1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("foreign matching returned: %+v", got)
	}
	got, _ = s.GetMatchings(ctx, "u1", []string{"m1", "m1", "zzz"})
	if len(got) != 1 {
		t.Fatalf("expected one matching, got %d", len(got))
	}
	err = s.UpsertMatching(ctx, core.MatchingRecord{ID: "m1", UserID: "u2", CompanyName: "X", Amount: 1, Date: core.NewDate(2025, 1, 1), Status: core.StatusApproved})
	if err == nil {
		t.Fatal("expected error when re-assigning a matching to another user")
	}
}

func TestPayments(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)
	p := core.Payment{ID: "p1", UserID: "u1", InvoiceNumber: "INV-1", MatchingIDs: []string{"m1"}, IssuedAt: time.Now()}
	if err := s.SavePayment(ctx, p); err != nil {
		t.Fatal(err)
	}
	if err := s.SavePayment(ctx, p); err == nil {
		t.Fatal("expected duplicate payment error")
	}
	p.MatchingIDs[0] = "changed"
	got, err := s.GetPayment(ctx, "u1", "p1")
	if err != nil {
		t.Fatal(err)
	}
	if got.MatchingIDs[0] != "m1" {
		t.Fatal("stored payment aliased caller slice")
	}
	if _, err := s.GetPayment(ctx, "u2", "p1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign payment, got %v", err)
	}

	other := core.Payment{ID: "p2", UserID: "u1", InvoiceNumber: "INV-2", MatchingIDs: []string{"m2", "m1"}, IssuedAt: time.Now()}
	if err := s.SavePayment(ctx, other); !errors.Is(err, core.ErrAlreadyInvoiced) {
		t.Fatalf("expected ErrAlreadyInvoiced, got %v", err)
	}
	invoiced, err := s.InvoicedMatchings(ctx, "u1", []string{"m1", "m2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(invoiced) != 1 || invoiced["m1"] != "p1" {
		t.Fatalf("invoiced = %v", invoiced)
	}
	if foreign, _ := s.InvoicedMatchings(ctx, "u2", []string{"m1"}); len(foreign) != 0 {
		t.Fatalf("foreign invoiced = %v", foreign)
	}
}

func TestNewFromDir(t *testing.T) {
	ctx := context.Background()
	empty, err := NewFromDir(ctx, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if ms, _ := empty.ListMatchings(ctx, "u1"); len(ms) != 0 {
		t.Fatal("expected empty store")
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "seed.yaml"), []byte(testSeed), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := NewFromDir(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetBankAccount(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
}
