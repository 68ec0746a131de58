package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"invoicer/internal/auth"
	"invoicer/internal/core"
	"invoicer/internal/invoice"
	applog "invoicer/internal/log"
	"invoicer/internal/services"
	"invoicer/internal/storage/memory"
)

type fakeRenderer struct {
	err   error
	calls int
}

func (f *fakeRenderer) Render(ctx context.Context, inv core.Invoice, w io.Writer) error {
	f.calls++
	if _, err := io.WriteString(w, "%PDF-1.4 "+inv.Number); err != nil {
		return err
	}
	return f.err
}

type testEnv struct {
	srv      *Server
	store    *memory.Store
	renderer *fakeRenderer
	tempDir  string
	token    string
	other    string
}

func newTestEnv(t *testing.T, rateLimit int) *testEnv {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(store.UpsertUser(ctx, core.User{ID: "u1", Email: "hanako@example.com"}))
	must(store.UpsertUser(ctx, core.User{ID: "u2", Email: "taro@example.com"}))
	must(store.UpsertProfile(ctx, core.PayeeProfile{UserID: "u1", FullName: "Sato Hanako", Address: "Tokyo"}))
	must(store.UpsertBankAccount(ctx, "u1", core.BankAccount{
		BankName: "Mizuho", BranchName: "Shibuya", AccountType: "ordinary", AccountNumber: "1234567", AccountHolder: "SATO HANAKO",
	}))
	for _, m := range []core.MatchingRecord{
		{ID: "m1", UserID: "u1", CompanyName: "Acme", Amount: 1000, Date: core.NewDate(2025, 3, 5), Status: core.StatusApproved},
		{ID: "m2", UserID: "u1", CompanyName: "Globex", Amount: 2000, Date: core.NewDate(2025, 3, 12), Status: core.StatusApproved},
		{ID: "m3", UserID: "u1", CompanyName: "Initech", Amount: 3000, Date: core.NewDate(2025, 3, 28), Status: core.StatusApproved},
		{ID: "x1", UserID: "u2", CompanyName: "Other", Amount: 900, Date: core.NewDate(2025, 3, 3), Status: core.StatusApproved},
	} {
		must(store.UpsertMatching(ctx, m))
	}

	logger := applog.New(applog.Config{Handler: slog.NewTextHandler(io.Discard, nil)})
	calc, err := invoice.NewCalculator(invoice.DefaultRate)
	must(err)
	builder := invoice.NewBuilder(calc, store, store, "Example K.K.")
	authn := auth.NewAuthenticator(store, logger.Slog())
	token, err := authn.Issue(ctx, "u1", "test")
	must(err)
	other, err := authn.Issue(ctx, "u2", "test")
	must(err)

	env := &testEnv{store: store, renderer: &fakeRenderer{}, tempDir: t.TempDir(), token: token, other: other}
	srv, err := NewServer(Options{Addr: ":0", TempDir: env.tempDir, RateLimitPerMinute: rateLimit, Logger: logger}, Deps{
		Invoices: services.NewInvoiceService(store, store, nil, builder, logger.Slog()),
		Earnings: services.NewEarningsService(store),
		Renderer: env.renderer,
		Auth:     authn,
		Ready:    store.Ping,
	})
	must(err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	env.srv = srv
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.RemoteAddr = "203.0.113.9:5000"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) assertNoStagingFiles(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(e.tempDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("staging files left behind: %v", entries)
	}
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var er errorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &er); err != nil {
		t.Fatalf("error body %q: %v", rr.Body.String(), err)
	}
	return er
}

func validRequest() map[string]any {
	return map[string]any{
		"month": "2025-03",
		"matchings": []map[string]any{
			{"id": "m1", "company_name": "Acme", "date": "2025-03-05", "amount": 1000},
			{"id": "m2", "company_name": "Globex", "date": "2025-03-12", "amount": 2000},
			{"id": "m3", "company_name": "Initech", "date": "2025-03-28", "amount": 3000},
		},
		"total": 6000,
	}
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, 60)
	for _, path := range []string{"/healthz", "/readyz"} {
		if rr := env.do(t, http.MethodGet, path, "", nil); rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}
}

func TestUnauthenticated(t *testing.T) {
	env := newTestEnv(t, 60)
	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/invoices"},
		{http.MethodGet, "/api/payments/p1/invoice"},
		{http.MethodGet, "/api/earnings"},
		{http.MethodGet, "/ui/earnings"},
	} {
		rr := env.do(t, tc.method, tc.path, "", nil)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s %s = %d, want 401", tc.method, tc.path, rr.Code)
		}
		rr = env.do(t, tc.method, tc.path, "inv_bogus", nil)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s %s with bad token = %d, want 401", tc.method, tc.path, rr.Code)
		}
	}
	if env.renderer.calls != 0 {
		t.Error("renderer must not run for unauthenticated requests")
	}
}

func TestCreateInvoiceAndDownload(t *testing.T) {
	env := newTestEnv(t, 60)
	rr := env.do(t, http.MethodPost, "/api/invoices", env.token, validRequest())
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("content type %q", ct)
	}
	cd := rr.Header().Get("Content-Disposition")
	if !strings.HasPrefix(cd, `attachment; filename="invoice_2025-03_INV-202503-`) {
		t.Errorf("content disposition %q", cd)
	}
	if !strings.HasPrefix(rr.Body.String(), "%PDF") {
		t.Errorf("body %q", rr.Body.String())
	}
	env.assertNoStagingFiles(t)

	paymentID := rr.Header().Get("X-Payment-ID")
	if paymentID == "" {
		t.Fatal("missing payment id header")
	}
	again := env.do(t, http.MethodGet, "/api/payments/"+paymentID+"/invoice", env.token, nil)
	if again.Code != http.StatusOK {
		t.Fatalf("download status=%d body=%s", again.Code, again.Body.String())
	}
	if again.Body.String() != rr.Body.String() {
		t.Errorf("reissued document differs: %q vs %q", again.Body.String(), rr.Body.String())
	}
	env.assertNoStagingFiles(t)

	if foreign := env.do(t, http.MethodGet, "/api/payments/"+paymentID+"/invoice", env.other, nil); foreign.Code != http.StatusNotFound {
		t.Errorf("foreign download = %d, want 404", foreign.Code)
	}
	if missing := env.do(t, http.MethodGet, "/api/payments/nope/invoice", env.token, nil); missing.Code != http.StatusNotFound {
		t.Errorf("unknown payment = %d, want 404", missing.Code)
	}
}

func TestCreateInvoiceRejections(t *testing.T) {
	tests := []struct {
		name   string
		token  func(e *testEnv) string
		mutate func(req map[string]any)
		raw    string
		status int
		code   string
		field  string
	}{
		{
			name:   "malformed json",
			raw:    `{"month":`,
			status: http.StatusBadRequest,
			code:   codeInvalidRequest,
		},
		{
			name:   "bad month",
			mutate: func(req map[string]any) { req["month"] = "2025-3" },
			status: http.StatusUnprocessableEntity,
			code:   codeCouldNotGenerate,
			field:  "month",
		},
		{
			name:   "total mismatch",
			mutate: func(req map[string]any) { req["total"] = 5999 },
			status: http.StatusUnprocessableEntity,
			code:   codeCouldNotGenerate,
			field:  "total",
		},
		{
			name: "amount mismatch",
			mutate: func(req map[string]any) {
				req["matchings"] = []map[string]any{{"id": "m1", "company_name": "Acme", "date": "2025-03-05", "amount": 1100}}
				req["total"] = 1100
			},
			status: http.StatusUnprocessableEntity,
			code:   codeCouldNotGenerate,
			field:  "matchings[0].amount",
		},
		{
			name:   "no lines",
			mutate: func(req map[string]any) { req["matchings"] = []map[string]any{}; req["total"] = 0 },
			status: http.StatusUnprocessableEntity,
			code:   codeCouldNotGenerate,
		},
		{
			name:  "missing profile",
			token: func(e *testEnv) string { return e.other },
			mutate: func(req map[string]any) {
				req["matchings"] = []map[string]any{{"id": "x1", "company_name": "Other", "date": "2025-03-03", "amount": 900}}
				req["total"] = 900
			},
			status: http.StatusUnprocessableEntity,
			code:   codeCouldNotGenerate,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 60)
			token := env.token
			if tt.token != nil {
				token = tt.token(env)
			}
			var body any = tt.raw
			if tt.raw == "" {
				req := validRequest()
				if tt.mutate != nil {
					tt.mutate(req)
				}
				body = req
			}
			rr := env.do(t, http.MethodPost, "/api/invoices", token, body)
			if rr.Code != tt.status {
				t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
			}
			er := decodeError(t, rr)
			if er.Code != tt.code || er.Field != tt.field {
				t.Errorf("error = %+v, want code %q field %q", er, tt.code, tt.field)
			}
			if env.renderer.calls != 0 {
				t.Error("renderer ran for a rejected request")
			}
			env.assertNoStagingFiles(t)
		})
	}
}

func TestCreateInvoiceRenderFailure(t *testing.T) {
	env := newTestEnv(t, 60)
	env.renderer.err = errors.New("font exploded")
	rr := env.do(t, http.MethodPost, "/api/invoices", env.token, validRequest())
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", rr.Code)
	}
	er := decodeError(t, rr)
	if er.Code != codeServerError || strings.Contains(er.Error, "font") {
		t.Errorf("error leaked detail: %+v", er)
	}
	if strings.Contains(rr.Body.String(), "%PDF") {
		t.Error("partial document written to the client")
	}
	if id := rr.Header().Get("X-Payment-ID"); id != "" {
		t.Errorf("payment id %q announced for a failed render", id)
	}
	env.assertNoStagingFiles(t)

	invoiced, err := env.store.InvoicedMatchings(context.Background(), "u1", []string{"m1", "m2", "m3"})
	if err != nil {
		t.Fatal(err)
	}
	if len(invoiced) != 0 {
		t.Fatalf("payment recorded for a failed render: %v", invoiced)
	}

	env.renderer.err = nil
	if retry := env.do(t, http.MethodPost, "/api/invoices", env.token, validRequest()); retry.Code != http.StatusOK {
		t.Fatalf("retry status=%d body=%s", retry.Code, retry.Body.String())
	}
}

func TestCreateInvoiceRepeated(t *testing.T) {
	env := newTestEnv(t, 60)
	first := env.do(t, http.MethodPost, "/api/invoices", env.token, validRequest())
	if first.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", first.Code, first.Body.String())
	}
	again := env.do(t, http.MethodPost, "/api/invoices", env.token, validRequest())
	if again.Code != http.StatusOK {
		t.Fatalf("repeat status=%d body=%s", again.Code, again.Body.String())
	}
	if a, b := first.Header().Get("X-Payment-ID"), again.Header().Get("X-Payment-ID"); a == "" || a != b {
		t.Fatalf("payment ids %q and %q, want the same payment", a, b)
	}
	if again.Body.String() != first.Body.String() {
		t.Errorf("repeated document differs: %q vs %q", again.Body.String(), first.Body.String())
	}

	subset := validRequest()
	subset["matchings"] = []map[string]any{{"id": "m2", "company_name": "Globex", "date": "2025-03-12", "amount": 2000}}
	subset["total"] = 2000
	rr := env.do(t, http.MethodPost, "/api/invoices", env.token, subset)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("overlapping request status=%d", rr.Code)
	}
	if er := decodeError(t, rr); er.Code != codeCouldNotGenerate || er.Field != "matchings[0].id" {
		t.Errorf("error = %+v", er)
	}
	env.assertNoStagingFiles(t)
}

func TestEarningsJSON(t *testing.T) {
	env := newTestEnv(t, 60)
	rr := env.do(t, http.MethodGet, "/api/earnings?year=2025", env.token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Year      int   `json:"year"`
		YearTotal int64 `json:"year_total"`
		Months    []struct {
			Month     string            `json:"month"`
			Total     int64             `json:"total"`
			Matchings []json.RawMessage `json:"matchings"`
		} `json:"months"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Year != 2025 || resp.YearTotal != 6000 || len(resp.Months) != 12 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Months[2].Month != "2025-03" || resp.Months[2].Total != 6000 || len(resp.Months[2].Matchings) != 3 {
		t.Errorf("march = %+v", resp.Months[2])
	}
	if resp.Months[0].Total != 0 || resp.Months[0].Matchings == nil {
		t.Errorf("january = %+v", resp.Months[0])
	}

	if bad := env.do(t, http.MethodGet, "/api/earnings?year=abc", env.token, nil); bad.Code != http.StatusBadRequest {
		t.Errorf("bad year = %d", bad.Code)
	}
}

func TestEarningsUI(t *testing.T) {
	env := newTestEnv(t, 60)
	rr := env.do(t, http.MethodGet, "/ui/earnings?year=2025", env.token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "<!DOCTYPE html>") || !strings.Contains(body, "2025 earnings") || !strings.Contains(body, "Globex") {
		t.Errorf("page body missing content: %s", body)
	}
	if rr.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("cache control %q", rr.Header().Get("Cache-Control"))
	}

	req := httptest.NewRequest(http.MethodGet, "/ui/earnings?year=2024", nil)
	req.Header.Set("Authorization", "Bearer "+env.token)
	req.Header.Set("HX-Request", "true")
	partial := httptest.NewRecorder()
	env.srv.Handler.ServeHTTP(partial, req)
	if partial.Code != http.StatusOK || strings.Contains(partial.Body.String(), "<!DOCTYPE") {
		t.Errorf("partial status=%d body=%s", partial.Code, partial.Body.String())
	}
}

func TestCookieAuth(t *testing.T) {
	env := newTestEnv(t, 60)
	req := httptest.NewRequest(http.MethodGet, "/api/earnings?year=2025", nil)
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: env.token})
	rr := httptest.NewRecorder()
	env.srv.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("cookie auth status=%d", rr.Code)
	}

	// A cross-site form can carry the cookie but not an Authorization header.
	body, err := json.Marshal(validRequest())
	if err != nil {
		t.Fatal(err)
	}
	post := httptest.NewRequest(http.MethodPost, "/api/invoices", bytes.NewReader(body))
	post.Header.Set("Content-Type", "application/json")
	post.AddCookie(&http.Cookie{Name: auth.CookieName, Value: env.token})
	rr = httptest.NewRecorder()
	env.srv.Handler.ServeHTTP(rr, post)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("cookie POST status=%d, want 401", rr.Code)
	}

	form := httptest.NewRequest(http.MethodPost, "/api/invoices", bytes.NewReader(body))
	form.Header.Set("Content-Type", "text/plain")
	form.Header.Set("Authorization", "Bearer "+env.token)
	rr = httptest.NewRecorder()
	env.srv.Handler.ServeHTTP(rr, form)
	if rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("text/plain POST status=%d, want 415", rr.Code)
	}
	if env.renderer.calls != 0 {
		t.Error("renderer ran for a rejected POST")
	}
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	env := newTestEnv(t, 60)
	rr := env.do(t, http.MethodGet, "/healthz", "", nil)
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("missing security headers: %v", rr.Header())
	}
	if !strings.HasPrefix(rr.Header().Get("X-Request-ID"), "req_") {
		t.Errorf("request id %q", rr.Header().Get("X-Request-ID"))
	}
}

func TestStaticAssets(t *testing.T) {
	env := newTestEnv(t, 60)
	rr := env.do(t, http.MethodGet, "/static/style.css", "", nil)
	if rr.Code != http.StatusOK || rr.Body.Len() == 0 {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestRateLimitOnPost(t *testing.T) {
	env := newTestEnv(t, 1)
	if rr := env.do(t, http.MethodPost, "/api/invoices", env.token, validRequest()); rr.Code != http.StatusOK {
		t.Fatalf("first POST status=%d", rr.Code)
	}
	rr := env.do(t, http.MethodPost, "/api/invoices", env.token, validRequest())
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second POST status=%d", rr.Code)
	}
	if decodeError(t, rr).Code != codeRateLimited {
		t.Errorf("body = %s", rr.Body.String())
	}
	if get := env.do(t, http.MethodGet, "/api/earnings", env.token, nil); get.Code != http.StatusOK {
		t.Errorf("GET limited: %d", get.Code)
	}
}

func TestShutdownIdempotent(t *testing.T) {
	env := newTestEnv(t, 60)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := env.srv.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if err := env.srv.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
}
