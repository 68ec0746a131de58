package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"invoicer/internal/core"
)

type fakeTokens struct {
	byHash map[string]core.User
	err    error
}

func (f *fakeTokens) CreateToken(ctx context.Context, userID, tokenHash, label string) error {
	if f.byHash == nil {
		f.byHash = map[string]core.User{}
	}
	f.byHash[tokenHash] = core.User{ID: userID}
	return nil
}

func (f *fakeTokens) UserByTokenHash(ctx context.Context, tokenHash string) (core.User, error) {
	if f.err != nil {
		return core.User{}, f.err
	}
	u, ok := f.byHash[tokenHash]
	if !ok {
		return core.User{}, core.ErrNotFound
	}
	return u, nil
}

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := GenerateToken()
	if a == b {
		t.Fatal("tokens should be unique")
	}
	if !strings.HasPrefix(a, "inv_") || len(a) < 40 {
		t.Fatalf("unexpected token %q", a)
	}
	if HashToken(a) == a || len(HashToken(a)) != 64 {
		t.Fatalf("unexpected hash %q", HashToken(a))
	}
}

func TestMiddleware(t *testing.T) {
	store := &fakeTokens{}
	a := NewAuthenticator(store, nil)
	token, err := a.Issue(context.Background(), "u1", "test")
	if err != nil {
		t.Fatal(err)
	}
	if _, stored := store.byHash[token]; stored {
		t.Fatal("plain token must not be stored")
	}

	var seen string
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFrom(r.Context())
		if !ok {
			t.Error("user missing from context")
		}
		seen = u.ID
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
	}{
		{"no credentials", func(r *http.Request) {}, http.StatusUnauthorized},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusNoContent},
		{"lowercase scheme", func(r *http.Request) { r.Header.Set("Authorization", "bearer "+token) }, http.StatusNoContent},
		{"wrong scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic "+token) }, http.StatusUnauthorized},
		{"unknown token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer inv_nope") }, http.StatusUnauthorized},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: CookieName, Value: token}) }, http.StatusNoContent},
		{"cookie on post", func(r *http.Request) {
			r.Method = http.MethodPost
			r.AddCookie(&http.Cookie{Name: CookieName, Value: token})
		}, http.StatusUnauthorized},
		{"bearer on post", func(r *http.Request) {
			r.Method = http.MethodPost
			r.Header.Set("Authorization", "Bearer "+token)
		}, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/api/earnings", nil)
			tt.setup(req)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d", rr.Code, tt.status)
			}
			if tt.status == http.StatusUnauthorized {
				if seen != "" {
					t.Fatal("handler ran for unauthenticated request")
				}
				if !strings.Contains(rr.Body.String(), `"code":"unauthorized"`) {
					t.Fatalf("body = %s", rr.Body.String())
				}
			} else if seen != "u1" {
				t.Fatalf("user = %q", seen)
			}
		})
	}
}

func TestMiddlewareStoreFailure(t *testing.T) {
	a := NewAuthenticator(&fakeTokens{err: errors.New("db down")}, nil)
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer inv_x")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestUserFromEmptyContext(t *testing.T) {
	if _, ok := UserFrom(context.Background()); ok {
		t.Fatal("expected no user")
	}
}
