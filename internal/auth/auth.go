// Package auth resolves API tokens into request-scoped users.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"invoicer/internal/core"
	"invoicer/internal/ports"
)

// CookieName carries the token for browser requests to the dashboard.
const CookieName = "invoicer_token"

const (
	tokenBytes  = 32
	tokenPrefix = "inv_"
)

var ErrUnauthorized = errors.New("unauthorized")

type contextKey string

const contextKeyUser contextKey = "user"

// WithUser returns a context carrying u.
func WithUser(ctx context.Context, u core.User) context.Context {
	return context.WithValue(ctx, contextKeyUser, u)
}

// UserFrom returns the authenticated user of a request context.
func UserFrom(ctx context.Context) (core.User, bool) {
	u, ok := ctx.Value(contextKeyUser).(core.User)
	return u, ok && u.ID != ""
}

// GenerateToken returns a new random API token.
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return tokenPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken returns the hex SHA-256 digest stored in place of the token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

type Authenticator struct {
	tokens ports.TokenStore
	logger *slog.Logger
}

func NewAuthenticator(tokens ports.TokenStore, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{tokens: tokens, logger: logger}
}

// Issue creates and stores a token for userID. The plain token is only
// available from the return value.
func (a *Authenticator) Issue(ctx context.Context, userID, label string) (string, error) {
	token, err := GenerateToken()
	if err != nil {
		return "", err
	}
	if err := a.tokens.CreateToken(ctx, userID, HashToken(token), label); err != nil {
		return "", err
	}
	return token, nil
}

// Authenticate resolves the caller of r.
func (a *Authenticator) Authenticate(r *http.Request) (core.User, error) {
	token := tokenFromRequest(r)
	if token == "" {
		return core.User{}, ErrUnauthorized
	}
	u, err := a.tokens.UserByTokenHash(r.Context(), HashToken(token))
	if errors.Is(err, core.ErrNotFound) {
		return core.User{}, ErrUnauthorized
	}
	if err != nil {
		return core.User{}, fmt.Errorf("resolve token: %w", err)
	}
	return u, nil
}

// tokenFromRequest reads the bearer token, falling back to the cookie for
// GET and HEAD only. Browsers attach cookies to cross-site form posts.
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return ""
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

// Middleware rejects unauthenticated requests with 401 and stores the
// resolved user in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := a.Authenticate(r)
		if errors.Is(err, ErrUnauthorized) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="invoicer"`)
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		if err != nil {
			a.logger.ErrorContext(r.Context(), "Token lookup failed", "error", err, "path", r.URL.Path)
			writeJSONError(w, http.StatusInternalServerError, "server_error", "internal server error")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: message, Code: code})
}
