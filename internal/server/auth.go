package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"lessonvault/internal/api"
	"lessonvault/internal/license"
)

// Claims are the bearer token claims. Subject is the account id.
type Claims struct {
	Admin bool `json:"adm,omitempty"`
	jwt.RegisteredClaims
}

// TokenAuth issues and validates HS256 account tokens.
type TokenAuth struct {
	secret []byte
	issuer string
	clock  license.Clock
}

// NewTokenAuth creates a TokenAuth. issuer may be empty.
func NewTokenAuth(secret, issuer string, clock license.Clock) (*TokenAuth, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("jwt secret must be at least 16 bytes")
	}
	return &TokenAuth{secret: []byte(secret), issuer: issuer, clock: clock}, nil
}

// Issue signs a token for accountID valid for ttl.
func (a *TokenAuth) Issue(accountID string, admin bool, ttl time.Duration) (string, error) {
	if accountID == "" {
		return "", fmt.Errorf("account id required")
	}
	now := a.clock.Now()
	claims := Claims{
		Admin: admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Parse validates raw and returns its claims.
func (a *TokenAuth) Parse(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.clock.Now),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return &claims, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// claims in the request context.
func (a *TokenAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("Authorization")
		if len(raw) < len("bearer ") || !strings.EqualFold(raw[:len("bearer ")], "bearer ") {
			writeError(w, http.StatusUnauthorized, api.CodeUnauthorized, "missing bearer token")
			return
		}

		claims, err := a.Parse(strings.TrimSpace(raw[len("bearer "):]))
		if err != nil {
			writeError(w, http.StatusUnauthorized, api.CodeUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

// requireAdmin allows only tokens carrying the admin claim.
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFrom(r.Context())
		if !ok || !claims.Admin {
			writeError(w, http.StatusForbidden, api.CodeForbidden, "admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type claimsKey struct{}

func claimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

// accountFrom returns the authenticated account id.
func accountFrom(ctx context.Context) string {
	if c, ok := claimsFrom(ctx); ok {
		return c.Subject
	}
	return ""
}
