package origin

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"

	"lessonvault/internal/license"
)

const (
	signerInfo = "lessonvault/fetch-url/v1"
	// fetchAudience keeps fetch tokens apart from any other HS256 token.
	fetchAudience = "lessonvault-fetch"
)

// Signer issues and verifies fetch tokens: HS256 JWTs whose subject is the
// object key, signed with a key derived from the server secret.
type Signer struct {
	macKey  []byte
	baseURL string
	clock   license.Clock
	parser  *jwt.Parser
}

// NewSigner derives a signing key from the server secret. baseURL is the
// public address of the server's fetch route.
func NewSigner(secret []byte, baseURL string, clock license.Clock) (*Signer, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("signer requires a secret")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("signer requires a base url")
	}
	macKey := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(signerInfo)), macKey); err != nil {
		return nil, fmt.Errorf("deriving url signing key: %w", err)
	}
	return &Signer{
		macKey:  macKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		clock:   clock,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithTimeFunc(clock.Now),
			jwt.WithExpirationRequired(),
			jwt.WithAudience(fetchAudience),
		),
	}, nil
}

// Sign returns a fetch URL for key valid for ttl.
func (s *Signer) Sign(key string, ttl time.Duration) (string, time.Time, error) {
	now := s.clock.Now()
	expires := now.Add(ttl).Truncate(time.Second)
	claims := jwt.RegisteredClaims{
		Subject:   key,
		Audience:  jwt.ClaimStrings{fetchAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.macKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing fetch token: %w", err)
	}
	return s.baseURL + "/v1/fetch/" + token, expires.UTC(), nil
}

// Verify checks a token and returns the object key it grants.
func (s *Signer) Verify(token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := s.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.macKey, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", ErrURLExpired
	case err != nil:
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
