package origin

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/url"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"lessonvault/internal/testutil"
)

func newTestSigner(t *testing.T, clock *testutil.StubClock) *Signer {
	t.Helper()
	s, err := NewSigner(bytes.Repeat([]byte{7}, 32), "https://lessons.example.com/", clock)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	return s
}

func tokenOf(t *testing.T, rawURL string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("url.Parse(%q) error = %v", rawURL, err)
	}
	if !strings.HasPrefix(u.Path, "/v1/fetch/") {
		t.Fatalf("url path = %q, want /v1/fetch/ prefix", u.Path)
	}
	return path.Base(u.Path)
}

// signURL signs key and fails the test on error.
func signURL(t *testing.T, s *Signer, key string, ttl time.Duration) (string, time.Time) {
	t.Helper()
	rawURL, expires, err := s.Sign(key, ttl)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	return rawURL, expires
}

// withClaims swaps the token's payload for claims, keeping its signature.
func withClaims(t *testing.T, token string, claims jwt.RegisteredClaims) string {
	t.Helper()
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("token has %d parts, want 3", len(parts))
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	return parts[0] + "." + base64.RawURLEncoding.EncodeToString(payload) + "." + parts[2]
}

func TestSigner_SignVerify(t *testing.T) {
	clock := testutil.FixedClock()
	s := newTestSigner(t, clock)

	rawURL, expires := signURL(t, s, "lessons/a.mp3", 45*time.Minute)
	if want := clock.Now().Add(45 * time.Minute); !expires.Equal(want) {
		t.Errorf("expires = %v, want %v", expires, want)
	}

	key, err := s.Verify(tokenOf(t, rawURL))
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if key != "lessons/a.mp3" {
		t.Errorf("Verify() = %q, want %q", key, "lessons/a.mp3")
	}
}

func TestSigner_Verify_Rejects(t *testing.T) {
	clock := testutil.FixedClock()
	s := newTestSigner(t, clock)
	rawURL, expires := signURL(t, s, "lessons/a.mp3", 30*time.Minute)
	token := tokenOf(t, rawURL)

	other, err := NewSigner(bytes.Repeat([]byte{8}, 32), "https://lessons.example.com", clock)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	otherURL, _ := signURL(t, other, "lessons/a.mp3", 30*time.Minute)

	exp := jwt.NewNumericDate(expires)
	aud := jwt.ClaimStrings{fetchAudience}
	sign := func(method jwt.SigningMethod, key any, claims jwt.RegisteredClaims) string {
		raw, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatalf("SignedString() error = %v", err)
		}
		return raw
	}

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-token"},
		{name: "tampered key", token: withClaims(t, token, jwt.RegisteredClaims{Subject: "lessons/b.mp3", Audience: aud, ExpiresAt: exp})},
		{name: "extended expiry", token: withClaims(t, token, jwt.RegisteredClaims{Subject: "lessons/a.mp3", Audience: aud, ExpiresAt: jwt.NewNumericDate(expires.Add(24 * time.Hour))})},
		{name: "foreign secret", token: tokenOf(t, otherURL)},
		{name: "unsigned", token: sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.RegisteredClaims{Subject: "lessons/a.mp3", Audience: aud, ExpiresAt: exp})},
		{name: "other audience", token: sign(jwt.SigningMethodHS256, s.macKey, jwt.RegisteredClaims{Subject: "lessons/a.mp3", Audience: jwt.ClaimStrings{"accounts"}, ExpiresAt: exp})},
		{name: "no expiry", token: sign(jwt.SigningMethodHS256, s.macKey, jwt.RegisteredClaims{Subject: "lessons/a.mp3", Audience: aud})},
		{name: "no subject", token: sign(jwt.SigningMethodHS256, s.macKey, jwt.RegisteredClaims{Audience: aud, ExpiresAt: exp})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Verify(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestSigner_Verify_Expired(t *testing.T) {
	clock := testutil.FixedClock()
	s := newTestSigner(t, clock)
	rawURL, _ := signURL(t, s, "lessons/a.mp3", 30*time.Minute)

	clock.Advance(31 * time.Minute)

	if _, err := s.Verify(tokenOf(t, rawURL)); !errors.Is(err, ErrURLExpired) {
		t.Errorf("Verify() error = %v, want ErrURLExpired", err)
	}
}

func TestNewSigner_RequiresSecretAndURL(t *testing.T) {
	clock := testutil.FixedClock()
	if _, err := NewSigner(nil, "http://x", clock); err == nil {
		t.Error("NewSigner() expected error for empty secret")
	}
	if _, err := NewSigner([]byte("k"), "", clock); err == nil {
		t.Error("NewSigner() expected error for empty base url")
	}
}
