package authtoken

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// EnvKey is the env var name carrying the JWT HMAC signing secret.
	EnvKey = "JWT_SECRET"

	// DefaultCookieName is the cookie the handshake reads the token from.
	DefaultCookieName = "x-access-token"

	minKeyBytes = 16
)

// Principal is the authenticated identity embedded in a verified token.
type Principal struct {
	Hex       string `json:"hex"`
	Name      string `json:"name"`
	Avatar    string `json:"avatar"`
	Verified  bool   `json:"verified"`
	Status    string `json:"status"`
	PublicKey string `json:"publicKey"`
}

type claims struct {
	Hex       string `json:"hex"`
	Name      string `json:"name"`
	Avatar    string `json:"avatar"`
	Verified  bool   `json:"verified"`
	Status    string `json:"status"`
	PublicKey string `json:"publicKey"`
	jwt.RegisteredClaims
}

// Verifier parses and verifies the signed bearer token carried in a
// cookie header, returning the embedded claims or ErrUnauthenticated.
type Verifier struct {
	key        []byte
	cookieName string
}

// NewVerifier constructs a Verifier bound to an HMAC signing key. The
// key must be non-empty; verifiers built on an empty key always fail.
func NewVerifier(key []byte, cookieName string) *Verifier {
	if strings.TrimSpace(cookieName) == "" {
		cookieName = DefaultCookieName
	}
	return &Verifier{key: key, cookieName: cookieName}
}

// NewVerifierFromEnv builds a Verifier from JWT_SECRET, failing fast if
// the secret is missing or shorter than the minimum key length.
func NewVerifierFromEnv() (*Verifier, error) {
	key, err := HMACKeyFromEnv(minKeyBytes)
	if err != nil {
		return nil, err
	}
	return NewVerifier(key, DefaultCookieName), nil
}

// HMACKeyFromEnv returns the configured HMAC signing key bytes (trimmed),
// enforcing a minimum byte length. If the env var is missing/blank ->
// ErrHMACKeyMissing. If too short -> ErrHMACKeyTooShort.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(EnvKey))
	if raw == "" {
		return nil, ErrHMACKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	return b, nil
}

// FromCookieHeader extracts the named cookie from a raw "Cookie" header
// value and verifies it. This is the entry point used by the WebSocket
// upgrade handshake, which reads the header directly rather than via
// http.Request.Cookie.
func (v *Verifier) FromCookieHeader(header string, now time.Time) (Principal, error) {
	raw, ok := extractCookie(header, v.cookieName)
	if !ok || raw == "" {
		return Principal{}, ErrUnauthenticated
	}
	return v.Verify(raw, now)
}

// FromRequest extracts and verifies the token cookie from an *http.Request.
func (v *Verifier) FromRequest(r *http.Request) (Principal, error) {
	if r == nil {
		return Principal{}, ErrUnauthenticated
	}
	c, err := r.Cookie(v.cookieName)
	if err != nil || strings.TrimSpace(c.Value) == "" {
		return Principal{}, ErrUnauthenticated
	}
	return v.Verify(c.Value, time.Now().UTC())
}

// Verify parses and validates a raw JWT string, returning the embedded
// Principal on success. Any failure collapses to ErrUnauthenticated.
func (v *Verifier) Verify(raw string, now time.Time) (Principal, error) {
	if v == nil || len(v.key) == 0 || strings.TrimSpace(raw) == "" {
		return Principal{}, ErrUnauthenticated
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}), jwt.WithTimeFunc(func() time.Time { return now }))

	var c claims
	_, err := parser.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		return Principal{}, ErrUnauthenticated
	}

	if strings.TrimSpace(c.Hex) == "" {
		return Principal{}, ErrUnauthenticated
	}

	return Principal{
		Hex:       c.Hex,
		Name:      c.Name,
		Avatar:    c.Avatar,
		Verified:  c.Verified,
		Status:    c.Status,
		PublicKey: c.PublicKey,
	}, nil
}

// extractCookie parses a raw "Cookie" header looking for name, mirroring
// the subset of RFC 6265 parsing net/http performs internally — needed
// because the WebSocket upgrade handshake reads the header before the
// connection is handed to net/http's cookie jar helpers.
func extractCookie(header, name string) (string, bool) {
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		k, val, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		if strings.TrimSpace(k) != name {
			continue
		}
		if unquoted, err := strconv.Unquote(val); err == nil {
			return unquoted, true
		}
		return val, true
	}
	return "", false
}
