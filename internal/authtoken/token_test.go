package authtoken

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, key []byte, c claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestVerifyRoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef")
	v := NewVerifier(key, "")

	raw := signToken(t, key, claims{
		Hex:      "u1",
		Name:     "Alice",
		Verified: true,
		Status:   "active",
	})

	p, err := v.Verify(raw, time.Now())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.Hex != "u1" || p.Name != "Alice" || !p.Verified {
		t.Fatalf("unexpected principal: %+v", p)
	}
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	key := []byte("0123456789abcdef")
	other := []byte("fedcba9876543210")
	v := NewVerifier(key, "")

	raw := signToken(t, other, claims{Hex: "u1"})
	if _, err := v.Verify(raw, time.Now()); err != ErrUnauthenticated {
		t.Fatalf("want ErrUnauthenticated, got %v", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	key := []byte("0123456789abcdef")
	v := NewVerifier(key, "")

	raw := signToken(t, key, claims{
		Hex: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	if _, err := v.Verify(raw, time.Now()); err != ErrUnauthenticated {
		t.Fatalf("want ErrUnauthenticated for expired token, got %v", err)
	}
}

func TestVerifyRejectsEmptyHex(t *testing.T) {
	key := []byte("0123456789abcdef")
	v := NewVerifier(key, "")

	raw := signToken(t, key, claims{Hex: ""})
	if _, err := v.Verify(raw, time.Now()); err != ErrUnauthenticated {
		t.Fatalf("want ErrUnauthenticated for missing hex, got %v", err)
	}
}

func TestFromCookieHeaderExtractsNamedCookie(t *testing.T) {
	key := []byte("0123456789abcdef")
	v := NewVerifier(key, "x-access-token")

	raw := signToken(t, key, claims{Hex: "u1"})
	header := "other=1; x-access-token=" + raw + "; more=2"

	p, err := v.FromCookieHeader(header, time.Now())
	if err != nil {
		t.Fatalf("from cookie header: %v", err)
	}
	if p.Hex != "u1" {
		t.Fatalf("hex = %q, want u1", p.Hex)
	}
}

func TestFromCookieHeaderMissingCookie(t *testing.T) {
	v := NewVerifier([]byte("0123456789abcdef"), "x-access-token")
	if _, err := v.FromCookieHeader("unrelated=1", time.Now()); err != ErrUnauthenticated {
		t.Fatalf("want ErrUnauthenticated, got %v", err)
	}
}

func TestFromRequestUsesHTTPCookieJar(t *testing.T) {
	key := []byte("0123456789abcdef")
	v := NewVerifier(key, "x-access-token")
	raw := signToken(t, key, claims{Hex: "u1"})

	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "x-access-token", Value: raw})

	p, err := v.FromRequest(req)
	if err != nil {
		t.Fatalf("from request: %v", err)
	}
	if p.Hex != "u1" {
		t.Fatalf("hex = %q, want u1", p.Hex)
	}
}

func TestHMACKeyFromEnvTooShort(t *testing.T) {
	t.Setenv(EnvKey, "short")
	if _, err := HMACKeyFromEnv(minKeyBytes); err != ErrHMACKeyTooShort {
		t.Fatalf("want ErrHMACKeyTooShort, got %v", err)
	}
}

func TestHMACKeyFromEnvMissing(t *testing.T) {
	t.Setenv(EnvKey, "")
	if _, err := HMACKeyFromEnv(minKeyBytes); err != ErrHMACKeyMissing {
		t.Fatalf("want ErrHMACKeyMissing, got %v", err)
	}
}
