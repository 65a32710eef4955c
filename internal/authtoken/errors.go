package authtoken

import "errors"

// ErrUnauthenticated is returned for any cookie/token failure: missing
// cookie, bad signature, expired token, or malformed claims. Callers
// must not branch on anything more specific than this.
var ErrUnauthenticated = errors.New("authtoken: unauthenticated")

// Public, stable key-policy errors surfaced from config validation.
var (
	ErrHMACKeyMissing  = errors.New("authtoken: hmac key missing")
	ErrHMACKeyTooShort = errors.New("authtoken: hmac key too short")
)
