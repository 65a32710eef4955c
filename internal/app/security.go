package app

import (
	"errors"

	"nightline/internal/authtoken"
)

// ValidateSecurityConfig enforces the JWT signing key policy at startup.
//
// Fail-fast is intentional: silently accepting a short/missing secret
// and only discovering it when the first token verification mysteriously
// fails is worse than refusing to start.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireStrongJWTSecret {
		return nil
	}

	if _, err := authtoken.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, authtoken.ErrHMACKeyMissing):
			return errors.New("security policy: NIGHTLINE_REQUIRE_STRONG_JWT_SECRET=true but JWT_SECRET is missing")
		case errors.Is(err, authtoken.ErrHMACKeyTooShort):
			return errors.New("security policy: NIGHTLINE_REQUIRE_STRONG_JWT_SECRET=true but JWT_SECRET is too short (min 32 bytes)")
		default:
			return err
		}
	}

	return nil
}
