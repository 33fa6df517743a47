package app

import (
	"errors"
	"fmt"

	"github.com/Rutvik2302/secure-auth/cmd/internal/auth/tokens"
	"github.com/Rutvik2302/secure-auth/cmd/security/token"
)

const minAdminSecretBytes = 16

// ValidateSecurityConfig enforces the key policy at startup. It fails fast
// rather than running with weak or missing key material.
func ValidateSecurityConfig(cfg Config) error {
	// Building an issuer checks key presence, length, distinctness and parsing.
	if _, err := tokens.NewIssuer(tokenConfig(cfg)); err != nil {
		return fmt.Errorf("security policy: %w", err)
	}

	if cfg.RequireTokenHMAC {
		if err := token.ValidateHMACKey(cfg.TokenHMACKey, token.MinHMACKeyBytes); err != nil {
			switch {
			case errors.Is(err, token.ErrHMACKeyMissing):
				return errors.New("security policy: REQUIRE_TOKEN_HMAC=true but TOKEN_HMAC_KEY is missing")
			case errors.Is(err, token.ErrHMACKeyTooShort):
				return fmt.Errorf("security policy: TOKEN_HMAC_KEY is too short (min %d bytes)", token.MinHMACKeyBytes)
			default:
				return err
			}
		}
	}

	if cfg.AdminSecret != "" && len(cfg.AdminSecret) < minAdminSecretBytes {
		return fmt.Errorf("security policy: ADMIN_SECRET is too short (min %d bytes)", minAdminSecretBytes)
	}
	return nil
}

// refreshHasher honours TOKEN_HMAC_KEY whenever it is set, required or not.
func refreshHasher(cfg Config) token.Hasher {
	return token.NewHasher(cfg.TokenHMACKey)
}
