// Package tokens mints and verifies the two bearer token classes used by the
// session authority: short-lived access tokens carrying identity and role, and
// long-lived refresh tokens carrying identity only.
//
// Verification is stateless. Registry checks for refresh tokens happen in the
// authority, not here.
package tokens

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrExpired is returned for a correctly signed token past its expiry.
	ErrExpired = errors.New("token expired")

	// ErrInvalid is returned for any other verification failure.
	ErrInvalid = errors.New("invalid token")

	// ErrConfig is returned for invalid issuer configuration.
	ErrConfig = errors.New("invalid token config")
)

// Kind selects the token class and therefore the verification key.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Format selects the wire format.
type Format string

const (
	FormatJWT    Format = "jwt"
	FormatPASETO Format = "paseto"
)

// MinSecretBytes is the minimum HS256 secret length.
const MinSecretBytes = 32

// Token is a signed token and its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Claims are the verified contents of a token. Role is empty for refresh tokens.
type Claims struct {
	AccountID string
	Role      string
	Kind      Kind
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Issuer mints and verifies tokens.
type Issuer interface {
	IssueAccess(accountID, role string, now time.Time) (Token, error)
	IssueRefresh(accountID string, now time.Time) (Token, error)
	Verify(kind Kind, token string, now time.Time) (Claims, error)
}

// Keys holds per-class signing material. Only the fields for the configured
// format are used.
type Keys struct {
	AccessSecret  string
	RefreshSecret string

	PasetoAccessKeyHex  string
	PasetoRefreshKeyHex string
}

// Config configures an Issuer.
type Config struct {
	Format     Format
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	ClockSkew  time.Duration
	Keys       Keys
}

// DefaultConfig returns the TTL defaults. Keys must be supplied by the caller.
func DefaultConfig() Config {
	return Config{
		Format:     FormatJWT,
		Issuer:     "secure-auth",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		ClockSkew:  30 * time.Second,
	}
}

// ParseFormat maps a config string to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatJWT:
		return FormatJWT, nil
	case FormatPASETO:
		return FormatPASETO, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q", ErrConfig, s)
	}
}

// NewIssuer builds the Issuer selected by cfg.Format.
func NewIssuer(cfg Config) (Issuer, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, fmt.Errorf("%w: ttl must be positive", ErrConfig)
	}
	if cfg.ClockSkew < 0 {
		return nil, fmt.Errorf("%w: negative clock skew", ErrConfig)
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, fmt.Errorf("%w: empty issuer", ErrConfig)
	}

	f, err := ParseFormat(string(cfg.Format))
	if err != nil {
		return nil, err
	}
	switch f {
	case FormatPASETO:
		return newPasetoIssuer(cfg)
	default:
		return newJWTIssuer(cfg)
	}
}

func (c Config) ttl(kind Kind) time.Duration {
	if kind == KindRefresh {
		return c.RefreshTTL
	}
	return c.AccessTTL
}
