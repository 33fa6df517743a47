package authority

import (
	"fmt"
	"time"

	"github.com/Rutvik2302/secure-auth/cmd/internal/auth/anomaly"
	"github.com/Rutvik2302/secure-auth/cmd/internal/auth/session"
	"github.com/Rutvik2302/secure-auth/cmd/internal/auth/tokens"
)

// Config is the explicit configuration of an Authority.
type Config struct {
	AccessTTL             time.Duration
	RefreshTTL            time.Duration
	MaxConcurrentSessions int
	SigningKeys           tokens.Keys
	OriginLookupTimeout   time.Duration

	TokenFormat tokens.Format
	Issuer      string
	ClockSkew   time.Duration
}

// DefaultConfig returns the standard TTLs and cap. SigningKeys must be set by the caller.
func DefaultConfig() Config {
	tc := tokens.DefaultConfig()
	return Config{
		AccessTTL:             tc.AccessTTL,
		RefreshTTL:            tc.RefreshTTL,
		MaxConcurrentSessions: session.DefaultMaxConcurrent,
		OriginLookupTimeout:   anomaly.DefaultLookupTimeout,
		TokenFormat:           tc.Format,
		Issuer:                tc.Issuer,
		ClockSkew:             tc.ClockSkew,
	}
}

func (c Config) validate() error {
	if c.MaxConcurrentSessions <= 0 {
		return fmt.Errorf("authority: max concurrent sessions must be positive")
	}
	if c.OriginLookupTimeout <= 0 {
		return fmt.Errorf("authority: origin lookup timeout must be positive")
	}
	return nil
}

func (c Config) tokenConfig() tokens.Config {
	return tokens.Config{
		Format:     c.TokenFormat,
		Issuer:     c.Issuer,
		AccessTTL:  c.AccessTTL,
		RefreshTTL: c.RefreshTTL,
		ClockSkew:  c.ClockSkew,
		Keys:       c.SigningKeys,
	}
}
