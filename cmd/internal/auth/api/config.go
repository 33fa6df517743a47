package authapi

import (
	"errors"
	"net/http"
	"time"
)

const (
	AccessCookieName  = "accessToken"
	RefreshCookieName = "refreshToken"
)

// Config controls the HTTP transport. Token lifetimes mirror the authority's
// so cookie max-age matches token expiry.
type Config struct {
	TrustProxy bool

	CookieSecure   bool
	CookieDomain   string
	CookiePath     string
	CookieSameSite http.SameSite

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	MaxBodyBytes int64

	// Login attempts per client IP: sustained rate and burst.
	LoginRatePerMinute float64
	LoginBurst         int
}

func DefaultConfig() Config {
	return Config{
		CookieSecure:       true,
		CookiePath:         "/",
		CookieSameSite:     http.SameSiteStrictMode,
		AccessTTL:          15 * time.Minute,
		RefreshTTL:         7 * 24 * time.Hour,
		MaxBodyBytes:       1 << 20,
		LoginRatePerMinute: 10,
		LoginBurst:         5,
	}
}

func (c Config) validate() error {
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("authapi: token ttls must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("authapi: max body bytes must be positive")
	}
	if c.LoginRatePerMinute < 0 || c.LoginBurst < 0 {
		return errors.New("authapi: login rate limit must not be negative")
	}
	return nil
}
