package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Rutvik2302/secure-auth/cmd/internal/auth/tokens"
	"github.com/Rutvik2302/secure-auth/cmd/security/password"
)

// EnvPrefix namespaces every environment variable, e.g. SECUREAUTH_HTTP_ADDR.
const EnvPrefix = "SECUREAUTH"

// Config contains all runtime configuration.
type Config struct {
	HTTPAddr  string `mapstructure:"HTTP_ADDR"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	ReadHeaderTimeout time.Duration `mapstructure:"HTTP_READ_HEADER_TIMEOUT"`
	ReadTimeout       time.Duration `mapstructure:"HTTP_READ_TIMEOUT"`
	WriteTimeout      time.Duration `mapstructure:"HTTP_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `mapstructure:"HTTP_IDLE_TIMEOUT"`
	MaxHeaderBytes    int           `mapstructure:"HTTP_MAX_HEADER_BYTES"`
	ShutdownTimeout   time.Duration `mapstructure:"HTTP_SHUTDOWN_TIMEOUT"`

	// Empty selects the in-memory stores.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	DBSchema    string `mapstructure:"DB_SCHEMA"`
	AutoMigrate bool   `mapstructure:"AUTO_MIGRATE"`

	// If true, /readyz returns 503 unless a database is configured and reachable.
	ReadinessRequireDB bool `mapstructure:"READINESS_REQUIRE_DB"`

	AccessTTL             time.Duration `mapstructure:"ACCESS_TTL"`
	RefreshTTL            time.Duration `mapstructure:"REFRESH_TTL"`
	MaxConcurrentSessions int           `mapstructure:"MAX_CONCURRENT_SESSIONS"`
	TokenFormat           string        `mapstructure:"TOKEN_FORMAT"`
	TokenIssuer           string        `mapstructure:"TOKEN_ISSUER"`
	ClockSkew             time.Duration `mapstructure:"CLOCK_SKEW"`

	AccessTokenSecret   string `mapstructure:"ACCESS_TOKEN_SECRET"`
	RefreshTokenSecret  string `mapstructure:"REFRESH_TOKEN_SECRET"`
	PasetoAccessKeyHex  string `mapstructure:"PASETO_ACCESS_KEY_HEX"`
	PasetoRefreshKeyHex string `mapstructure:"PASETO_REFRESH_KEY_HEX"`

	// When RequireTokenHMAC is set, refresh tokens are stored as
	// HMAC-SHA256(token, TokenHMACKey) and startup fails without a key.
	TokenHMACKey     string `mapstructure:"TOKEN_HMAC_KEY"`
	RequireTokenHMAC bool   `mapstructure:"REQUIRE_TOKEN_HMAC"`

	OriginLookupTimeout time.Duration `mapstructure:"ORIGIN_LOOKUP_TIMEOUT"`
	GeoEndpoint         string        `mapstructure:"GEO_ENDPOINT"`
	GeoLoopbackIP       string        `mapstructure:"GEO_LOOPBACK_IP"`
	GeoCacheTTL         time.Duration `mapstructure:"GEO_CACHE_TTL"`
	GeoCacheSize        int           `mapstructure:"GEO_CACHE_SIZE"`

	PasswordAlgorithm string `mapstructure:"PASSWORD_ALGORITHM"`
	BcryptCost        int    `mapstructure:"BCRYPT_COST"`
	PasswordMinLen    int    `mapstructure:"PASSWORD_MIN_LEN"`

	AdminSecret string `mapstructure:"ADMIN_SECRET"`

	TrustProxy         bool    `mapstructure:"TRUST_PROXY"`
	CookieSecure       bool    `mapstructure:"COOKIE_SECURE"`
	CookieDomain       string  `mapstructure:"COOKIE_DOMAIN"`
	LoginRatePerMinute float64 `mapstructure:"LOGIN_RATE_PER_MINUTE"`
	LoginRateBurst     int     `mapstructure:"LOGIN_RATE_BURST"`

	CORSAllowedOrigins   []string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	CORSAllowCredentials bool     `mapstructure:"CORS_ALLOW_CREDENTIALS"`
	CORSMaxAgeSeconds    int      `mapstructure:"CORS_MAX_AGE_SECONDS"`

	WSAllowedOrigins []string `mapstructure:"WS_ALLOWED_ORIGINS"`

	ReaperInterval time.Duration `mapstructure:"REAPER_INTERVAL"`

	OTelEndpoint string `mapstructure:"OTEL_ENDPOINT"`
	OTelInsecure bool   `mapstructure:"OTEL_INSECURE"`
}

var defaults = map[string]any{
	"HTTP_ADDR":                "0.0.0.0:8080",
	"LOG_LEVEL":                "info",
	"LOG_FORMAT":               "json",
	"HTTP_READ_HEADER_TIMEOUT": "5s",
	"HTTP_READ_TIMEOUT":        "15s",
	"HTTP_WRITE_TIMEOUT":       "15s",
	"HTTP_IDLE_TIMEOUT":        "60s",
	"HTTP_MAX_HEADER_BYTES":    1 << 20,
	"HTTP_SHUTDOWN_TIMEOUT":    "10s",
	"DATABASE_URL":             "",
	"DB_MAX_CONNS":             10,
	"DB_MIN_CONNS":             0,
	"DB_SCHEMA":                "secureauth",
	"AUTO_MIGRATE":             false,
	"READINESS_REQUIRE_DB":     false,
	"ACCESS_TTL":               "15m",
	"REFRESH_TTL":              "168h",
	"MAX_CONCURRENT_SESSIONS":  3,
	"TOKEN_FORMAT":             "jwt",
	"TOKEN_ISSUER":             "secure-auth",
	"CLOCK_SKEW":               "30s",
	"ACCESS_TOKEN_SECRET":      "",
	"REFRESH_TOKEN_SECRET":     "",
	"PASETO_ACCESS_KEY_HEX":    "",
	"PASETO_REFRESH_KEY_HEX":   "",
	"TOKEN_HMAC_KEY":           "",
	"REQUIRE_TOKEN_HMAC":       false,
	"ORIGIN_LOOKUP_TIMEOUT":    "3s",
	"GEO_ENDPOINT":             "",
	"GEO_LOOPBACK_IP":          "",
	"GEO_CACHE_TTL":            "1h",
	"GEO_CACHE_SIZE":           1024,
	"PASSWORD_ALGORITHM":       "bcrypt",
	"BCRYPT_COST":              10,
	"PASSWORD_MIN_LEN":         8,
	"ADMIN_SECRET":             "",
	"TRUST_PROXY":              false,
	"COOKIE_SECURE":            true,
	"COOKIE_DOMAIN":            "",
	"LOGIN_RATE_PER_MINUTE":    10,
	"LOGIN_RATE_BURST":         5,
	"CORS_ALLOWED_ORIGINS":     []string{},
	"CORS_ALLOW_CREDENTIALS":   true,
	"CORS_MAX_AGE_SECONDS":     600,
	"WS_ALLOWED_ORIGINS":       []string{"http://localhost", "http://127.0.0.1"},
	"REAPER_INTERVAL":          "1m",
	"OTEL_ENDPOINT":            "",
	"OTEL_INSECURE":            false,
}

// LoadConfig reads envFile (if non-empty and present), then the environment.
// Keys in the file are unprefixed (HTTP_ADDR=...); environment variables carry
// the SECUREAUTH_ prefix and win over the file.
func LoadConfig(envFile string) (Config, error) {
	v := viper.New()

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		_ = v.ReadInConfig() // a missing file is fine
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.CORSAllowedOrigins = splitList(cfg.CORSAllowedOrigins)
	cfg.WSAllowedOrigins = splitList(cfg.WSAllowedOrigins)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("config: LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("config: ACCESS_TTL and REFRESH_TTL must be positive")
	}
	if c.AccessTTL >= c.RefreshTTL {
		return errors.New("config: ACCESS_TTL must be shorter than REFRESH_TTL")
	}
	if c.MaxConcurrentSessions <= 0 {
		return errors.New("config: MAX_CONCURRENT_SESSIONS must be positive")
	}
	if _, err := tokens.ParseFormat(c.TokenFormat); err != nil {
		return fmt.Errorf("config: TOKEN_FORMAT: %w", err)
	}
	if c.OriginLookupTimeout <= 0 {
		return errors.New("config: ORIGIN_LOOKUP_TIMEOUT must be positive")
	}
	if _, err := password.ParseAlgorithm(c.PasswordAlgorithm); err != nil {
		return fmt.Errorf("config: PASSWORD_ALGORITHM: %w", err)
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.DBMinConns < 0 || (c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns) {
		return errors.New("config: DB_MIN_CONNS must be between 0 and DB_MAX_CONNS")
	}
	if !pgIdentRe.MatchString(c.DBSchema) {
		return fmt.Errorf("config: DB_SCHEMA %q is not a valid identifier", c.DBSchema)
	}
	if c.AutoMigrate && c.DBSchema != migrationSchema {
		return fmt.Errorf("config: AUTO_MIGRATE manages schema %q only", migrationSchema)
	}
	if c.LoginRatePerMinute < 0 || c.LoginRateBurst < 0 {
		return errors.New("config: login rate limit must not be negative")
	}
	if c.ReaperInterval < 0 {
		return errors.New("config: REAPER_INTERVAL must not be negative")
	}
	return nil
}

// splitList flattens comma-separated entries and drops blanks.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
