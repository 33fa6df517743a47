// Package app wires the secure-auth server runtime: config, logging, storage,
// the session authority, HTTP routes and the admin event feed.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Rutvik2302/secure-auth/cmd/identity"
	"github.com/Rutvik2302/secure-auth/cmd/internal/auth/anomaly"
	authapi "github.com/Rutvik2302/secure-auth/cmd/internal/auth/api"
	"github.com/Rutvik2302/secure-auth/cmd/internal/auth/authority"
	"github.com/Rutvik2302/secure-auth/cmd/internal/auth/session"
	"github.com/Rutvik2302/secure-auth/cmd/internal/auth/tokens"
	"github.com/Rutvik2302/secure-auth/cmd/internal/realtime"
	"github.com/Rutvik2302/secure-auth/cmd/security/password"
)

// App is the secure-auth server runtime. It owns the database pool, the
// session reaper and the HTTP server.
type App struct {
	cfg Config
	log Logger

	dbPool    *pgxpool.Pool
	dbEnabled bool

	registry session.Registry
	reaper   *session.Reaper
	tracing  *tracing

	handler http.Handler
}

// New constructs a fully wired App. With no DATABASE_URL every store is in
// memory and state is lost on restart.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			a.close(context.Background())
		}
	}()

	tr, err := newTracing(ctx, cfg.OTelEndpoint, cfg.OTelInsecure)
	if err != nil {
		return nil, err
	}
	a.tracing = tr

	pwCfg, err := passwordConfig(cfg)
	if err != nil {
		return nil, err
	}

	var (
		accountStore identity.Store
		auditor      authapi.Auditor = authapi.LogAuditor{Log: log}
	)
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		accountStore = identity.NewMemoryStore()
		a.registry = session.NewMemoryRegistry()
	} else {
		if cfg.AutoMigrate {
			if err := Migrate(cfg.DatabaseURL); err != nil {
				return nil, err
			}
			log.Info("db.migrated", "schema", migrationSchema)
		}
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.dbPool, a.dbEnabled = pool, true
		log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)

		if accountStore, err = identity.NewPostgresStore(pool, identity.WithSchema(cfg.DBSchema)); err != nil {
			return nil, err
		}
		if a.registry, err = session.NewPostgresRegistry(pool, cfg.DBSchema); err != nil {
			return nil, err
		}
		if auditor, err = authapi.NewPostgresAuditor(pool, cfg.DBSchema, log); err != nil {
			return nil, err
		}
	}

	accounts, err := identity.NewService(accountStore, pwCfg)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	geo := anomaly.NewCachingResolver(anomaly.NewIPAPIResolver(geoOptions(cfg)...), cfg.GeoCacheTTL, cfg.GeoCacheSize)
	hub := realtime.NewHub(log)
	registerRuntimeMetrics(reg, geo, hub)

	authMetrics := authority.NewMetrics(reg)
	auth, err := authority.New(authorityConfig(cfg), accounts, a.registry, geo,
		authority.WithLogger(log),
		authority.WithEvents(hub),
		authority.WithMetrics(authMetrics),
		authority.WithHasher(refreshHasher(cfg)),
		authority.WithAdminSecret(cfg.AdminSecret),
		authority.WithTracerProvider(tr.Provider),
	)
	if err != nil {
		return nil, err
	}

	authHandler, err := authapi.NewHandler(log, apiConfig(cfg), auth, authapi.WithAuditor(auditor))
	if err != nil {
		return nil, err
	}
	gateway, err := realtime.NewGateway(log, hub, auth, gatewayConfig(cfg))
	if err != nil {
		return nil, err
	}

	if cfg.ReaperInterval > 0 {
		a.reaper = &session.Reaper{
			Registry: a.registry,
			Interval: cfg.ReaperInterval,
			Logger:   log,
			OnPurge:  authMetrics.SessionsPurged,
		}
	}

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, reg, authHandler, gateway)

	httpm := newHTTPMetrics(reg)
	a.handler = WithRequestLogging(
		WithSecurityHeaders(
			WithCORS(httpm.Instrument(mux), cfg, log),
		),
		log,
	)

	ok = true
	return a, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	runCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()
	if a.reaper != nil {
		go a.reaper.Run(runCtx)
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case runErr = <-errCh:
		a.log.Error("server.fail", "err", runErr)
	}
	stopBackground()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if runErr == nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			runErr = err
		}
	}
	a.close(shutdownCtx)

	a.log.Info("server.stopped")
	return runErr
}

func (a *App) close(ctx context.Context) {
	if a.tracing != nil {
		if err := a.tracing.Shutdown(ctx); err != nil {
			a.log.Error("telemetry.shutdown.fail", "err", err)
		}
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func tokenConfig(cfg Config) tokens.Config {
	f, _ := tokens.ParseFormat(cfg.TokenFormat)
	return tokens.Config{
		Format:     f,
		Issuer:     cfg.TokenIssuer,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
		ClockSkew:  cfg.ClockSkew,
		Keys: tokens.Keys{
			AccessSecret:        cfg.AccessTokenSecret,
			RefreshSecret:       cfg.RefreshTokenSecret,
			PasetoAccessKeyHex:  cfg.PasetoAccessKeyHex,
			PasetoRefreshKeyHex: cfg.PasetoRefreshKeyHex,
		},
	}
}

func authorityConfig(cfg Config) authority.Config {
	tc := tokenConfig(cfg)
	return authority.Config{
		AccessTTL:             tc.AccessTTL,
		RefreshTTL:            tc.RefreshTTL,
		MaxConcurrentSessions: cfg.MaxConcurrentSessions,
		SigningKeys:           tc.Keys,
		OriginLookupTimeout:   cfg.OriginLookupTimeout,
		TokenFormat:           tc.Format,
		Issuer:                tc.Issuer,
		ClockSkew:             tc.ClockSkew,
	}
}

func passwordConfig(cfg Config) (password.Config, error) {
	pc := password.DefaultConfig()
	alg, err := password.ParseAlgorithm(cfg.PasswordAlgorithm)
	if err != nil {
		return password.Config{}, err
	}
	pc.Algorithm = alg
	pc.BcryptCost = cfg.BcryptCost
	if cfg.PasswordMinLen > 0 {
		pc.Policy.MinLength = cfg.PasswordMinLen
	}
	return pc, nil
}

func apiConfig(cfg Config) authapi.Config {
	ac := authapi.DefaultConfig()
	ac.TrustProxy = cfg.TrustProxy
	ac.CookieSecure = cfg.CookieSecure
	ac.CookieDomain = cfg.CookieDomain
	ac.AccessTTL = cfg.AccessTTL
	ac.RefreshTTL = cfg.RefreshTTL
	ac.LoginRatePerMinute = cfg.LoginRatePerMinute
	ac.LoginBurst = cfg.LoginRateBurst
	return ac
}

func gatewayConfig(cfg Config) realtime.GatewayConfig {
	gc := realtime.DefaultGatewayConfig()
	if len(cfg.WSAllowedOrigins) > 0 {
		gc.AllowedOrigins = cfg.WSAllowedOrigins
	}
	return gc
}

func geoOptions(cfg Config) []anomaly.IPAPIOption {
	var opts []anomaly.IPAPIOption
	if cfg.GeoEndpoint != "" {
		opts = append(opts, anomaly.WithEndpoint(cfg.GeoEndpoint))
	}
	if cfg.GeoLoopbackIP != "" {
		opts = append(opts, anomaly.WithLoopbackSubstitute(cfg.GeoLoopbackIP))
	}
	return opts
}
