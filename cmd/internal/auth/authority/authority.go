// Package authority is the session authority: it composes the identity store,
// token issuer, session registry and anomaly classifier into the login,
// refresh and logout protocols.
//
// Refresh tokens are single use. Presenting a correctly signed refresh token
// that no live session recognizes is treated as reuse of a stolen token, and
// every session of the account is revoked.
package authority

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Rutvik2302/secure-auth/cmd/identity"
	"github.com/Rutvik2302/secure-auth/cmd/internal/auth/anomaly"
	"github.com/Rutvik2302/secure-auth/cmd/internal/auth/session"
	"github.com/Rutvik2302/secure-auth/cmd/internal/auth/tokens"
	"github.com/Rutvik2302/secure-auth/cmd/security/token"
)

const tracerName = "github.com/Rutvik2302/secure-auth/authority"

// Accounts is the identity store as consumed by the authority.
// *identity.Service implements it.
type Accounts interface {
	FindAccountByEmailOrUsername(ctx context.Context, login string) (identity.Account, error)
	VerifyPassword(ctx context.Context, a identity.Account, plaintext string) (bool, error)
	CreateAccount(ctx context.Context, in identity.NewAccount) (identity.Account, error)
	GetAccount(ctx context.Context, id string) (identity.Account, error)
	UpdateLastOrigin(ctx context.Context, id string, o identity.Origin, now time.Time) error
	ListAccounts(ctx context.Context) ([]identity.Account, error)
}

// Authority orchestrates the session protocols. Safe for concurrent use.
type Authority struct {
	cfg        Config
	accounts   Accounts
	registry   session.Registry
	issuer     tokens.Issuer
	classifier *anomaly.Classifier
	hasher     token.Hasher

	log         *slog.Logger
	now         func() time.Time
	events      EventSink
	metrics     *Metrics
	tracer      trace.Tracer
	adminSecret string
}

// Option configures an Authority.
type Option func(*Authority)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(a *Authority) {
		if l != nil {
			a.log = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Authority) {
		if now != nil {
			a.now = now
		}
	}
}

// WithEvents sets the sink for session events.
func WithEvents(s EventSink) Option {
	return func(a *Authority) {
		if s != nil {
			a.events = s
		}
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(a *Authority) { a.metrics = m }
}

// WithHasher sets the refresh-token hasher (default SHA-256).
func WithHasher(h token.Hasher) Option {
	return func(a *Authority) { a.hasher = h }
}

// WithAdminSecret enables CreateAdmin for callers presenting secret.
func WithAdminSecret(secret string) Option {
	return func(a *Authority) { a.adminSecret = secret }
}

// WithTracerProvider sets the OpenTelemetry tracer provider (default global).
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(a *Authority) {
		if tp != nil {
			a.tracer = tp.Tracer(tracerName)
		}
	}
}

// New builds an Authority. resolver may be nil, in which case every origin
// resolves to anomaly.UnknownCountry.
func New(cfg Config, accounts Accounts, registry session.Registry, resolver anomaly.Resolver, opts ...Option) (*Authority, error) {
	if accounts == nil || registry == nil {
		return nil, errors.New("authority: nil accounts or registry")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	issuer, err := tokens.NewIssuer(cfg.tokenConfig())
	if err != nil {
		return nil, err
	}

	a := &Authority{
		cfg:      cfg,
		accounts: accounts,
		registry: registry,
		issuer:   issuer,
		hasher:   token.NewHasher(""),
		log:      slog.Default(),
		now:      time.Now,
		events:   discardSink{},
		tracer:   otel.GetTracerProvider().Tracer(tracerName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	a.classifier = anomaly.NewClassifier(resolver, cfg.OriginLookupTimeout, a.log)
	return a, nil
}

func (a *Authority) clock() time.Time { return a.now().UTC() }

func (a *Authority) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return a.tracer.Start(ctx, "authority."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Code(err))
	}
	span.End()
}

func (a *Authority) publish(typ, accountID, sessionID string, at time.Time, detail map[string]string) {
	a.events.Publish(Event{
		Type:      typ,
		AccountID: accountID,
		SessionID: sessionID,
		At:        at,
		Detail:    detail,
	})
}

// TokenPair is an access and refresh token issued together.
type TokenPair struct {
	Access  tokens.Token
	Refresh tokens.Token
}

func (a *Authority) issuePair(acct identity.Account, now time.Time) (TokenPair, error) {
	access, err := a.issuer.IssueAccess(acct.ID, string(acct.Role), now)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := a.issuer.IssueRefresh(acct.ID, now)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{Access: access, Refresh: refresh}, nil
}

func sessionErr(op string, err error) error {
	if errors.Is(err, session.ErrSessionNotFound) {
		return fail(op, ErrSessionNotFound, "session not found")
	}
	return err
}

func accountErr(op string, err error) error {
	switch {
	case identity.IsNotFound(err):
		return fail(op, ErrAccountNotFound, "user not found")
	case identity.IsConflict(err):
		return fail(op, ErrDuplicateAccount, "email or username already taken")
	case identity.IsInvalidInput(err):
		var oe identity.OpError
		if errors.As(err, &oe) && oe.Msg != "" {
			return fail(op, ErrInvalidInput, oe.Msg)
		}
		return fail(op, ErrInvalidInput, "invalid input")
	default:
		return err
	}
}
