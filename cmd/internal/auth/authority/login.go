package authority

import (
	"context"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Rutvik2302/secure-auth/cmd/identity"
	"github.com/Rutvik2302/secure-auth/cmd/identity/ids"
	"github.com/Rutvik2302/secure-auth/cmd/internal/auth/anomaly"
	"github.com/Rutvik2302/secure-auth/cmd/internal/auth/session"
)

// Credentials identify an account by email or username.
type Credentials struct {
	Login    string
	Password string
}

// Client describes where a request came from.
type Client struct {
	IP         string
	UserAgent  string
	DeviceName string
}

// LoginResult is the outcome of a successful login.
type LoginResult struct {
	Account    identity.Account
	SessionID  string
	Tokens     TokenPair
	Suspicious bool
	Country    string
}

// Login authenticates creds, classifies the origin, issues a token pair and
// registers a new session, evicting the account's oldest session when at the cap.
//
// The account's last known origin moves to the current one on every
// successful login, suspicious or not.
func (a *Authority) Login(ctx context.Context, creds Credentials, client Client) (_ LoginResult, err error) {
	const op = "authority.Login"
	ctx, span := a.startSpan(ctx, "Login")
	defer func() { endSpan(span, err) }()

	login := strings.TrimSpace(creds.Login)
	if login == "" || creds.Password == "" {
		a.metrics.login("invalid_input")
		return LoginResult{}, fail(op, ErrInvalidInput, "email or username and password are required")
	}

	acct, err := a.accounts.FindAccountByEmailOrUsername(ctx, login)
	if err != nil {
		if identity.IsNotFound(err) {
			a.metrics.login("account_not_found")
		}
		return LoginResult{}, accountErr(op, err)
	}
	span.SetAttributes(attribute.String("account.id", acct.ID))

	ok, err := a.accounts.VerifyPassword(ctx, acct, creds.Password)
	if err != nil {
		return LoginResult{}, err
	}
	if !ok {
		a.metrics.login("invalid_credentials")
		a.log.Warn("authority.login.fail", "account_id", acct.ID, "ip", client.IP)
		return LoginResult{}, fail(op, ErrInvalidCredentials, "invalid credentials")
	}

	prev := anomaly.Origin{IP: acct.LastLogin.IP, Country: acct.LastLogin.Country}
	assessment := a.classifier.Assess(ctx, prev, client.IP)
	cur := identity.Origin{IP: assessment.Origin.IP, Country: assessment.Origin.Country}

	now := a.clock()
	pair, err := a.issuePair(acct, now)
	if err != nil {
		return LoginResult{}, err
	}

	device := strings.TrimSpace(client.DeviceName)
	if device == "" {
		device = "Unknown"
	}
	rec := session.Record{
		ID:         ids.New(now),
		AccountID:  acct.ID,
		TokenHash:  a.hasher.Hash(pair.Refresh.Value),
		DeviceName: device,
		UserAgent:  client.UserAgent,
		IP:         cur.IP,
		Country:    cur.Country,
		Suspicious: assessment.Suspicious,
		CreatedAt:  now,
		LastUsedAt: now,
		ExpiresAt:  pair.Refresh.ExpiresAt,
	}

	evicted, err := a.registry.Insert(ctx, rec, a.cfg.MaxConcurrentSessions, now)
	if err != nil {
		return LoginResult{}, err
	}

	// The baseline origin only moves once a session exists for it. The session
	// is already live, so a failed update is logged rather than failing login.
	if err := a.accounts.UpdateLastOrigin(ctx, acct.ID, cur, now); err != nil {
		a.log.Error("authority.login.origin_update_failed", "account_id", acct.ID, "err", err)
	} else {
		acct.LastLogin = cur
	}

	for _, e := range evicted {
		a.publish(EventSessionEvicted, e.AccountID, e.ID, now, map[string]string{"device": e.DeviceName})
	}
	a.metrics.sessionsEvicted(len(evicted))
	a.metrics.sessionsRevoked("evicted", len(evicted))

	a.publish(EventSessionCreated, acct.ID, rec.ID, now, map[string]string{
		"device":     rec.DeviceName,
		"ip":         rec.IP,
		"country":    rec.Country,
		"suspicious": strconv.FormatBool(rec.Suspicious),
	})
	if rec.Suspicious {
		a.metrics.suspiciousLogin()
		a.publish(EventSuspiciousLogin, acct.ID, rec.ID, now, map[string]string{
			"previous_ip":      prev.IP,
			"previous_country": prev.Country,
			"ip":               rec.IP,
			"country":          rec.Country,
		})
		a.log.Warn("authority.login.suspicious",
			"account_id", acct.ID,
			"session_id", rec.ID,
			"previous_country", prev.Country,
			"country", rec.Country,
		)
	}

	a.metrics.login("ok")
	span.SetAttributes(
		attribute.String("session.id", rec.ID),
		attribute.Bool("session.suspicious", rec.Suspicious),
		attribute.Int("session.evicted", len(evicted)),
	)
	a.log.Info("authority.login.ok",
		"account_id", acct.ID,
		"session_id", rec.ID,
		"suspicious", rec.Suspicious,
		"country", rec.Country,
		"evicted", len(evicted),
	)

	return LoginResult{
		Account:    acct,
		SessionID:  rec.ID,
		Tokens:     pair,
		Suspicious: rec.Suspicious,
		Country:    rec.Country,
	}, nil
}
