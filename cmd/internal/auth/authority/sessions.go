package authority

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Rutvik2302/secure-auth/cmd/internal/auth/session"
	"github.com/Rutvik2302/secure-auth/cmd/internal/auth/tokens"
)

// Principal is the identity carried by a verified access token.
type Principal struct {
	AccountID string
	Role      string
	ExpiresAt time.Time
}

// IsAdmin reports whether the principal holds the admin role.
func (p Principal) IsAdmin() bool { return p.Role == "admin" }

// Authenticate verifies an access token without consulting the registry.
// An expired token yields ErrAccessTokenExpired, which is also ErrUnauthenticated.
func (a *Authority) Authenticate(ctx context.Context, accessToken string) (Principal, error) {
	const op = "authority.Authenticate"
	if accessToken == "" {
		return Principal{}, fail(op, ErrUnauthenticated, "no token")
	}

	claims, err := a.issuer.Verify(tokens.KindAccess, accessToken, a.clock())
	switch {
	case errors.Is(err, tokens.ErrExpired):
		return Principal{}, fail(op, ErrAccessTokenExpired, "access token expired")
	case err != nil:
		return Principal{}, fail(op, ErrUnauthenticated, "invalid token")
	}
	return Principal{AccountID: claims.AccountID, Role: claims.Role, ExpiresAt: claims.ExpiresAt}, nil
}

// Logout ends the session holding presented. It succeeds whether or not such a
// session exists.
func (a *Authority) Logout(ctx context.Context, presented string) (err error) {
	ctx, span := a.startSpan(ctx, "Logout")
	defer func() { endSpan(span, err) }()

	if presented == "" {
		return nil
	}

	now := a.clock()
	hash := a.hasher.Hash(presented)
	rec, findErr := a.registry.FindByTokenHash(ctx, hash, now)

	removed, err := a.registry.RevokeByTokenHash(ctx, hash)
	if err != nil {
		return err
	}
	if removed {
		a.metrics.sessionsRevoked("logout", 1)
		if findErr == nil {
			a.publish(EventSessionRevoked, rec.AccountID, rec.ID, now, map[string]string{"reason": "logout"})
			a.log.Info("authority.logout", "account_id", rec.AccountID, "session_id", rec.ID)
		}
	}
	return nil
}

// LogoutAll ends every session of an account and returns how many it ended.
func (a *Authority) LogoutAll(ctx context.Context, accountID string) (_ int, err error) {
	ctx, span := a.startSpan(ctx, "LogoutAll", attribute.String("account.id", accountID))
	defer func() { endSpan(span, err) }()

	n, err := a.registry.RevokeAll(ctx, accountID, a.clock())
	if err != nil {
		return 0, err
	}
	a.metrics.sessionsRevoked("logout_all", n)
	a.publish(EventSessionRevoked, accountID, "", a.clock(), map[string]string{
		"reason":  "logout_all",
		"revoked": strconv.Itoa(n),
	})
	a.log.Info("authority.logout_all", "account_id", accountID, "revoked", n)
	return n, nil
}

// LogoutDevice ends one session owned by accountID.
func (a *Authority) LogoutDevice(ctx context.Context, accountID, sessionID string) (err error) {
	const op = "authority.LogoutDevice"
	ctx, span := a.startSpan(ctx, "LogoutDevice",
		attribute.String("account.id", accountID),
		attribute.String("session.id", sessionID),
	)
	defer func() { endSpan(span, err) }()

	if err := a.registry.RevokeOwned(ctx, accountID, sessionID, a.clock()); err != nil {
		return sessionErr(op, err)
	}
	a.metrics.sessionsRevoked("logout_device", 1)
	a.publish(EventSessionRevoked, accountID, sessionID, a.clock(), map[string]string{"reason": "logout_device"})
	return nil
}

// ConfirmSuspicious clears the suspicious flag of the session holding
// presented. A session that is not flagged is left as is.
func (a *Authority) ConfirmSuspicious(ctx context.Context, presented string) (_ session.Record, err error) {
	const op = "authority.ConfirmSuspicious"
	ctx, span := a.startSpan(ctx, "ConfirmSuspicious")
	defer func() { endSpan(span, err) }()

	if presented == "" {
		return session.Record{}, fail(op, ErrUnauthenticated, "not authenticated")
	}

	now := a.clock()
	rec, err := a.registry.FindByTokenHash(ctx, a.hasher.Hash(presented), now)
	if err != nil {
		return session.Record{}, sessionErr(op, err)
	}
	if !rec.Suspicious {
		return rec, nil
	}

	rec, err = a.registry.SetSuspicious(ctx, rec.ID, false, now)
	if err != nil {
		return session.Record{}, sessionErr(op, err)
	}
	a.publish(EventSessionVerified, rec.AccountID, rec.ID, now, nil)
	a.log.Info("authority.session.verified", "account_id", rec.AccountID, "session_id", rec.ID)
	return rec, nil
}

// SessionView is a session as shown to its owner.
type SessionView struct {
	session.Record
	Current bool
}

// Sessions lists an account's live sessions, most recently used first.
// The session holding currentRefresh, if any, is marked Current.
func (a *Authority) Sessions(ctx context.Context, accountID, currentRefresh string) (_ []SessionView, err error) {
	ctx, span := a.startSpan(ctx, "Sessions", attribute.String("account.id", accountID))
	defer func() { endSpan(span, err) }()

	recs, err := a.registry.ListActive(ctx, accountID, a.clock())
	if err != nil {
		return nil, err
	}

	var currentHash string
	if currentRefresh != "" {
		currentHash = a.hasher.Hash(currentRefresh)
	}

	out := make([]SessionView, 0, len(recs))
	for _, r := range recs {
		out = append(out, SessionView{Record: r, Current: currentHash != "" && r.TokenHash == currentHash})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastUsedAt.After(out[j].LastUsedAt)
	})
	return out, nil
}
