package authority

import (
	"context"
	"errors"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Rutvik2302/secure-auth/cmd/identity"
	"github.com/Rutvik2302/secure-auth/cmd/internal/auth/session"
	"github.com/Rutvik2302/secure-auth/cmd/internal/auth/tokens"
)

// Outcome of a refresh attempt.
type Outcome string

const (
	OutcomeRotated  Outcome = "rotated"
	OutcomeReused   Outcome = "reused"
	OutcomeRejected Outcome = "rejected"
)

// RefreshResult is the outcome of a successful rotation.
type RefreshResult struct {
	Account   identity.Account
	SessionID string
	Tokens    TokenPair
}

// Refresh exchanges a refresh token for a new pair.
//
//  1. The token must verify (signature, class, expiry); otherwise
//     ErrUnauthenticated with no registry change.
//  2. If no live session holds the token's hash, the token was already rotated
//     away or never registered: every session of the account is revoked and
//     ErrReuseDetected is returned.
//  3. Otherwise the session's hash is swapped for the new token's hash. A
//     concurrent presentation of the same token that loses the swap gets
//     ErrUnauthenticated, not ErrReuseDetected.
func (a *Authority) Refresh(ctx context.Context, presented string) (_ RefreshResult, err error) {
	const op = "authority.Refresh"
	ctx, span := a.startSpan(ctx, "Refresh")
	outcome := OutcomeRejected
	defer func() {
		span.SetAttributes(attribute.String("refresh.outcome", string(outcome)))
		endSpan(span, err)
	}()

	if presented == "" {
		a.metrics.refresh("missing")
		return RefreshResult{}, fail(op, ErrUnauthenticated, "refresh token required")
	}

	now := a.clock()
	claims, err := a.issuer.Verify(tokens.KindRefresh, presented, now)
	if err != nil {
		if errors.Is(err, tokens.ErrExpired) {
			a.metrics.refresh("expired")
		} else {
			a.metrics.refresh("invalid")
		}
		return RefreshResult{}, fail(op, ErrUnauthenticated, "invalid or expired refresh token")
	}
	// The issuer tolerates clock skew, the registry does not. Without this a
	// token inside the skew window would miss its record and read as reuse.
	if !now.Before(claims.ExpiresAt) {
		a.metrics.refresh("expired")
		return RefreshResult{}, fail(op, ErrUnauthenticated, "invalid or expired refresh token")
	}
	span.SetAttributes(attribute.String("account.id", claims.AccountID))

	oldHash := a.hasher.Hash(presented)
	rec, err := a.registry.FindByTokenHash(ctx, oldHash, now)
	if errors.Is(err, session.ErrSessionNotFound) {
		outcome = OutcomeReused
		return RefreshResult{}, a.reuseDetected(ctx, op, claims.AccountID)
	}
	if err != nil {
		return RefreshResult{}, err
	}
	if rec.AccountID != claims.AccountID {
		a.metrics.refresh("invalid")
		return RefreshResult{}, fail(op, ErrUnauthenticated, "invalid refresh token")
	}
	span.SetAttributes(attribute.String("session.id", rec.ID))

	acct, err := a.accounts.GetAccount(ctx, rec.AccountID)
	if err != nil {
		return RefreshResult{}, accountErr(op, err)
	}

	pair, err := a.issuePair(acct, now)
	if err != nil {
		return RefreshResult{}, err
	}

	updated, err := a.registry.Rotate(ctx, rec.ID, oldHash, a.hasher.Hash(pair.Refresh.Value), now)
	if errors.Is(err, session.ErrRotationConflict) || errors.Is(err, session.ErrSessionNotFound) {
		a.metrics.refresh("conflict")
		a.log.Info("authority.refresh.stale", "account_id", rec.AccountID, "session_id", rec.ID)
		return RefreshResult{}, fail(op, ErrUnauthenticated, "refresh token already used")
	}
	if err != nil {
		return RefreshResult{}, err
	}

	outcome = OutcomeRotated
	a.metrics.refresh("rotated")
	a.publish(EventSessionRotated, updated.AccountID, updated.ID, now, nil)
	a.log.Debug("authority.refresh.rotated", "account_id", updated.AccountID, "session_id", updated.ID)

	return RefreshResult{Account: acct, SessionID: updated.ID, Tokens: pair}, nil
}

// reuseDetected revokes every session of the account. The revocation is the
// security control, so a failure here surfaces as an error rather than a plain
// rejection.
func (a *Authority) reuseDetected(ctx context.Context, op, accountID string) error {
	now := a.clock()
	n, err := a.registry.RevokeAll(ctx, accountID, now)
	if err != nil {
		a.log.Error("authority.refresh.reuse_revoke_failed", "account_id", accountID, "err", err)
		return err
	}

	a.metrics.refresh("reused")
	a.metrics.reuseDetected()
	a.metrics.sessionsRevoked("reuse", n)
	a.publish(EventReuseDetected, accountID, "", now, map[string]string{"revoked": strconv.Itoa(n)})
	a.log.Warn("authority.refresh.reuse_detected", "account_id", accountID, "revoked", n)

	return fail(op, ErrReuseDetected, "token reuse detected, all sessions invalidated")
}
