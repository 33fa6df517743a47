package authority

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Rutvik2302/secure-auth/cmd/identity"
	"github.com/Rutvik2302/secure-auth/cmd/internal/auth/session"
)

// Admin operations. Callers must check Principal.IsAdmin first.

// AccountSummary is the account data shown next to a session in admin views.
type AccountSummary struct {
	ID               string
	Username         string
	Email            string
	Role             string
	LastLoginIP      string
	LastLoginCountry string
}

// AdminSessionView is a session joined with its account.
type AdminSessionView struct {
	session.Record
	Account *AccountSummary
}

func summarize(a identity.Account) *AccountSummary {
	return &AccountSummary{
		ID:               a.ID,
		Username:         a.Username,
		Email:            a.Email,
		Role:             string(a.Role),
		LastLoginIP:      a.LastLogin.IP,
		LastLoginCountry: a.LastLogin.Country,
	}
}

// ListAllSessions lists every live session, newest first.
func (a *Authority) ListAllSessions(ctx context.Context) (_ []AdminSessionView, err error) {
	ctx, span := a.startSpan(ctx, "ListAllSessions")
	defer func() { endSpan(span, err) }()

	recs, err := a.registry.ListAll(ctx, a.clock())
	if err != nil {
		return nil, err
	}
	accts, err := a.accounts.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]identity.Account, len(accts))
	for _, acct := range accts {
		byID[acct.ID] = acct
	}

	out := make([]AdminSessionView, 0, len(recs))
	for _, r := range recs {
		v := AdminSessionView{Record: r}
		if acct, ok := byID[r.AccountID]; ok {
			v.Account = summarize(acct)
		}
		out = append(out, v)
	}
	return out, nil
}

// ForceLogout ends every session of accountID.
func (a *Authority) ForceLogout(ctx context.Context, accountID string) (_ identity.Account, _ int, err error) {
	const op = "authority.ForceLogout"
	ctx, span := a.startSpan(ctx, "ForceLogout", attribute.String("account.id", accountID))
	defer func() { endSpan(span, err) }()

	acct, err := a.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return identity.Account{}, 0, accountErr(op, err)
	}
	n, err := a.registry.RevokeAll(ctx, acct.ID, a.clock())
	if err != nil {
		return identity.Account{}, 0, err
	}

	a.metrics.sessionsRevoked("admin", n)
	a.publish(EventSessionRevoked, acct.ID, "", a.clock(), map[string]string{
		"reason":  "admin",
		"revoked": strconv.Itoa(n),
	})
	a.log.Info("authority.admin.force_logout", "account_id", acct.ID, "revoked", n)
	return acct, n, nil
}

// ToggleSuspicious flips the suspicious flag of a session.
func (a *Authority) ToggleSuspicious(ctx context.Context, sessionID string) (_ session.Record, err error) {
	const op = "authority.ToggleSuspicious"
	ctx, span := a.startSpan(ctx, "ToggleSuspicious", attribute.String("session.id", sessionID))
	defer func() { endSpan(span, err) }()

	now := a.clock()
	rec, err := a.registry.ToggleSuspicious(ctx, sessionID, now)
	if err != nil {
		return session.Record{}, sessionErr(op, err)
	}
	a.publish(EventFlagToggled, rec.AccountID, rec.ID, now, map[string]string{
		"suspicious": strconv.FormatBool(rec.Suspicious),
	})
	return rec, nil
}

// ListAccounts lists all accounts, newest first.
func (a *Authority) ListAccounts(ctx context.Context) (_ []identity.Account, err error) {
	ctx, span := a.startSpan(ctx, "ListAccounts")
	defer func() { endSpan(span, err) }()

	return a.accounts.ListAccounts(ctx)
}
