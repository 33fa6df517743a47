package authority

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Rutvik2302/secure-auth/cmd/identity"
	"github.com/Rutvik2302/secure-auth/cmd/security/token"
)

// RegisterInput are the fields of a new account.
type RegisterInput struct {
	Username string
	Email    string
	FullName string
	Password string
}

// Register creates a user account.
func (a *Authority) Register(ctx context.Context, in RegisterInput) (_ identity.Account, err error) {
	ctx, span := a.startSpan(ctx, "Register")
	defer func() { endSpan(span, err) }()

	return a.create(ctx, "authority.Register", in, identity.RoleUser)
}

// CreateAdmin creates an admin account for a caller presenting the configured
// admin secret. Without a configured secret it always fails with ErrForbidden.
func (a *Authority) CreateAdmin(ctx context.Context, secret string, in RegisterInput) (_ identity.Account, err error) {
	const op = "authority.CreateAdmin"
	ctx, span := a.startSpan(ctx, "CreateAdmin")
	defer func() { endSpan(span, err) }()

	if a.adminSecret == "" || !token.EqualSecret(secret, a.adminSecret) {
		a.log.Warn("authority.create_admin.forbidden")
		return identity.Account{}, fail(op, ErrForbidden, "invalid admin secret")
	}
	return a.create(ctx, op, in, identity.RoleAdmin)
}

func (a *Authority) create(ctx context.Context, op string, in RegisterInput, role identity.Role) (identity.Account, error) {
	if in.Username == "" || in.Email == "" || in.FullName == "" || in.Password == "" {
		return identity.Account{}, fail(op, ErrInvalidInput, "all fields are required")
	}

	acct, err := a.accounts.CreateAccount(ctx, identity.NewAccount{
		Username: in.Username,
		Email:    in.Email,
		FullName: in.FullName,
		Password: in.Password,
		Role:     role,
		Now:      a.clock(),
	})
	if err != nil {
		return identity.Account{}, accountErr(op, err)
	}

	a.log.Info("authority.account.created", "account_id", acct.ID, "role", string(acct.Role))
	return acct, nil
}

// Me returns the account of an authenticated principal.
func (a *Authority) Me(ctx context.Context, accountID string) (_ identity.Account, err error) {
	ctx, span := a.startSpan(ctx, "Me", attribute.String("account.id", accountID))
	defer func() { endSpan(span, err) }()

	acct, err := a.accounts.GetAccount(ctx, accountID)
	if identity.IsNotFound(err) {
		return identity.Account{}, fail("authority.Me", ErrUnauthenticated, "user not found")
	}
	return acct, err
}
