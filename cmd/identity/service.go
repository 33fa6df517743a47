package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Rutvik2302/secure-auth/cmd/identity/ids"
	"github.com/Rutvik2302/secure-auth/cmd/security/password"
)

// Service is the Identity Store consumed by the session authority.
type Service struct {
	store Store
	pw    password.Config
}

// NewService returns a Service over store using pw for hashing and verification.
func NewService(store Store, pw password.Config) (*Service, error) {
	if store == nil {
		return nil, errors.New("identity: nil store")
	}
	if err := pw.Check(); err != nil {
		return nil, err
	}
	return &Service{store: store, pw: pw}, nil
}

// CreateAccount validates, hashes the password, and stores a new account.
func (s *Service) CreateAccount(ctx context.Context, in NewAccount) (Account, error) {
	const op = "identity.CreateAccount"

	username := NormalizeUsername(in.Username)
	email := NormalizeEmail(in.Email)
	fullName := strings.TrimSpace(in.FullName)

	if username == "" || email == "" || fullName == "" || in.Password == "" {
		return Account{}, invalid(op, "username, email, full name and password are required")
	}
	if !validUsername(username) {
		return Account{}, invalid(op, "username must be 3-32 characters of a-z, 0-9, '.', '_' or '-'")
	}
	if !validEmail(email) {
		return Account{}, invalid(op, "email is not valid")
	}
	if len(fullName) > 128 {
		return Account{}, invalid(op, "full name is too long")
	}

	role := in.Role
	if role == "" {
		role = RoleUser
	}
	if !role.Valid() {
		return Account{}, invalid(op, "unknown role")
	}

	hash, err := s.pw.Hash(in.Password)
	if err != nil {
		switch {
		case errors.Is(err, password.ErrPasswordTooShort),
			errors.Is(err, password.ErrPasswordTooLong),
			errors.Is(err, password.ErrWeakPassword):
			return Account{}, invalid(op, err.Error())
		default:
			return Account{}, err
		}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	a := Account{
		ID:        ids.New(now),
		Username:  username,
		Email:     email,
		FullName:  fullName,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Insert(ctx, a, hash); err != nil {
		return Account{}, err
	}
	return a, nil
}

// FindAccountByEmailOrUsername loads the account addressed by login.
func (s *Service) FindAccountByEmailOrUsername(ctx context.Context, login string) (Account, error) {
	norm, isEmail := NormalizeLogin(login)
	if norm == "" {
		return Account{}, invalid("identity.FindAccount", "email or username is required")
	}
	return s.store.FindByLogin(ctx, norm, isEmail)
}

// VerifyPassword reports whether plaintext matches the account's password.
func (s *Service) VerifyPassword(ctx context.Context, a Account, plaintext string) (bool, error) {
	hash, err := s.store.PasswordHash(ctx, a.ID)
	if err != nil {
		return false, err
	}
	return s.pw.Verify(hash, plaintext)
}

// GetAccount loads an account by ID.
func (s *Service) GetAccount(ctx context.Context, id string) (Account, error) {
	if strings.TrimSpace(id) == "" {
		return Account{}, notFound("identity.GetAccount")
	}
	return s.store.GetByID(ctx, id)
}

// UpdateLastOrigin records the origin of a successful login.
func (s *Service) UpdateLastOrigin(ctx context.Context, id string, o Origin, now time.Time) error {
	return s.store.UpdateLastOrigin(ctx, id, o, now)
}

// ListAccounts returns all accounts, newest first.
func (s *Service) ListAccounts(ctx context.Context) ([]Account, error) {
	return s.store.List(ctx)
}
