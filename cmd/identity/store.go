package identity

import (
	"context"
	"time"
)

// Role is an account's authorization role.
type Role string

const (
	// RoleUser is the default role for registered accounts.
	RoleUser Role = "user"
	// RoleAdmin may use the admin session operations.
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleUser || r == RoleAdmin }

// Origin is a network origin: the client IP and the country resolved from it.
type Origin struct {
	IP      string
	Country string
}

// Account is the public view of an account record.
type Account struct {
	ID       string
	Username string
	Email    string
	FullName string
	Role     Role

	// LastLogin is the origin of the most recent successful login.
	// Both fields are empty until the first login.
	LastLogin Origin

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewAccount describes an account registration.
type NewAccount struct {
	Username string
	Email    string
	FullName string
	Password string
	Role     Role
	Now      time.Time
}

// Store is the account persistence boundary.
//
// Implementations return OpError{Kind: ErrNotFound} for missing accounts and
// ConflictError for username/email collisions.
type Store interface {
	// Insert stores a new account with its password hash.
	Insert(ctx context.Context, a Account, passwordHash string) error

	// FindByLogin loads an account by normalized email or username.
	FindByLogin(ctx context.Context, login string, isEmail bool) (Account, error)

	// GetByID loads an account by ID.
	GetByID(ctx context.Context, id string) (Account, error)

	// PasswordHash returns the stored hash for an account.
	PasswordHash(ctx context.Context, id string) (string, error)

	// UpdateLastOrigin replaces the last known login origin.
	UpdateLastOrigin(ctx context.Context, id string, o Origin, now time.Time) error

	// List returns all accounts, newest first.
	List(ctx context.Context) ([]Account, error)
}
