package app

import (
	"embed"
	"errors"
	"fmt"
	"net/url"
	"regexp"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// The embedded migrations create this schema.
const migrationSchema = "secureauth"

var pgIdentRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Migrate applies every pending embedded migration. It is a no-op when the
// database is already current.
func Migrate(databaseURL string) error {
	if databaseURL == "" {
		return errors.New("migrate: DATABASE_URL is not set")
	}
	dsn, err := migrateDSN(databaseURL)
	if err != nil {
		return err
	}

	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// migrateDSN rewrites a postgres:// URL to the pgx5:// scheme the migrate
// driver registers under.
func migrateDSN(databaseURL string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("migrate: parse DATABASE_URL: %w", err)
	}
	switch u.Scheme {
	case "postgres", "postgresql", "pgx5":
		u.Scheme = "pgx5"
	default:
		return "", fmt.Errorf("migrate: unsupported DATABASE_URL scheme %q", u.Scheme)
	}
	return u.String(), nil
}
