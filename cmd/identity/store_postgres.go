package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller; this store does not close it.
// Schema identifiers are validated and quoted.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema holding the accounts table (default "secureauth").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "secureauth",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

const accountColumns = `id, username, email, full_name, role,
	coalesce(last_login_ip, ''), coalesce(last_login_country, ''),
	created_at, updated_at`

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "accounts"}.Sanitize()
}

func (s *PostgresStore) Insert(ctx context.Context, a Account, passwordHash string) error {
	const op = "identity.Insert"

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table()+` (
		     id, username, email, full_name, role, password_hash, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.Username, a.Email, a.FullName, string(a.Role), passwordHash, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return ConflictError{Op: op, Field: field}
		}
		return err
	}
	return nil
}

func (s *PostgresStore) FindByLogin(ctx context.Context, login string, isEmail bool) (Account, error) {
	col := "username"
	if isEmail {
		col = "email"
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM `+s.table()+` WHERE `+col+` = $1`, login)
	return scanAccount(row, "identity.FindByLogin")
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM `+s.table()+` WHERE id = $1`, id)
	return scanAccount(row, "identity.GetByID")
}

func (s *PostgresStore) PasswordHash(ctx context.Context, id string) (string, error) {
	var hash string
	err := s.pool.QueryRow(ctx,
		`SELECT password_hash FROM `+s.table()+` WHERE id = $1`, id).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", notFound("identity.PasswordHash")
	}
	return hash, err
}

func (s *PostgresStore) UpdateLastOrigin(ctx context.Context, id string, o Origin, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table()+`
		    SET last_login_ip = $2, last_login_country = $3, updated_at = $4
		  WHERE id = $1`,
		id, o.IP, o.Country, now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound("identity.UpdateLastOrigin")
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+accountColumns+` FROM `+s.table()+` ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows, "identity.List")
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAccount(row pgx.Row, op string) (Account, error) {
	var (
		a    Account
		role string
	)
	err := row.Scan(
		&a.ID, &a.Username, &a.Email, &a.FullName, &role,
		&a.LastLogin.IP, &a.LastLogin.Country,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, notFound(op)
	}
	if err != nil {
		return Account{}, err
	}
	a.Role = Role(role)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return "", false
	}

	switch pgErr.ConstraintName {
	case "accounts_username_key":
		return "username", true
	case "accounts_email_key":
		return "email", true
	}

	c := strings.ToLower(pgErr.ConstraintName + " " + pgErr.Detail)
	switch {
	case strings.Contains(c, "username"):
		return "username", true
	case strings.Contains(c, "email"):
		return "email", true
	default:
		return "", true
	}
}
