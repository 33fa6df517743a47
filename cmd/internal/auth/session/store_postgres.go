package session

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

// PostgresRegistry implements Registry over PostgreSQL.
//
// Insert runs in one transaction under an account-scoped advisory lock so the
// evict-then-insert sequence is serialized per account. Rotate is a single
// conditional UPDATE keyed on the stored hash.
type PostgresRegistry struct {
	pool   *pgxpool.Pool
	schema string
}

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// NewPostgresRegistry creates a Postgres-backed registry. An empty schema
// selects "secureauth".
func NewPostgresRegistry(pool *pgxpool.Pool, schema string) (*PostgresRegistry, error) {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "secureauth"
	}
	if !pgIdentRe.MatchString(schema) {
		return nil, fmt.Errorf("session: invalid schema identifier")
	}
	if pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	return &PostgresRegistry{pool: pool, schema: schema}, nil
}

const recordColumns = `id, account_id, token_hash, device_name, user_agent, ip, country,
	is_suspicious, created_at, last_used_at, expires_at`

func (s *PostgresRegistry) table() string {
	return pgx.Identifier{s.schema, "sessions"}.Sanitize()
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.AccountID,
		&rec.TokenHash,
		&rec.DeviceName,
		&rec.UserAgent,
		&rec.IP,
		&rec.Country,
		&rec.Suspicious,
		&rec.CreatedAt,
		&rec.LastUsedAt,
		&rec.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrSessionNotFound
	}
	if err != nil {
		return Record{}, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.LastUsedAt = rec.LastUsedAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	return rec, nil
}

func collectRecords(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresRegistry) ListActive(ctx context.Context, accountID string, now time.Time) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM `+s.table()+`
		WHERE account_id = $1 AND expires_at > $2
		ORDER BY created_at ASC, id ASC
	`, accountID, now)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func (s *PostgresRegistry) ListAll(ctx context.Context, now time.Time) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM `+s.table()+`
		WHERE expires_at > $1
		ORDER BY created_at DESC, id DESC
	`, now)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func (s *PostgresRegistry) Insert(ctx context.Context, rec Record, max int, now time.Time) ([]Record, error) {
	if err := rec.validate(); err != nil {
		return nil, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, rec.AccountID); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM `+s.table()+`
		WHERE account_id = $1 AND expires_at <= $2
	`, rec.AccountID, now); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT `+recordColumns+`
		FROM `+s.table()+`
		WHERE account_id = $1
		ORDER BY created_at ASC, id ASC
	`, rec.AccountID)
	if err != nil {
		return nil, err
	}
	live, err := collectRecords(rows)
	if err != nil {
		return nil, err
	}

	var evicted []Record
	if max > 0 && len(live) >= max {
		evicted = live[:len(live)-max+1]
		ids := make([]string, 0, len(evicted))
		for _, e := range evicted {
			ids = append(ids, e.ID)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM `+s.table()+` WHERE id = ANY($1)`, ids); err != nil {
			return nil, err
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO `+s.table()+` (
			id, account_id, token_hash, device_name, user_agent, ip, country,
			is_suspicious, created_at, last_used_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		rec.ID, rec.AccountID, rec.TokenHash, rec.DeviceName, rec.UserAgent, rec.IP, rec.Country,
		rec.Suspicious, rec.CreatedAt, lastUsedOrCreated(rec), rec.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: duplicate id or token hash", ErrInvalidRecord)
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return evicted, nil
}

func lastUsedOrCreated(rec Record) time.Time {
	if rec.LastUsedAt.IsZero() {
		return rec.CreatedAt
	}
	return rec.LastUsedAt
}

func (s *PostgresRegistry) FindByTokenHash(ctx context.Context, hash string, now time.Time) (Record, error) {
	return scanRecord(s.pool.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM `+s.table()+`
		WHERE token_hash = $1 AND expires_at > $2
	`, hash, now))
}

func (s *PostgresRegistry) Rotate(ctx context.Context, id, oldHash, newHash string, now time.Time) (Record, error) {
	if newHash == "" {
		return Record{}, fmt.Errorf("%w: empty token hash", ErrInvalidRecord)
	}

	rec, err := scanRecord(s.pool.QueryRow(ctx, `
		UPDATE `+s.table()+`
		SET token_hash = $3, last_used_at = $4
		WHERE id = $1 AND token_hash = $2 AND expires_at > $4
		RETURNING `+recordColumns,
		id, oldHash, newHash, now,
	))
	switch {
	case err == nil:
		return rec, nil
	case isUniqueViolation(err):
		return Record{}, fmt.Errorf("%w: token hash already in use", ErrInvalidRecord)
	case !errors.Is(err, ErrSessionNotFound):
		return Record{}, err
	}

	// Nothing matched: tell a lost race apart from a vanished record.
	var live bool
	err = s.pool.QueryRow(ctx, `
		SELECT expires_at > $2 FROM `+s.table()+` WHERE id = $1
	`, id, now).Scan(&live)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && !live) {
		return Record{}, ErrSessionNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return Record{}, ErrRotationConflict
}

func (s *PostgresRegistry) Revoke(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE id = $1`, id)
	return err
}

func (s *PostgresRegistry) RevokeByTokenHash(ctx context.Context, hash string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE token_hash = $1`, hash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresRegistry) RevokeOwned(ctx context.Context, accountID, id string, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM `+s.table()+` WHERE id = $1 AND account_id = $2 AND expires_at > $3
	`, id, accountID, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *PostgresRegistry) RevokeAll(ctx context.Context, accountID string, now time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		WITH gone AS (
			DELETE FROM `+s.table()+` WHERE account_id = $1 RETURNING expires_at
		)
		SELECT count(*) FILTER (WHERE expires_at > $2) FROM gone
	`, accountID, now).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *PostgresRegistry) SetSuspicious(ctx context.Context, id string, flag bool, now time.Time) (Record, error) {
	return scanRecord(s.pool.QueryRow(ctx, `
		UPDATE `+s.table()+`
		SET is_suspicious = $2
		WHERE id = $1 AND expires_at > $3
		RETURNING `+recordColumns,
		id, flag, now,
	))
}

func (s *PostgresRegistry) ToggleSuspicious(ctx context.Context, id string, now time.Time) (Record, error) {
	return scanRecord(s.pool.QueryRow(ctx, `
		UPDATE `+s.table()+`
		SET is_suspicious = NOT is_suspicious
		WHERE id = $1 AND expires_at > $2
		RETURNING `+recordColumns,
		id, now,
	))
}

func (s *PostgresRegistry) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
