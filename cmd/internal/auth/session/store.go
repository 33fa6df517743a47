package session

import (
	"context"
	"fmt"
	"time"
)

// DefaultMaxConcurrent is the per-account session cap.
const DefaultMaxConcurrent = 3

// Record is one active refresh-capable login on one device.
type Record struct {
	ID         string
	AccountID  string
	TokenHash  string
	DeviceName string
	UserAgent  string
	IP         string
	Country    string
	Suspicious bool
	CreatedAt  time.Time
	LastUsedAt time.Time
	ExpiresAt  time.Time
}

// Live reports whether the record is visible at now.
func (r Record) Live(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}

func (r Record) validate() error {
	switch {
	case r.ID == "":
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	case r.AccountID == "":
		return fmt.Errorf("%w: empty account id", ErrInvalidRecord)
	case r.TokenHash == "":
		return fmt.Errorf("%w: empty token hash", ErrInvalidRecord)
	case r.CreatedAt.IsZero() || r.ExpiresAt.IsZero():
		return fmt.Errorf("%w: missing timestamps", ErrInvalidRecord)
	case !r.ExpiresAt.After(r.CreatedAt):
		return fmt.Errorf("%w: expires before creation", ErrInvalidRecord)
	}
	return nil
}

// Registry abstracts session persistence.
//
// Every lookup takes now and treats records with ExpiresAt <= now as absent.
// Insert and Rotate are atomic per account and per token hash respectively.
type Registry interface {
	// ListActive returns an account's live records, CreatedAt ascending.
	ListActive(ctx context.Context, accountID string, now time.Time) ([]Record, error)

	// ListAll returns every live record across accounts, newest first.
	ListAll(ctx context.Context, now time.Time) ([]Record, error)

	// Insert stores rec. While the account holds max or more live records it
	// first evicts the oldest ones, returning what it evicted.
	Insert(ctx context.Context, rec Record, max int, now time.Time) (evicted []Record, err error)

	// FindByTokenHash loads the live record holding hash.
	FindByTokenHash(ctx context.Context, hash string, now time.Time) (Record, error)

	// Rotate replaces the token hash of record id from oldHash to newHash and
	// bumps LastUsedAt. It returns ErrRotationConflict if the stored hash is no
	// longer oldHash and ErrSessionNotFound if the record is gone or expired.
	Rotate(ctx context.Context, id, oldHash, newHash string, now time.Time) (Record, error)

	// Revoke deletes a record. Deleting an absent record is not an error.
	Revoke(ctx context.Context, id string) error

	// RevokeByTokenHash deletes the record holding hash and reports whether one existed.
	RevokeByTokenHash(ctx context.Context, hash string) (bool, error)

	// RevokeOwned deletes record id only if it is live and belongs to
	// accountID. It returns ErrSessionNotFound otherwise.
	RevokeOwned(ctx context.Context, accountID, id string, now time.Time) error

	// RevokeAll deletes every record of an account and returns how many of
	// them were still live.
	RevokeAll(ctx context.Context, accountID string, now time.Time) (int, error)

	// SetSuspicious sets the flag on a live record.
	SetSuspicious(ctx context.Context, id string, flag bool, now time.Time) (Record, error)

	// ToggleSuspicious flips the flag on a live record.
	ToggleSuspicious(ctx context.Context, id string, now time.Time) (Record, error)

	// PurgeExpired physically removes expired records.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}
