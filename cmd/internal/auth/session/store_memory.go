package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRegistry is an in-process Registry.
//
// Each account has its own bucket lock, so eviction and rotation for one
// account never block another. The index maps are guarded by mu, which is only
// ever taken while holding at most one bucket lock (bucket first, then mu).
type MemoryRegistry struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	byHash  map[string]string // token hash -> session id
	owner   map[string]string // session id -> account id
}

type bucket struct {
	mu   sync.Mutex
	recs map[string]*Record
}

// NewMemoryRegistry returns an empty MemoryRegistry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		buckets: make(map[string]*bucket),
		byHash:  make(map[string]string),
		owner:   make(map[string]string),
	}
}

func (r *MemoryRegistry) bucket(accountID string, create bool) *bucket {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.buckets[accountID]
	if b == nil && create {
		b = &bucket{recs: make(map[string]*Record)}
		r.buckets[accountID] = b
	}
	return b
}

// locate resolves a session id to its locked bucket and record.
// The caller must unlock b.mu when b is non-nil.
func (r *MemoryRegistry) locate(id string) (*bucket, *Record) {
	r.mu.Lock()
	accountID, ok := r.owner[id]
	r.mu.Unlock()
	if !ok {
		return nil, nil
	}

	b := r.bucket(accountID, false)
	if b == nil {
		return nil, nil
	}
	b.mu.Lock()
	rec := b.recs[id]
	if rec == nil {
		b.mu.Unlock()
		return nil, nil
	}
	return b, rec
}

func (r *MemoryRegistry) idForHash(hash string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byHash[hash]
	return id, ok
}

// remove deletes rec from b and the indexes. b.mu must be held.
func (r *MemoryRegistry) remove(b *bucket, rec *Record) {
	r.mu.Lock()
	if r.byHash[rec.TokenHash] == rec.ID {
		delete(r.byHash, rec.TokenHash)
	}
	delete(r.owner, rec.ID)
	r.mu.Unlock()
	delete(b.recs, rec.ID)
}

// live returns b's live records, CreatedAt ascending. b.mu must be held.
func (b *bucket) live(now time.Time) []*Record {
	out := make([]*Record, 0, len(b.recs))
	for _, rec := range b.recs {
		if rec.Live(now) {
			out = append(out, rec)
		}
	}
	sortAscending(out)
	return out
}

func sortAscending(recs []*Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
}

func (r *MemoryRegistry) ListActive(ctx context.Context, accountID string, now time.Time) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := r.bucket(accountID, false)
	if b == nil {
		return nil, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	live := b.live(now)
	out := make([]Record, 0, len(live))
	for _, rec := range live {
		out = append(out, *rec)
	}
	return out, nil
}

func (r *MemoryRegistry) snapshotBuckets() []*bucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*bucket, 0, len(r.buckets))
	for _, b := range r.buckets {
		out = append(out, b)
	}
	return out
}

func (r *MemoryRegistry) ListAll(ctx context.Context, now time.Time) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []Record
	for _, b := range r.snapshotBuckets() {
		b.mu.Lock()
		for _, rec := range b.recs {
			if rec.Live(now) {
				out = append(out, *rec)
			}
		}
		b.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRegistry) Insert(ctx context.Context, rec Record, max int, now time.Time) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := rec.validate(); err != nil {
		return nil, err
	}

	b := r.bucket(rec.AccountID, true)
	b.mu.Lock()
	defer b.mu.Unlock()

	r.mu.Lock()
	_, dupHash := r.byHash[rec.TokenHash]
	_, dupID := r.owner[rec.ID]
	r.mu.Unlock()
	if dupHash || dupID {
		return nil, fmt.Errorf("%w: duplicate id or token hash", ErrInvalidRecord)
	}

	// Expired records of this account are dropped here as well.
	for _, old := range b.recs {
		if !old.Live(now) {
			r.remove(b, old)
		}
	}

	var evicted []Record
	live := b.live(now)
	for max > 0 && len(live) >= max {
		evicted = append(evicted, *live[0])
		r.remove(b, live[0])
		live = live[1:]
	}

	stored := rec
	b.recs[rec.ID] = &stored
	r.mu.Lock()
	r.byHash[rec.TokenHash] = rec.ID
	r.owner[rec.ID] = rec.AccountID
	r.mu.Unlock()

	return evicted, nil
}

func (r *MemoryRegistry) FindByTokenHash(ctx context.Context, hash string, now time.Time) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	id, ok := r.idForHash(hash)
	if !ok {
		return Record{}, ErrSessionNotFound
	}

	b, rec := r.locate(id)
	if b == nil {
		return Record{}, ErrSessionNotFound
	}
	defer b.mu.Unlock()

	if rec.TokenHash != hash || !rec.Live(now) {
		return Record{}, ErrSessionNotFound
	}
	return *rec, nil
}

func (r *MemoryRegistry) Rotate(ctx context.Context, id, oldHash, newHash string, now time.Time) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if newHash == "" {
		return Record{}, fmt.Errorf("%w: empty token hash", ErrInvalidRecord)
	}

	b, rec := r.locate(id)
	if b == nil {
		return Record{}, ErrSessionNotFound
	}
	defer b.mu.Unlock()

	if !rec.Live(now) {
		return Record{}, ErrSessionNotFound
	}
	if rec.TokenHash != oldHash {
		return Record{}, ErrRotationConflict
	}

	r.mu.Lock()
	if _, taken := r.byHash[newHash]; taken {
		r.mu.Unlock()
		return Record{}, fmt.Errorf("%w: token hash already in use", ErrInvalidRecord)
	}
	delete(r.byHash, oldHash)
	r.byHash[newHash] = id
	r.mu.Unlock()

	rec.TokenHash = newHash
	rec.LastUsedAt = now
	return *rec, nil
}

func (r *MemoryRegistry) Revoke(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, rec := r.locate(id)
	if b == nil {
		return nil
	}
	defer b.mu.Unlock()
	r.remove(b, rec)
	return nil
}

func (r *MemoryRegistry) RevokeByTokenHash(ctx context.Context, hash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	id, ok := r.idForHash(hash)
	if !ok {
		return false, nil
	}

	b, rec := r.locate(id)
	if b == nil {
		return false, nil
	}
	defer b.mu.Unlock()

	if rec.TokenHash != hash {
		return false, nil
	}
	r.remove(b, rec)
	return true, nil
}

func (r *MemoryRegistry) RevokeOwned(ctx context.Context, accountID, id string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := r.bucket(accountID, false)
	if b == nil {
		return ErrSessionNotFound
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	rec := b.recs[id]
	if rec == nil || !rec.Live(now) {
		return ErrSessionNotFound
	}
	r.remove(b, rec)
	return nil
}

func (r *MemoryRegistry) RevokeAll(ctx context.Context, accountID string, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b := r.bucket(accountID, false)
	if b == nil {
		return 0, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, rec := range b.recs {
		if rec.Live(now) {
			n++
		}
		r.remove(b, rec)
	}
	return n, nil
}

func (r *MemoryRegistry) SetSuspicious(ctx context.Context, id string, flag bool, now time.Time) (Record, error) {
	return r.mutateFlag(ctx, id, now, func(bool) bool { return flag })
}

func (r *MemoryRegistry) ToggleSuspicious(ctx context.Context, id string, now time.Time) (Record, error) {
	return r.mutateFlag(ctx, id, now, func(cur bool) bool { return !cur })
}

func (r *MemoryRegistry) mutateFlag(ctx context.Context, id string, now time.Time, next func(bool) bool) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	b, rec := r.locate(id)
	if b == nil {
		return Record{}, ErrSessionNotFound
	}
	defer b.mu.Unlock()

	if !rec.Live(now) {
		return Record{}, ErrSessionNotFound
	}
	rec.Suspicious = next(rec.Suspicious)
	return *rec, nil
}

func (r *MemoryRegistry) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	n := 0
	for _, b := range r.snapshotBuckets() {
		b.mu.Lock()
		for _, rec := range b.recs {
			if !rec.Live(now) {
				r.remove(b, rec)
				n++
			}
		}
		b.mu.Unlock()
	}
	return n, nil
}
