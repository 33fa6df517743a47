package identity

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*memAccount
	byName  map[string]string
	byEmail map[string]string
}

type memAccount struct {
	acct Account
	hash string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*memAccount),
		byName:  make(map[string]string),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryStore) Insert(ctx context.Context, a Account, passwordHash string) error {
	const op = "identity.Insert"
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byName[a.Username]; ok {
		return ConflictError{Op: op, Field: "username"}
	}
	if _, ok := s.byEmail[a.Email]; ok {
		return ConflictError{Op: op, Field: "email"}
	}
	if _, ok := s.byID[a.ID]; ok {
		return ConflictError{Op: op, Field: "id"}
	}

	s.byID[a.ID] = &memAccount{acct: a, hash: passwordHash}
	s.byName[a.Username] = a.ID
	s.byEmail[a.Email] = a.ID
	return nil
}

func (s *MemoryStore) FindByLogin(ctx context.Context, login string, isEmail bool) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.byName
	if isEmail {
		idx = s.byEmail
	}
	id, ok := idx[login]
	if !ok {
		return Account{}, notFound("identity.FindByLogin")
	}
	return s.byID[id].acct, nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.byID[id]
	if !ok {
		return Account{}, notFound("identity.GetByID")
	}
	return m.acct, nil
}

func (s *MemoryStore) PasswordHash(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.byID[id]
	if !ok {
		return "", notFound("identity.PasswordHash")
	}
	return m.hash, nil
}

func (s *MemoryStore) UpdateLastOrigin(ctx context.Context, id string, o Origin, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return notFound("identity.UpdateLastOrigin")
	}
	m.acct.LastLogin = o
	m.acct.UpdatedAt = now
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]Account, 0, len(s.byID))
	for _, m := range s.byID {
		out = append(out, m.acct)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
