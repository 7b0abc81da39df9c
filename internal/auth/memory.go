package auth

import (
	"context"
	"sort"
	"sync"
	"time"
)

var _ UserStore = (*MemoryStore)(nil)

// MemoryStore is an in-process UserStore for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]Principal
	now   func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]Principal), now: time.Now}
}

func (s *MemoryStore) FindPrincipal(ctx context.Context, username string) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.users[username]
	if !ok {
		return Principal{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) CreateUser(ctx context.Context, p Principal) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[p.Username]; exists {
		return Principal{}, ErrConflict
	}
	now := s.now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.users[p.Username] = p
	return p, nil
}

func (s *MemoryStore) SetActive(ctx context.Context, username string, active bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.users[username]
	if !ok {
		return ErrNotFound
	}
	p.Active = active
	p.UpdatedAt = s.now().UTC()
	s.users[username] = p
	return nil
}

func (s *MemoryStore) ListUsers(ctx context.Context) ([]Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Principal, 0, len(s.users))
	for _, p := range s.users {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}
