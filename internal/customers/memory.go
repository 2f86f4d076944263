package customers

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded in-memory Store. It is the test double and
// the dev-mode default; state does not survive the process.
type MemoryStore struct {
	mu    sync.Mutex
	recs  map[string]Customer
	order []string
	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		recs:  make(map[string]Customer),
		clock: time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, c Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRecord)
	}
	if _, ok := s.recs[c.ID]; ok {
		return fmt.Errorf("%w: duplicate id %s", ErrInvalidRecord, c.ID)
	}
	s.recs[c.ID] = c
	s.order = append(s.order, c.ID)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.recs[id]
	if !ok {
		return Customer{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Customer, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.recs[id])
	}
	return out, nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, p Patch) (Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.recs[id]
	if !ok {
		return Customer{}, ErrNotFound
	}
	c = p.apply(c, s.clock().UTC())
	s.recs[id] = c
	return c, nil
}
