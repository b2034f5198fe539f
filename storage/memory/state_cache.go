package memorystore

import (
	"context"
	"sync"
	"time"

	"github.com/PaulFidika/orgkit/entitlements"
	"github.com/google/uuid"
)

// StateCache is an in-memory tenancy.StateCache with TTL.
type StateCache struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	data   map[uuid.UUID]item
	closed chan struct{}
	once   sync.Once
}

type item struct {
	v   entitlements.State
	exp time.Time
}

// NewStateCache creates a cache whose entries live for ttl (default one minute).
// A background goroutine drops expired entries until Close is called.
func NewStateCache(ttl time.Duration) *StateCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	c := &StateCache{ttl: ttl, now: time.Now, data: make(map[uuid.UUID]item), closed: make(chan struct{})}
	go c.cleanupLoop()
	return c
}

func (s *StateCache) Put(_ context.Context, orgID uuid.UUID, v entitlements.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[orgID] = item{v: v, exp: s.now().Add(s.ttl)}
	return nil
}

func (s *StateCache) Get(_ context.Context, orgID uuid.UUID) (entitlements.State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.data[orgID]
	if !ok {
		return entitlements.State{}, false, nil
	}
	if s.now().After(it.exp) {
		delete(s.data, orgID)
		return entitlements.State{}, false, nil
	}
	return it.v, true, nil
}

func (s *StateCache) Del(_ context.Context, orgID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, orgID)
	return nil
}

// Len reports the number of entries, expired or not.
func (s *StateCache) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

func (s *StateCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.closed:
			return
		}
	}
}

func (s *StateCache) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, v := range s.data {
		if now.After(v.exp) {
			delete(s.data, k)
		}
	}
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (s *StateCache) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}
