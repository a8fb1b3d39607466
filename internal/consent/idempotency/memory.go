package idempotency

import (
	"context"
	"sync"
	"time"

	id "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/domain"
)

type entry struct {
	consentID id.ConsentID
	expiresAt time.Time
}

// InMemory provides an in-memory idempotency store with lazy expiry.
type InMemory struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// NewInMemory creates an in-memory idempotency store with the given TTL.
func NewInMemory(ttl time.Duration) *InMemory {
	return &InMemory{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *InMemory) Get(_ context.Context, key string) (id.ConsentID, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || s.now().After(e.expiresAt) {
		return id.ConsentID{}, false, nil
	}
	return e.consentID, true, nil
}

func (s *InMemory) Set(_ context.Context, key string, consentID id.ConsentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{consentID: consentID, expiresAt: s.now().Add(s.ttl)}
	// Opportunistic cleanup keeps the map bounded without a background timer.
	if len(s.entries) > 1024 {
		now := s.now()
		for k, e := range s.entries {
			if now.After(e.expiresAt) {
				delete(s.entries, k)
			}
		}
	}
	return nil
}
