package store

import (
	"context"
	"sync"

	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/consent/models"
	id "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/domain"
	psync "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/platform/sync"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/platform/sentinel"
)

// InMemoryStore stores consents in memory for development and tests.
// Transitions serialize per consent id via a sharded mutex; independent
// consents never contend on a global lock.
type InMemoryStore struct {
	mu       sync.RWMutex
	consents map[id.ConsentID]*models.Consent
	keyed    *psync.ShardedMutex
}

// NewInMemory constructs an empty in-memory consent store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		consents: make(map[id.ConsentID]*models.Consent),
		keyed:    psync.NewShardedMutex(),
	}
}

func (s *InMemoryStore) Save(_ context.Context, consent *models.Consent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.consents[consent.ID]; exists {
		return sentinel.ErrConflict
	}
	s.consents[consent.ID] = consent.Clone()
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, consentID id.ConsentID) (*models.Consent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	consent, ok := s.consents[consentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return consent.Clone(), nil
}

func (s *InMemoryStore) Execute(_ context.Context, consentID id.ConsentID,
	validate func(*models.Consent) error, mutate func(*models.Consent)) (*models.Consent, error) {

	s.keyed.Lock(consentID.String())
	defer s.keyed.Unlock(consentID.String())

	s.mu.RLock()
	stored, ok := s.consents[consentID]
	s.mu.RUnlock()
	if !ok {
		return nil, sentinel.ErrNotFound
	}

	// Validate and mutate a working copy; only swap it in on success.
	working := stored.Clone()
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)

	s.mu.Lock()
	s.consents[consentID] = working
	s.mu.Unlock()

	return working.Clone(), nil
}
