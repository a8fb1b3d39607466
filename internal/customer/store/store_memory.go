package store

import (
	"context"
	"sync"

	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/customer/models"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/identity"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/platform/sentinel"
)

// InMemoryStore keeps customer records in memory for development and tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[identity.CustomerKey]*models.Record
}

// NewInMemory constructs an empty in-memory customer store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]map[identity.CustomerKey]*models.Record)}
}

func (s *InMemoryStore) Get(_ context.Context, institutionID string, key identity.CustomerKey) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[institutionID][key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return record.Clone(), nil
}

func (s *InMemoryStore) FindByKey(_ context.Context, key identity.CustomerKey) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, byKey := range s.records {
		if record, ok := byKey[key]; ok {
			return record.Clone(), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) Put(_ context.Context, record *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKey, ok := s.records[record.Institution]
	if !ok {
		byKey = make(map[identity.CustomerKey]*models.Record)
		s.records[record.Institution] = byKey
	}
	byKey[record.CustomerKey] = record.Clone()
	return nil
}
