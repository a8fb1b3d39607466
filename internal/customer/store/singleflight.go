package store

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/customer/models"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/identity"
)

// DedupingStore wraps a Store and collapses concurrent identical reads into
// a single underlying call. Retrievals against the same approved consent are
// idempotent reads, so burst traffic should not multiply record-store load.
type DedupingStore struct {
	inner Store
	group singleflight.Group
}

// NewDeduping wraps the given store with read deduplication.
func NewDeduping(inner Store) *DedupingStore {
	return &DedupingStore{inner: inner}
}

func (s *DedupingStore) Get(ctx context.Context, institutionID string, key identity.CustomerKey) (*models.Record, error) {
	v, err, _ := s.group.Do("get|"+institutionID+"|"+string(key), func() (any, error) {
		return s.inner.Get(ctx, institutionID, key)
	})
	if err != nil {
		return nil, err
	}
	// Each caller gets its own copy; the shared result must stay immutable.
	return v.(*models.Record).Clone(), nil
}

func (s *DedupingStore) FindByKey(ctx context.Context, key identity.CustomerKey) (*models.Record, error) {
	v, err, _ := s.group.Do("find|"+string(key), func() (any, error) {
		return s.inner.FindByKey(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Record).Clone(), nil
}

func (s *DedupingStore) Put(ctx context.Context, record *models.Record) error {
	return s.inner.Put(ctx, record)
}
