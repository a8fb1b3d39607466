package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/customer/models"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/identity"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/platform/sentinel"
)

func sampleRecord(t *testing.T, institution string) *models.Record {
	t.Helper()
	key, err := identity.Resolve("Müller", "Hans Peter", "1985-03-15", "CH")
	require.NoError(t, err)
	return &models.Record{
		CustomerKey: key,
		Institution: institution,
		Categories: map[models.Category]json.RawMessage{
			models.CategoryBasicData: json.RawMessage(`{"lastName":"Müller"}`),
			models.CategoryKYCData:   json.RawMessage(`{"occupation":"Software Engineer"}`),
		},
		Metadata: models.Metadata{Originator: institution, VerificationStatus: "verified"},
	}
}

func TestInMemoryStoreOperations(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()
	record := sampleRecord(t, "CH-BANK-001")

	// Put and get
	require.NoError(t, store.Put(ctx, record))
	fetched, err := store.Get(ctx, "CH-BANK-001", record.CustomerKey)
	require.NoError(t, err)
	assert.Equal(t, record.CustomerKey, fetched.CustomerKey)

	// Get is scoped per institution
	_, err = store.Get(ctx, "CH-BANK-002", record.CustomerKey)
	require.ErrorIs(t, err, sentinel.ErrNotFound)

	// FindByKey ignores institution scoping
	found, err := store.FindByKey(ctx, record.CustomerKey)
	require.NoError(t, err)
	assert.Equal(t, "CH-BANK-001", found.Institution)

	// Copy integrity: mutating a fetched record must not affect the store
	fetched.Categories[models.CategoryBasicData] = json.RawMessage(`{"tampered":true}`)
	again, err := store.Get(ctx, "CH-BANK-001", record.CustomerKey)
	require.NoError(t, err)
	assert.JSONEq(t, `{"lastName":"Müller"}`, string(again.Categories[models.CategoryBasicData]))

	// Unknown customer
	unknown, err := identity.Resolve("Schmidt", "Anna", "1990-05-20", "CH")
	require.NoError(t, err)
	_, err = store.FindByKey(ctx, unknown)
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestRecordProject(t *testing.T) {
	record := sampleRecord(t, "CH-BANK-001")

	projected := record.Project([]models.Category{models.CategoryBasicData})
	require.Len(t, projected, 1)
	assert.Contains(t, projected, models.CategoryBasicData)
	assert.NotContains(t, projected, models.CategoryKYCData)

	// Absent categories are skipped, not invented
	projected = record.Project([]models.Category{models.CategoryAddressData})
	assert.Empty(t, projected)
}

func TestDedupingStoreReturnsCopies(t *testing.T) {
	inner := NewInMemory()
	ctx := context.Background()
	record := sampleRecord(t, "CH-BANK-001")
	require.NoError(t, inner.Put(ctx, record))

	store := NewDeduping(inner)

	first, err := store.Get(ctx, "CH-BANK-001", record.CustomerKey)
	require.NoError(t, err)
	first.Categories[models.CategoryBasicData] = json.RawMessage(`{"tampered":true}`)

	second, err := store.Get(ctx, "CH-BANK-001", record.CustomerKey)
	require.NoError(t, err)
	assert.JSONEq(t, `{"lastName":"Müller"}`, string(second.Categories[models.CategoryBasicData]))

	_, err = store.Get(ctx, "CH-BANK-002", record.CustomerKey)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
