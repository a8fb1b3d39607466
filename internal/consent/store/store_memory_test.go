package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/consent/models"
	customer "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/customer/models"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/identity"
	id "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/domain"
	dErrors "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/domain-errors"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/platform/sentinel"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/testutil"
)

func newConsent(t *testing.T) *models.Consent {
	t.Helper()
	key, err := identity.Resolve("Müller", "Hans Peter", "1985-03-15", "CH")
	require.NoError(t, err)
	now := time.Now()
	consent, err := models.New(id.NewConsentID(), key, "CH-INSURANCE-001", "CH-BANK-001",
		[]customer.Category{customer.CategoryBasicData}, "car_insurance_application",
		now, now.Add(30*24*time.Hour))
	require.NoError(t, err)
	return consent
}

func TestInMemoryStoreSaveAndFind(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()
	consent := newConsent(t)

	require.NoError(t, store.Save(ctx, consent))

	fetched, err := store.FindByID(ctx, consent.ID)
	require.NoError(t, err)
	assert.Equal(t, consent.ID, fetched.ID)
	assert.Equal(t, models.StatusPendingApproval, fetched.Status)

	// Duplicate id is rejected
	require.ErrorIs(t, store.Save(ctx, consent), sentinel.ErrConflict)

	// Unknown id
	_, err = store.FindByID(ctx, id.NewConsentID())
	require.ErrorIs(t, err, sentinel.ErrNotFound)

	// Copy integrity
	fetched.Status = models.StatusApproved
	again, err := store.FindByID(ctx, consent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingApproval, again.Status)
}

func TestExecuteValidateFailureLeavesConsentUnchanged(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()
	consent := newConsent(t)
	require.NoError(t, store.Save(ctx, consent))

	_, err := store.Execute(ctx, consent.ID,
		func(c *models.Consent) error {
			return dErrors.NewConflict(dErrors.ReasonAlreadyDecided, "consent already decided")
		},
		func(c *models.Consent) { c.Status = models.StatusApproved },
	)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))

	fetched, err := store.FindByID(ctx, consent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingApproval, fetched.Status)
}

func TestExecuteUnknownConsent(t *testing.T) {
	store := NewInMemory()
	_, err := store.Execute(context.Background(), id.NewConsentID(),
		func(*models.Consent) error { return nil },
		func(*models.Consent) {},
	)
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

// TestExecuteSerializesConcurrentTransitions is the store-level half of the
// single-shot decide guarantee: many racers, exactly one winner.
func TestExecuteSerializesConcurrentTransitions(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()
	consent := newConsent(t)
	require.NoError(t, store.Save(ctx, consent))

	const racers = 16
	result := testutil.RunConcurrent(racers, func(idx int) error {
		_, err := store.Execute(ctx, consent.ID,
			func(c *models.Consent) error {
				if c.Status != models.StatusPendingApproval {
					return dErrors.NewConflict(dErrors.ReasonAlreadyDecided, "consent already decided")
				}
				return nil
			},
			func(c *models.Consent) {
				if idx%2 == 0 {
					c.Status = models.StatusApproved
				} else {
					c.Status = models.StatusRejected
				}
			},
		)
		return err
	})

	assert.Equal(t, int32(1), result.Successes)
	assert.Equal(t, int32(racers-1), result.Conflicts)

	fetched, err := store.FindByID(ctx, consent.ID)
	require.NoError(t, err)
	assert.Contains(t, []models.Status{models.StatusApproved, models.StatusRejected}, fetched.Status)
}
