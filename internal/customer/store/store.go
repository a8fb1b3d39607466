package store

import (
	"context"

	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/customer/models"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/identity"
)

// Store is the customer record store contract.
//
// Error Contract:
// - Get and FindByKey return sentinel.ErrNotFound when no record exists
// - Infrastructure failures are wrapped sentinel.ErrUnavailable so the
//   access gate can surface them as retryable, never as released data
type Store interface {
	// Get loads the record a specific institution holds for the customer.
	Get(ctx context.Context, institutionID string, key identity.CustomerKey) (*models.Record, error)

	// FindByKey returns any institution's record for the customer; used for
	// existence checks and originator lookup, never for data release.
	FindByKey(ctx context.Context, key identity.CustomerKey) (*models.Record, error)

	// Put stores a record. Used during onboarding and seeding only; the
	// consent core never writes customer data.
	Put(ctx context.Context, record *models.Record) error
}
