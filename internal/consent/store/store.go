package store

import (
	"context"

	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/consent/models"
	id "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/domain"
)

// Store is the consent persistence contract: durable key-value semantics
// keyed by consent id with atomic conditional update for state transitions.
//
// Error Contract:
// - FindByID and Execute return sentinel.ErrNotFound for unknown ids
// - Save returns sentinel.ErrConflict when the id already exists
// - Execute aborts with the validate error untouched, so services control
//   the domain error surfaced for losing racers
// - Infrastructure failures wrap sentinel.ErrUnavailable
type Store interface {
	Save(ctx context.Context, consent *models.Consent) error

	FindByID(ctx context.Context, consentID id.ConsentID) (*models.Consent, error)

	// Execute atomically validates and mutates a consent under a per-id
	// lock. Concurrent Execute calls on the same consent serialize; calls
	// on different consents do not contend. If validate returns an error
	// the consent is left unchanged and the error is returned verbatim.
	Execute(ctx context.Context, consentID id.ConsentID,
		validate func(*models.Consent) error,
		mutate func(*models.Consent)) (*models.Consent, error)
}
