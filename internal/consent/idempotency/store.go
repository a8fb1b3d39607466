// Package idempotency maps caller-supplied idempotency keys to consent ids
// so duplicate create submissions return the original consent instead of
// minting a second one.
package idempotency

import (
	"context"

	id "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/domain"
)

// Store provides idempotency key storage for consent creation.
type Store interface {
	// Get returns the consent id recorded for the key, or ok=false when the
	// key is unknown or expired.
	Get(ctx context.Context, key string) (id.ConsentID, bool, error)

	// Set records the consent id for the key with the store's TTL.
	Set(ctx context.Context, key string, consentID id.ConsentID) error
}
