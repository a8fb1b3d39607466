// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"github.com/google/uuid"

	dErrors "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/domain-errors"
)

// ConsentID identifies a consent record. Globally unique and opaque to callers.
type ConsentID uuid.UUID

// NewConsentID generates a fresh consent ID.
func NewConsentID() ConsentID {
	return ConsentID(uuid.New())
}

// ParseConsentID validates an externally supplied consent ID.
// Use at trust boundaries (handlers, API inputs).
func ParseConsentID(s string) (ConsentID, error) {
	if s == "" {
		return ConsentID(uuid.Nil), dErrors.New(dErrors.CodeValidation, "consent ID cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return ConsentID(uuid.Nil), dErrors.New(dErrors.CodeValidation, "invalid consent ID format")
	}
	return ConsentID(id), nil
}

// String returns the canonical UUID form for logging and responses.
func (id ConsentID) String() string { return uuid.UUID(id).String() }

// IsNil reports whether the ID is unset.
func (id ConsentID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
