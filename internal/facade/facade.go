// Package facade composes the customer directory, consent registry, and
// access gate into the operation set transports expose. It performs no
// authorization of its own; every check lives in the registry or the gate,
// and the caller institution identity is trusted as already authenticated.
package facade

import (
	"context"
	"errors"
	"time"

	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/access"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/consent/models"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/consent/service"
	customer "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/customer/models"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/identity"
	id "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/domain"
	dErrors "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/domain-errors"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/platform/sentinel"
)

// ConsentRegistry is the consent lifecycle surface the facade composes.
type ConsentRegistry interface {
	Create(ctx context.Context, cmd service.CreateCommand) (*models.Consent, error)
	Decide(ctx context.Context, cmd service.DecideCommand) (*models.Consent, error)
	Revoke(ctx context.Context, consentID id.ConsentID, callerInstitution string) (*models.Consent, error)
	Get(ctx context.Context, consentID id.ConsentID) (*models.Consent, error)
	Now() time.Time
}

// AccessGate releases customer data under an approved consent.
type AccessGate interface {
	Retrieve(ctx context.Context, cmd access.RetrieveCommand) (*access.Grant, error)
}

// CustomerDirectory looks up customer records by pseudonymous key.
// Absence surfaces as sentinel.ErrNotFound.
type CustomerDirectory interface {
	FindByKey(ctx context.Context, key identity.CustomerKey) (*customer.Record, error)
}

// CustomerExistence answers a network-wide existence check. Provenance
// fields are zero when the customer is unknown; existence itself is the
// only bit released about the record's contents.
type CustomerExistence struct {
	Exists      bool
	Originator  string
	LastUpdated time.Time
}

// Facade is the single entry point transports call into.
type Facade struct {
	consents  ConsentRegistry
	gate      AccessGate
	customers CustomerDirectory
}

func New(consents ConsentRegistry, gate AccessGate, customers CustomerDirectory) *Facade {
	return &Facade{
		consents:  consents,
		gate:      gate,
		customers: customers,
	}
}

// CheckCustomerExists reports whether a record for the key is held anywhere
// in the network. A missing record is a normal negative answer, not an
// error; directory failures surface as unavailable so callers can retry.
func (f *Facade) CheckCustomerExists(ctx context.Context, key identity.CustomerKey) (CustomerExistence, error) {
	record, err := f.customers.FindByKey(ctx, key)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return CustomerExistence{}, nil
		}
		return CustomerExistence{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "customer directory unavailable")
	}
	return CustomerExistence{
		Exists:      true,
		Originator:  record.Metadata.Originator,
		LastUpdated: record.Metadata.LastUpdated,
	}, nil
}

// CreateConsent registers a new consent in pending approval.
func (f *Facade) CreateConsent(ctx context.Context, cmd service.CreateCommand) (*models.Consent, error) {
	return f.consents.Create(ctx, cmd)
}

// DecideConsent records the customer's approve/reject decision, relayed by
// the providing institution.
func (f *Facade) DecideConsent(ctx context.Context, cmd service.DecideCommand) (*models.Consent, error) {
	return f.consents.Decide(ctx, cmd)
}

// RevokeConsent withdraws an approved consent on the customer's behalf.
func (f *Facade) RevokeConsent(ctx context.Context, consentID id.ConsentID, callerInstitution string) (*models.Consent, error) {
	return f.consents.Revoke(ctx, consentID, callerInstitution)
}

// GetConsentStatus returns the consent's current state.
func (f *Facade) GetConsentStatus(ctx context.Context, consentID id.ConsentID) (*models.Consent, error) {
	return f.consents.Get(ctx, consentID)
}

// RetrieveData redeems a consent through the access gate and returns the
// released category payloads.
func (f *Facade) RetrieveData(ctx context.Context, cmd access.RetrieveCommand) (*access.Grant, error) {
	return f.gate.Retrieve(ctx, cmd)
}

// Now exposes the registry's clock so transports render effective status
// against the same time source the state machine uses.
func (f *Facade) Now() time.Time {
	return f.consents.Now()
}
