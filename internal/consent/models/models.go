package models

import (
	"time"

	customer "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/customer/models"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/identity"
	id "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/domain"
	dErrors "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/domain-errors"
)

// Audit event actions
const (
	AuditActionConsentRequested = "consent_requested"
	AuditActionConsentApproved  = "consent_approved"
	AuditActionConsentRejected  = "consent_rejected"
	AuditActionConsentRevoked   = "consent_revoked"
)

// Consent is a time-boxed, category-scoped authorization for the requesting
// institution to pull the providing institution's data about one customer.
//
// # Scoping Invariants
//
//   - RequestingInstitution and ProvidingInstitution are always distinct.
//   - DataCategories are fixed at creation and never widened afterwards.
//   - Status changes only through the registry's conditional transitions;
//     no caller sets it directly.
//   - Terminal consents are retained for audit, never physically deleted.
type Consent struct {
	ID                    id.ConsentID
	CustomerKey           identity.CustomerKey
	RequestingInstitution string
	ProvidingInstitution  string
	DataCategories        []customer.Category
	Purpose               string
	CreatedAt             time.Time
	ExpiryDate            time.Time
	Status                Status

	DecidedAt      *time.Time
	DecisionMethod DecisionMethod
	RevokedAt      *time.Time

	// UsedAt and UseCount track redemption. UsedAt gates single-use mode;
	// UseCount feeds the audit trail in both modes.
	UsedAt   *time.Time
	UseCount int
}

// New creates a Consent with domain invariant checks. The consent starts in
// pending approval; the pre-persistence "requested" phase is never observable.
func New(consentID id.ConsentID, customerKey identity.CustomerKey, requesting, providing string,
	categories []customer.Category, purpose string, createdAt, expiryDate time.Time) (*Consent, error) {

	if consentID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "consent ID required")
	}
	if customerKey.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "customer key required")
	}
	if requesting == "" || providing == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "requesting and providing institutions are required")
	}
	if requesting == providing {
		return nil, dErrors.New(dErrors.CodeValidation, "requesting and providing institutions must differ")
	}
	if len(categories) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "dataCategories must not be empty")
	}
	for _, c := range categories {
		if !c.IsValid() {
			return nil, dErrors.New(dErrors.CodeValidation, "invalid data category: "+string(c))
		}
	}
	if purpose == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "purpose is required")
	}
	if !expiryDate.After(createdAt) {
		return nil, dErrors.New(dErrors.CodeValidation, "expiryDate must be in the future")
	}

	return &Consent{
		ID:                    consentID,
		CustomerKey:           customerKey,
		RequestingInstitution: requesting,
		ProvidingInstitution:  providing,
		DataCategories:        categories,
		Purpose:               purpose,
		CreatedAt:             createdAt,
		ExpiryDate:            expiryDate,
		Status:                StatusPendingApproval,
	}, nil
}

// EffectiveStatus reports the consent lifecycle state at the provided time.
// Non-terminal stored states become expired once now passes the expiry date;
// rejected and revoked are sticky.
func (c *Consent) EffectiveStatus(now time.Time) Status {
	if c.Status.IsTerminal() {
		return c.Status
	}
	if now.After(c.ExpiryDate) {
		return StatusExpired
	}
	return c.Status
}

// IsRedeemable reports whether data may be released under this consent at
// the given time. Approval is the only releasing state, and only while the
// consent is unexpired.
func (c *Consent) IsRedeemable(now time.Time) bool {
	return c.EffectiveStatus(now) == StatusApproved
}

// Covers checks requested categories against the grant. It returns the
// requested categories that are NOT covered; an empty result means the
// request is within scope. Partial grants are never silently narrowed.
func (c *Consent) Covers(requested []customer.Category) []customer.Category {
	granted := make(map[customer.Category]struct{}, len(c.DataCategories))
	for _, g := range c.DataCategories {
		granted[g] = struct{}{}
	}
	var missing []customer.Category
	for _, r := range requested {
		if _, ok := granted[r]; !ok {
			missing = append(missing, r)
		}
	}
	return missing
}

// Clone returns a copy so stores can hand out consents without aliasing.
func (c *Consent) Clone() *Consent {
	dup := *c
	dup.DataCategories = append([]customer.Category(nil), c.DataCategories...)
	if c.DecidedAt != nil {
		t := *c.DecidedAt
		dup.DecidedAt = &t
	}
	if c.RevokedAt != nil {
		t := *c.RevokedAt
		dup.RevokedAt = &t
	}
	if c.UsedAt != nil {
		t := *c.UsedAt
		dup.UsedAt = &t
	}
	return &dup
}
