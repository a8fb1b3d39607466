package httptransport

import (
	"strings"
	"time"

	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/consent/models"
	customer "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/customer/models"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/identity"
	dErrors "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/domain-errors"
)

// maxCategories bounds request category lists; the enum is small, anything
// longer is a malformed request.
const maxCategories = 16

// BasicData carries the identifying attributes the customer key is derived
// from. Nationality follows the upstream wire format as a list; only the
// first entry participates in key derivation.
type BasicData struct {
	LastName    string   `json:"lastName"`
	GivenName   string   `json:"givenName"`
	BirthDate   string   `json:"birthDate"`
	Nationality []string `json:"nationality"`
}

func (b *BasicData) nationality() string {
	if b == nil || len(b.Nationality) == 0 {
		return ""
	}
	return b.Nationality[0]
}

// CustomerCheckRequest asks whether any institution knows the customer.
// Callers send the attributes, the precomputed hash, or both; when both are
// present they must agree.
type CustomerCheckRequest struct {
	SharedCustomerHash string     `json:"sharedCustomerHash,omitempty"`
	BasicData          *BasicData `json:"basicData,omitempty"`
}

func (r *CustomerCheckRequest) Normalize() {
	if r == nil {
		return
	}
	r.SharedCustomerHash = strings.TrimSpace(r.SharedCustomerHash)
}

// ResolveKey derives or parses the customer key from the request.
func (r *CustomerCheckRequest) ResolveKey() (identity.CustomerKey, error) {
	if r == nil || (r.SharedCustomerHash == "" && r.BasicData == nil) {
		return "", dErrors.New(dErrors.CodeValidation, "sharedCustomerHash or basicData is required")
	}
	if r.BasicData != nil {
		key, err := identity.Resolve(r.BasicData.LastName, r.BasicData.GivenName,
			r.BasicData.BirthDate, r.BasicData.nationality())
		if err != nil {
			return "", err
		}
		if r.SharedCustomerHash != "" && !strings.EqualFold(r.SharedCustomerHash, key.String()) {
			return "", dErrors.New(dErrors.CodeValidation, "sharedCustomerHash does not match basicData")
		}
		return key, nil
	}
	return identity.ParseKey(r.SharedCustomerHash)
}

// CreateConsentRequest asks for a new consent in pending approval.
type CreateConsentRequest struct {
	CustomerID            string   `json:"customerId"`
	RequestingInstitution string   `json:"requestingInstitution"`
	ProvidingInstitution  string   `json:"providingInstitution"`
	DataCategories        []string `json:"dataCategories"`
	Purpose               string   `json:"purpose"`
	ExpiryDate            string   `json:"expiryDate"`

	// CustomerContactMethod is advisory for the providing institution's
	// approval flow; the engine stores nothing from it.
	CustomerContactMethod string `json:"customerContactMethod,omitempty"`
}

func (r *CreateConsentRequest) Normalize() {
	if r == nil {
		return
	}
	r.CustomerID = strings.TrimSpace(r.CustomerID)
	r.RequestingInstitution = strings.TrimSpace(r.RequestingInstitution)
	r.ProvidingInstitution = strings.TrimSpace(r.ProvidingInstitution)
	r.Purpose = strings.TrimSpace(r.Purpose)
}

// Validate checks well-formedness against the authenticated caller. The
// requesting institution is always the caller; a body value naming someone
// else is rejected rather than honored.
func (r *CreateConsentRequest) Validate(caller string) error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.RequestingInstitution != "" && r.RequestingInstitution != caller {
		return dErrors.New(dErrors.CodeValidation, "requestingInstitution must match the authenticated institution")
	}
	if r.ProvidingInstitution == "" {
		return dErrors.New(dErrors.CodeValidation, "providingInstitution is required")
	}
	if len(r.DataCategories) > maxCategories {
		return dErrors.New(dErrors.CodeValidation, "too many dataCategories")
	}
	if r.CustomerID == "" {
		return dErrors.New(dErrors.CodeValidation, "customerId is required")
	}
	return nil
}

// Categories converts the request categories into domain categories.
func (r *CreateConsentRequest) Categories() ([]customer.Category, error) {
	return customer.ParseCategories(r.DataCategories)
}

// Expiry parses the expiry date, accepting RFC 3339 with or without a time
// component.
func (r *CreateConsentRequest) Expiry() (time.Time, error) {
	s := strings.TrimSpace(r.ExpiryDate)
	if s == "" {
		return time.Time{}, dErrors.New(dErrors.CodeValidation, "expiryDate is required")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, dErrors.New(dErrors.CodeValidation, "expiryDate must be an ISO 8601 timestamp")
}

// DecideConsentRequest relays the customer's approval or rejection.
type DecideConsentRequest struct {
	CustomerApproved  bool   `json:"customerApproved"`
	ApprovalMethod    string `json:"approvalMethod,omitempty"`
	ApprovalTimestamp string `json:"approvalTimestamp,omitempty"`
}

// Method maps the wire approval method onto the domain enum. Unknown values
// degrade to unknown rather than failing the decision.
func (r *DecideConsentRequest) Method() models.DecisionMethod {
	switch strings.TrimSpace(r.ApprovalMethod) {
	case string(models.DecisionMethodMobileApp):
		return models.DecisionMethodMobileApp
	case string(models.DecisionMethodWebPortal):
		return models.DecisionMethodWebPortal
	case string(models.DecisionMethodBranch):
		return models.DecisionMethodBranch
	default:
		return models.DecisionMethodUnknown
	}
}

// CustomerDataRequest redeems a consent for the covered data.
type CustomerDataRequest struct {
	SharedCustomerHash string   `json:"sharedCustomerHash"`
	ConsentID          string   `json:"consentId"`
	DataCategories     []string `json:"dataCategories,omitempty"`
}

func (r *CustomerDataRequest) Normalize() {
	if r == nil {
		return
	}
	r.SharedCustomerHash = strings.TrimSpace(r.SharedCustomerHash)
	r.ConsentID = strings.TrimSpace(r.ConsentID)
}

func (r *CustomerDataRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.SharedCustomerHash == "" {
		return dErrors.New(dErrors.CodeValidation, "sharedCustomerHash is required")
	}
	if r.ConsentID == "" {
		return dErrors.New(dErrors.CodeValidation, "consentId is required")
	}
	if len(r.DataCategories) > maxCategories {
		return dErrors.New(dErrors.CodeValidation, "too many dataCategories")
	}
	return nil
}

// Categories converts the request categories into domain categories.
// Empty is allowed and means the full grant.
func (r *CustomerDataRequest) Categories() ([]customer.Category, error) {
	if len(r.DataCategories) == 0 {
		return nil, nil
	}
	return customer.ParseCategories(r.DataCategories)
}
