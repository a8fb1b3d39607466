package httptransport

import (
	"time"

	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/consent/models"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/facade"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/identity"
)

// CustomerCheckResponse reports whether the customer is known to the network.
// Beyond the originating institution and record freshness, the check never
// reveals which institutions hold the customer or any record contents.
type CustomerCheckResponse struct {
	Exists             bool       `json:"exists"`
	SharedCustomerHash string     `json:"sharedCustomerHash"`
	Originator         string     `json:"originator,omitempty"`
	LastUpdated        *time.Time `json:"lastUpdated,omitempty"`
}

func toCustomerCheckResponse(key identity.CustomerKey, e facade.CustomerExistence) *CustomerCheckResponse {
	resp := &CustomerCheckResponse{
		Exists:             e.Exists,
		SharedCustomerHash: key.String(),
		Originator:         e.Originator,
	}
	if !e.LastUpdated.IsZero() {
		updated := e.LastUpdated
		resp.LastUpdated = &updated
	}
	return resp
}

// ConsentResponse is the external view of a consent. Status is the effective
// status at response time, so an expired consent reads as expired even though
// nothing was written back.
type ConsentResponse struct {
	ConsentID             string     `json:"consentId"`
	Status                string     `json:"status"`
	RequestingInstitution string     `json:"requestingInstitution"`
	ProvidingInstitution  string     `json:"providingInstitution"`
	DataCategories        []string   `json:"dataCategories"`
	Purpose               string     `json:"purpose"`
	CreatedAt             time.Time  `json:"createdAt"`
	ExpiryDate            time.Time  `json:"expiryDate"`
	DecidedAt             *time.Time `json:"decidedAt,omitempty"`
	DecisionMethod        string     `json:"decisionMethod,omitempty"`
	RevokedAt             *time.Time `json:"revokedAt,omitempty"`
	UseCount              int        `json:"useCount"`
}

func toConsentResponse(c *models.Consent, now time.Time) *ConsentResponse {
	categories := make([]string, len(c.DataCategories))
	for i, cat := range c.DataCategories {
		categories[i] = string(cat)
	}
	return &ConsentResponse{
		ConsentID:             c.ID.String(),
		Status:                string(c.EffectiveStatus(now)),
		RequestingInstitution: c.RequestingInstitution,
		ProvidingInstitution:  c.ProvidingInstitution,
		DataCategories:        categories,
		Purpose:               c.Purpose,
		CreatedAt:             c.CreatedAt,
		ExpiryDate:            c.ExpiryDate,
		DecidedAt:             c.DecidedAt,
		DecisionMethod:        string(c.DecisionMethod),
		RevokedAt:             c.RevokedAt,
		UseCount:              c.UseCount,
	}
}
