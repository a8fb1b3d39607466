package access

import (
	"encoding/json"
	"time"

	customer "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/customer/models"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/identity"
	id "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/domain"
)

// RetrieveCommand carries one data retrieval attempt by the requesting
// institution.
type RetrieveCommand struct {
	ConsentID         id.ConsentID
	CallerInstitution string
	CustomerKey       identity.CustomerKey

	// Categories narrows the retrieval. Empty means everything the consent
	// grants; anything outside the grant fails the whole request.
	Categories []customer.Category

	ClientIP    string
	ClientAgent string
}

// Grant is the successful outcome of a retrieval: the released category
// payloads plus enough context for the caller's own records.
type Grant struct {
	ConsentID   id.ConsentID
	CustomerKey identity.CustomerKey
	Categories  []customer.Category
	Data        map[customer.Category]json.RawMessage
	RetrievedAt time.Time

	// UseCount is the total number of successful retrievals under this
	// consent, including this one.
	UseCount int
}
