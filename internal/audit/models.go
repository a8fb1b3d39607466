package audit

import "time"

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp             time.Time `json:"timestamp"`
	Action                string    `json:"action"`
	ConsentID             string    `json:"consent_id,omitempty"`
	CustomerKey           string    `json:"customer_key,omitempty"`
	RequestingInstitution string    `json:"requesting_institution,omitempty"`
	ProvidingInstitution  string    `json:"providing_institution,omitempty"`
	CallerInstitution     string    `json:"caller_institution,omitempty"`
	Purpose               string    `json:"purpose,omitempty"`
	Categories            []string  `json:"categories,omitempty"`
	Decision              string    `json:"decision,omitempty"`
	Reason                string    `json:"reason,omitempty"`
	Method                string    `json:"method,omitempty"`
	ClientIP              string    `json:"client_ip,omitempty"`
	ClientAgent           string    `json:"client_agent,omitempty"`
}

// Audit decisions
const (
	DecisionGranted = "granted"
	DecisionDenied  = "denied"
)

// Access audit actions
const (
	ActionDataAccessGranted = "data_access_granted"
	ActionDataAccessDenied  = "data_access_denied"
	ActionCustomerChecked   = "customer_checked"
)
