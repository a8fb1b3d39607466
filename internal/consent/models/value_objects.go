package models

// Status represents the stored lifecycle state of a consent.
//
// Expiry is deliberately NOT a stored status: it is a predicate over
// CreatedAt/ExpiryDate computed at read time (see Consent.EffectiveStatus),
// so every consumer evaluates it identically and no background sweeper or
// clock-skew-sensitive writeback exists.
type Status string

const (
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusRevoked         Status = "revoked"

	// StatusExpired is computed, never persisted.
	StatusExpired Status = "expired"
)

// IsValidStored checks if the status is one of the persistable enum values.
func (s Status) IsValidStored() bool {
	switch s {
	case StatusPendingApproval, StatusApproved, StatusRejected, StatusRevoked:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible from the
// stored status.
func (s Status) IsTerminal() bool {
	return s == StatusRejected || s == StatusRevoked
}

// DecisionMethod records the channel through which the customer decided.
type DecisionMethod string

const (
	DecisionMethodMobileApp DecisionMethod = "mobile_app"
	DecisionMethodWebPortal DecisionMethod = "web_portal"
	DecisionMethodBranch    DecisionMethod = "branch"
	DecisionMethodUnknown   DecisionMethod = ""
)
