package models

import (
	"encoding/json"
	"time"

	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/identity"
	dErrors "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/domain-errors"
)

// Category names a partition of a customer record that can be independently
// granted or withheld under a consent.
type Category string

const (
	CategoryBasicData          Category = "basicData"
	CategoryContactInformation Category = "contactInformation"
	CategoryAddressData        Category = "addressData"
	CategoryIdentification     Category = "identification"
	CategoryKYCData            Category = "kycData"
	CategoryComplianceData     Category = "complianceData"
)

// ValidCategories is the single source of truth for all data categories.
var ValidCategories = map[Category]bool{
	CategoryBasicData:          true,
	CategoryContactInformation: true,
	CategoryAddressData:        true,
	CategoryIdentification:     true,
	CategoryKYCData:            true,
	CategoryComplianceData:     true,
}

// IsValid checks if the category is one of the supported enum values.
func (c Category) IsValid() bool {
	return ValidCategories[c]
}

// ParseCategory converts an external string into a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "invalid data category: "+s)
	}
	return c, nil
}

// ParseCategories converts and dedupes a list of category strings,
// preserving order.
func ParseCategories(in []string) ([]Category, error) {
	seen := make(map[Category]struct{}, len(in))
	out := make([]Category, 0, len(in))
	for _, s := range in {
		c, err := ParseCategory(s)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out, nil
}

// Metadata describes provenance and verification state of a customer record.
type Metadata struct {
	Originator         string    `json:"originator"`
	CreatedAt          time.Time `json:"createdAt"`
	LastUpdated        time.Time `json:"lastUpdated"`
	Version            string    `json:"version"`
	DataClassification string    `json:"dataClassification"`
	VerificationStatus string    `json:"verificationStatus"`
}

// Record is a per-institution customer profile keyed by the pseudonymous
// customer key. Category payloads are opaque to this core: the engine
// projects and withholds them whole, it never interprets their contents.
type Record struct {
	CustomerKey identity.CustomerKey
	Institution string
	Categories  map[Category]json.RawMessage
	Metadata    Metadata
}

// Project returns a copy of the record's payloads restricted to the given
// categories. Categories absent from the record are skipped silently; the
// consent layer has already validated the request against the grant.
func (r *Record) Project(categories []Category) map[Category]json.RawMessage {
	out := make(map[Category]json.RawMessage, len(categories))
	for _, c := range categories {
		if payload, ok := r.Categories[c]; ok {
			dup := make(json.RawMessage, len(payload))
			copy(dup, payload)
			out[c] = dup
		}
	}
	return out
}

// Clone returns a deep copy so stores can hand out records without aliasing
// their internal state.
func (r *Record) Clone() *Record {
	dup := *r
	dup.Categories = make(map[Category]json.RawMessage, len(r.Categories))
	for c, payload := range r.Categories {
		p := make(json.RawMessage, len(payload))
		copy(p, payload)
		dup.Categories[c] = p
	}
	return &dup
}
