// Package seeder loads demo customer records so the service can run the
// cross-institution flows end to end without an onboarding pipeline.
package seeder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	customer "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/customer/models"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/customer/store"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/identity"
)

// Seed writes the sample customer held by the demo bank. Existing records
// are overwritten so repeated startups stay deterministic.
func Seed(ctx context.Context, records store.Store, logger *slog.Logger) error {
	key, err := identity.Resolve("Müller", "Hans Peter", "1985-03-15", "CH")
	if err != nil {
		return fmt.Errorf("derive sample customer key: %w", err)
	}

	now := time.Now().UTC()
	record := &customer.Record{
		CustomerKey: key,
		Institution: "CH-BANK-001",
		Categories: map[customer.Category]json.RawMessage{
			customer.CategoryBasicData: json.RawMessage(`{
				"lastName": "Müller",
				"givenName": "Hans Peter",
				"birthDate": "1985-03-15",
				"nationality": ["CH"],
				"gender": "male",
				"maritalStatus": "married",
				"language": "de"
			}`),
			customer.CategoryContactInformation: json.RawMessage(`{
				"primaryEmail": "hans.mueller@example.ch",
				"mobilePhone": "+41791112233",
				"preferredContactMethod": "email",
				"communicationLanguage": "de"
			}`),
			customer.CategoryAddressData: json.RawMessage(`{
				"residentialAddress": {
					"street": "Bahnhofstrasse 15",
					"postalCode": "8001",
					"city": "Zürich",
					"region": "ZH",
					"country": "CH",
					"addressType": "residential"
				}
			}`),
			customer.CategoryIdentification: json.RawMessage(`{
				"identificationMethod": "video_identification",
				"documentType": "passport",
				"documentNumber": "X1234567",
				"issuingAuthority": "Kanton Zürich",
				"issuingCountry": "CH",
				"levelOfAssurance": "high",
				"verificationMethod": "video_ident_with_document"
			}`),
			customer.CategoryKYCData: json.RawMessage(`{
				"occupation": "Software Engineer",
				"employer": "Tech Solutions AG",
				"employmentType": "employed",
				"annualIncome": {"amount": 120000, "currency": "CHF"},
				"totalAssets": {"amount": 250000, "currency": "CHF"},
				"sourceOfFunds": "salary",
				"pepStatus": false
			}`),
			customer.CategoryComplianceData: json.RawMessage(`{
				"fatcaStatus": "non_us_person",
				"crsReportable": false,
				"taxResidencies": [
					{"country": "CH", "isPrimary": true, "tinNumber": "756.1234.5678.90"}
				],
				"sanctionsScreening": {
					"sanctionsList": "clear",
					"pepCheck": "clear",
					"adverseMedia": "clear"
				},
				"amlRiskRating": "low"
			}`),
		},
		Metadata: customer.Metadata{
			Originator:         "CH-BANK-001",
			CreatedAt:          now,
			LastUpdated:        now,
			Version:            "1.0",
			DataClassification: "confidential",
			VerificationStatus: "verified",
		},
	}

	if err := records.Put(ctx, record); err != nil {
		return fmt.Errorf("seed sample customer: %w", err)
	}
	logger.Info("sample customer seeded",
		"institution_id", record.Institution,
		"customer_key", key.String(),
	)
	return nil
}
