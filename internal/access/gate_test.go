package access

// Gate tests run against the real in-memory stores rather than mocks: the
// ordered checks and the redeem race only mean something with the actual
// conditional-update semantics underneath.

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/audit"
	consent "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/consent/models"
	consentstore "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/consent/store"
	customer "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/customer/models"
	customerstore "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/customer/store"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/identity"
	id "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/domain"
	dErrors "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/domain-errors"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/platform/sentinel"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/testutil"
)

const (
	requesting = "CH-INSURANCE-001"
	providing  = "CH-BANK-001"
)

type GateSuite struct {
	suite.Suite
	consents   *consentstore.InMemoryStore
	records    *customerstore.InMemoryStore
	auditStore *audit.InMemoryStore
	now        time.Time
	key        identity.CustomerKey
}

func (s *GateSuite) SetupTest() {
	s.consents = consentstore.NewInMemory()
	s.records = customerstore.NewInMemory()
	s.auditStore = audit.NewInMemoryStore()
	s.now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	key, err := identity.Resolve("Müller", "Hans Peter", "1985-03-15", "CH")
	s.Require().NoError(err)
	s.key = key

	s.Require().NoError(s.records.Put(context.Background(), &customer.Record{
		CustomerKey: s.key,
		Institution: providing,
		Categories: map[customer.Category]json.RawMessage{
			customer.CategoryBasicData:   json.RawMessage(`{"lastName":"Müller","givenName":"Hans Peter"}`),
			customer.CategoryAddressData: json.RawMessage(`{"city":"Zürich"}`),
			customer.CategoryKYCData:     json.RawMessage(`{"riskClass":"low"}`),
		},
	}))
}

func TestGateSuite(t *testing.T) {
	suite.Run(t, new(GateSuite))
}

func (s *GateSuite) newGate(opts ...Option) *Gate {
	base := []Option{WithClock(func() time.Time { return s.now })}
	return NewGate(s.consents, s.records,
		audit.NewPublisher(s.auditStore),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		append(base, opts...)...)
}

// seedConsent stores a consent in the given status, approved by default.
func (s *GateSuite) seedConsent(status consent.Status, categories ...customer.Category) *consent.Consent {
	if len(categories) == 0 {
		categories = []customer.Category{customer.CategoryBasicData, customer.CategoryAddressData}
	}
	c, err := consent.New(id.NewConsentID(), s.key, requesting, providing,
		categories, "account_opening", s.now.Add(-time.Hour), s.now.Add(24*time.Hour))
	s.Require().NoError(err)
	c.Status = status
	if status != consent.StatusPendingApproval {
		decidedAt := s.now.Add(-time.Minute)
		c.DecidedAt = &decidedAt
	}
	s.Require().NoError(s.consents.Save(context.Background(), c))
	return c
}

func (s *GateSuite) retrieveCmd(c *consent.Consent, categories ...customer.Category) RetrieveCommand {
	return RetrieveCommand{
		ConsentID:         c.ID,
		CallerInstitution: requesting,
		CustomerKey:       s.key,
		Categories:        categories,
	}
}

// TestRetrieve_ApprovedReleasesRequestedCategories verifies the grant is
// projected to exactly the requested categories.
func (s *GateSuite) TestRetrieve_ApprovedReleasesRequestedCategories() {
	c := s.seedConsent(consent.StatusApproved)

	grant, err := s.newGate().Retrieve(context.Background(), s.retrieveCmd(c, customer.CategoryBasicData))
	s.Require().NoError(err)

	s.Equal([]customer.Category{customer.CategoryBasicData}, grant.Categories)
	s.Contains(grant.Data, customer.CategoryBasicData)
	s.NotContains(grant.Data, customer.CategoryAddressData)
	s.Equal(1, grant.UseCount)

	events := s.auditStore.ByConsent(c.ID.String())
	s.Require().Len(events, 1)
	s.Equal(audit.ActionDataAccessGranted, events[0].Action)
	s.Equal(audit.DecisionGranted, events[0].Decision)
}

// TestRetrieve_EmptyRequestReleasesFullGrant verifies omitting categories
// defaults to everything the consent covers, nothing more.
func (s *GateSuite) TestRetrieve_EmptyRequestReleasesFullGrant() {
	c := s.seedConsent(consent.StatusApproved)

	grant, err := s.newGate().Retrieve(context.Background(), s.retrieveCmd(c))
	s.Require().NoError(err)

	s.ElementsMatch(c.DataCategories, grant.Categories)
	s.NotContains(grant.Data, customer.CategoryKYCData, "record holds kycData but the consent does not cover it")
}

// TestRetrieve_CategoryOutsideGrantFailsWhole verifies a request mixing
// covered and uncovered categories is rejected entirely, never narrowed.
func (s *GateSuite) TestRetrieve_CategoryOutsideGrantFailsWhole() {
	c := s.seedConsent(consent.StatusApproved, customer.CategoryBasicData)

	_, err := s.newGate().Retrieve(context.Background(),
		s.retrieveCmd(c, customer.CategoryBasicData, customer.CategoryKYCData))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation), "expected CodeValidation")
	s.Contains(err.Error(), "kycData")
	s.NotContains(err.Error(), "basicData")
}

// TestRetrieve_LifecycleDenials verifies each non-approved state denies with
// its own conflict reason.
func (s *GateSuite) TestRetrieve_LifecycleDenials() {
	cases := []struct {
		name   string
		status consent.Status
		reason dErrors.Reason
	}{
		{"pending", consent.StatusPendingApproval, dErrors.ReasonNotApproved},
		{"rejected", consent.StatusRejected, dErrors.ReasonRejected},
		{"revoked", consent.StatusRevoked, dErrors.ReasonRevoked},
	}
	for _, tc := range cases {
		s.T().Run(tc.name, func(t *testing.T) {
			c := s.seedConsent(tc.status)

			_, err := s.newGate().Retrieve(context.Background(), s.retrieveCmd(c))
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict), "expected CodeConflict")
			assert.Equal(t, tc.reason, dErrors.ReasonOf(err))
		})
	}
}

// TestRetrieve_ExpiryEvaluatedAtReadTime verifies a consent approved in time
// but read after its expiry denies with the expired reason, with no stored
// status change involved.
func (s *GateSuite) TestRetrieve_ExpiryEvaluatedAtReadTime() {
	c := s.seedConsent(consent.StatusApproved)

	gate := s.newGate()
	_, err := gate.Retrieve(context.Background(), s.retrieveCmd(c))
	s.Require().NoError(err, "consent is valid before expiry")

	s.now = c.ExpiryDate.Add(time.Second)
	_, err = gate.Retrieve(context.Background(), s.retrieveCmd(c))
	s.Require().Error(err)
	s.Equal(dErrors.ReasonExpired, dErrors.ReasonOf(err))

	stored, findErr := s.consents.FindByID(context.Background(), c.ID)
	s.Require().NoError(findErr)
	s.Equal(consent.StatusApproved, stored.Status, "expiry is computed, never written back")
}

// TestRetrieve_OpaqueForbidden verifies wrong caller and wrong customer key
// both yield the same opaque forbidden error.
func (s *GateSuite) TestRetrieve_OpaqueForbidden() {
	c := s.seedConsent(consent.StatusApproved)

	s.T().Run("caller is not the requesting institution", func(t *testing.T) {
		cmd := s.retrieveCmd(c)
		cmd.CallerInstitution = providing

		_, err := s.newGate().Retrieve(context.Background(), cmd)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
		assert.Equal(t, "forbidden", err.Error())
	})

	s.T().Run("customer key does not match the consent", func(t *testing.T) {
		other, err := identity.Resolve("Weber", "Anna", "1990-01-01", "CH")
		require.NoError(t, err)
		cmd := s.retrieveCmd(c)
		cmd.CustomerKey = other

		_, err = s.newGate().Retrieve(context.Background(), cmd)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
		assert.Equal(t, "forbidden", err.Error())
	})
}

// TestRetrieve_RequiresCustomerKey verifies the customer binding check
// cannot be skipped: a retrieval without the pseudonymous key is rejected
// before any consent state is inspected.
func (s *GateSuite) TestRetrieve_RequiresCustomerKey() {
	c := s.seedConsent(consent.StatusApproved)
	cmd := s.retrieveCmd(c)
	cmd.CustomerKey = ""

	_, err := s.newGate().Retrieve(context.Background(), cmd)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Contains(err.Error(), "customer key")
}

// TestRetrieve_UnknownConsent verifies unknown ids map to CodeNotFound.
func (s *GateSuite) TestRetrieve_UnknownConsent() {
	_, err := s.newGate().Retrieve(context.Background(), RetrieveCommand{
		ConsentID:         id.NewConsentID(),
		CallerInstitution: requesting,
		CustomerKey:       s.key,
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

// TestRetrieve_MultiUseRepeats verifies repeated retrieval under one approved
// consent keeps working in multi-use mode and counts each use.
func (s *GateSuite) TestRetrieve_MultiUseRepeats() {
	c := s.seedConsent(consent.StatusApproved)
	gate := s.newGate()

	for i := 1; i <= 3; i++ {
		grant, err := gate.Retrieve(context.Background(), s.retrieveCmd(c))
		s.Require().NoError(err)
		s.Equal(i, grant.UseCount)
	}
}

// TestRetrieve_SingleUseConsumes verifies single-use mode burns the consent
// on first retrieval and denies the second with the consumed reason.
func (s *GateSuite) TestRetrieve_SingleUseConsumes() {
	c := s.seedConsent(consent.StatusApproved)
	gate := s.newGate(WithSingleUseConsents(true))

	_, err := gate.Retrieve(context.Background(), s.retrieveCmd(c))
	s.Require().NoError(err)

	_, err = gate.Retrieve(context.Background(), s.retrieveCmd(c))
	s.Require().Error(err)
	s.Equal(dErrors.ReasonConsumed, dErrors.ReasonOf(err))
}

// TestRetrieve_SingleUseRace verifies concurrent retrievals of a single-use
// consent produce exactly one grant; the rest lose the redeem race.
func (s *GateSuite) TestRetrieve_SingleUseRace() {
	c := s.seedConsent(consent.StatusApproved)
	gate := s.newGate(WithSingleUseConsents(true))

	result := testutil.RunConcurrent(16, func(int) error {
		_, err := gate.Retrieve(context.Background(), s.retrieveCmd(c))
		return err
	})

	s.Equal(int32(1), result.Successes)
	s.Equal(int32(15), result.Conflicts)
	s.Equal(int32(0), result.Errors)
}

// TestRetrieve_RecordStoreFailureClosesGate verifies backend failure denies
// as retryable unavailable and, in single-use mode, leaves the consent
// unconsumed.
func (s *GateSuite) TestRetrieve_RecordStoreFailureClosesGate() {
	c := s.seedConsent(consent.StatusApproved)
	gate := NewGate(s.consents, failingRecordStore{},
		audit.NewPublisher(s.auditStore),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(func() time.Time { return s.now }),
		WithSingleUseConsents(true),
	)

	_, err := gate.Retrieve(context.Background(), s.retrieveCmd(c))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable), "expected CodeUnavailable")

	stored, findErr := s.consents.FindByID(context.Background(), c.ID)
	s.Require().NoError(findErr)
	s.Nil(stored.UsedAt, "failed load must not consume the consent")
}

// TestRetrieve_MissingRecord verifies a consent pointing at a customer the
// provider no longer holds denies as not found.
func (s *GateSuite) TestRetrieve_MissingRecord() {
	other, err := identity.Resolve("Weber", "Anna", "1990-01-01", "CH")
	s.Require().NoError(err)
	c, err := consent.New(id.NewConsentID(), other, requesting, providing,
		[]customer.Category{customer.CategoryBasicData}, "account_opening",
		s.now.Add(-time.Hour), s.now.Add(24*time.Hour))
	s.Require().NoError(err)
	c.Status = consent.StatusApproved
	s.Require().NoError(s.consents.Save(context.Background(), c))

	cmd := s.retrieveCmd(c)
	cmd.CustomerKey = other
	_, err = s.newGate().Retrieve(context.Background(), cmd)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

// TestRetrieve_DenialsAreAudited verifies a denied attempt lands in the
// audit trail with its reason.
func (s *GateSuite) TestRetrieve_DenialsAreAudited() {
	c := s.seedConsent(consent.StatusRevoked)

	_, err := s.newGate().Retrieve(context.Background(), s.retrieveCmd(c))
	s.Require().Error(err)

	events := s.auditStore.ByConsent(c.ID.String())
	s.Require().Len(events, 1)
	s.Equal(audit.ActionDataAccessDenied, events[0].Action)
	s.Equal(string(dErrors.ReasonRevoked), events[0].Reason)
}

type failingRecordStore struct{}

func (failingRecordStore) Get(context.Context, string, identity.CustomerKey) (*customer.Record, error) {
	return nil, sentinel.ErrUnavailable
}
