package service

// Unit tests for the consent registry. These enforce transition invariants,
// error code mapping across the store boundary, and idempotent creation.
// Handler-level behavior (status codes, payload shapes) is covered in the
// transport tests.

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/audit"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/consent/idempotency"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/consent/models"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/consent/service/mocks"
	consentstore "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/consent/store"
	customer "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/customer/models"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/identity"
	id "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/domain"
	dErrors "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/domain-errors"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/platform/sentinel"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/testutil"
)

const (
	requestingInstitution = "CH-INSURANCE-001"
	providingInstitution  = "CH-BANK-001"
)

type ServiceSuite struct {
	suite.Suite
	ctrl       *gomock.Controller
	mockStore  *mocks.MockStore
	service    *Service
	auditStore *audit.InMemoryStore
	now        time.Time
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockStore = mocks.NewMockStore(s.ctrl)
	s.auditStore = audit.NewInMemoryStore()
	s.now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	auditor := audit.NewPublisher(s.auditStore)
	s.service = NewService(
		s.mockStore,
		auditor,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(func() time.Time { return s.now }),
		WithIdempotencyStore(idempotency.NewInMemory(time.Hour)),
	)
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) customerKey() identity.CustomerKey {
	key, err := identity.Resolve("Müller", "Hans Peter", "1985-03-15", "CH")
	s.Require().NoError(err)
	return key
}

func (s *ServiceSuite) createCommand() CreateCommand {
	return CreateCommand{
		CustomerKey:           s.customerKey(),
		RequestingInstitution: requestingInstitution,
		ProvidingInstitution:  providingInstitution,
		DataCategories:        []customer.Category{customer.CategoryBasicData, customer.CategoryAddressData},
		Purpose:               "account_opening",
		ExpiryDate:            s.now.Add(30 * 24 * time.Hour),
	}
}

func (s *ServiceSuite) pendingConsent() *models.Consent {
	consent, err := models.New(id.NewConsentID(), s.customerKey(),
		requestingInstitution, providingInstitution,
		[]customer.Category{customer.CategoryBasicData}, "account_opening",
		s.now.Add(-time.Hour), s.now.Add(24*time.Hour))
	s.Require().NoError(err)
	return consent
}

// expectExecute wires the mock store to behave like the real Execute: run
// validate against the given consent, then mutate a copy and return it.
func (s *ServiceSuite) expectExecute(consent *models.Consent) {
	s.mockStore.EXPECT().
		Execute(gomock.Any(), consent.ID, gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ id.ConsentID,
			validate func(*models.Consent) error, mutate func(*models.Consent)) (*models.Consent, error) {
			if err := validate(consent); err != nil {
				return nil, err
			}
			updated := consent.Clone()
			mutate(updated)
			return updated, nil
		})
}

// =============================================================================
// Create
// =============================================================================

// TestCreate_ValidationErrors verifies invalid creation input maps to
// CodeValidation before anything touches the store.
func (s *ServiceSuite) TestCreate_ValidationErrors() {
	cases := []struct {
		name   string
		mutate func(*CreateCommand)
	}{
		{"same requesting and providing institution", func(c *CreateCommand) {
			c.ProvidingInstitution = c.RequestingInstitution
		}},
		{"empty categories", func(c *CreateCommand) {
			c.DataCategories = nil
		}},
		{"unknown category", func(c *CreateCommand) {
			c.DataCategories = []customer.Category{"creditScore"}
		}},
		{"missing purpose", func(c *CreateCommand) {
			c.Purpose = ""
		}},
		{"expiry in the past", func(c *CreateCommand) {
			c.ExpiryDate = s.now.Add(-time.Hour)
		}},
	}
	for _, tc := range cases {
		s.T().Run(tc.name, func(t *testing.T) {
			cmd := s.createCommand()
			tc.mutate(&cmd)
			_, err := s.service.Create(context.Background(), cmd)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation), "expected CodeValidation")
		})
	}
}

// TestCreate_StartsPendingAndAudits verifies the initial state and that a
// consent_requested event is recorded.
func (s *ServiceSuite) TestCreate_StartsPendingAndAudits() {
	s.mockStore.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil)

	consent, err := s.service.Create(context.Background(), s.createCommand())
	s.Require().NoError(err)

	s.Equal(models.StatusPendingApproval, consent.Status)
	s.False(consent.ID.IsNil())
	s.Nil(consent.DecidedAt)

	events := s.auditStore.ByConsent(consent.ID.String())
	s.Require().Len(events, 1)
	s.Equal(models.AuditActionConsentRequested, events[0].Action)
	s.Equal(providingInstitution, events[0].ProvidingInstitution)
}

// TestCreate_IdempotentReplay verifies a duplicate submission with the same
// idempotency key returns the original consent without creating a second one.
func (s *ServiceSuite) TestCreate_IdempotentReplay() {
	cmd := s.createCommand()
	cmd.IdempotencyKey = "req-7f3a"

	var saved *models.Consent
	s.mockStore.EXPECT().
		Save(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, c *models.Consent) error {
			saved = c
			return nil
		})

	first, err := s.service.Create(context.Background(), cmd)
	s.Require().NoError(err)

	s.mockStore.EXPECT().
		FindByID(gomock.Any(), saved.ID).
		Return(saved.Clone(), nil)

	second, err := s.service.Create(context.Background(), cmd)
	s.Require().NoError(err)
	s.Equal(first.ID, second.ID)

	// Only the first submission is audited.
	s.Len(s.auditStore.Events(), 1)
}

// TestCreate_StoreErrorPropagation verifies save failures map across the
// store boundary without leaking store internals: outages stay retryable
// as CodeUnavailable, everything else collapses to CodeInternal.
func (s *ServiceSuite) TestCreate_StoreErrorPropagation() {
	s.T().Run("unexpected failure is internal", func(t *testing.T) {
		s.mockStore.EXPECT().Save(gomock.Any(), gomock.Any()).Return(assert.AnError)

		_, err := s.service.Create(context.Background(), s.createCommand())
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal), "expected CodeInternal for store save error")
	})

	s.T().Run("store outage stays retryable", func(t *testing.T) {
		s.mockStore.EXPECT().Save(gomock.Any(), gomock.Any()).
			Return(fmt.Errorf("%w: connection refused", sentinel.ErrUnavailable))

		_, err := s.service.Create(context.Background(), s.createCommand())
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable), "expected CodeUnavailable for store outage")
	})
}

// =============================================================================
// Decide
// =============================================================================

// TestDecide_ApproveFromPending verifies the pending -> approved transition
// stamps the decision and audits it.
func (s *ServiceSuite) TestDecide_ApproveFromPending() {
	pending := s.pendingConsent()
	s.expectExecute(pending)

	decided, err := s.service.Decide(context.Background(), DecideCommand{
		ConsentID:         pending.ID,
		CallerInstitution: providingInstitution,
		Approved:          true,
		Method:            models.DecisionMethodWebPortal,
	})
	s.Require().NoError(err)

	s.Equal(models.StatusApproved, decided.Status)
	s.Require().NotNil(decided.DecidedAt)
	s.Equal(s.now, *decided.DecidedAt)
	s.Equal(models.DecisionMethodWebPortal, decided.DecisionMethod)

	events := s.auditStore.ByConsent(pending.ID.String())
	s.Require().Len(events, 1)
	s.Equal(models.AuditActionConsentApproved, events[0].Action)
}

// TestDecide_RejectFromPending verifies the pending -> rejected transition.
func (s *ServiceSuite) TestDecide_RejectFromPending() {
	pending := s.pendingConsent()
	s.expectExecute(pending)

	decided, err := s.service.Decide(context.Background(), DecideCommand{
		ConsentID:         pending.ID,
		CallerInstitution: providingInstitution,
		Approved:          false,
		Method:            models.DecisionMethodWebPortal,
	})
	s.Require().NoError(err)
	s.Equal(models.StatusRejected, decided.Status)
}

// TestDecide_OnlyProviderMayDecide verifies the requesting institution (or
// any third party) gets an opaque forbidden error.
// Invariant: authorization failure reveals nothing about the consent's state.
func (s *ServiceSuite) TestDecide_OnlyProviderMayDecide() {
	pending := s.pendingConsent()
	s.expectExecute(pending)

	_, err := s.service.Decide(context.Background(), DecideCommand{
		ConsentID:         pending.ID,
		CallerInstitution: requestingInstitution,
		Approved:          true,
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden), "expected CodeForbidden")
	s.Equal("forbidden", err.Error())
}

// TestDecide_AlreadyDecided verifies deciding twice conflicts regardless of
// the value passed the second time.
func (s *ServiceSuite) TestDecide_AlreadyDecided() {
	approved := s.pendingConsent()
	approved.Status = models.StatusApproved
	decidedAt := s.now.Add(-time.Minute)
	approved.DecidedAt = &decidedAt
	s.expectExecute(approved)

	_, err := s.service.Decide(context.Background(), DecideCommand{
		ConsentID:         approved.ID,
		CallerInstitution: providingInstitution,
		Approved:          true,
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict), "expected CodeConflict")
	s.Equal(dErrors.ReasonAlreadyDecided, dErrors.ReasonOf(err))
}

// TestDecide_ExpiredPending verifies a pending consent past its expiry can no
// longer be decided, even though expiry is never written back.
func (s *ServiceSuite) TestDecide_ExpiredPending() {
	stale := s.pendingConsent()
	stale.ExpiryDate = s.now.Add(-time.Minute)
	s.expectExecute(stale)

	_, err := s.service.Decide(context.Background(), DecideCommand{
		ConsentID:         stale.ID,
		CallerInstitution: providingInstitution,
		Approved:          true,
	})
	s.Require().Error(err)
	s.Equal(dErrors.ReasonExpired, dErrors.ReasonOf(err))
}

// TestDecide_NotFound verifies unknown ids map to CodeNotFound.
func (s *ServiceSuite) TestDecide_NotFound() {
	unknown := id.NewConsentID()
	s.mockStore.EXPECT().
		Execute(gomock.Any(), unknown, gomock.Any(), gomock.Any()).
		Return(nil, sentinel.ErrNotFound)

	_, err := s.service.Decide(context.Background(), DecideCommand{
		ConsentID:         unknown,
		CallerInstitution: providingInstitution,
		Approved:          true,
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound), "expected CodeNotFound")
}

// =============================================================================
// Revoke
// =============================================================================

// TestRevoke_FromApproved verifies approved -> revoked stamps RevokedAt.
func (s *ServiceSuite) TestRevoke_FromApproved() {
	approved := s.pendingConsent()
	approved.Status = models.StatusApproved
	s.expectExecute(approved)

	revoked, err := s.service.Revoke(context.Background(), approved.ID, providingInstitution)
	s.Require().NoError(err)
	s.Equal(models.StatusRevoked, revoked.Status)
	s.Require().NotNil(revoked.RevokedAt)
	s.Equal(s.now, *revoked.RevokedAt)
}

// TestRevoke_InvalidStates verifies each non-approved state conflicts with a
// distinct reason so callers can tell why revocation failed.
func (s *ServiceSuite) TestRevoke_InvalidStates() {
	cases := []struct {
		name   string
		mutate func(*models.Consent)
		reason dErrors.Reason
	}{
		{"pending", func(c *models.Consent) {}, dErrors.ReasonNotApproved},
		{"rejected", func(c *models.Consent) { c.Status = models.StatusRejected }, dErrors.ReasonRejected},
		{"already revoked", func(c *models.Consent) { c.Status = models.StatusRevoked }, dErrors.ReasonRevoked},
		{"expired approval", func(c *models.Consent) {
			c.Status = models.StatusApproved
			c.ExpiryDate = s.now.Add(-time.Minute)
		}, dErrors.ReasonExpired},
	}
	for _, tc := range cases {
		s.T().Run(tc.name, func(t *testing.T) {
			consent := s.pendingConsent()
			tc.mutate(consent)
			s.expectExecute(consent)

			_, err := s.service.Revoke(context.Background(), consent.ID, providingInstitution)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict), "expected CodeConflict")
			assert.Equal(t, tc.reason, dErrors.ReasonOf(err))
		})
	}
}

// TestRevoke_OnlyProviderMayRevoke mirrors the decide authorization rule.
func (s *ServiceSuite) TestRevoke_OnlyProviderMayRevoke() {
	approved := s.pendingConsent()
	approved.Status = models.StatusApproved
	s.expectExecute(approved)

	_, err := s.service.Revoke(context.Background(), approved.ID, requestingInstitution)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden), "expected CodeForbidden")
}

// =============================================================================
// Get
// =============================================================================

// TestGet_ErrorMapping verifies sentinel errors from the store are translated
// exactly once at the service boundary.
func (s *ServiceSuite) TestGet_ErrorMapping() {
	s.T().Run("not found", func(t *testing.T) {
		unknown := id.NewConsentID()
		s.mockStore.EXPECT().FindByID(gomock.Any(), unknown).Return(nil, sentinel.ErrNotFound)

		_, err := s.service.Get(context.Background(), unknown)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.T().Run("unavailable", func(t *testing.T) {
		consentID := id.NewConsentID()
		s.mockStore.EXPECT().FindByID(gomock.Any(), consentID).Return(nil, sentinel.ErrUnavailable)

		_, err := s.service.Get(context.Background(), consentID)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
	})
}

// =============================================================================
// Concurrency
// =============================================================================

// TestDecideSerializesConcurrentDeciders races approve and reject calls on
// one pending consent through the registry API: exactly one decider wins,
// every other call gets a conflict, and the stored state carries a single
// decision.
func TestDecideSerializesConcurrentDeciders(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := consentstore.NewInMemory()
	svc := NewService(store, audit.NewPublisher(audit.NewInMemoryStore()), logger)

	key, err := identity.Resolve("Müller", "Hans Peter", "1985-03-15", "CH")
	require.NoError(t, err)

	consent, err := svc.Create(context.Background(), CreateCommand{
		CustomerKey:           key,
		RequestingInstitution: requestingInstitution,
		ProvidingInstitution:  providingInstitution,
		DataCategories:        []customer.Category{customer.CategoryBasicData},
		Purpose:               "account_opening",
		ExpiryDate:            time.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)

	result := testutil.RunConcurrent(16, func(idx int) error {
		_, err := svc.Decide(context.Background(), DecideCommand{
			ConsentID:         consent.ID,
			CallerInstitution: providingInstitution,
			Approved:          idx%2 == 0,
			Method:            models.DecisionMethodMobileApp,
		})
		return err
	})

	assert.Equal(t, int32(1), result.Successes)
	assert.Equal(t, int32(15), result.Conflicts)

	final, err := svc.Get(context.Background(), consent.ID)
	require.NoError(t, err)
	require.NotNil(t, final.DecidedAt)
	assert.Contains(t, []models.Status{models.StatusApproved, models.StatusRejected}, final.Status)
}
