package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/audit"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/consent/idempotency"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/consent/metrics"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/consent/models"
	customer "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/customer/models"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/identity"
	id "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/domain"
	dErrors "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/domain-errors"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/platform/sentinel"
)

// Store defines the persistence interface for consents.
// Error Contract:
// - FindByID and Execute return sentinel.ErrNotFound for unknown ids
// - Save returns sentinel.ErrConflict for duplicate ids
// - Execute returns validate errors verbatim
type Store interface {
	Save(ctx context.Context, consent *models.Consent) error
	FindByID(ctx context.Context, consentID id.ConsentID) (*models.Consent, error)
	Execute(ctx context.Context, consentID id.ConsentID,
		validate func(*models.Consent) error,
		mutate func(*models.Consent)) (*models.Consent, error)
}

// CreateCommand carries the inputs for consent creation.
type CreateCommand struct {
	CustomerKey           identity.CustomerKey
	RequestingInstitution string
	ProvidingInstitution  string
	DataCategories        []customer.Category
	Purpose               string
	ExpiryDate            time.Time

	// IdempotencyKey, when set, makes duplicate submissions return the
	// originally created consent instead of minting a second one.
	IdempotencyKey string
}

// DecideCommand carries the inputs for the customer's decision, relayed by
// the providing institution.
type DecideCommand struct {
	ConsentID         id.ConsentID
	CallerInstitution string
	Approved          bool
	Method            models.DecisionMethod
	ClientIP          string
	ClientAgent       string
}

type Option func(*Service)

// Service owns the consent state machine. All transitions go through the
// store's atomic Execute so concurrent calls on one consent produce exactly
// one winner.
type Service struct {
	store       Store
	idempotency idempotency.Store
	auditor     *audit.Publisher
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

func NewService(store Store, auditor *audit.Publisher, logger *slog.Logger, opts ...Option) *Service {
	svc := &Service{
		store:   store,
		auditor: auditor,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// WithMetrics sets the metrics instance for the service.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithIdempotencyStore enables idempotency-key handling on Create.
func WithIdempotencyStore(store idempotency.Store) Option {
	return func(s *Service) { s.idempotency = store }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Create validates and persists a new consent in pending approval.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*models.Consent, error) {
	start := s.now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveCreateLatency(time.Since(start).Seconds())
		}
	}()

	if s.idempotency != nil && cmd.IdempotencyKey != "" {
		if existingID, ok, err := s.idempotency.Get(ctx, cmd.IdempotencyKey); err == nil && ok {
			existing, err := s.Get(ctx, existingID)
			if err == nil {
				if s.metrics != nil {
					s.metrics.IncrementIdempotentReplays()
				}
				return existing, nil
			}
			// Stale key; fall through and create anew.
		} else if err != nil {
			s.logger.WarnContext(ctx, "idempotency lookup failed, proceeding with create",
				"error", err,
			)
		}
	}

	consent, err := models.New(id.NewConsentID(), cmd.CustomerKey,
		cmd.RequestingInstitution, cmd.ProvidingInstitution,
		cmd.DataCategories, cmd.Purpose, s.now(), cmd.ExpiryDate)
	if err != nil {
		return nil, err
	}

	if err := s.store.Save(ctx, consent); err != nil {
		return nil, s.translateStoreError(err, "failed to save consent")
	}

	if s.idempotency != nil && cmd.IdempotencyKey != "" {
		if err := s.idempotency.Set(ctx, cmd.IdempotencyKey, consent.ID); err != nil {
			s.logger.WarnContext(ctx, "failed to record idempotency key",
				"consent_id", consent.ID.String(),
				"error", err,
			)
		}
	}

	s.emitAudit(ctx, audit.Event{
		Action:                models.AuditActionConsentRequested,
		ConsentID:             consent.ID.String(),
		CustomerKey:           consent.CustomerKey.String(),
		RequestingInstitution: consent.RequestingInstitution,
		ProvidingInstitution:  consent.ProvidingInstitution,
		Purpose:               consent.Purpose,
		Categories:            categoryNames(consent.DataCategories),
	})
	if s.metrics != nil {
		s.metrics.IncrementCreated(consent.Purpose)
	}
	s.logger.InfoContext(ctx, "consent created",
		"consent_id", consent.ID.String(),
		"requesting_institution", consent.RequestingInstitution,
		"providing_institution", consent.ProvidingInstitution,
	)
	return consent, nil
}

// Decide records the customer's approval or rejection. Only the providing
// institution may decide, and only once: the transition is a conditional
// update, so of any concurrent deciders exactly one wins and the rest get a
// conflict regardless of the value they passed.
func (s *Service) Decide(ctx context.Context, cmd DecideCommand) (*models.Consent, error) {
	if cmd.CallerInstitution == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "caller institution is required")
	}
	now := s.now()

	consent, err := s.store.Execute(ctx, cmd.ConsentID,
		func(c *models.Consent) error {
			if c.ProvidingInstitution != cmd.CallerInstitution {
				// Reveal nothing about the consent to unauthorized parties.
				return dErrors.New(dErrors.CodeForbidden, "forbidden")
			}
			switch c.EffectiveStatus(now) {
			case models.StatusPendingApproval:
				return nil
			case models.StatusExpired:
				return dErrors.NewConflict(dErrors.ReasonExpired, "consent expired")
			default:
				return dErrors.NewConflict(dErrors.ReasonAlreadyDecided, "consent already decided")
			}
		},
		func(c *models.Consent) {
			if cmd.Approved {
				c.Status = models.StatusApproved
			} else {
				c.Status = models.StatusRejected
			}
			c.DecidedAt = &now
			c.DecisionMethod = cmd.Method
		},
	)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeConflict) && s.metrics != nil {
			s.metrics.IncrementDecideConflicts()
		}
		return nil, s.translateStoreError(err, "failed to decide consent")
	}

	action := models.AuditActionConsentApproved
	outcome := "approved"
	if !cmd.Approved {
		action = models.AuditActionConsentRejected
		outcome = "rejected"
	}
	s.emitAudit(ctx, audit.Event{
		Action:                action,
		ConsentID:             consent.ID.String(),
		CustomerKey:           consent.CustomerKey.String(),
		RequestingInstitution: consent.RequestingInstitution,
		ProvidingInstitution:  consent.ProvidingInstitution,
		Purpose:               consent.Purpose,
		Method:                string(cmd.Method),
		ClientIP:              cmd.ClientIP,
		ClientAgent:           cmd.ClientAgent,
	})
	if s.metrics != nil {
		s.metrics.IncrementDecided(outcome)
		if cmd.Approved {
			s.metrics.AddActiveConsents(1)
		}
	}
	s.logger.InfoContext(ctx, "consent decided",
		"consent_id", consent.ID.String(),
		"outcome", outcome,
		"method", string(cmd.Method),
	)
	return consent, nil
}

// Revoke withdraws an approved consent. Only the providing institution may
// revoke, and only from approved while unexpired.
func (s *Service) Revoke(ctx context.Context, consentID id.ConsentID, callerInstitution string) (*models.Consent, error) {
	if callerInstitution == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "caller institution is required")
	}
	now := s.now()

	consent, err := s.store.Execute(ctx, consentID,
		func(c *models.Consent) error {
			if c.ProvidingInstitution != callerInstitution {
				return dErrors.New(dErrors.CodeForbidden, "forbidden")
			}
			switch c.EffectiveStatus(now) {
			case models.StatusApproved:
				return nil
			case models.StatusPendingApproval:
				return dErrors.NewConflict(dErrors.ReasonNotApproved, "consent not yet approved")
			case models.StatusRejected:
				return dErrors.NewConflict(dErrors.ReasonRejected, "consent rejected")
			case models.StatusRevoked:
				return dErrors.NewConflict(dErrors.ReasonRevoked, "consent already revoked")
			default:
				return dErrors.NewConflict(dErrors.ReasonExpired, "consent expired")
			}
		},
		func(c *models.Consent) {
			c.Status = models.StatusRevoked
			c.RevokedAt = &now
		},
	)
	if err != nil {
		return nil, s.translateStoreError(err, "failed to revoke consent")
	}

	s.emitAudit(ctx, audit.Event{
		Action:                models.AuditActionConsentRevoked,
		ConsentID:             consent.ID.String(),
		CustomerKey:           consent.CustomerKey.String(),
		RequestingInstitution: consent.RequestingInstitution,
		ProvidingInstitution:  consent.ProvidingInstitution,
		Purpose:               consent.Purpose,
	})
	if s.metrics != nil {
		s.metrics.IncrementRevoked()
		s.metrics.AddActiveConsents(-1)
	}
	s.logger.InfoContext(ctx, "consent revoked", "consent_id", consent.ID.String())
	return consent, nil
}

// Get loads a consent snapshot. Callers derive the effective status via
// EffectiveStatus(now); expiry is never stored.
func (s *Service) Get(ctx context.Context, consentID id.ConsentID) (*models.Consent, error) {
	consent, err := s.store.FindByID(ctx, consentID)
	if err != nil {
		return nil, s.translateStoreError(err, "failed to load consent")
	}
	return consent, nil
}

// Now exposes the service clock so composing layers evaluate expiry
// consistently with transitions.
func (s *Service) Now() time.Time {
	return s.now()
}

// translateStoreError maps sentinel errors to domain errors exactly once.
// Domain errors from Execute validators pass through untouched.
func (s *Service) translateStoreError(err error, msg string) error {
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "consent not found")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "consent store unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	_ = s.auditor.Emit(ctx, event)
}

func categoryNames(categories []customer.Category) []string {
	out := make([]string, len(categories))
	for i, c := range categories {
		out[i] = string(c)
	}
	return out
}
