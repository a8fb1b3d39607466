package access

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/access/metrics"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/access/tracer"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/audit"
	consent "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/consent/models"
	customer "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/customer/models"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/identity"
	id "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/domain"
	dErrors "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/domain-errors"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/platform/sentinel"
)

// ConsentStore is the slice of the consent store the gate needs: reads plus
// the atomic redeem transition.
type ConsentStore interface {
	FindByID(ctx context.Context, consentID id.ConsentID) (*consent.Consent, error)
	Execute(ctx context.Context, consentID id.ConsentID,
		validate func(*consent.Consent) error,
		mutate func(*consent.Consent)) (*consent.Consent, error)
}

// RecordStore loads the providing institution's customer record.
type RecordStore interface {
	Get(ctx context.Context, institutionID string, key identity.CustomerKey) (*customer.Record, error)
}

// Gate enforces consent before any customer data leaves the providing
// institution. Every check runs on every retrieval; there is no caching of
// decisions and no fail-open path.
//
// Checks run in a fixed order so error responses are deterministic:
// existence, customer binding, caller authorization, lifecycle state,
// consumption, category scope, record availability.
type Gate struct {
	consents ConsentStore
	records  RecordStore
	auditor  *audit.Publisher
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   tracer.Tracer

	// singleUse makes every approved consent valid for exactly one
	// retrieval. Redemption is a conditional update on the consent, so
	// concurrent retrievals race for one grant.
	singleUse bool

	// recordReadTimeout bounds the providing institution's record load so a
	// slow backend degrades into a retryable denial instead of a hang.
	recordReadTimeout time.Duration

	now func() time.Time
}

type Option func(*Gate)

// WithMetrics sets the metrics instance for the gate.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// WithTracer sets the tracer. Defaults to the no-op tracer.
func WithTracer(t tracer.Tracer) Option {
	return func(g *Gate) {
		if t != nil {
			g.tracer = t
		}
	}
}

// WithSingleUseConsents switches the gate to single-use mode.
func WithSingleUseConsents(enabled bool) Option {
	return func(g *Gate) { g.singleUse = enabled }
}

// WithRecordReadTimeout bounds record loads. Zero disables the bound.
func WithRecordReadTimeout(d time.Duration) Option {
	return func(g *Gate) { g.recordReadTimeout = d }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

func NewGate(consents ConsentStore, records RecordStore, auditor *audit.Publisher, logger *slog.Logger, opts ...Option) *Gate {
	g := &Gate{
		consents: consents,
		records:  records,
		auditor:  auditor,
		logger:   logger,
		tracer:   tracer.NewNoop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Retrieve releases the customer data covered by an approved consent.
//
// The released payload is projected to the intersection of the request and
// the grant only after every check passes; a request naming any category
// outside the grant fails entirely rather than being silently narrowed.
func (g *Gate) Retrieve(ctx context.Context, cmd RetrieveCommand) (*Grant, error) {
	ctx, span := g.tracer.Start(ctx, tracer.SpanRetrieve,
		tracer.String(tracer.AttrConsentID, cmd.ConsentID.String()),
		tracer.String(tracer.AttrInstitution, cmd.CallerInstitution),
		tracer.Bool(tracer.AttrSingleUse, g.singleUse),
	)

	grant, err := g.retrieve(ctx, cmd)
	if err != nil {
		reason := denialReason(err)
		span.SetAttributes(
			tracer.Bool(tracer.AttrGranted, false),
			tracer.String(tracer.AttrDenyReason, reason),
		)
		span.End(err)
		if g.metrics != nil {
			g.metrics.IncrementDenied(reason)
		}
		g.auditDenied(ctx, cmd, reason)
		return nil, err
	}

	span.SetAttributes(
		tracer.Bool(tracer.AttrGranted, true),
		tracer.Int64(tracer.AttrUseCount, int64(grant.UseCount)),
	)
	span.End(nil)
	if g.metrics != nil {
		g.metrics.IncrementGranted()
	}
	g.auditGranted(ctx, cmd, grant)
	return grant, nil
}

func (g *Gate) retrieve(ctx context.Context, cmd RetrieveCommand) (*Grant, error) {
	if cmd.CallerInstitution == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "caller institution is required")
	}
	if cmd.CustomerKey.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "customer key is required")
	}
	now := g.now()

	c, err := g.consents.FindByID(ctx, cmd.ConsentID)
	if err != nil {
		return nil, g.translateConsentError(err)
	}

	// Customer binding and caller authorization are both opaque denials:
	// an unauthorized caller learns nothing about the consent, not even
	// which check failed.
	if c.CustomerKey != cmd.CustomerKey {
		return nil, dErrors.New(dErrors.CodeForbidden, "forbidden")
	}
	if c.RequestingInstitution != cmd.CallerInstitution {
		return nil, dErrors.New(dErrors.CodeForbidden, "forbidden")
	}

	if err := checkRedeemable(c, now, g.singleUse); err != nil {
		return nil, err
	}

	categories := cmd.Categories
	if len(categories) == 0 {
		categories = append([]customer.Category(nil), c.DataCategories...)
	} else if missing := c.Covers(categories); len(missing) > 0 {
		return nil, dErrors.New(dErrors.CodeValidation,
			"requested categories not covered by consent: "+joinCategories(missing))
	}

	record, err := g.loadRecord(ctx, c)
	if err != nil {
		return nil, err
	}

	// Redeem last: the consent is only consumed once the data is in hand,
	// so a failed record load never burns a single-use consent.
	redeemed, err := g.consents.Execute(ctx, c.ID,
		func(cur *consent.Consent) error {
			return checkRedeemable(cur, now, g.singleUse)
		},
		func(cur *consent.Consent) {
			cur.UseCount++
			if g.singleUse {
				t := now
				cur.UsedAt = &t
			}
		},
	)
	if err != nil {
		return nil, g.translateConsentError(err)
	}
	if g.singleUse && g.metrics != nil {
		g.metrics.IncrementConsumed()
	}

	return &Grant{
		ConsentID:   redeemed.ID,
		CustomerKey: redeemed.CustomerKey,
		Categories:  categories,
		Data:        record.Project(categories),
		RetrievedAt: now,
		UseCount:    redeemed.UseCount,
	}, nil
}

// checkRedeemable maps the consent's effective state to the denial the
// caller should see. It runs once before the record load and again inside
// the redeem transition, so a concurrent revoke or a racing single-use
// retrieval is caught at the point of consumption.
func checkRedeemable(c *consent.Consent, now time.Time, singleUse bool) error {
	switch c.EffectiveStatus(now) {
	case consent.StatusApproved:
		// fall through to the consumption check
	case consent.StatusPendingApproval:
		return dErrors.NewConflict(dErrors.ReasonNotApproved, "consent not approved")
	case consent.StatusRejected:
		return dErrors.NewConflict(dErrors.ReasonRejected, "consent rejected")
	case consent.StatusRevoked:
		return dErrors.NewConflict(dErrors.ReasonRevoked, "consent revoked")
	default:
		return dErrors.NewConflict(dErrors.ReasonExpired, "consent expired")
	}
	if singleUse && c.UsedAt != nil {
		return dErrors.NewConflict(dErrors.ReasonConsumed, "consent already used")
	}
	return nil
}

// loadRecord fetches the providing institution's record under a bounded
// deadline. Backend failure is a retryable denial; data is never released
// on a failed load.
func (g *Gate) loadRecord(ctx context.Context, c *consent.Consent) (*customer.Record, error) {
	ctx, span := g.tracer.Start(ctx, tracer.SpanRecordLoad,
		tracer.String(tracer.AttrInstitution, c.ProvidingInstitution),
	)
	if g.recordReadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.recordReadTimeout)
		defer cancel()
	}

	start := g.now()
	record, err := g.records.Get(ctx, c.ProvidingInstitution, c.CustomerKey)
	if g.metrics != nil {
		g.metrics.ObserveRecordLoadLatency(time.Since(start).Seconds())
	}
	span.End(err)

	switch {
	case err == nil:
		return record, nil
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.New(dErrors.CodeNotFound, "customer record not found")
	case errors.Is(err, sentinel.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "customer record store unavailable")
	default:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load customer record")
	}
}

func (g *Gate) translateConsentError(err error) error {
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
		return dErrors.Wrap(err, dErrors.CodeInternal, "consent store failure")
	}
}

func (g *Gate) auditGranted(ctx context.Context, cmd RetrieveCommand, grant *Grant) {
	if g.auditor == nil {
		return
	}
	_ = g.auditor.Emit(ctx, audit.Event{
		Action:            audit.ActionDataAccessGranted,
		Decision:          audit.DecisionGranted,
		ConsentID:         grant.ConsentID.String(),
		CustomerKey:       grant.CustomerKey.String(),
		CallerInstitution: cmd.CallerInstitution,
		Categories:        categoryNames(grant.Categories),
		ClientIP:          cmd.ClientIP,
		ClientAgent:       cmd.ClientAgent,
	})
}

func (g *Gate) auditDenied(ctx context.Context, cmd RetrieveCommand, reason string) {
	if g.auditor == nil {
		return
	}
	_ = g.auditor.Emit(ctx, audit.Event{
		Action:            audit.ActionDataAccessDenied,
		Decision:          audit.DecisionDenied,
		Reason:            reason,
		ConsentID:         cmd.ConsentID.String(),
		CustomerKey:       cmd.CustomerKey.String(),
		CallerInstitution: cmd.CallerInstitution,
		Categories:        categoryNames(cmd.Categories),
		ClientIP:          cmd.ClientIP,
		ClientAgent:       cmd.ClientAgent,
	})
}

// denialReason flattens an error to a low-cardinality label for metrics,
// traces, and the audit trail.
func denialReason(err error) string {
	if r := dErrors.ReasonOf(err); r != "" {
		return string(r)
	}
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		return string(domainErr.Code)
	}
	return string(dErrors.CodeInternal)
}

func joinCategories(categories []customer.Category) string {
	names := categoryNames(categories)
	return strings.Join(names, ", ")
}

func categoryNames(categories []customer.Category) []string {
	if len(categories) == 0 {
		return nil
	}
	out := make([]string, len(categories))
	for i, c := range categories {
		out[i] = string(c)
	}
	return out
}
