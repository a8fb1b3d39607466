package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/access"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/consent/models"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/consent/service"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/facade"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/identity"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/platform/health"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/platform/middleware"
	id "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/domain"
)

// Facade is the service surface the transport layer needs. Satisfied by
// *facade.Facade.
type Facade interface {
	CheckCustomerExists(ctx context.Context, key identity.CustomerKey) (facade.CustomerExistence, error)
	CreateConsent(ctx context.Context, cmd service.CreateCommand) (*models.Consent, error)
	DecideConsent(ctx context.Context, cmd service.DecideCommand) (*models.Consent, error)
	RevokeConsent(ctx context.Context, consentID id.ConsentID, callerInstitution string) (*models.Consent, error)
	GetConsentStatus(ctx context.Context, consentID id.ConsentID) (*models.Consent, error)
	RetrieveData(ctx context.Context, cmd access.RetrieveCommand) (*access.Grant, error)
	Now() time.Time
}

// Handler is the thin HTTP layer. It parses the wire shapes and delegates
// to the facade so no business logic lives in transport.
type Handler struct {
	facade Facade
	logger *slog.Logger
}

func NewHandler(f Facade, logger *slog.Logger) *Handler {
	return &Handler{
		facade: f,
		logger: logger,
	}
}

// NewRouter wires all public endpoints with middleware. Data-plane routes
// sit behind the institution identity middleware; probes and metrics do not.
func NewRouter(h *Handler, healthHandler *health.Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(30 * time.Second))

	if healthHandler != nil {
		healthHandler.Register(r)
	}
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.InstitutionID)
		r.Use(middleware.ClientInfo)

		r.Post("/customer/check", h.handleCustomerCheck)
		r.Post("/customer/data", h.handleCustomerData)

		r.Post("/consent", h.handleConsentCreate)
		r.Get("/consent/{consentID}", h.handleConsentGet)
		r.Post("/consent/{consentID}/approve", h.handleConsentDecide)
		r.Post("/consent/{consentID}/revoke", h.handleConsentRevoke)
	})

	return r
}
