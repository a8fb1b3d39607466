package httptransport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/consent/service"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/identity"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/platform/middleware"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/transport/http/shared"
	respond "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/transport/http/shared/json"
	id "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/domain"
	dErrors "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/domain-errors"
)

// IdempotencyKeyHeader lets the requesting institution retry consent
// creation safely. Replays return the originally created consent.
const IdempotencyKeyHeader = "Idempotency-Key"

func (h *Handler) handleConsentCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	caller := middleware.GetInstitutionID(ctx)

	var req CreateConsentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	req.Normalize()
	if err := req.Validate(caller); err != nil {
		h.logger.WarnContext(ctx, "invalid consent create request",
			"request_id", requestID,
			"institution_id", caller,
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}

	key, err := identity.ParseKey(req.CustomerID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	categories, err := req.Categories()
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	expiry, err := req.Expiry()
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	consent, err := h.facade.CreateConsent(ctx, service.CreateCommand{
		CustomerKey:           key,
		RequestingInstitution: caller,
		ProvidingInstitution:  req.ProvidingInstitution,
		DataCategories:        categories,
		Purpose:               req.Purpose,
		ExpiryDate:            expiry,
		IdempotencyKey:        r.Header.Get(IdempotencyKeyHeader),
	})
	if err != nil {
		h.logger.WarnContext(ctx, "consent creation failed",
			"request_id", requestID,
			"institution_id", caller,
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}

	respond.WriteJSON(w, http.StatusCreated, toConsentResponse(consent, h.facade.Now()))
}

func (h *Handler) handleConsentDecide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	caller := middleware.GetInstitutionID(ctx)
	client := middleware.GetClientMetadata(ctx)

	consentID, err := id.ParseConsentID(chi.URLParam(r, "consentID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	var req DecideConsentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	consent, err := h.facade.DecideConsent(ctx, service.DecideCommand{
		ConsentID:         consentID,
		CallerInstitution: caller,
		Approved:          req.CustomerApproved,
		Method:            req.Method(),
		ClientIP:          client.AnonymizedIP,
		ClientAgent:       client.Browser,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "consent decision failed",
			"request_id", requestID,
			"consent_id", consentID.String(),
			"institution_id", caller,
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}

	respond.WriteJSON(w, http.StatusOK, toConsentResponse(consent, h.facade.Now()))
}

func (h *Handler) handleConsentRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	caller := middleware.GetInstitutionID(ctx)

	consentID, err := id.ParseConsentID(chi.URLParam(r, "consentID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	consent, err := h.facade.RevokeConsent(ctx, consentID, caller)
	if err != nil {
		h.logger.WarnContext(ctx, "consent revocation failed",
			"request_id", requestID,
			"consent_id", consentID.String(),
			"institution_id", caller,
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}

	respond.WriteJSON(w, http.StatusOK, toConsentResponse(consent, h.facade.Now()))
}

// handleConsentGet returns the consent's current state. Only the two
// institutions party to the consent may read it.
func (h *Handler) handleConsentGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := middleware.GetInstitutionID(ctx)

	consentID, err := id.ParseConsentID(chi.URLParam(r, "consentID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	consent, err := h.facade.GetConsentStatus(ctx, consentID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	if consent.RequestingInstitution != caller && consent.ProvidingInstitution != caller {
		shared.WriteError(w, dErrors.New(dErrors.CodeForbidden, "forbidden"))
		return
	}

	respond.WriteJSON(w, http.StatusOK, toConsentResponse(consent, h.facade.Now()))
}
