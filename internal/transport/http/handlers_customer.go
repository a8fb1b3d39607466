package httptransport

import (
	"encoding/json"
	"net/http"

	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/access"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/identity"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/platform/middleware"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/transport/http/shared"
	respond "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/transport/http/shared/json"
	id "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/domain"
	dErrors "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/pkg/domain-errors"
)

// handleCustomerCheck answers whether the customer is known to any
// institution in the network. A negative answer is a normal 200, not an
// error: existence itself is the only bit released.
func (h *Handler) handleCustomerCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req CustomerCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	req.Normalize()

	key, err := req.ResolveKey()
	if err != nil {
		h.logger.WarnContext(ctx, "customer check rejected",
			"request_id", requestID,
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}

	existence, err := h.facade.CheckCustomerExists(ctx, key)
	if err != nil {
		h.logger.ErrorContext(ctx, "customer lookup failed",
			"request_id", requestID,
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}

	respond.WriteJSON(w, http.StatusOK, toCustomerCheckResponse(key, existence))
}

// handleCustomerData redeems a consent and returns the covered category
// payloads at the top level of the response, alongside retrieval metadata.
func (h *Handler) handleCustomerData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	caller := middleware.GetInstitutionID(ctx)
	client := middleware.GetClientMetadata(ctx)

	var req CustomerDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		shared.WriteError(w, err)
		return
	}

	consentID, err := id.ParseConsentID(req.ConsentID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	categories, err := req.Categories()
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	key, err := identity.ParseKey(req.SharedCustomerHash)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	grant, err := h.facade.RetrieveData(ctx, access.RetrieveCommand{
		ConsentID:         consentID,
		CallerInstitution: caller,
		CustomerKey:       key,
		Categories:        categories,
		ClientIP:          client.AnonymizedIP,
		ClientAgent:       client.Browser,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "data retrieval denied",
			"request_id", requestID,
			"consent_id", req.ConsentID,
			"institution_id", caller,
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}

	// Category payloads sit at the top level of the response; consentId and
	// retrievedAt are not valid category names so they cannot collide.
	response := make(map[string]any, len(grant.Data)+2)
	for category, payload := range grant.Data {
		response[string(category)] = json.RawMessage(payload)
	}
	response["consentId"] = grant.ConsentID.String()
	response["retrievedAt"] = grant.RetrievedAt

	respond.WriteJSON(w, http.StatusOK, response)
}
