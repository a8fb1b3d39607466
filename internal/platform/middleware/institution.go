package middleware

import (
	"context"
	"encoding/json"
	"net/http"
)

// InstitutionHeader carries the authenticated caller institution. The value
// is produced by the upstream auth layer; this service trusts it verbatim.
const InstitutionHeader = "X-Institution-ID"

type institutionIDKey struct{}

// InstitutionID extracts the caller institution identity and rejects requests
// without one. Every data-plane endpoint sits behind this middleware.
func InstitutionID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		institution := r.Header.Get(InstitutionHeader)
		if institution == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":             "unauthorized",
				"error_description": "missing institution identity",
			})
			return
		}

		ctx := context.WithValue(r.Context(), institutionIDKey{}, institution)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetInstitutionID retrieves the caller institution from the context.
func GetInstitutionID(ctx context.Context) string {
	if id, ok := ctx.Value(institutionIDKey{}).(string); ok {
		return id
	}
	return ""
}
