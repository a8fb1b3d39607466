package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/platform/privacy"
)

// ClientMetadata describes the client that submitted a request. It is
// attached to audit events for consent decisions so compliance reviews can
// distinguish approval channels (mobile app, web portal, batch client).
// The IP is anonymized before it ever leaves this package.
type ClientMetadata struct {
	AnonymizedIP string
	Browser      string
	OS           string
	Mobile       bool
	Bot          bool
}

type clientMetadataKey struct{}

// ClientInfo captures anonymized client metadata into the request context.
func ClientInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		md := ClientMetadata{
			AnonymizedIP: privacy.AnonymizeIP(clientIP(r)),
		}

		if uaHeader := r.Header.Get("User-Agent"); uaHeader != "" {
			ua := useragent.New(uaHeader)
			name, version := ua.Browser()
			md.Browser = strings.TrimSpace(name + " " + version)
			md.OS = ua.OS()
			md.Mobile = ua.Mobile()
			md.Bot = ua.Bot()
		}

		ctx := context.WithValue(r.Context(), clientMetadataKey{}, md)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetClientMetadata retrieves client metadata from the context.
func GetClientMetadata(ctx context.Context) ClientMetadata {
	if md, ok := ctx.Value(clientMetadataKey{}).(ClientMetadata); ok {
		return md
	}
	return ClientMetadata{}
}

// clientIP resolves the originating IP, preferring the first entry of
// X-Forwarded-For when the service runs behind a proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
