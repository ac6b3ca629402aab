package httpserver

import (
	"net/http"

	"github.com/stayhub/checkout/internal/apierr"
)

// bearerAuth is middleware that protects an endpoint with a static bearer
// token. If no token is configured, the endpoint is accessible without
// authentication — used for both the admin /metrics endpoint
// (AdminMetricsAPIKey) and POST /jobs/expire-holds's service-auth
// (JobsConfig.AuthToken).
func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			if r.Header.Get("Authorization") != "Bearer "+token {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"invalid or missing bearer token","code":"` + string(apierr.CodeValidation) + `"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
