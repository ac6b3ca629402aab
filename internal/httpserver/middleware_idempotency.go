package httpserver

import (
	"net/http"

	"github.com/stayhub/checkout/internal/apierr"
	"github.com/stayhub/checkout/internal/idempotency"
)

// requireIdempotencyKey rejects requests missing the Idempotency-Key
// header before they reach idempotency.DocStoreMiddleware. POST .../hold
// and POST .../payment-intent drive a real PMS/PSP side effect, so a
// missing key must fail fast rather than silently executing without
// replay protection.
func requireIdempotencyKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(idempotency.HeaderKey) == "" {
			apierr.WriteJSON(w, apierr.New(apierr.CodeIdempotencyKeyRequired, "Idempotency-Key header is required for this endpoint"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
