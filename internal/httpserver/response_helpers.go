package httpserver

import (
	"net/http"

	"github.com/stayhub/checkout/internal/apierr"
	"github.com/stayhub/checkout/pkg/responders"
)

// writeError writes err using the standard {error, code, details?} envelope.
// It does not log; callers that want the error logged do so themselves.
func writeError(w http.ResponseWriter, err error) {
	apierr.WriteJSON(w, err)
}

// writeJSON is a thin call-through to pkg/responders.JSON, kept local so
// handlers only need one import for both success and error paths.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	responders.JSON(w, status, payload)
}
