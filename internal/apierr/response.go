package apierr

import (
	"encoding/json"
	"net/http"
)

// Response is the wire shape every error response takes: {error, code, details?}.
type Response struct {
	ErrorText string         `json:"error"`
	Code      Code           `json:"code"`
	Details   map[string]any `json:"details,omitempty"`
}

// WriteJSON writes err to w using its classified status and the standard
// error envelope. Non-*Error values are treated as CodeInternal.
func WriteJSON(w http.ResponseWriter, err error) {
	ae, ok := As(err)
	if !ok {
		ae = Wrap(CodeInternal, "internal error", err)
	}
	msg := ae.Message
	if msg == "" {
		msg = string(ae.Code)
	}
	body := Response{ErrorText: msg, Code: ae.Code, Details: ae.Details}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ae.HTTPStatus())
	json.NewEncoder(w).Encode(body)
}
