package httpserver

import "net/http"

// handleWebhook delegates PSP webhook delivery straight to the ingress
// handler, which owns signature verification and dedup.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	s.webhooks.ServeHTTP(w, r)
}

// handleExpireHolds runs one hold-expiration sweep on demand, for the
// scheduler that invokes this service on a cron-like cadence rather than
// relying solely on the in-process ticker.
func (s *Server) handleExpireHolds(w http.ResponseWriter, r *http.Request) {
	result, err := s.sweeper.Sweep(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
