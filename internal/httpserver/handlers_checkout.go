package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stayhub/checkout/internal/apierr"
	"github.com/stayhub/checkout/internal/checkout"
	"github.com/stayhub/checkout/internal/orchestrator"
)

// initializeCheckoutRequest is the POST /checkout/initialize body.
type initializeCheckoutRequest struct {
	ListingID  string            `json:"listingId"`
	CheckIn    string            `json:"checkIn"`
	CheckOut   string            `json:"checkOut"`
	Guests     checkout.Guests   `json:"guests"`
	CouponCode string            `json:"couponCode,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleInitializeCheckout(w http.ResponseWriter, r *http.Request) {
	var req initializeCheckoutRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, apierr.Wrap(apierr.CodeValidation, "invalid request body", err))
		return
	}
	if req.ListingID == "" || req.CheckIn == "" || req.CheckOut == "" {
		writeError(w, apierr.New(apierr.CodeValidation, "listingId, checkIn and checkOut are required"))
		return
	}

	co, err := s.orch.InitializeCheckout(r.Context(), orchestrator.InitializeInput{
		ListingID:  req.ListingID,
		CheckIn:    req.CheckIn,
		CheckOut:   req.CheckOut,
		Guests:     req.Guests,
		CouponCode: req.CouponCode,
		Metadata:   req.Metadata,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, co)
}

func (s *Server) handleGetCheckout(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "checkoutID")
	co, err := s.orch.GetCheckout(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, co)
}

func (s *Server) handleUpdateGuest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "checkoutID")
	var guest checkout.Guest
	if err := decodeJSON(r.Body, &guest); err != nil {
		writeError(w, apierr.Wrap(apierr.CodeValidation, "invalid request body", err))
		return
	}
	co, err := s.orch.UpdateGuestInfo(r.Context(), id, guest)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, co)
}

func (s *Server) handleCreateHold(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "checkoutID")
	co, err := s.orch.CreateHold(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orchestrator.HoldResult{
		CheckoutID:       co.CheckoutID,
		State:            co.State,
		PMSReservationID: co.PMSReservationID,
		HoldExpiresAt:    co.HoldExpiresAt,
	})
}

func (s *Server) handleCreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "checkoutID")
	result, err := s.orch.CreatePaymentIntent(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// finalizeRequest carries the caller's willingness to wait for a
// terminal state before the request returns.
type finalizeRequest struct {
	MaxWaitMs int `json:"maxWaitMs,omitempty"`
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "checkoutID")
	var req finalizeRequest
	// Body is optional; a missing or empty body just uses the default wait.
	_ = decodeJSON(r.Body, &req)

	maxWait := time.Duration(req.MaxWaitMs) * time.Millisecond
	co, err := s.orch.WaitForConfirmation(r.Context(), id, maxWait)
	if err != nil {
		writeError(w, err)
		return
	}

	result := orchestrator.FinalizeResult{Checkout: co}
	switch co.State {
	case checkout.StateBooked:
		result.Success = true
		result.BookingCode = co.PMSBookingCode
	case checkout.StateFailed, checkout.StateExpired, checkout.StateCanceled:
		result.Success = false
	default:
		result.Pending = true
	}
	writeJSON(w, http.StatusOK, result)
}

// cancelRequest is the optional POST /checkout/{id}/cancel body.
type cancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "checkoutID")
	var req cancelRequest
	_ = decodeJSON(r.Body, &req)

	co, err := s.orch.CancelCheckout(r.Context(), id, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, co)
}
