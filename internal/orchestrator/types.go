// Package orchestrator is the checkout workflow: it sequences
// quote -> hold -> payment-intent -> paid -> booked across the PMS and PSP
// adapters and the document store's state machine. It is the public API
// surface the HTTP layer and webhook ingress call into: a struct holding
// adapters, store, and metrics, constructed once at wiring time and
// injected into handlers.
package orchestrator

import (
	"time"

	"github.com/stayhub/checkout/internal/checkout"
)

// InitializeInput carries the validated inputs for starting a new checkout.
type InitializeInput struct {
	ListingID  string
	CheckIn    string // YYYY-MM-DD
	CheckOut   string // YYYY-MM-DD
	Guests     checkout.Guests
	CouponCode string
	Metadata   map[string]string
}

// HoldResult is the shape returned from CreateHold for the HTTP layer's
// POST /checkout/{id}/hold response.
type HoldResult struct {
	CheckoutID       string    `json:"checkoutId"`
	State            checkout.State `json:"state"`
	PMSReservationID string    `json:"pmsReservationId"`
	HoldExpiresAt    time.Time `json:"holdExpiresAt"`
}

// PaymentIntentResult is the shape returned from CreatePaymentIntent.
// ClientSecret is never persisted; it only ever exists in this transient,
// per-request struct.
type PaymentIntentResult struct {
	CheckoutID   string         `json:"checkoutId"`
	ClientSecret string         `json:"clientSecret"`
	State        checkout.State `json:"state"`
}

// FinalizeResult is the shape returned from POST /checkout/{id}/finalize.
type FinalizeResult struct {
	Success     bool              `json:"success"`
	BookingCode string            `json:"bookingCode,omitempty"`
	Pending     bool              `json:"pending,omitempty"`
	Checkout    checkout.Checkout `json:"checkout"`
}
