// Package checkout holds the Checkout aggregate and its state machine:
// validated, atomic transitions over the checkout record, executed inside a
// docstore transaction, with an append-only transition log.
package checkout

import "time"

// State is one of the checkout lifecycle states.
type State string

const (
	StateInitiated       State = "INITIATED"
	StateHoldCreated     State = "HOLD_CREATED"
	StatePaymentCreated  State = "PAYMENT_CREATED"
	StatePaid            State = "PAID"
	StateBooked          State = "BOOKED"
	StateCanceled        State = "CANCELED"
	StateExpired         State = "EXPIRED"
	StateFailed          State = "FAILED"
)

// Actor identifies who triggered a transition.
type Actor string

const (
	ActorUser    Actor = "user"
	ActorSystem  Actor = "system"
	ActorWebhook Actor = "webhook"
)

// Transition is one append-only entry in a Checkout's stateHistory.
type Transition struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
	Actor     Actor     `json:"actor"`
}

// Guests captures party composition; adults must be at least 1.
type Guests struct {
	Adults   int `json:"adults"`
	Children int `json:"children"`
	Infants  int `json:"infants"`
}

// Breakdown is the itemized components of a Locked Quote's total.
type Breakdown struct {
	Subtotal    int64 `json:"subtotal"`
	CleaningFee int64 `json:"cleaningFee"`
	ServiceFee  int64 `json:"serviceFee"`
	Taxes       int64 `json:"taxes"`
}

// Quote is the immutable Locked Quote snapshotted at initialize time.
type Quote struct {
	Total     int64     `json:"total"`
	Currency  string    `json:"currency"`
	Breakdown Breakdown `json:"breakdown"`
	Hash      string    `json:"hash"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Guest is the shopper's contact and identity information, required
// before a hold can be created.
type Guest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	Document  string `json:"document,omitempty"`
}

// Checkout is the aggregate root: one document per shopper attempt.
type Checkout struct {
	CheckoutID string `json:"checkoutId"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	State      State     `json:"state"`
	StateHistory []Transition `json:"stateHistory"`

	ListingID string    `json:"listingId"`
	CheckIn   string    `json:"checkIn"`  // YYYY-MM-DD
	CheckOut  string    `json:"checkOut"` // YYYY-MM-DD
	Guests    Guests    `json:"guests"`
	CouponCode string   `json:"couponCode,omitempty"`

	Quote Quote  `json:"quote"`
	Guest *Guest `json:"guest,omitempty"`

	PMSReservationID   string `json:"pmsReservationId,omitempty"`
	PMSBookingCode     string `json:"pmsBookingCode,omitempty"`
	PSPPaymentIntentID string `json:"pspPaymentIntentId,omitempty"`

	HoldExpiresAt time.Time `json:"holdExpiresAt,omitempty"`
	RetryCount    int       `json:"retryCount"`

	// DanglingCapture marks a checkout where a payment_intent.succeeded
	// event arrived after the hold had already expired: funds were
	// captured against inventory that is no longer held. It is a field,
	// not a state, so terminal states remain sinks.
	DanglingCapture bool `json:"danglingCapture,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// IsTerminal reports whether s has no outgoing transitions other than the
// single BOOKED->CANCELED exception.
func IsTerminal(s State) bool {
	switch s {
	case StateBooked, StateCanceled, StateExpired, StateFailed:
		return true
	default:
		return false
	}
}
