package orchestrator

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stayhub/checkout/internal/apierr"
	"github.com/stayhub/checkout/internal/callbacks"
	"github.com/stayhub/checkout/internal/checkout"
	"github.com/stayhub/checkout/internal/config"
	"github.com/stayhub/checkout/internal/docstore"
	"github.com/stayhub/checkout/internal/metrics"
	"github.com/stayhub/checkout/internal/money"
	"github.com/stayhub/checkout/internal/pms"
	"github.com/stayhub/checkout/internal/psp"
)

// Service is the checkout workflow engine: it coordinates the PMS adapter,
// PSP adapter, document store gateway, and state machine into the eight
// public checkout operations. A struct holding its collaborators,
// constructed once at wiring time and shared read-only across request
// handlers.
type Service struct {
	cfg     *config.Config
	gw      docstore.Gateway
	pms     *pms.Client
	psp     *psp.Client
	notify  callbacks.Notifier
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New constructs a Service from its already-wired collaborators.
func New(cfg *config.Config, gw docstore.Gateway, pmsClient *pms.Client, pspClient *psp.Client, notifier callbacks.Notifier, metricsCollector *metrics.Metrics, logger zerolog.Logger) *Service {
	if notifier == nil {
		notifier = callbacks.NoopNotifier{}
	}
	return &Service{
		cfg:     cfg,
		gw:      gw,
		pms:     pmsClient,
		psp:     pspClient,
		notify:  notifier,
		metrics: metricsCollector,
		logger:  logger,
	}
}

// GetCheckout loads a checkout by id for the HTTP layer's read endpoint.
func (s *Service) GetCheckout(ctx context.Context, checkoutID string) (checkout.Checkout, error) {
	return checkout.Load(ctx, s.gw, checkoutID)
}

// InitializeCheckout prices a stay against the PMS, builds the Locked
// Quote, and writes a new Checkout in INITIATED with a seed history entry
// (an intentional self-transition that anchors the audit trail).
func (s *Service) InitializeCheckout(ctx context.Context, in InitializeInput) (checkout.Checkout, error) {
	if err := validateInitializeInput(in); err != nil {
		return checkout.Checkout{}, err
	}

	listing, err := s.pms.GetListingDetail(ctx, in.ListingID)
	if err != nil {
		return checkout.Checkout{}, err
	}

	price, err := s.pms.CalculatePrice(ctx, pms.CalculatePriceRequest{
		ListingID:  in.ListingID,
		CheckIn:    in.CheckIn,
		CheckOut:   in.CheckOut,
		Adults:     in.Guests.Adults,
		Children:   in.Guests.Children,
		Infants:    in.Guests.Infants,
		CouponCode: in.CouponCode,
	})
	if err != nil {
		return checkout.Checkout{}, err
	}

	now := time.Now().UTC()
	quoteTTL := s.cfg.Checkout.QuoteTTL.Duration
	if quoteTTL <= 0 {
		quoteTTL = 30 * time.Minute
	}

	quote := checkout.Quote{
		Total:    price.Total,
		Currency: price.Currency,
		Breakdown: checkout.Breakdown{
			Subtotal:    price.Breakdown.Subtotal,
			CleaningFee: price.Breakdown.CleaningFee,
			ServiceFee:  price.Breakdown.ServiceFee,
			Taxes:       price.Breakdown.Taxes,
		},
		Hash:      checkout.QuoteHash(in.ListingID, in.CheckIn, in.CheckOut, in.Guests, in.CouponCode),
		ExpiresAt: now.Add(quoteTTL),
	}

	metadata := in.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	if listing.Name != "" {
		metadata["listingName"] = listing.Name
	}

	co := checkout.Checkout{
		CheckoutID: uuid.NewString(),
		CreatedAt:  now,
		UpdatedAt:  now,
		State:      checkout.StateInitiated,
		StateHistory: []checkout.Transition{{
			From:      checkout.StateInitiated,
			To:        checkout.StateInitiated,
			Timestamp: now,
			Reason:    "initialized",
			Actor:     checkout.ActorUser,
		}},
		ListingID:  in.ListingID,
		CheckIn:    in.CheckIn,
		CheckOut:   in.CheckOut,
		Guests:     in.Guests,
		CouponCode: in.CouponCode,
		Quote:      quote,
		Metadata:   metadata,
	}

	if err := s.gw.Set(ctx, docstore.CollectionCheckouts, co.CheckoutID, checkout.ToFields(co)); err != nil {
		return checkout.Checkout{}, apierr.Wrap(apierr.CodeInternal, "persist checkout", err)
	}

	if s.metrics != nil {
		s.metrics.CheckoutsInitiatedTotal.WithLabelValues(in.ListingID).Inc()
	}
	s.logger.Info().Str("checkout_id", co.CheckoutID).Str("listing_id", in.ListingID).
		Int64("quote_total", quote.Total).Msg("checkout.initialized")

	return co, nil
}

// UpdateGuestInfo writes only guest and updatedAt; it never transitions
// state. Legal from INITIATED, HOLD_CREATED, or PAYMENT_CREATED only.
func (s *Service) UpdateGuestInfo(ctx context.Context, checkoutID string, guest checkout.Guest) (checkout.Checkout, error) {
	var result checkout.Checkout
	err := s.gw.RunTransaction(ctx, func(ctx context.Context, txn docstore.Txn) error {
		current, err := checkout.LoadTxn(txn, checkoutID)
		if err != nil {
			return err
		}
		switch current.State {
		case checkout.StateInitiated, checkout.StateHoldCreated, checkout.StatePaymentCreated:
		default:
			return apierr.Newf(apierr.CodeInvalidStateForUpdate, "cannot update guest info while checkout is %s", current.State)
		}

		now := time.Now().UTC()
		if err := txn.Update(docstore.CollectionCheckouts, checkoutID, map[string]any{
			"guest":     guest,
			"updatedAt": now,
		}); err != nil {
			return err
		}
		current.Guest = &guest
		current.UpdatedAt = now
		result = current
		return nil
	})
	if err != nil {
		return checkout.Checkout{}, err
	}
	return result, nil
}

// CreateHold creates a PMS reservation hold and transitions the checkout to
// HOLD_CREATED. holdExpiresAt is computed before the PMS call is issued and
// written together with pmsReservationId in the HOLD_CREATED transition; if
// that commit fails, the checkout keeps no record of the PMS reservation and
// the hold expiration sweep does not see it.
func (s *Service) CreateHold(ctx context.Context, checkoutID string) (checkout.Checkout, error) {
	var result checkout.Checkout
	err := s.gw.RunTransaction(ctx, func(ctx context.Context, txn docstore.Txn) error {
		current, err := checkout.LoadTxn(txn, checkoutID)
		if err != nil {
			return err
		}

		if current.State == checkout.StateHoldCreated || current.PMSReservationID != "" {
			result = current
			return nil
		}
		if current.State != checkout.StateInitiated {
			return apierr.Newf(apierr.CodeInvalidTransition, "cannot create hold from %s", current.State)
		}
		if err := validateGuest(current.Guest); err != nil {
			return err
		}
		if err := checkQuoteHash(current); err != nil {
			return err
		}

		holdTTL := s.cfg.Checkout.HoldTTL.Duration
		if holdTTL <= 0 {
			holdTTL = 15 * time.Minute
		}
		holdExpiresAt := time.Now().UTC().Add(holdTTL)

		reservation, err := s.pms.CreateReservation(ctx, pms.CreateReservationRequest{
			Type:      pms.ReservationReserved,
			ListingID: current.ListingID,
			CheckIn:   current.CheckIn,
			CheckOut:  current.CheckOut,
			Guest: pms.Guest{
				FirstName: current.Guest.FirstName,
				LastName:  current.Guest.LastName,
				Email:     current.Guest.Email,
				Phone:     current.Guest.Phone,
			},
			TotalPrice: current.Quote.Total,
			Currency:   current.Quote.Currency,
		})
		if err != nil {
			return err
		}

		updated, err := checkout.Transition(txn, checkoutID, checkout.StateHoldCreated, checkout.TransitionInput{
			Actor: checkout.ActorUser,
			Updates: map[string]any{
				"pmsReservationId": reservation.ReservationID,
				"holdExpiresAt":    holdExpiresAt,
			},
		})
		if err != nil {
			return err
		}
		result = updated
		return nil
	})
	if err != nil {
		return checkout.Checkout{}, err
	}

	if s.metrics != nil && result.PMSReservationID != "" {
		s.metrics.StateTransitionsTotal.WithLabelValues(string(checkout.StateInitiated), string(checkout.StateHoldCreated)).Inc()
	}
	s.logger.Info().Str("checkout_id", checkoutID).Str("pms_reservation_id", result.PMSReservationID).
		Msg("checkout.hold.created")

	return result, nil
}

// CreatePaymentIntent creates a PSP PaymentIntent for the quote total and
// transitions the checkout to PAYMENT_CREATED. If a payment intent already
// exists, it is retrieved from the PSP and its current client secret
// returned with no state change (idempotent fast path). The client secret
// is returned to the caller and never persisted.
func (s *Service) CreatePaymentIntent(ctx context.Context, checkoutID string) (PaymentIntentResult, error) {
	var existingIntentID string
	var state checkout.State

	err := s.gw.RunTransaction(ctx, func(ctx context.Context, txn docstore.Txn) error {
		current, err := checkout.LoadTxn(txn, checkoutID)
		if err != nil {
			return err
		}
		if current.PSPPaymentIntentID != "" {
			existingIntentID = current.PSPPaymentIntentID
			state = current.State
			return nil
		}
		if current.State != checkout.StateHoldCreated {
			return apierr.Newf(apierr.CodeInvalidTransition, "cannot create payment intent from %s", current.State)
		}
		if err := checkQuoteHash(current); err != nil {
			return err
		}
		state = current.State
		return nil
	})
	if err != nil {
		return PaymentIntentResult{}, err
	}

	if existingIntentID != "" {
		intent, err := s.psp.RetrievePaymentIntent(ctx, existingIntentID)
		if err != nil {
			return PaymentIntentResult{}, err
		}
		return PaymentIntentResult{CheckoutID: checkoutID, ClientSecret: intent.ClientSecret, State: state}, nil
	}

	current, err := checkout.Load(ctx, s.gw, checkoutID)
	if err != nil {
		return PaymentIntentResult{}, err
	}
	amount := money.New(current.Quote.Currency, current.Quote.Total)

	intent, err := s.psp.CreatePaymentIntent(ctx, psp.CreatePaymentIntentRequest{
		Amount:   amount.Atomic,
		Currency: amount.Currency,
		Metadata: map[string]string{
			"checkoutId":       checkoutID,
			"pmsReservationId": current.PMSReservationID,
		},
		ReceiptEmail: guestEmail(current.Guest),
		Description:  "Booking checkout " + checkoutID,
	})
	if err != nil {
		return PaymentIntentResult{}, err
	}

	var result checkout.Checkout
	err = s.gw.RunTransaction(ctx, func(ctx context.Context, txn docstore.Txn) error {
		updated, err := checkout.Transition(txn, checkoutID, checkout.StatePaymentCreated, checkout.TransitionInput{
			Actor: checkout.ActorUser,
			Updates: map[string]any{
				"pspPaymentIntentId": intent.ID,
			},
		})
		if err != nil {
			return err
		}
		result = updated
		return nil
	})
	if err != nil {
		return PaymentIntentResult{}, err
	}

	if s.metrics != nil {
		s.metrics.StateTransitionsTotal.WithLabelValues(string(checkout.StateHoldCreated), string(checkout.StatePaymentCreated)).Inc()
	}
	s.logger.Info().Str("checkout_id", checkoutID).Str("psp_payment_intent_id", intent.ID).
		Msg("checkout.payment_intent.created")

	return PaymentIntentResult{CheckoutID: checkoutID, ClientSecret: intent.ClientSecret, State: result.State}, nil
}

// HandlePaymentSucceeded is webhook-driven: it transitions PAID, then
// drives the PMS side effects (mark booked, register payment, fetch
// booking code) to BOOKED. Every PMS step tolerates replay, so repeated
// delivery of the same event converges to the same final state. If any
// PMS step fails, the checkout is left in PAID for the next webhook retry
// to resume; it never transitions to FAILED here.
func (s *Service) HandlePaymentSucceeded(ctx context.Context, checkoutID, paymentIntentID string) error {
	var paid checkout.Checkout
	var advanced bool
	err := s.gw.RunTransaction(ctx, func(ctx context.Context, txn docstore.Txn) error {
		updated, ok, err := checkout.TryTransition(txn, checkoutID, checkout.StatePaid, checkout.TransitionInput{
			Actor: checkout.ActorWebhook,
		})
		if err != nil {
			return err
		}
		advanced = ok
		if ok {
			paid = updated
			return nil
		}
		// Not a legal PAID transition: either already PAID/BOOKED (handled
		// below) or the hold already expired out from under this event.
		current, err := checkout.LoadTxn(txn, checkoutID)
		if err != nil {
			return err
		}
		paid = current
		return nil
	})
	if err != nil {
		return err
	}

	if paid.State == checkout.StateBooked {
		return nil
	}

	if !advanced && paid.State != checkout.StatePaid {
		// The transition was rejected and the checkout isn't already PAID:
		// the hold expired before this event arrived. Funds were captured
		// against released inventory.
		s.notify.NotifyDanglingCapture(ctx, checkoutID, paid.PMSReservationID, paymentIntentID)
		if s.metrics != nil {
			s.metrics.DanglingCapturesTotal.Inc()
		}
		if derr := s.markDanglingCapture(ctx, checkoutID); derr != nil {
			s.logger.Error().Err(derr).Str("checkout_id", checkoutID).Msg("checkout.dangling_capture.mark_failed")
		}
		s.logger.Warn().Str("checkout_id", checkoutID).Str("psp_payment_intent_id", paymentIntentID).
			Msg("checkout.payment_succeeded.dangling_capture")
		return nil
	}

	// Each PMS step below must tolerate replay (UpdateReservation to the
	// same terminal type is a no-op; RegisterPayment dedups on reference);
	// if a step errors here, the error propagates so the webhook handler
	// responds 5xx and the PSP retries delivery with the checkout still in
	// PAID, rather than silently dropping the failure.
	if err := s.pms.UpdateReservation(ctx, paid.PMSReservationID, map[string]any{"type": string(pms.ReservationBooked)}); err != nil {
		s.logger.Warn().Err(err).Str("checkout_id", checkoutID).Msg("checkout.payment_succeeded.update_reservation_failed")
		return err
	}

	amount := money.New(paid.Quote.Currency, paid.Quote.Total)
	if err := s.pms.RegisterPayment(ctx, paid.PMSReservationID, pms.RegisterPaymentRequest{
		Amount:    amount.Atomic,
		Currency:  amount.Currency,
		Method:    "credit_card",
		Reference: paymentIntentID,
	}); err != nil {
		s.logger.Warn().Err(err).Str("checkout_id", checkoutID).Msg("checkout.payment_succeeded.register_payment_failed")
		return err
	}

	reservation, err := s.pms.GetReservation(ctx, paid.PMSReservationID)
	if err != nil {
		s.logger.Warn().Err(err).Str("checkout_id", checkoutID).Msg("checkout.payment_succeeded.get_reservation_failed")
		return err
	}

	err = s.gw.RunTransaction(ctx, func(ctx context.Context, txn docstore.Txn) error {
		_, err := checkout.Transition(txn, checkoutID, checkout.StateBooked, checkout.TransitionInput{
			Actor: checkout.ActorSystem,
			Updates: map[string]any{
				"pmsBookingCode": reservation.BookingCode,
			},
		})
		return err
	})
	if err != nil {
		// A concurrent expiry could only have raced before PAID; once PAID,
		// BOOKED is the only legal next step, so a failure here is a real
		// infrastructure problem. Leave the checkout in PAID for the next
		// webhook retry.
		s.logger.Error().Err(err).Str("checkout_id", checkoutID).Msg("checkout.booked.transition_failed")
		return err
	}

	if s.metrics != nil {
		s.metrics.StateTransitionsTotal.WithLabelValues(string(checkout.StatePaid), string(checkout.StateBooked)).Inc()
	}
	s.logger.Info().Str("checkout_id", checkoutID).Str("booking_code", reservation.BookingCode).
		Msg("checkout.booked")
	return nil
}

// HandlePaymentFailed logs the failure and returns without transitioning
// state: the hold TTL is the authoritative timeout, and the user may still
// retry payment before the hold expires.
func (s *Service) HandlePaymentFailed(ctx context.Context, checkoutID, reason string) error {
	s.logger.Info().Str("checkout_id", checkoutID).Str("reason", reason).Msg("checkout.payment_failed")
	return nil
}

// WaitForConfirmation polls the store until state reaches a resolved value
// or maxWait elapses, hard-capped at 30s, collapsing the "payment
// confirmed, webhook in flight" UX gap.
func (s *Service) WaitForConfirmation(ctx context.Context, checkoutID string, maxWait time.Duration) (checkout.Checkout, error) {
	hardCap := 30 * time.Second
	if maxWait <= 0 || maxWait > hardCap {
		maxWait = hardCap
	}
	pollInterval := s.cfg.Checkout.FinalizePollInterval.Duration
	if pollInterval <= 0 {
		pollInterval = 1 * time.Second
	}

	deadline := time.Now().Add(maxWait)
	for {
		current, err := checkout.Load(ctx, s.gw, checkoutID)
		if err != nil {
			return checkout.Checkout{}, err
		}
		switch current.State {
		case checkout.StateBooked, checkout.StateFailed, checkout.StateExpired:
			return current, nil
		}
		if !time.Now().Before(deadline) {
			return current, nil
		}

		timer := time.NewTimer(pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return current, nil
		case <-timer.C:
		}
	}
}

// CancelCheckout best-effort cancels the PMS reservation (tolerating
// NOT_FOUND) and transitions the checkout to CANCELED. From BOOKED this
// represents a post-booking cancellation, the one permitted post-terminal
// transition.
func (s *Service) CancelCheckout(ctx context.Context, checkoutID, reason string) (checkout.Checkout, error) {
	current, err := checkout.Load(ctx, s.gw, checkoutID)
	if err != nil {
		return checkout.Checkout{}, err
	}

	if current.PMSReservationID != "" {
		if err := s.pms.CancelReservation(ctx, current.PMSReservationID); err != nil {
			ae, _ := apierr.As(err)
			notFound := apierr.CodeOf(err) == apierr.CodeNotFound ||
				(ae != nil && ae.Code == apierr.CodePMSClientError && ae.UpstreamStatus == http.StatusNotFound)
			if !notFound {
				return checkout.Checkout{}, err
			}
		}
	}

	var result checkout.Checkout
	err = s.gw.RunTransaction(ctx, func(ctx context.Context, txn docstore.Txn) error {
		updated, err := checkout.Transition(txn, checkoutID, checkout.StateCanceled, checkout.TransitionInput{
			Actor:  checkout.ActorUser,
			Reason: reason,
		})
		if err != nil {
			return err
		}
		result = updated
		return nil
	})
	if err != nil {
		return checkout.Checkout{}, err
	}

	s.logger.Info().Str("checkout_id", checkoutID).Str("reason", reason).Msg("checkout.canceled")
	return result, nil
}

func (s *Service) markDanglingCapture(ctx context.Context, checkoutID string) error {
	return s.gw.Update(ctx, docstore.CollectionCheckouts, checkoutID, map[string]any{
		"danglingCapture": true,
		"updatedAt":       time.Now().UTC(),
	})
}

// checkQuoteHash recomputes the canonical hash from the checkout's current
// booking inputs and compares it against the stored quote hash. Inputs
// are immutable after INITIATED, so a mismatch can only mean the stored
// document was corrupted.
func checkQuoteHash(c checkout.Checkout) error {
	expected := checkout.QuoteHash(c.ListingID, c.CheckIn, c.CheckOut, c.Guests, c.CouponCode)
	if expected != c.Quote.Hash {
		return apierr.New(apierr.CodeInternal, "quote hash mismatch: checkout record may be corrupted")
	}
	return nil
}

func guestEmail(g *checkout.Guest) string {
	if g == nil {
		return ""
	}
	return g.Email
}
