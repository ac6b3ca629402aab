package orchestrator

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stayhub/checkout/internal/apierr"
	"github.com/stayhub/checkout/internal/callbacks"
	"github.com/stayhub/checkout/internal/checkout"
	"github.com/stayhub/checkout/internal/circuitbreaker"
	"github.com/stayhub/checkout/internal/config"
	"github.com/stayhub/checkout/internal/docstore"
	"github.com/stayhub/checkout/internal/pms"
)

// fakePMS is a minimal scriptable PMS backend: handlers registered against a
// (method, path prefix) pair so each test wires only the endpoints it
// exercises, following the httptest.Server pattern internal/pms's own tests
// and internal/expiry's sweep tests use in place of an interface mock.
type fakePMS struct {
	t      *testing.T
	routes []fakePMSRoute
}

type fakePMSRoute struct {
	method, prefix string
	handler        http.HandlerFunc
}

func newFakePMS(t *testing.T) *fakePMS {
	return &fakePMS{t: t}
}

func (f *fakePMS) on(method, prefix string, h http.HandlerFunc) {
	f.routes = append(f.routes, fakePMSRoute{method: method, prefix: prefix, handler: h})
}

func (f *fakePMS) client() *pms.Client {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, route := range f.routes {
			if r.Method == route.method && strings.HasPrefix(r.URL.Path, route.prefix) {
				route.handler(w, r)
				return
			}
		}
		f.t.Fatalf("unhandled PMS request: %s %s", r.Method, r.URL.Path)
	}))
	f.t.Cleanup(srv.Close)

	breaker := circuitbreaker.NewManagerFromConfig(config.CircuitBreakerConfig{})
	return pms.New(config.PMSConfig{BaseURL: srv.URL}, breaker, zerolog.New(io.Discard))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Checkout.HoldTTL = config.Duration{Duration: 15 * time.Minute}
	cfg.Checkout.QuoteTTL = config.Duration{Duration: 30 * time.Minute}
	cfg.Checkout.FinalizePollInterval = config.Duration{Duration: 10 * time.Millisecond}
	return cfg
}

func newService(t *testing.T, gw docstore.Gateway, pmsClient *pms.Client) *Service {
	t.Helper()
	return New(testConfig(), gw, pmsClient, nil, callbacks.NoopNotifier{}, nil, zerolog.New(io.Discard))
}

func seedGuest(t *testing.T, gw docstore.Gateway, s *Service, checkoutID string) {
	t.Helper()
	_, err := s.UpdateGuestInfo(t.Context(), checkoutID, checkout.Guest{
		FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com",
	})
	if err != nil {
		t.Fatalf("seed guest: %v", err)
	}
}

func TestInitializeCheckout_HappyPath(t *testing.T) {
	fp := newFakePMS(t)
	fp.on("GET", "/listings/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, pms.ListingDetail{ListingID: "listing_1", Name: "Seaside Loft", Currency: "usd"})
	})
	fp.on("GET", "/pricing/calculate", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, pms.CalculatedPrice{
			Total: 50000, Currency: "usd",
			Breakdown: pms.PriceBreakdown{Subtotal: 45000, CleaningFee: 3000, ServiceFee: 1500, Taxes: 500},
		})
	})

	gw := docstore.NewMemoryGateway()
	svc := newService(t, gw, fp.client())

	co, err := svc.InitializeCheckout(t.Context(), InitializeInput{
		ListingID: "listing_1",
		CheckIn:   time.Now().AddDate(0, 0, 10).Format(dateLayout),
		CheckOut:  time.Now().AddDate(0, 0, 13).Format(dateLayout),
		Guests:    checkout.Guests{Adults: 2},
	})
	if err != nil {
		t.Fatalf("InitializeCheckout: %v", err)
	}
	if co.State != checkout.StateInitiated {
		t.Fatalf("expected INITIATED, got %s", co.State)
	}
	if co.Quote.Total != 50000 || co.Quote.Currency != "usd" {
		t.Fatalf("expected quote from PMS pricing, got %+v", co.Quote)
	}
	if co.Metadata["listingName"] != "Seaside Loft" {
		t.Fatalf("expected listing name seeded into metadata, got %+v", co.Metadata)
	}
	if len(co.StateHistory) != 1 {
		t.Fatalf("expected one seed history entry, got %d", len(co.StateHistory))
	}

	persisted, err := checkout.Load(t.Context(), gw, co.CheckoutID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if persisted.Quote.Hash == "" {
		t.Fatal("expected a quote hash to be persisted")
	}
}

func TestInitializeCheckout_RejectsInvalidDates(t *testing.T) {
	gw := docstore.NewMemoryGateway()
	svc := newService(t, gw, nil)

	_, err := svc.InitializeCheckout(t.Context(), InitializeInput{
		ListingID: "listing_1",
		CheckIn:   "2020-01-10",
		CheckOut:  "2020-01-05",
		Guests:    checkout.Guests{Adults: 1},
	})
	if apierr.CodeOf(err) != apierr.CodeValidation {
		t.Fatalf("expected VALIDATION, got %v", err)
	}
}

func seedInitiated(t *testing.T, gw docstore.Gateway, id string) {
	t.Helper()
	co := checkout.Checkout{
		CheckoutID: id,
		State:      checkout.StateInitiated,
		ListingID:  "listing_1",
		CheckIn:    "2099-01-10",
		CheckOut:   "2099-01-13",
		Guests:     checkout.Guests{Adults: 2},
		Quote: checkout.Quote{
			Total: 50000, Currency: "usd",
			Hash: checkout.QuoteHash("listing_1", "2099-01-10", "2099-01-13", checkout.Guests{Adults: 2}, ""),
		},
		StateHistory: []checkout.Transition{{From: checkout.StateInitiated, To: checkout.StateInitiated, Actor: checkout.ActorUser, Timestamp: time.Now().UTC()}},
	}
	if err := gw.Set(t.Context(), docstore.CollectionCheckouts, id, checkout.ToFields(co)); err != nil {
		t.Fatalf("seed initiated checkout: %v", err)
	}
}

func TestCreateHold_RequiresGuest(t *testing.T) {
	gw := docstore.NewMemoryGateway()
	seedInitiated(t, gw, "co_1")
	svc := newService(t, gw, nil)

	_, err := svc.CreateHold(t.Context(), "co_1")
	if apierr.CodeOf(err) != apierr.CodeGuestRequired {
		t.Fatalf("expected GUEST_REQUIRED, got %v", err)
	}
}

func TestCreateHold_HappyPath(t *testing.T) {
	fp := newFakePMS(t)
	fp.on("POST", "/reservations", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, pms.Reservation{ReservationID: "res_1", Type: pms.ReservationReserved})
	})

	gw := docstore.NewMemoryGateway()
	seedInitiated(t, gw, "co_1")
	svc := newService(t, gw, fp.client())
	seedGuest(t, gw, svc, "co_1")

	co, err := svc.CreateHold(t.Context(), "co_1")
	if err != nil {
		t.Fatalf("CreateHold: %v", err)
	}
	if co.State != checkout.StateHoldCreated {
		t.Fatalf("expected HOLD_CREATED, got %s", co.State)
	}
	if co.PMSReservationID != "res_1" {
		t.Fatalf("expected pmsReservationId to be set, got %q", co.PMSReservationID)
	}
	if co.HoldExpiresAt.IsZero() {
		t.Fatal("expected holdExpiresAt to be set")
	}
}

func TestCreateHold_IdempotentFastPath(t *testing.T) {
	calls := 0
	fp := newFakePMS(t)
	fp.on("POST", "/reservations", func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeJSON(w, http.StatusCreated, pms.Reservation{ReservationID: "res_1", Type: pms.ReservationReserved})
	})

	gw := docstore.NewMemoryGateway()
	seedInitiated(t, gw, "co_1")
	svc := newService(t, gw, fp.client())
	seedGuest(t, gw, svc, "co_1")

	first, err := svc.CreateHold(t.Context(), "co_1")
	if err != nil {
		t.Fatalf("first CreateHold: %v", err)
	}
	second, err := svc.CreateHold(t.Context(), "co_1")
	if err != nil {
		t.Fatalf("second CreateHold: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected the PMS to be called exactly once, got %d", calls)
	}
	if second.PMSReservationID != first.PMSReservationID {
		t.Fatalf("expected the same reservation on replay, got %q vs %q", first.PMSReservationID, second.PMSReservationID)
	}
}

func seedHoldCreated(t *testing.T, gw docstore.Gateway, id string, holdExpiresAt time.Time) {
	t.Helper()
	co := checkout.Checkout{
		CheckoutID:       id,
		State:            checkout.StateHoldCreated,
		ListingID:        "listing_1",
		PMSReservationID: "res_1",
		HoldExpiresAt:    holdExpiresAt,
		Quote:            checkout.Quote{Total: 50000, Currency: "usd"},
		StateHistory:     []checkout.Transition{{From: checkout.StateInitiated, To: checkout.StateHoldCreated, Actor: checkout.ActorUser, Timestamp: time.Now().UTC()}},
	}
	if err := gw.Set(t.Context(), docstore.CollectionCheckouts, id, checkout.ToFields(co)); err != nil {
		t.Fatalf("seed hold checkout: %v", err)
	}
}

func seedPaymentCreated(t *testing.T, gw docstore.Gateway, id string) {
	t.Helper()
	co := checkout.Checkout{
		CheckoutID:         id,
		State:              checkout.StatePaymentCreated,
		ListingID:          "listing_1",
		PMSReservationID:   "res_1",
		PSPPaymentIntentID: "pi_1",
		HoldExpiresAt:      time.Now().Add(time.Hour),
		Quote:              checkout.Quote{Total: 50000, Currency: "usd"},
		StateHistory:       []checkout.Transition{{From: checkout.StateHoldCreated, To: checkout.StatePaymentCreated, Actor: checkout.ActorUser, Timestamp: time.Now().UTC()}},
	}
	if err := gw.Set(t.Context(), docstore.CollectionCheckouts, id, checkout.ToFields(co)); err != nil {
		t.Fatalf("seed payment-created checkout: %v", err)
	}
}

func TestHandlePaymentSucceeded_FullFlowToBooked(t *testing.T) {
	fp := newFakePMS(t)
	fp.on("PATCH", "/reservations/res_1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, pms.Reservation{ReservationID: "res_1", Type: pms.ReservationBooked})
	})
	fp.on("POST", "/reservations/res_1/payments", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	fp.on("GET", "/reservations/res_1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, pms.Reservation{ReservationID: "res_1", Type: pms.ReservationBooked, BookingCode: "BK-1234"})
	})

	gw := docstore.NewMemoryGateway()
	seedPaymentCreated(t, gw, "co_1")
	svc := newService(t, gw, fp.client())

	if err := svc.HandlePaymentSucceeded(t.Context(), "co_1", "pi_1"); err != nil {
		t.Fatalf("HandlePaymentSucceeded: %v", err)
	}

	co, err := checkout.Load(t.Context(), gw, "co_1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if co.State != checkout.StateBooked {
		t.Fatalf("expected BOOKED, got %s", co.State)
	}
	if co.PMSBookingCode != "BK-1234" {
		t.Fatalf("expected booking code to be persisted, got %q", co.PMSBookingCode)
	}
}

func TestHandlePaymentSucceeded_IsIdempotentOnReplay(t *testing.T) {
	patchCalls, paymentCalls, getCalls := 0, 0, 0
	fp := newFakePMS(t)
	fp.on("PATCH", "/reservations/res_1", func(w http.ResponseWriter, r *http.Request) {
		patchCalls++
		writeJSON(w, http.StatusOK, pms.Reservation{ReservationID: "res_1", Type: pms.ReservationBooked})
	})
	fp.on("POST", "/reservations/res_1/payments", func(w http.ResponseWriter, r *http.Request) {
		paymentCalls++
		w.WriteHeader(http.StatusNoContent)
	})
	fp.on("GET", "/reservations/res_1", func(w http.ResponseWriter, r *http.Request) {
		getCalls++
		writeJSON(w, http.StatusOK, pms.Reservation{ReservationID: "res_1", Type: pms.ReservationBooked, BookingCode: "BK-1234"})
	})

	gw := docstore.NewMemoryGateway()
	seedPaymentCreated(t, gw, "co_1")
	svc := newService(t, gw, fp.client())

	for i := 0; i < 3; i++ {
		if err := svc.HandlePaymentSucceeded(t.Context(), "co_1", "pi_1"); err != nil {
			t.Fatalf("replay %d: %v", i, err)
		}
	}

	co, err := checkout.Load(t.Context(), gw, "co_1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if co.State != checkout.StateBooked {
		t.Fatalf("expected BOOKED after repeated delivery, got %s", co.State)
	}
	// The second and third deliveries short-circuit on the already-BOOKED
	// check before touching the PMS again.
	if patchCalls != 1 || paymentCalls != 1 || getCalls != 1 {
		t.Fatalf("expected each PMS step called exactly once across 3 deliveries, got patch=%d payment=%d get=%d", patchCalls, paymentCalls, getCalls)
	}
}

func TestHandlePaymentSucceeded_DanglingCaptureWhenHoldAlreadyExpired(t *testing.T) {
	fp := newFakePMS(t)
	gw := docstore.NewMemoryGateway()
	co := checkout.Checkout{
		CheckoutID:       "co_1",
		State:            checkout.StateExpired,
		PMSReservationID: "res_1",
		Quote:            checkout.Quote{Total: 50000, Currency: "usd"},
		StateHistory:     []checkout.Transition{{From: checkout.StateHoldCreated, To: checkout.StateExpired, Actor: checkout.ActorSystem, Timestamp: time.Now().UTC()}},
	}
	if err := gw.Set(t.Context(), docstore.CollectionCheckouts, "co_1", checkout.ToFields(co)); err != nil {
		t.Fatalf("seed expired checkout: %v", err)
	}
	svc := newService(t, gw, fp.client())

	if err := svc.HandlePaymentSucceeded(t.Context(), "co_1", "pi_1"); err != nil {
		t.Fatalf("HandlePaymentSucceeded: %v", err)
	}

	persisted, err := checkout.Load(t.Context(), gw, "co_1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if persisted.State != checkout.StateExpired {
		t.Fatalf("expected the checkout to remain EXPIRED (terminal), got %s", persisted.State)
	}
	if !persisted.DanglingCapture {
		t.Fatal("expected danglingCapture to be marked")
	}
}

func TestCancelCheckout_TolerablesPMSNotFound(t *testing.T) {
	fp := newFakePMS(t)
	fp.on("POST", "/reservations/res_1/cancel", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	gw := docstore.NewMemoryGateway()
	seedHoldCreated(t, gw, "co_1", time.Now().Add(time.Hour))
	svc := newService(t, gw, fp.client())

	co, err := svc.CancelCheckout(t.Context(), "co_1", "guest changed mind")
	if err != nil {
		t.Fatalf("CancelCheckout: %v", err)
	}
	if co.State != checkout.StateCanceled {
		t.Fatalf("expected CANCELED, got %s", co.State)
	}
}

func TestWaitForConfirmation_ReturnsImmediatelyOnTerminalState(t *testing.T) {
	gw := docstore.NewMemoryGateway()
	co := checkout.Checkout{CheckoutID: "co_1", State: checkout.StateBooked, Quote: checkout.Quote{Currency: "usd", Total: 1}}
	if err := gw.Set(t.Context(), docstore.CollectionCheckouts, "co_1", checkout.ToFields(co)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	svc := newService(t, gw, nil)

	start := time.Now()
	result, err := svc.WaitForConfirmation(t.Context(), "co_1", 5*time.Second)
	if err != nil {
		t.Fatalf("WaitForConfirmation: %v", err)
	}
	if result.State != checkout.StateBooked {
		t.Fatalf("expected BOOKED, got %s", result.State)
	}
	if time.Since(start) > time.Second {
		t.Fatal("expected an immediate return for an already-terminal checkout")
	}
}

func TestWaitForConfirmation_ReturnsPendingAfterTimeout(t *testing.T) {
	gw := docstore.NewMemoryGateway()
	co := checkout.Checkout{CheckoutID: "co_1", State: checkout.StatePaymentCreated, Quote: checkout.Quote{Currency: "usd", Total: 1}}
	if err := gw.Set(t.Context(), docstore.CollectionCheckouts, "co_1", checkout.ToFields(co)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	svc := newService(t, gw, nil)

	result, err := svc.WaitForConfirmation(t.Context(), "co_1", 30*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForConfirmation: %v", err)
	}
	if result.State != checkout.StatePaymentCreated {
		t.Fatalf("expected the non-terminal state to be returned once maxWait elapses, got %s", result.State)
	}
}

func TestCreatePaymentIntent_RejectsWrongState(t *testing.T) {
	gw := docstore.NewMemoryGateway()
	seedInitiated(t, gw, "co_1")
	svc := newService(t, gw, nil)

	_, err := svc.CreatePaymentIntent(t.Context(), "co_1")
	if apierr.CodeOf(err) != apierr.CodeInvalidTransition {
		t.Fatalf("expected INVALID_TRANSITION from INITIATED, got %v", err)
	}
}
