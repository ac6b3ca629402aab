package expiry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stayhub/checkout/internal/checkout"
	"github.com/stayhub/checkout/internal/circuitbreaker"
	"github.com/stayhub/checkout/internal/config"
	"github.com/stayhub/checkout/internal/docstore"
	"github.com/stayhub/checkout/internal/pms"
)

func newTestPMSClient(t *testing.T, handler http.HandlerFunc) *pms.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	breaker := circuitbreaker.NewManagerFromConfig(config.CircuitBreakerConfig{})
	return pms.New(config.PMSConfig{BaseURL: srv.URL}, breaker, zerolog.New(io.Discard))
}

func seedExpiredHold(t *testing.T, gw docstore.Gateway, id string, state checkout.State, holdExpiresAt time.Time) {
	t.Helper()
	co := checkout.Checkout{
		CheckoutID:       id,
		State:            state,
		PMSReservationID: "res_" + id,
		HoldExpiresAt:    holdExpiresAt,
		Quote:            checkout.Quote{Currency: "usd", Total: 1000},
	}
	if err := gw.Set(t.Context(), docstore.CollectionCheckouts, id, checkout.ToFields(co)); err != nil {
		t.Fatalf("seed checkout: %v", err)
	}
}

func TestSweeper_ExpiresPastDueHolds(t *testing.T) {
	gw := docstore.NewMemoryGateway()
	seedExpiredHold(t, gw, "co_1", checkout.StateHoldCreated, time.Now().Add(-time.Hour))
	seedExpiredHold(t, gw, "co_2", checkout.StateHoldCreated, time.Now().Add(time.Hour)) // not yet expired

	pmsClient := newTestPMSClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	})

	cfg := config.ExpiryConfig{BatchLimit: 100, MaxConcurrency: 4}
	sweeper := New(cfg, gw, pmsClient, nil, nil, zerolog.New(io.Discard))

	result, err := sweeper.Sweep(t.Context())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.ExpiredCount != 1 {
		t.Fatalf("expected 1 expired checkout, got %+v", result)
	}
	if result.ErrorCount != 0 {
		t.Fatalf("expected no errors, got %+v", result)
	}

	expired, err := checkout.Load(t.Context(), gw, "co_1")
	if err != nil {
		t.Fatalf("load co_1: %v", err)
	}
	if expired.State != checkout.StateExpired {
		t.Fatalf("expected co_1 to be EXPIRED, got %s", expired.State)
	}

	untouched, err := checkout.Load(t.Context(), gw, "co_2")
	if err != nil {
		t.Fatalf("load co_2: %v", err)
	}
	if untouched.State != checkout.StateHoldCreated {
		t.Fatalf("co_2 should not have been swept yet, got %s", untouched.State)
	}
}

func TestSweeper_CancelFailureLeavesRecordForNextSweep(t *testing.T) {
	gw := docstore.NewMemoryGateway()
	seedExpiredHold(t, gw, "co_fail", checkout.StateHoldCreated, time.Now().Add(-time.Hour))

	pmsClient := newTestPMSClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	})

	cfg := config.ExpiryConfig{BatchLimit: 100, MaxConcurrency: 4}
	sweeper := New(cfg, gw, pmsClient, nil, nil, zerolog.New(io.Discard))

	result, err := sweeper.Sweep(t.Context())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.ErrorCount != 1 || result.ExpiredCount != 0 {
		t.Fatalf("expected one error, got %+v", result)
	}

	co, err := checkout.Load(t.Context(), gw, "co_fail")
	if err != nil {
		t.Fatalf("load co_fail: %v", err)
	}
	if co.State != checkout.StateHoldCreated {
		t.Fatalf("expected checkout to remain HOLD_CREATED for retry, got %s", co.State)
	}
}
