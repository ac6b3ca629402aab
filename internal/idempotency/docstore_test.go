package idempotency

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stayhub/checkout/internal/docstore"
)

func TestDocStoreRequestStore_ReserveThenComplete(t *testing.T) {
	gw := docstore.NewMemoryGateway()
	store := NewDocStoreRequestStore(gw)
	ctx := context.Background()

	hit, reserved, err := store.Reserve(ctx, "POST:/checkout/1/hold:K1", time.Hour)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if hit != nil {
		t.Fatal("expected no hit on first reservation")
	}
	if !reserved {
		t.Fatal("expected first caller to reserve the key")
	}

	if err := store.Complete(ctx, "POST:/checkout/1/hold:K1", time.Hour, &Response{
		StatusCode: 200,
		Body:       []byte(`{"state":"HOLD_CREATED"}`),
	}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	hit, reserved, err = store.Reserve(ctx, "POST:/checkout/1/hold:K1", time.Hour)
	if err != nil {
		t.Fatalf("Reserve (replay) failed: %v", err)
	}
	if reserved {
		t.Fatal("expected replay to not reserve")
	}
	if hit == nil || hit.StatusCode != 200 || string(hit.Body) != `{"state":"HOLD_CREATED"}` {
		t.Fatalf("expected cached hit, got %+v", hit)
	}
}

func TestDocStoreRequestStore_ConcurrentReservationCollapses(t *testing.T) {
	gw := docstore.NewMemoryGateway()
	store := NewDocStoreRequestStore(gw)
	ctx := context.Background()

	_, firstReserved, err := store.Reserve(ctx, "POST:/checkout/1/hold:K2", time.Hour)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if !firstReserved {
		t.Fatal("expected first caller to reserve")
	}

	hit, secondReserved, err := store.Reserve(ctx, "POST:/checkout/1/hold:K2", time.Hour)
	if err != nil {
		t.Fatalf("Reserve (second) failed: %v", err)
	}
	if secondReserved {
		t.Fatal("expected second concurrent caller to not reserve while in flight")
	}
	if hit != nil {
		t.Fatal("expected no hit while the first caller has not completed")
	}
}

func TestDocStoreMiddleware_ReplaysCompletedRequest(t *testing.T) {
	gw := docstore.NewMemoryGateway()
	store := NewDocStoreRequestStore(gw)

	callCount := 0
	handler := DocStoreMiddleware(store, time.Hour)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("executed"))
	}))

	req := httptest.NewRequest("POST", "/checkout/1/hold", nil)
	req.Header.Set(HeaderKey, "K3")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if callCount != 1 {
		t.Fatalf("expected handler called once, got %d", callCount)
	}

	rec2 := httptest.NewRecorder()
	req2 := httptest.NewRequest("POST", "/checkout/1/hold", nil)
	req2.Header.Set(HeaderKey, "K3")
	handler.ServeHTTP(rec2, req2)

	if rec2.Header().Get("X-Idempotency-Replay") != "true" {
		t.Error("expected replay header on second identical request")
	}
	if rec2.Body.String() != "executed" {
		t.Errorf("expected replayed body 'executed', got %s", rec2.Body.String())
	}
	if callCount != 1 {
		t.Fatalf("expected handler still called once after replay, got %d", callCount)
	}
}

func TestWebhookStore_MarkProcessedIsIdempotent(t *testing.T) {
	gw := docstore.NewMemoryGateway()
	store := NewWebhookStore(gw, 7*24*time.Hour)
	ctx := context.Background()

	processed, err := store.Processed(ctx, "evt_1")
	if err != nil {
		t.Fatalf("Processed failed: %v", err)
	}
	if processed {
		t.Fatal("expected unprocessed before MarkProcessed")
	}

	if err := store.MarkProcessed(ctx, "evt_1"); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}
	if err := store.MarkProcessed(ctx, "evt_1"); err != nil {
		t.Fatalf("second MarkProcessed should be harmless, got: %v", err)
	}

	processed, err = store.Processed(ctx, "evt_1")
	if err != nil {
		t.Fatalf("Processed failed: %v", err)
	}
	if !processed {
		t.Fatal("expected processed after MarkProcessed")
	}
}
