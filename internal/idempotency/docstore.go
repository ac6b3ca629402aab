package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/stayhub/checkout/internal/docstore"
)

// HeaderKey is the client-supplied idempotency header name.
const HeaderKey = "Idempotency-Key"

// DefaultTTL is the default request idempotency retention
// (IDEMPOTENCY_TTL_HOURS default 24h).
const DefaultTTL = 24 * time.Hour

// Response is a captured HTTP response cached against an idempotency key
// so a replayed request gets back the byte-identical result.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	CachedAt   time.Time
}

// record is the document shape persisted in the idempotency_keys and
// webhook_events collections.
type record struct {
	Completed  bool              `json:"completed"`
	StatusCode int               `json:"statusCode,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       []byte            `json:"body,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	ExpiresAt  time.Time         `json:"expiresAt"`
}

// DocStoreRequestStore persists request idempotency records through the
// document store gateway so replay suppression survives process restarts
// and is shared across replicas. Reserve/Complete collapse concurrent
// identical requests onto a single execution via RunTransaction's
// insert-or-detect-duplicate, which stays authoritative under true
// concurrency across processes, unlike a read-then-write in-process cache.
type DocStoreRequestStore struct {
	gw docstore.Gateway
}

// NewDocStoreRequestStore builds a production request idempotency store
// backed by gw.
func NewDocStoreRequestStore(gw docstore.Gateway) *DocStoreRequestStore {
	return &DocStoreRequestStore{gw: gw}
}

// Reserve attempts to claim key for this caller's execution.
//
//   - If a completed response already exists and has not expired, it is
//     returned as hit; the caller must not re-execute.
//   - If another caller's reservation is still in flight (unexpired,
//     uncompleted), reserved is false and hit is nil: this caller is
//     racing a concurrent identical request and should wait/retry rather
//     than execute.
//   - Otherwise this caller claims the key (reserved=true) and must call
//     Complete once it has a response.
func (s *DocStoreRequestStore) Reserve(ctx context.Context, key string, ttl time.Duration) (hit *Response, reserved bool, err error) {
	txErr := s.gw.RunTransaction(ctx, func(ctx context.Context, txn docstore.Txn) error {
		doc, getErr := txn.Get(docstore.CollectionIdempotencyKey, key)
		now := time.Now()

		if getErr == nil {
			rec, decodeErr := decodeRecord(doc)
			if decodeErr == nil && rec.ExpiresAt.After(now) {
				if rec.Completed {
					hit = &Response{
						StatusCode: rec.StatusCode,
						Headers:    rec.Headers,
						Body:       rec.Body,
						CachedAt:   rec.CreatedAt,
					}
				}
				reserved = false
				return nil
			}
		} else if getErr != docstore.ErrNotFound {
			return getErr
		}

		fields := recordFields(record{Completed: false, CreatedAt: now, ExpiresAt: now.Add(ttl)})
		if getErr == docstore.ErrNotFound {
			if setErr := txn.Set(docstore.CollectionIdempotencyKey, key, fields); setErr != nil {
				return setErr
			}
		} else if updErr := txn.Update(docstore.CollectionIdempotencyKey, key, fields); updErr != nil {
			return updErr
		}
		reserved = true
		return nil
	})
	if txErr != nil {
		return nil, false, txErr
	}
	return hit, reserved, nil
}

// Complete records the response captured for a reserved key. Failures are
// the caller's concern to log; a missed cache entry merely permits a
// future retry to re-execute (fail-open).
func (s *DocStoreRequestStore) Complete(ctx context.Context, key string, ttl time.Duration, resp *Response) error {
	now := time.Now()
	fields := recordFields(record{
		Completed:  true,
		StatusCode: resp.StatusCode,
		Headers:    resp.Headers,
		Body:       resp.Body,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	})
	return s.gw.Update(ctx, docstore.CollectionIdempotencyKey, key, fields)
}

func recordFields(r record) map[string]any {
	raw, _ := json.Marshal(r)
	var fields map[string]any
	_ = json.Unmarshal(raw, &fields)
	return fields
}

func decodeRecord(doc docstore.Doc) (record, error) {
	raw, err := json.Marshal(doc.Fields)
	if err != nil {
		return record{}, err
	}
	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return record{}, err
	}
	return r, nil
}

// WebhookStore deduplicates PSP webhook event ids through the document
// store gateway's webhook_events collection.
type WebhookStore struct {
	gw  docstore.Gateway
	ttl time.Duration
}

// NewWebhookStore builds a webhook-event dedup store with the given
// retention TTL (default 7 days).
func NewWebhookStore(gw docstore.Gateway, ttl time.Duration) *WebhookStore {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &WebhookStore{gw: gw, ttl: ttl}
}

// Processed reports whether eventID has already been handled (and not yet
// expired). An expired record is treated as unprocessed so the event can
// be reaped and replayed without leaking storage forever.
func (s *WebhookStore) Processed(ctx context.Context, eventID string) (bool, error) {
	doc, err := s.gw.Get(ctx, docstore.CollectionWebhookEvents, eventID)
	if err != nil {
		if err == docstore.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	rec, err := decodeRecord(doc)
	if err != nil {
		return false, err
	}
	if rec.ExpiresAt.Before(time.Now()) {
		return false, nil
	}
	return true, nil
}

// MarkProcessed records eventID as handled. Idempotent: calling it twice
// for the same event is harmless.
func (s *WebhookStore) MarkProcessed(ctx context.Context, eventID string) error {
	now := time.Now()
	fields := recordFields(record{Completed: true, CreatedAt: now, ExpiresAt: now.Add(s.ttl)})
	if err := s.gw.Update(ctx, docstore.CollectionWebhookEvents, eventID, fields); err != nil {
		if err == docstore.ErrNotFound {
			return s.gw.Set(ctx, docstore.CollectionWebhookEvents, eventID, fields)
		}
		return err
	}
	return nil
}

// responseWriter buffers a handler's response so it can be cached against
// the reserved idempotency key once the handler returns.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
	headers    map[string]string
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK, body: &bytes.Buffer{}, headers: make(map[string]string)}
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) captureHeaders() {
	for key := range rw.ResponseWriter.Header() {
		rw.headers[key] = rw.ResponseWriter.Header().Get(key)
	}
}

// DocStoreMiddleware reserves the request's (method, path, key) against the
// document store gateway before executing and completes the reservation
// with the captured response, so concurrent identical requests collapse
// onto one execution even across replicas: a reservation
// insert-or-detect against the store is authoritative even when two
// requests race on different processes, unlike a read-then-write
// in-process cache. Requests without an Idempotency-Key header pass
// through unchanged; routes that require the header reject first via a
// separate check at the HTTP layer.
func DocStoreMiddleware(store *DocStoreRequestStore, ttl time.Duration) func(http.Handler) http.Handler {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get(HeaderKey)
			if rawKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Method + ":" + r.URL.Path + ":" + rawKey

			hit, reserved, err := store.Reserve(r.Context(), key, ttl)
			if err != nil {
				// Fail-open: a reservation failure must not block the request.
				next.ServeHTTP(w, r)
				return
			}
			if hit != nil {
				for k, v := range hit.Headers {
					w.Header().Set(k, v)
				}
				w.Header().Set("X-Idempotency-Replay", "true")
				w.WriteHeader(hit.StatusCode)
				w.Write(hit.Body)
				return
			}
			if !reserved {
				w.Header().Set("Retry-After", "1")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusConflict)
				w.Write([]byte(`{"error":"a request with this idempotency key is already in flight","code":"IDEMPOTENCY_IN_FLIGHT"}`))
				return
			}

			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r)

			if rw.statusCode >= 200 && rw.statusCode < 300 {
				rw.captureHeaders()
				_ = store.Complete(r.Context(), key, ttl, &Response{
					StatusCode: rw.statusCode,
					Headers:    rw.headers,
					Body:       rw.body.Bytes(),
					CachedAt:   time.Now(),
				})
			}
		})
	}
}
