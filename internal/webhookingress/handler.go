// Package webhookingress handles inbound PSP webhooks: signature
// verification, event-id deduplication, and dispatch into the checkout
// orchestrator. It is its own package because it owns a collaborator (the
// webhook dedup store) the orchestrator itself has no business holding.
package webhookingress

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/stayhub/checkout/internal/apierr"
	"github.com/stayhub/checkout/internal/idempotency"
	"github.com/stayhub/checkout/internal/logger"
	"github.com/stayhub/checkout/internal/metrics"
	"github.com/stayhub/checkout/internal/psp"
	"github.com/stayhub/checkout/pkg/responders"
)

// Orchestrator is the subset of orchestrator.Service the ingress layer
// dispatches into. Declared locally so this package does not import
// orchestrator for the sole purpose of naming its concrete type.
type Orchestrator interface {
	HandlePaymentSucceeded(ctx context.Context, checkoutID, paymentIntentID string) error
	HandlePaymentFailed(ctx context.Context, checkoutID, reason string) error
}

// Handler is the HTTP entry point for POST /webhooks/psp.
type Handler struct {
	psp     *psp.Client
	orch    Orchestrator
	webhook *idempotency.WebhookStore
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New builds a webhook ingress handler.
func New(pspClient *psp.Client, orch Orchestrator, webhookStore *idempotency.WebhookStore, metricsCollector *metrics.Metrics, log zerolog.Logger) *Handler {
	return &Handler{
		psp:     pspClient,
		orch:    orch,
		webhook: webhookStore,
		metrics: metricsCollector,
		logger:  log,
	}
}

// ServeHTTP verifies the signature on the raw body, dedups on event id,
// dispatches by event type, and only marks the event processed once the
// handler returns successfully. A handler error responds 5xx so the PSP
// retries delivery rather than dropping it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	start := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Error().Err(err).Msg("webhook.psp.read_body_failed")
		apierr.WriteJSON(w, apierr.Wrap(apierr.CodeValidation, "failed to read request body", err))
		return
	}

	event, err := h.psp.VerifyWebhook(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		log.Warn().Err(err).Msg("webhook.psp.invalid_signature")
		apierr.WriteJSON(w, err)
		return
	}

	log = log.With().Str("event_id", event.ID).Str("event_type", event.Type).Logger()
	log.Info().Msg("webhook.psp.received")

	if h.webhook != nil {
		processed, err := h.webhook.Processed(r.Context(), event.ID)
		if err != nil {
			log.Error().Err(err).Msg("webhook.psp.dedup_check_failed")
			apierr.WriteJSON(w, apierr.Wrap(apierr.CodeInternal, "dedup check failed", err))
			return
		}
		if processed {
			log.Info().Msg("webhook.psp.already_processed")
			responders.JSON(w, http.StatusOK, map[string]any{"received": true, "status": "already_processed"})
			return
		}
	}

	if err := h.dispatch(r.Context(), event); err != nil {
		h.observe(event.Type, "failed", start)
		log.Error().Err(err).Msg("webhook.psp.dispatch_failed")
		apierr.WriteJSON(w, err)
		return
	}

	if h.webhook != nil {
		if err := h.webhook.MarkProcessed(r.Context(), event.ID); err != nil {
			// The handler already succeeded; a failure to record that must
			// not surface as a retryable failure to the PSP, only risk a
			// harmless reprocessing of an already-applied event.
			log.Warn().Err(err).Msg("webhook.psp.mark_processed_failed")
		}
	}

	h.observe(event.Type, "success", start)
	responders.JSON(w, http.StatusOK, map[string]any{"received": true, "type": event.Type})
}

func (h *Handler) dispatch(ctx context.Context, event psp.WebhookEvent) error {
	switch event.Type {
	case "payment_intent.succeeded":
		if event.CheckoutID == "" {
			return apierr.New(apierr.CodeValidation, "payment_intent.succeeded missing checkoutId metadata")
		}
		return h.orch.HandlePaymentSucceeded(ctx, event.CheckoutID, event.PaymentIntentID)
	case "payment_intent.payment_failed":
		if event.CheckoutID == "" {
			return apierr.New(apierr.CodeValidation, "payment_intent.payment_failed missing checkoutId metadata")
		}
		return h.orch.HandlePaymentFailed(ctx, event.CheckoutID, event.LastPaymentError)
	case "charge.refunded":
		// Refund workflow is out of scope; the event is acknowledged and
		// recorded via the dedup store only.
		return nil
	default:
		return nil
	}
}

func (h *Handler) observe(eventType, status string, start time.Time) {
	if h.metrics == nil {
		return
	}
	h.metrics.ObserveWebhook(eventType, status, time.Since(start), 1, false)
}
