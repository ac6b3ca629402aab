// Package psp is the payment-service-provider adapter: a thin wrapper over
// stripe-go/v72's PaymentIntent and webhook packages, built against the
// lower-level PaymentIntent API rather than Checkout Sessions, since the
// orchestrator needs an intent handle and a client secret rather than a
// hosted redirect.
package psp

import (
	"context"
	"encoding/json"
	"strings"

	stripeapi "github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/paymentintent"
	"github.com/stripe/stripe-go/v72/webhook"

	"github.com/stayhub/checkout/internal/apierr"
	"github.com/stayhub/checkout/internal/circuitbreaker"
	"github.com/stayhub/checkout/internal/config"
)

// Client wraps the stripe-go PaymentIntent and webhook surfaces used by the
// orchestrator.
type Client struct {
	cfg     config.PSPConfig
	breaker *circuitbreaker.Manager
}

// NewClient configures stripe-go with the provided secret key.
func NewClient(cfg config.PSPConfig, breaker *circuitbreaker.Manager) *Client {
	stripeapi.Key = cfg.SecretKey
	return &Client{cfg: cfg, breaker: breaker}
}

// CreatePaymentIntentRequest carries the inputs for a new PaymentIntent.
// Amount is in integer smallest units (cents).
type CreatePaymentIntentRequest struct {
	Amount        int64
	Currency      string
	Metadata      map[string]string
	ReceiptEmail  string
	Description   string
}

// PaymentIntent is the subset of stripe-go's PaymentIntent the orchestrator
// consumes. ClientSecret is present only on creation/retrieval and must
// never be persisted by the caller.
type PaymentIntent struct {
	ID           string
	Status       string
	ClientSecret string
	Amount       int64
	Currency     string
	Metadata     map[string]string
}

// CreatePaymentIntent creates a PaymentIntent for the configured currency.
// A currency mismatch against the adapter's single configured currency
// aborts with UNSUPPORTED_CURRENCY before any Stripe call is made.
func (c *Client) CreatePaymentIntent(ctx context.Context, req CreatePaymentIntentRequest) (PaymentIntent, error) {
	if !strings.EqualFold(req.Currency, c.cfg.Currency) {
		return PaymentIntent{}, apierr.Newf(apierr.CodeUnsupportedCurrency,
			"psp configured for currency %q, got %q", c.cfg.Currency, req.Currency)
	}

	params := &stripeapi.PaymentIntentParams{
		Amount:   stripeapi.Int64(req.Amount),
		Currency: stripeapi.String(strings.ToLower(req.Currency)),
	}
	params.PaymentMethodTypes = stripeapi.StringSlice([]string{"card"})
	if req.ReceiptEmail != "" {
		params.ReceiptEmail = stripeapi.String(req.ReceiptEmail)
	}
	if req.Description != "" {
		params.Description = stripeapi.String(req.Description)
	}
	if len(req.Metadata) > 0 {
		params.Metadata = req.Metadata
	}

	result, err := c.breaker.Execute(circuitbreaker.ServicePSP, func() (interface{}, error) {
		return paymentintent.New(params)
	})
	if err != nil {
		return PaymentIntent{}, classifyErr(err, "create payment intent")
	}
	return toPaymentIntent(result.(*stripeapi.PaymentIntent)), nil
}

// RetrievePaymentIntent fetches the current state of a PaymentIntent,
// including a fresh client secret.
func (c *Client) RetrievePaymentIntent(ctx context.Context, id string) (PaymentIntent, error) {
	result, err := c.breaker.Execute(circuitbreaker.ServicePSP, func() (interface{}, error) {
		return paymentintent.Get(id, nil)
	})
	if err != nil {
		return PaymentIntent{}, classifyErr(err, "retrieve payment intent")
	}
	return toPaymentIntent(result.(*stripeapi.PaymentIntent)), nil
}

// WebhookEvent is the normalized shape the ingress layer dispatches on.
type WebhookEvent struct {
	ID                string
	Type              string
	PaymentIntentID   string
	CheckoutID        string
	PMSReservationID  string
	LastPaymentError  string
	Amount            int64
	Currency          string
}

// VerifyWebhook validates the raw webhook body against the PSP signature
// header and normalizes the event. rawBody must be the byte-exact request
// body; signature verification fails on any re-encoding.
func (c *Client) VerifyWebhook(rawBody []byte, signatureHeader string) (WebhookEvent, error) {
	if c.cfg.WebhookSecret == "" {
		return WebhookEvent{}, apierr.New(apierr.CodePSPSignature, "webhook secret not configured")
	}
	event, err := webhook.ConstructEvent(rawBody, signatureHeader, c.cfg.WebhookSecret)
	if err != nil {
		return WebhookEvent{}, apierr.Wrap(apierr.CodePSPSignature, "webhook signature verification failed", err)
	}

	var pi stripeapi.PaymentIntent
	if err := jsonExtract(event.Data.Raw, &pi); err != nil {
		return WebhookEvent{
			ID:   event.ID,
			Type: string(event.Type),
		}, nil
	}

	out := WebhookEvent{
		ID:              event.ID,
		Type:            string(event.Type),
		PaymentIntentID: pi.ID,
		Amount:          pi.Amount,
		Currency:        string(pi.Currency),
	}
	if pi.Metadata != nil {
		out.CheckoutID = pi.Metadata["checkoutId"]
		out.PMSReservationID = pi.Metadata["pmsReservationId"]
	}
	if pi.LastPaymentError != nil {
		out.LastPaymentError = pi.LastPaymentError.Msg
	}
	return out, nil
}

func toPaymentIntent(pi *stripeapi.PaymentIntent) PaymentIntent {
	return PaymentIntent{
		ID:           pi.ID,
		Status:       string(pi.Status),
		ClientSecret: pi.ClientSecret,
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Metadata:     pi.Metadata,
	}
}

func jsonExtract(data []byte, v any) error {
	if len(data) == 0 {
		return apierr.New(apierr.CodeInternal, "webhook payload empty")
	}
	return json.Unmarshal(data, v)
}

func classifyErr(err error, action string) error {
	if stripeErr, ok := err.(*stripeapi.Error); ok {
		if stripeErr.HTTPStatusCode >= 500 {
			return apierr.Wrap(apierr.CodePSPError, "psp "+action+" failed (upstream 5xx, retryable)", err)
		}
		return apierr.Wrap(apierr.CodePSPError, "psp "+action+" rejected: "+string(stripeErr.Code), err).
			WithUpstreamStatus(stripeErr.HTTPStatusCode)
	}
	return apierr.Wrap(apierr.CodePSPError, "psp "+action+" failed", err)
}
