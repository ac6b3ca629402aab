package webhookingress

import (
	"io"

	"github.com/rs/zerolog"

	"github.com/stayhub/checkout/internal/config"
	"github.com/stayhub/checkout/internal/psp"
)

func eventOf(eventType, checkoutID, paymentIntentID string) psp.WebhookEvent {
	return psp.WebhookEvent{
		ID:              "evt_test",
		Type:            eventType,
		CheckoutID:      checkoutID,
		PaymentIntentID: paymentIntentID,
	}
}

// newUnconfiguredPSPClient builds a psp.Client with no webhook secret, so
// VerifyWebhook always fails signature verification without needing a real
// Stripe signature to be computed in tests.
func newUnconfiguredPSPClient() *psp.Client {
	return psp.NewClient(config.PSPConfig{}, nil)
}

func discardLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}
