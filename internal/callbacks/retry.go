package callbacks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/stayhub/checkout/internal/config"
	"github.com/stayhub/checkout/internal/httputil"
	"github.com/stayhub/checkout/internal/metrics"
)

// RetryConfig holds operational-alert retry configuration.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Timeout         time.Duration
}

// DefaultRetryConfig returns sensible defaults for alert retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     5,
		InitialInterval: 1 * time.Second,
		MaxInterval:     5 * time.Minute,
		Multiplier:      2.0,
		Timeout:         10 * time.Second,
	}
}

// RetryableClient posts OperationalAlert payloads to the configured notify
// webhook URL with exponential backoff, falling back to a DLQStore when all
// attempts are exhausted.
type RetryableClient struct {
	cfg        config.NotifyConfig
	retryCfg   RetryConfig
	httpClient *http.Client
	logger     zerolog.Logger
	dlqStore   DLQStore
	metrics    *metrics.Metrics
}

// DLQStore persists alerts that exhausted all delivery attempts.
type DLQStore interface {
	SaveFailedAlert(ctx context.Context, alert FailedAlert) error
	ListFailedAlerts(ctx context.Context, limit int) ([]FailedAlert, error)
	DeleteFailedAlert(ctx context.Context, id string) error
}

// FailedAlert represents an OperationalAlert that exhausted all retries.
type FailedAlert struct {
	ID          string          `json:"id"`
	URL         string          `json:"url"`
	Payload     json.RawMessage `json:"payload"`
	AlertType   AlertType       `json:"alertType"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"lastError"`
	LastAttempt time.Time       `json:"lastAttempt"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// RetryOption customizes the retry client behavior.
type RetryOption func(*RetryableClient)

// WithRetryLogger sets a custom logger for retry operations.
func WithRetryLogger(logger zerolog.Logger) RetryOption {
	return func(c *RetryableClient) { c.logger = logger }
}

// WithDLQStore enables the dead letter queue for exhausted alerts.
func WithDLQStore(store DLQStore) RetryOption {
	return func(c *RetryableClient) { c.dlqStore = store }
}

// WithRetryConfig sets custom retry configuration.
func WithRetryConfig(cfg RetryConfig) RetryOption {
	return func(c *RetryableClient) { c.retryCfg = cfg }
}

// WithMetrics sets the metrics collector for alert delivery observability.
func WithMetrics(m *metrics.Metrics) RetryOption {
	return func(c *RetryableClient) { c.metrics = m }
}

// NewRetryableClient constructs a Notifier with retry support. Returns
// NoopNotifier if no webhook URL is configured.
func NewRetryableClient(cfg config.NotifyConfig, opts ...RetryOption) Notifier {
	if cfg.WebhookURL == "" {
		return NoopNotifier{}
	}

	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &RetryableClient{
		cfg:        cfg,
		retryCfg:   DefaultRetryConfig(),
		httpClient: httputil.NewClient(timeout),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// NotifyDanglingCapture dispatches an AlertDanglingCapture alert asynchronously.
func (c *RetryableClient) NotifyDanglingCapture(ctx context.Context, checkoutID, pmsReservationID, pspPaymentIntentID string) {
	c.dispatch(OperationalAlert{
		AlertID:            generateAlertID(),
		AlertType:          AlertDanglingCapture,
		CheckoutID:         checkoutID,
		PMSReservationID:   pmsReservationID,
		PSPPaymentIntentID: pspPaymentIntentID,
		OccurredAt:         time.Now().UTC(),
	})
}

// NotifySweepDegraded dispatches an AlertSweepDegraded alert asynchronously.
func (c *RetryableClient) NotifySweepDegraded(ctx context.Context, expiredCount, errorCount, consecutiveBatches int) {
	c.dispatch(OperationalAlert{
		AlertID:            generateAlertID(),
		AlertType:          AlertSweepDegraded,
		ExpiredCount:       expiredCount,
		ErrorCount:         errorCount,
		ConsecutiveBatches: consecutiveBatches,
		OccurredAt:         time.Now().UTC(),
	})
}

func (c *RetryableClient) dispatch(alert OperationalAlert) {
	if c == nil || c.cfg.WebhookURL == "" {
		return
	}
	go func() {
		payload, err := json.Marshal(alert)
		if err != nil {
			c.logger.Error().Err(err).Msg("callbacks.marshal_alert_failed")
			return
		}
		if err := c.sendWithRetry(context.Background(), payload, string(alert.AlertType)); err != nil {
			c.logger.Error().
				Err(err).
				Str("alert_id", alert.AlertID).
				Str("alert_type", string(alert.AlertType)).
				Msg("callbacks.alert_delivery_exhausted")
			if c.dlqStore != nil {
				c.saveToDLQ(context.Background(), alert.AlertID, payload, alert.AlertType, err)
			}
		}
	}()
}

// sendWithRetry attempts delivery with exponential backoff.
func (c *RetryableClient) sendWithRetry(ctx context.Context, payload []byte, alertType string) error {
	var lastErr error
	interval := c.retryCfg.InitialInterval
	startTime := time.Now()
	maxAttempts := c.retryCfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, c.retryCfg.Timeout)
		err := c.sendHTTP(reqCtx, payload)
		cancel()

		if err == nil {
			if c.metrics != nil {
				c.metrics.ObserveWebhook(alertType, "success", time.Since(startTime), attempt, false)
			}
			return nil
		}

		lastErr = err
		c.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Str("alert_type", alertType).
			Msg("callbacks.alert_attempt_failed")

		if attempt < maxAttempts {
			timer := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			interval = time.Duration(float64(interval) * c.retryCfg.Multiplier)
			if interval > c.retryCfg.MaxInterval {
				interval = c.retryCfg.MaxInterval
			}
		}
	}

	if c.metrics != nil {
		c.metrics.ObserveWebhook(alertType, "failed", time.Since(startTime), maxAttempts, false)
	}
	return fmt.Errorf("alert delivery failed after %d attempts: %w", maxAttempts, lastErr)
}

func (c *RetryableClient) sendHTTP(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	contentType := c.cfg.Headers["Content-Type"]
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range c.cfg.Headers {
		if k == "" || k == "Content-Type" {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("received status %d from %s", resp.StatusCode, c.cfg.WebhookURL)
	}
	return nil
}

func (c *RetryableClient) saveToDLQ(ctx context.Context, id string, payload []byte, alertType AlertType, lastErr error) {
	alert := FailedAlert{
		ID:          id,
		URL:         c.cfg.WebhookURL,
		Payload:     json.RawMessage(payload),
		AlertType:   alertType,
		Attempts:    c.retryCfg.MaxAttempts,
		LastError:   lastErr.Error(),
		LastAttempt: time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
	}
	if err := c.dlqStore.SaveFailedAlert(ctx, alert); err != nil {
		c.logger.Error().Err(err).Str("alert_id", id).Msg("callbacks.dlq_save_failed")
		return
	}
	if c.metrics != nil {
		c.metrics.ObserveWebhook(string(alertType), "dlq", time.Duration(alert.Attempts)*c.retryCfg.InitialInterval, alert.Attempts, true)
	}
	c.logger.Info().Str("alert_id", id).Str("alert_type", string(alertType)).Msg("callbacks.dlq_saved")
}
