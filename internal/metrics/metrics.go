package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the checkout service.
type Metrics struct {
	// Orchestrator metrics
	CheckoutsInitiatedTotal   *prometheus.CounterVec
	StateTransitionsTotal     *prometheus.CounterVec
	DanglingCapturesTotal     prometheus.Counter
	FinalizeWaitDuration      *prometheus.HistogramVec

	// PMS adapter metrics
	PMSCallsTotal   *prometheus.CounterVec
	PMSCallDuration *prometheus.HistogramVec
	PMSErrorsTotal  *prometheus.CounterVec

	// PSP adapter metrics
	PSPCallsTotal   *prometheus.CounterVec
	PSPCallDuration *prometheus.HistogramVec
	PSPErrorsTotal  *prometheus.CounterVec

	// Webhook metrics
	WebhooksTotal       *prometheus.CounterVec
	WebhookRetriesTotal *prometheus.CounterVec
	WebhookDLQTotal     *prometheus.CounterVec
	WebhookDuration     *prometheus.HistogramVec

	// Hold expiration sweep metrics
	SweepRunsTotal      *prometheus.CounterVec
	SweepExpiredTotal   prometheus.Counter
	SweepErrorsTotal    prometheus.Counter
	SweepDuration       prometheus.Histogram

	// Rate limiting metrics
	RateLimitHitsTotal *prometheus.CounterVec

	// Idempotency metrics
	IdempotencyHitsTotal *prometheus.CounterVec

	// Document store metrics
	DocStoreQueryDuration   *prometheus.HistogramVec
	DocStoreTxnRetriesTotal *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		CheckoutsInitiatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_initiated_total",
				Help: "Total number of checkouts initialized",
			},
			[]string{"listing_id"},
		),
		StateTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_state_transitions_total",
				Help: "Total number of checkout state machine transitions",
			},
			[]string{"from", "to"},
		),
		DanglingCapturesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "checkout_dangling_captures_total",
				Help: "Total number of payment_intent.succeeded events that arrived after the hold expired",
			},
		),
		FinalizeWaitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "checkout_finalize_wait_duration_seconds",
				Help:    "Time waitForConfirmation spent polling before returning",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
			},
			[]string{"result_state"},
		),

		PMSCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pms_calls_total",
				Help: "Total number of PMS adapter calls",
			},
			[]string{"operation", "status"},
		),
		PMSCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pms_call_duration_seconds",
				Help:    "Duration of PMS adapter calls",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 8, 15, 30},
			},
			[]string{"operation"},
		),
		PMSErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pms_errors_total",
				Help: "Total number of PMS adapter errors by classification",
			},
			[]string{"operation", "code"},
		),

		PSPCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "psp_calls_total",
				Help: "Total number of PSP adapter calls",
			},
			[]string{"operation", "status"},
		),
		PSPCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "psp_call_duration_seconds",
				Help:    "Duration of PSP adapter calls",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"operation"},
		),
		PSPErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "psp_errors_total",
				Help: "Total number of PSP adapter errors by classification",
			},
			[]string{"operation", "code"},
		),

		WebhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhooks_total",
				Help: "Total number of webhook deliveries",
			},
			[]string{"event_type", "status"},
		),
		WebhookRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_retries_total",
				Help: "Total number of webhook retry attempts",
			},
			[]string{"event_type", "attempt"},
		),
		WebhookDLQTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_dlq_total",
				Help: "Total number of webhooks sent to DLQ",
			},
			[]string{"event_type"},
		),
		WebhookDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webhook_duration_seconds",
				Help:    "Time taken for webhook delivery",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"event_type"},
		),

		SweepRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "expiry_sweep_runs_total",
				Help: "Total number of hold expiration sweeps",
			},
			[]string{"status"},
		),
		SweepExpiredTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "expiry_sweep_expired_total",
				Help: "Total number of checkouts transitioned to EXPIRED by a sweep",
			},
		),
		SweepErrorsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "expiry_sweep_errors_total",
				Help: "Total number of per-checkout errors encountered during sweeps",
			},
		),
		SweepDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "expiry_sweep_duration_seconds",
				Help:    "Duration of a full hold expiration sweep",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),

		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_hits_total",
				Help: "Total number of outbound rate limit waits",
			},
			[]string{"limit_type"},
		),

		IdempotencyHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idempotency_hits_total",
				Help: "Total number of idempotency key lookups by outcome",
			},
			[]string{"outcome"},
		),

		DocStoreQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docstore_query_duration_seconds",
				Help:    "Document store operation duration",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation", "backend"},
		),
		DocStoreTxnRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docstore_txn_retries_total",
				Help: "Total number of transaction retries due to optimistic concurrency conflicts",
			},
			[]string{"backend"},
		),
	}
}

// ObserveCheckoutInitiated records a new checkout being initialized.
func (m *Metrics) ObserveCheckoutInitiated(listingID string) {
	m.CheckoutsInitiatedTotal.WithLabelValues(listingID).Inc()
}

// ObserveStateTransition records a state machine transition.
func (m *Metrics) ObserveStateTransition(from, to string) {
	m.StateTransitionsTotal.WithLabelValues(from, to).Inc()
}

// ObserveDanglingCapture records a payment captured against an expired hold.
func (m *Metrics) ObserveDanglingCapture() {
	m.DanglingCapturesTotal.Inc()
}

// ObserveFinalizeWait records how long waitForConfirmation polled before
// returning, labeled by the state it finally observed.
func (m *Metrics) ObserveFinalizeWait(resultState string, duration time.Duration) {
	m.FinalizeWaitDuration.WithLabelValues(resultState).Observe(duration.Seconds())
}

// ObservePMSCall records a PMS adapter call outcome and duration.
func (m *Metrics) ObservePMSCall(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
		m.PMSErrorsTotal.WithLabelValues(operation, errorCode(err)).Inc()
	}
	m.PMSCallsTotal.WithLabelValues(operation, status).Inc()
	m.PMSCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObservePSPCall records a PSP adapter call outcome and duration.
func (m *Metrics) ObservePSPCall(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
		m.PSPErrorsTotal.WithLabelValues(operation, errorCode(err)).Inc()
	}
	m.PSPCallsTotal.WithLabelValues(operation, status).Inc()
	m.PSPCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveWebhook records webhook delivery (used for outbound operational
// alert delivery; the event_type label carries the alert type).
func (m *Metrics) ObserveWebhook(eventType, status string, duration time.Duration, attempt int, sentToDLQ bool) {
	m.WebhooksTotal.WithLabelValues(eventType, status).Inc()
	m.WebhookDuration.WithLabelValues(eventType).Observe(duration.Seconds())

	if attempt > 1 {
		m.WebhookRetriesTotal.WithLabelValues(eventType, formatAttempt(attempt)).Inc()
	}

	if sentToDLQ {
		m.WebhookDLQTotal.WithLabelValues(eventType).Inc()
	}
}

// ObserveSweep records the outcome of one hold expiration sweep.
func (m *Metrics) ObserveSweep(status string, expiredCount, errorCount int, duration time.Duration) {
	m.SweepRunsTotal.WithLabelValues(status).Inc()
	m.SweepExpiredTotal.Add(float64(expiredCount))
	m.SweepErrorsTotal.Add(float64(errorCount))
	m.SweepDuration.Observe(duration.Seconds())
}

// ObserveRateLimit records an outbound call waiting on a rate limiter.
func (m *Metrics) ObserveRateLimit(limitType string) {
	m.RateLimitHitsTotal.WithLabelValues(limitType).Inc()
}

// ObserveIdempotencyHit records an idempotency key lookup outcome: "new",
// "replay", or "in_flight".
func (m *Metrics) ObserveIdempotencyHit(outcome string) {
	m.IdempotencyHitsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDocStoreQuery records a document store operation's duration.
func (m *Metrics) ObserveDocStoreQuery(operation, backend string, duration time.Duration) {
	m.DocStoreQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// ObserveDocStoreTxnRetry records a transaction retry due to a commit conflict.
func (m *Metrics) ObserveDocStoreTxnRetry(backend string) {
	m.DocStoreTxnRetriesTotal.WithLabelValues(backend).Inc()
}

// errorCode extracts a short classification label from an adapter error for
// use as a low-cardinality metric label.
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "not found") || strings.Contains(msg, "404"):
		return "not_found"
	case strings.Contains(msg, "server_error") || strings.Contains(msg, "5"):
		return "server_error"
	case strings.Contains(msg, "client_error"):
		return "client_error"
	default:
		return "other"
	}
}

func formatAttempt(attempt int) string {
	if attempt <= 5 {
		return string(rune('0' + attempt))
	}
	return "5+"
}
