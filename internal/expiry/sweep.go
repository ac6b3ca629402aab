// Package expiry runs the hold expiration sweep: a periodic pass that
// cancels PMS reservations behind expired holds and moves their checkouts
// to EXPIRED. A ticker-driven run loop (Start/Stop over stopChan/doneChan)
// fetches and processes hits in bounded-concurrency batches; the same
// Sweep call also backs the on-demand POST /jobs/expire-holds endpoint for
// deployments that trigger sweeps externally instead of running the
// internal ticker.
package expiry

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stayhub/checkout/internal/apierr"
	"github.com/stayhub/checkout/internal/callbacks"
	"github.com/stayhub/checkout/internal/checkout"
	"github.com/stayhub/checkout/internal/config"
	"github.com/stayhub/checkout/internal/docstore"
	"github.com/stayhub/checkout/internal/metrics"
	"github.com/stayhub/checkout/internal/pms"
)

// expirableStates are the checkout states a hold can still be sitting in
// when its holdExpiresAt passes.
var expirableStates = []string{string(checkout.StateHoldCreated), string(checkout.StatePaymentCreated)}

// Result reports the outcome of one sweep pass, returned by both the
// internal ticker and POST /jobs/expire-holds.
type Result struct {
	ExpiredCount int `json:"expiredCount"`
	ErrorCount   int `json:"errorCount"`
}

// Sweeper runs the hold expiration sweep, either on its own ticker or
// on demand from the HTTP layer.
type Sweeper struct {
	gw      docstore.Gateway
	pms     *pms.Client
	notify  callbacks.Notifier
	metrics *metrics.Metrics
	logger  zerolog.Logger
	cfg     config.ExpiryConfig

	stopChan chan struct{}
	doneChan chan struct{}

	consecutiveDegraded int
}

// New builds a Sweeper from its collaborators.
func New(cfg config.ExpiryConfig, gw docstore.Gateway, pmsClient *pms.Client, notifier callbacks.Notifier, metricsCollector *metrics.Metrics, logger zerolog.Logger) *Sweeper {
	if notifier == nil {
		notifier = callbacks.NoopNotifier{}
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	return &Sweeper{
		cfg:      cfg,
		gw:       gw,
		pms:      pmsClient,
		notify:   notifier,
		metrics:  metricsCollector,
		logger:   logger,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start runs the optional local/dev internal ticker; TickerInterval <= 0
// disables it and leaves sweeping entirely to POST /jobs/expire-holds.
func (s *Sweeper) Start(ctx context.Context) {
	if s.cfg.TickerInterval.Duration <= 0 {
		close(s.doneChan)
		return
	}
	go s.run(ctx)
}

// Stop gracefully stops the internal ticker, if one was started.
func (s *Sweeper) Stop() {
	select {
	case <-s.doneChan:
		return
	default:
	}
	close(s.stopChan)
	<-s.doneChan
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.cfg.TickerInterval.Duration)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.cfg.TickerInterval.Duration).Msg("expiry.sweep.started")

	for {
		select {
		case <-s.stopChan:
			s.logger.Info().Msg("expiry.sweep.stopping")
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error().Err(err).Msg("expiry.sweep.tick_failed")
			}
		}
	}
}

// Sweep runs one pass of the expiration query across both expirable
// states, processing each batch with bounded concurrency, and returns the
// aggregate {expiredCount, errorCount}.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	start := time.Now()
	now := time.Now().UTC()

	var docs []docstore.Doc
	for _, state := range expirableStates {
		page, err := s.gw.ListExpirableHolds(ctx, []string{state}, now, s.cfg.BatchLimit)
		if err != nil {
			return Result{}, apierr.Wrap(apierr.CodeInternal, "list expirable holds", err)
		}
		docs = append(docs, page...)
	}

	var result Result
	if len(docs) == 0 {
		s.recordOutcome(result, start)
		s.checkDegraded(ctx, result)
		return result, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrency)

	type outcome struct {
		expired bool
		failed  bool
	}
	outcomes := make([]outcome, len(docs))

	for i, doc := range docs {
		i, doc := i, doc
		g.Go(func() error {
			expired, err := s.expireOne(gctx, doc)
			if err != nil {
				outcomes[i] = outcome{failed: true}
				s.logger.Warn().Err(err).Str("checkout_id", doc.ID).Msg("expiry.sweep.item_failed")
				return nil
			}
			outcomes[i] = outcome{expired: expired}
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		if o.failed {
			result.ErrorCount++
		} else if o.expired {
			result.ExpiredCount++
		}
	}

	s.recordOutcome(result, start)
	s.checkDegraded(ctx, result)
	return result, nil
}

// expireOne cancels the PMS reservation behind a single hit and advances
// the checkout to EXPIRED. A failed cancellation (surfaced as an error)
// leaves the checkout untouched for the next sweep to retry; an
// already-advanced checkout (tryTransition returns ok=false) is not an
// error, just a lost race against a concurrent webhook.
func (s *Sweeper) expireOne(ctx context.Context, doc docstore.Doc) (expired bool, err error) {
	co, err := checkout.FromDoc(doc)
	if err != nil {
		return false, err
	}

	if co.PMSReservationID != "" {
		if cancelErr := s.pms.CancelReservation(ctx, co.PMSReservationID); cancelErr != nil {
			if apierr.CodeOf(cancelErr) != apierr.CodeNotFound {
				return false, cancelErr
			}
		}
	}

	var advanced bool
	txErr := s.gw.RunTransaction(ctx, func(ctx context.Context, txn docstore.Txn) error {
		_, ok, err := checkout.TryTransition(txn, co.CheckoutID, checkout.StateExpired, checkout.TransitionInput{
			Actor:  checkout.ActorSystem,
			Reason: "Hold TTL exceeded",
		})
		if err != nil {
			return err
		}
		advanced = ok
		return nil
	})
	if txErr != nil {
		return false, txErr
	}
	return advanced, nil
}

func (s *Sweeper) recordOutcome(result Result, start time.Time) {
	status := "ok"
	if result.ErrorCount > 0 {
		status = "degraded"
	}
	s.logger.Info().Int("expired", result.ExpiredCount).Int("errors", result.ErrorCount).
		Dur("duration", time.Since(start)).Msg("expiry.sweep.completed")
	if s.metrics != nil {
		s.metrics.ObserveSweep(status, result.ExpiredCount, result.ErrorCount, time.Since(start))
	}
}

// checkDegraded tracks consecutive sweeps whose error ratio crosses the
// configured threshold and fires an operational alert once
// DegradedMinBatches consecutive sweeps qualify.
func (s *Sweeper) checkDegraded(ctx context.Context, result Result) {
	total := result.ExpiredCount + result.ErrorCount
	ratio := 0.0
	if total > 0 {
		ratio = float64(result.ErrorCount) / float64(total)
	}

	threshold := s.cfg.DegradedErrorRatio
	if threshold <= 0 {
		threshold = 0.2
	}
	minBatches := s.cfg.DegradedMinBatches
	if minBatches <= 0 {
		minBatches = 3
	}

	if total > 0 && ratio >= threshold {
		s.consecutiveDegraded++
	} else {
		s.consecutiveDegraded = 0
	}

	if s.consecutiveDegraded >= minBatches {
		s.notify.NotifySweepDegraded(ctx, result.ExpiredCount, result.ErrorCount, s.consecutiveDegraded)
		s.consecutiveDegraded = 0
	}
}
