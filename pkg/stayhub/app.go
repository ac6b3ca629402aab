// Package stayhub assembles the checkout core's collaborators into a
// single embeddable App: one constructor builds every adapter, threads
// them into the orchestrator and sweeper, lays out the router, and hands
// back a Close for graceful shutdown. There is no module-scoped mutable
// state; everything lives on the App value a caller owns.
package stayhub

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/stayhub/checkout/internal/callbacks"
	"github.com/stayhub/checkout/internal/circuitbreaker"
	"github.com/stayhub/checkout/internal/config"
	"github.com/stayhub/checkout/internal/docstore"
	"github.com/stayhub/checkout/internal/expiry"
	"github.com/stayhub/checkout/internal/httpserver"
	"github.com/stayhub/checkout/internal/idempotency"
	"github.com/stayhub/checkout/internal/lifecycle"
	"github.com/stayhub/checkout/internal/logger"
	"github.com/stayhub/checkout/internal/metrics"
	"github.com/stayhub/checkout/internal/orchestrator"
	"github.com/stayhub/checkout/internal/pms"
	"github.com/stayhub/checkout/internal/psp"
	"github.com/stayhub/checkout/internal/webhookingress"
)

// App wires the checkout core's collaborators for reuse or standalone
// serving: one PMS adapter, one PSP adapter, one store gateway, threaded
// into the orchestrator, webhook ingress, and hold-expiration sweeper.
type App struct {
	Config       *config.Config
	Store        docstore.Gateway
	PMS          *pms.Client
	PSP          *psp.Client
	Notifier     callbacks.Notifier
	Orchestrator *orchestrator.Service
	Webhooks     *webhookingress.Handler
	Sweeper      *expiry.Sweeper

	router          chi.Router
	resourceManager *lifecycle.Manager
	metrics         *metrics.Metrics
	logger          zerolog.Logger
}

// Option configures App construction.
type Option func(*options)

type options struct {
	store    docstore.Gateway
	notifier callbacks.Notifier
}

// WithStore overrides the document store gateway, for tests and for
// callers embedding this core against an already-open connection pool.
func WithStore(store docstore.Gateway) Option {
	return func(o *options) { o.store = store }
}

// WithNotifier overrides the operational-alert notifier (dangling
// captures, degraded sweeps).
func WithNotifier(notifier callbacks.Notifier) Option {
	return func(o *options) { o.notifier = notifier }
}

// NewApp assembles the checkout core from cfg: the document store
// gateway, PMS adapter, PSP adapter, checkout orchestrator, webhook
// ingress, and hold expiration sweep, then lays out the HTTP router.
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("stayhub: config required")
	}

	optState := options{}
	for _, opt := range opts {
		opt(&optState)
	}

	app := &App{
		Config:          cfg,
		resourceManager: lifecycle.NewManager(),
		logger: logger.New(logger.Config{
			Level:       cfg.Logging.Level,
			Format:      cfg.Logging.Format,
			Service:     "checkout",
			Environment: cfg.Logging.Environment,
		}),
	}

	app.metrics = metrics.New(prometheus.DefaultRegisterer)

	if optState.store != nil {
		app.Store = optState.store
	} else {
		store, err := docstore.New(cfg.DocStore)
		if err != nil {
			return nil, err
		}
		app.Store = store
		if closer, ok := store.(interface{ Close() error }); ok {
			app.resourceManager.Register("docstore", closer)
		}
	}

	if optState.notifier != nil {
		app.Notifier = optState.notifier
	} else {
		notifyOpts := []callbacks.RetryOption{
			callbacks.WithMetrics(app.metrics),
			callbacks.WithRetryLogger(app.logger),
		}
		if cfg.Notify.DLQEnabled {
			dlqStore, err := callbacks.NewFileDLQStore(cfg.Notify.DLQPath)
			if err != nil {
				return nil, err
			}
			notifyOpts = append(notifyOpts, callbacks.WithDLQStore(dlqStore))
		}
		app.Notifier = callbacks.NewRetryableClient(cfg.Notify, notifyOpts...)
	}

	breakers := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker)

	app.PMS = pms.New(cfg.PMS, breakers, app.logger)
	app.PSP = psp.NewClient(cfg.PSP, breakers)

	app.Orchestrator = orchestrator.New(cfg, app.Store, app.PMS, app.PSP, app.Notifier, app.metrics, app.logger)

	webhookStore := idempotency.NewWebhookStore(app.Store, cfg.Checkout.WebhookDedupTTL.Duration)
	app.Webhooks = webhookingress.New(app.PSP, app.Orchestrator, webhookStore, app.metrics, app.logger)

	app.Sweeper = expiry.New(cfg.Expiry, app.Store, app.PMS, app.Notifier, app.metrics, app.logger)
	app.resourceManager.RegisterFunc("expiry-sweeper", func() error {
		app.Sweeper.Stop()
		return nil
	})

	idemStore := idempotency.NewDocStoreRequestStore(app.Store)
	app.router = httpserver.New(
		cfg.Server,
		cfg.Jobs,
		app.Orchestrator,
		app.Webhooks,
		app.Sweeper,
		idemStore,
		cfg.Checkout.IdempotencyTTL.Duration,
		app.metrics,
		app.logger,
	)

	return app, nil
}

// Start launches the sweeper's internal ticker, if the deployment's
// ExpiryConfig configures one; otherwise sweeping relies solely on
// POST /jobs/expire-holds.
func (a *App) Start(ctx context.Context) {
	a.Sweeper.Start(ctx)
}

// Router returns the chi router with every checkout API route registered.
func (a *App) Router() chi.Router {
	return a.router
}

// Handler exposes the router as an http.Handler.
func (a *App) Handler() http.Handler {
	return a.router
}

// Close releases resources owned by the app (store connections, sweeper).
func (a *App) Close() error {
	return a.resourceManager.Close()
}

// LoadConfig wraps the internal loader for consumers embedding this core.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}
