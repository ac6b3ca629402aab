// Package httpserver wires the checkout orchestrator, webhook ingress, and
// hold expiration sweep onto a chi router: one Server holding its
// collaborators, a New that lays out routes and middleware, and
// per-concern handler files.
package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stayhub/checkout/internal/config"
	"github.com/stayhub/checkout/internal/expiry"
	"github.com/stayhub/checkout/internal/idempotency"
	loggerpkg "github.com/stayhub/checkout/internal/logger"
	"github.com/stayhub/checkout/internal/metrics"
	"github.com/stayhub/checkout/internal/orchestrator"
	"github.com/stayhub/checkout/internal/webhookingress"
)

// Server holds the collaborators the route table dispatches into.
type Server struct {
	cfg       config.ServerConfig
	jobs      config.JobsConfig
	orch      *orchestrator.Service
	webhooks  *webhookingress.Handler
	sweeper   *expiry.Sweeper
	idemStore *idempotency.DocStoreRequestStore
	idemTTL   time.Duration
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	router    chi.Router
}

// New builds the Router for the checkout API's route table.
func New(
	cfg config.ServerConfig,
	jobs config.JobsConfig,
	orch *orchestrator.Service,
	webhooks *webhookingress.Handler,
	sweeper *expiry.Sweeper,
	idemStore *idempotency.DocStoreRequestStore,
	idemTTL time.Duration,
	metricsCollector *metrics.Metrics,
	log zerolog.Logger,
) *Server {
	s := &Server{
		cfg:       cfg,
		jobs:      jobs,
		orch:      orch,
		webhooks:  webhooks,
		sweeper:   sweeper,
		idemStore: idemStore,
		idemTTL:   idemTTL,
		metrics:   metricsCollector,
		logger:    log,
	}
	s.router = s.routes()
	return s
}

// ServeHTTP satisfies http.Handler so *Server can be passed directly to
// http.Server.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(securityHeadersMiddleware)
	r.Use(loggerpkg.Middleware(s.logger))

	if len(s.cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization", idempotency.HeaderKey},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", s.handleHealth)

	mount := r.Group
	if prefix := s.cfg.RoutePrefix; prefix != "" && prefix != "/" {
		mount = func(fn func(chi.Router)) chi.Router { r.Route(prefix, fn); return r }
	}

	mount(func(r chi.Router) {
		r.Route("/checkout", func(r chi.Router) {
			r.With(s.withIdempotency).Post("/initialize", s.handleInitializeCheckout)

			r.Route("/{checkoutID}", func(r chi.Router) {
				r.Get("/", s.handleGetCheckout)
				r.Patch("/guest", s.handleUpdateGuest)

				r.With(requireIdempotencyKey, s.withIdempotency).Post("/hold", s.handleCreateHold)
				r.With(requireIdempotencyKey, s.withIdempotency).Post("/payment-intent", s.handleCreatePaymentIntent)

				r.Post("/finalize", s.handleFinalize)
				r.Post("/cancel", s.handleCancel)
			})
		})

		r.With(httprate.Limit(
			60, time.Minute,
			httprate.WithKeyByIP(),
		)).Post("/webhooks/psp", s.handleWebhook)

		r.With(
			bearerAuth(s.jobs.AuthToken),
			httprate.Limit(30, time.Minute, httprate.WithKeyByIP()),
		).Post("/jobs/expire-holds", s.handleExpireHolds)
	})

	r.With(bearerAuth(s.cfg.AdminMetricsAPIKey)).Handle("/metrics", promhttp.Handler())

	return r
}

// withIdempotency applies the production docstore-backed idempotency
// middleware. It is a no-op when no store was wired (e.g. in narrow
// handler tests that exercise a single route directly).
func (s *Server) withIdempotency(next http.Handler) http.Handler {
	if s.idemStore == nil {
		return next
	}
	return idempotency.DocStoreMiddleware(s.idemStore, s.idemTTL)(next)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
