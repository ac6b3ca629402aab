// Command server runs the checkout core as a standalone HTTP service:
// load configuration, assemble the App (pkg/stayhub), start the hold
// expiration ticker, and serve until signaled to shut down.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stayhub/checkout/pkg/stayhub"
)

func main() {
	configPath := flag.String("config", os.Getenv("CHECKOUT_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := stayhub.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("server.config_load_failed")
	}

	app, err := stayhub.NewApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("server.app_init_failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app.Start(ctx)

	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      app.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
	}

	go func() {
		log.Info().Str("address", cfg.Server.Address).Msg("server.listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server.listen_failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("server.shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server.shutdown_failed")
	}
	if err := app.Close(); err != nil {
		log.Error().Err(err).Msg("server.app_close_failed")
	}
}
