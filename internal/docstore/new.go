package docstore

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/stayhub/checkout/internal/config"
)

// New builds a Gateway for the configured backend.
func New(cfg config.DocStoreConfig) (Gateway, error) {
	switch cfg.Backend {
	case "memory", "":
		log.Warn().Msg("docstore: using in-memory gateway, state does not survive a restart")
		return NewMemoryGateway(), nil
	case "mongodb":
		database := cfg.MongoDBDatabase
		if database == "" {
			database = "checkout"
		}
		return NewMongoGateway(cfg.MongoDBURL, database)
	case "postgres":
		return NewPostgresGateway(cfg.PostgresURL)
	default:
		return nil, fmt.Errorf("docstore: unsupported backend %q", cfg.Backend)
	}
}
