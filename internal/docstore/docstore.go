// Package docstore is the strongly-consistent document store gateway.
// It exposes Get/Set/RunTransaction over three logical collections
// (checkouts, idempotency_keys, webhook_events) and gives every
// state-machine mutation snapshot isolation with optimistic concurrency:
// a transaction that reads a document must still find it unchanged at
// commit time, or the gateway retries the callback.
package docstore

import (
	"context"
	"errors"
	"time"
)

// Collection names shared across backends and the document id layout.
const (
	CollectionCheckouts      = "checkouts"
	CollectionIdempotencyKey = "idempotency_keys"
	CollectionWebhookEvents  = "webhook_events"
)

// ErrNotFound is returned when a requested document is missing.
var ErrNotFound = errors.New("docstore: not found")

// ErrTxnConflict signals the transaction callback should be retried by the
// caller of RunTransaction's backend implementation (handled internally);
// exposed for adapters that want to distinguish conflict-exhaustion from
// other failures.
var ErrTxnConflict = errors.New("docstore: transaction conflict, retries exhausted")

// Doc is a loosely typed document envelope. Generation is an internal
// optimistic-concurrency token; callers never set it directly.
type Doc struct {
	ID         string
	Fields     map[string]any
	Generation int64
}

// Gateway is the store-agnostic interface the rest of the system depends
// on. Mongo, Postgres, and in-memory backends each implement it.
type Gateway interface {
	// Get loads a single document by collection and id.
	Get(ctx context.Context, collection, id string) (Doc, error)

	// Set creates or fully replaces a document's Fields (outside a
	// transaction). Used for independent writes like idempotency and
	// webhook-event records that don't need cross-document atomicity.
	Set(ctx context.Context, collection, id string, fields map[string]any) error

	// Update merges fields into an existing document outside a
	// transaction. Returns ErrNotFound if the document does not exist.
	Update(ctx context.Context, collection, id string, fields map[string]any) error

	// RunTransaction executes fn with snapshot isolation. Any Get/Update
	// performed through the Txn handed to fn participates in the same
	// transaction; if the underlying store detects a write-write
	// conflict at commit, the gateway retries fn from the top.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, txn Txn) error) error

	// ListExpirableHolds returns documents in the checkouts collection
	// whose "state" field is one of states and whose "holdExpiresAt" is
	// strictly before the given time, ordered by holdExpiresAt ascending
	// and capped at limit. It backs the hold expiration sweep and is the
	// one read path in this interface that is not a point lookup by id.
	ListExpirableHolds(ctx context.Context, states []string, before time.Time, limit int) ([]Doc, error)

	Close() error
}

// Txn scopes reads and writes to a single in-flight transaction.
type Txn interface {
	Get(collection, id string) (Doc, error)
	Set(collection, id string, fields map[string]any) error
	Update(collection, id string, fields map[string]any) error
}
