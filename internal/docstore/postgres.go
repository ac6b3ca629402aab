package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresGateway stores each collection as a table of (id text primary
// key, fields jsonb, generation bigint). RunTransaction opens a
// SERIALIZABLE transaction and retries on SQLSTATE 40001
// (serialization_failure), giving the same optimistic-concurrency
// contract as the Mongo backend over a relational layout.
type PostgresGateway struct {
	db *sql.DB
}

// NewPostgresGateway opens a connection pool and ensures the collection
// tables exist.
func NewPostgresGateway(connectionString string) (*PostgresGateway, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("docstore: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("docstore: ping postgres: %w", err)
	}
	gw := &PostgresGateway{db: db}
	if err := gw.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return gw, nil
}

func (g *PostgresGateway) createTables() error {
	for _, name := range []string{CollectionCheckouts, CollectionIdempotencyKey, CollectionWebhookEvents} {
		stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			fields JSONB NOT NULL,
			generation BIGINT NOT NULL DEFAULT 1
		)`, pq.QuoteIdentifier(name))
		if _, err := g.db.Exec(stmt); err != nil {
			return fmt.Errorf("docstore: create table %s: %w", name, err)
		}
	}
	return nil
}

func (g *PostgresGateway) Get(ctx context.Context, collection, id string) (Doc, error) {
	return getRow(ctx, g.db, collection, id)
}

func getRow(ctx context.Context, q querier, collection, id string) (Doc, error) {
	var raw []byte
	var gen int64
	query := fmt.Sprintf("SELECT fields, generation FROM %s WHERE id = $1", pq.QuoteIdentifier(collection))
	err := q.QueryRowContext(ctx, query, id).Scan(&raw, &gen)
	if err == sql.ErrNoRows {
		return Doc{}, ErrNotFound
	}
	if err != nil {
		return Doc{}, fmt.Errorf("docstore: postgres get: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Doc{}, fmt.Errorf("docstore: unmarshal fields: %w", err)
	}
	return Doc{ID: id, Fields: fields, Generation: gen}, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (g *PostgresGateway) Set(ctx context.Context, collection, id string, fields map[string]any) error {
	return setRow(ctx, g.db, collection, id, fields)
}

func setRow(ctx context.Context, q querier, collection, id string, fields map[string]any) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("docstore: marshal fields: %w", err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, fields, generation) VALUES ($1, $2, 1)
		ON CONFLICT (id) DO UPDATE SET fields = $2, generation = %s.generation + 1`,
		pq.QuoteIdentifier(collection), pq.QuoteIdentifier(collection))
	_, err = q.ExecContext(ctx, query, id, raw)
	if err != nil {
		return fmt.Errorf("docstore: postgres set: %w", err)
	}
	return nil
}

func (g *PostgresGateway) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return updateRow(ctx, g.db, collection, id, fields)
}

func updateRow(ctx context.Context, q querier, collection, id string, fields map[string]any) error {
	existing, err := getRow(ctx, q, collection, id)
	if err != nil {
		return err
	}
	merged := make(map[string]any, len(existing.Fields)+len(fields))
	for k, v := range existing.Fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("docstore: marshal fields: %w", err)
	}
	query := fmt.Sprintf("UPDATE %s SET fields = $2, generation = generation + 1 WHERE id = $1", pq.QuoteIdentifier(collection))
	res, err := q.ExecContext(ctx, query, id, raw)
	if err != nil {
		return fmt.Errorf("docstore: postgres update: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const pgSerializationFailure = "40001"

// RunTransaction retries the callback on a serialization_failure (40001),
// the SQLSTATE Postgres returns when a SERIALIZABLE transaction loses a
// write-write race with a concurrent one.
func (g *PostgresGateway) RunTransaction(ctx context.Context, fn func(ctx context.Context, txn Txn) error) error {
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		tx, err := g.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return fmt.Errorf("docstore: begin tx: %w", err)
		}

		txn := &postgresTxn{ctx: ctx, tx: tx}
		err = fn(ctx, txn)
		var pqErr *pq.Error
		if err != nil {
			tx.Rollback()
			if errors.As(err, &pqErr) && string(pqErr.Code) == pgSerializationFailure {
				continue
			}
			return err
		}

		err = tx.Commit()
		if err == nil {
			return nil
		}

		if errors.As(err, &pqErr) && string(pqErr.Code) == pgSerializationFailure {
			continue
		}
		return fmt.Errorf("docstore: commit tx: %w", err)
	}
	return ErrTxnConflict
}

// ListExpirableHolds casts the jsonb "holdExpiresAt" field to timestamptz
// so comparison is a real chronological comparison rather than a string
// one, sidestepping the lexicographic-ordering caveat the Mongo backend's
// equivalent query has to document.
func (g *PostgresGateway) ListExpirableHolds(ctx context.Context, states []string, before time.Time, limit int) ([]Doc, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT id, fields, generation FROM %s
		WHERE fields->>'state' = ANY($1)
		AND (fields->>'holdExpiresAt')::timestamptz < $2
		ORDER BY (fields->>'holdExpiresAt')::timestamptz ASC
		LIMIT $3`, pq.QuoteIdentifier(CollectionCheckouts))

	rows, err := g.db.QueryContext(ctx, query, pq.Array(states), before.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("docstore: postgres list expirable holds: %w", err)
	}
	defer rows.Close()

	var out []Doc
	for rows.Next() {
		var id string
		var raw []byte
		var gen int64
		if err := rows.Scan(&id, &raw, &gen); err != nil {
			return nil, fmt.Errorf("docstore: postgres scan expirable hold: %w", err)
		}
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("docstore: unmarshal fields: %w", err)
		}
		out = append(out, Doc{ID: id, Fields: fields, Generation: gen})
	}
	return out, rows.Err()
}

func (g *PostgresGateway) Close() error { return g.db.Close() }

type postgresTxn struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *postgresTxn) Get(collection, id string) (Doc, error) {
	return getRow(t.ctx, t.tx, collection, id)
}

func (t *postgresTxn) Set(collection, id string, fields map[string]any) error {
	return setRow(t.ctx, t.tx, collection, id, fields)
}

func (t *postgresTxn) Update(collection, id string, fields map[string]any) error {
	return updateRow(t.ctx, t.tx, collection, id, fields)
}
