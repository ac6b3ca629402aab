package docstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryGateway is an in-memory Gateway backing unit tests and the default
// "memory" docstore.backend. Each document carries a generation counter
// that RunTransaction uses to detect concurrent writers: if the document
// changed between a transaction's read and its commit, the transaction
// retries the callback, emulating the snapshot-isolation contract the
// Mongo/Postgres backends provide natively.
type MemoryGateway struct {
	mu   sync.Mutex
	data map[string]map[string]*entry
}

type entry struct {
	fields     map[string]any
	generation int64
}

// NewMemoryGateway constructs an empty in-memory gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		data: make(map[string]map[string]*entry),
	}
}

func (g *MemoryGateway) collection(name string) map[string]*entry {
	c, ok := g.data[name]
	if !ok {
		c = make(map[string]*entry)
		g.data[name] = c
	}
	return c
}

func (g *MemoryGateway) Get(ctx context.Context, collection, id string) (Doc, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.getLocked(collection, id)
}

func (g *MemoryGateway) getLocked(collection, id string) (Doc, error) {
	e, ok := g.collection(collection)[id]
	if !ok {
		return Doc{}, ErrNotFound
	}
	return Doc{ID: id, Fields: cloneFields(e.fields), Generation: e.generation}, nil
}

func (g *MemoryGateway) Set(ctx context.Context, collection, id string, fields map[string]any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.collection(collection)
	gen := int64(1)
	if existing, ok := c[id]; ok {
		gen = existing.generation + 1
	}
	c[id] = &entry{fields: cloneFields(fields), generation: gen}
	return nil
}

func (g *MemoryGateway) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.collection(collection)
	existing, ok := c[id]
	if !ok {
		return ErrNotFound
	}
	merged := cloneFields(existing.fields)
	for k, v := range fields {
		merged[k] = v
	}
	c[id] = &entry{fields: merged, generation: existing.generation + 1}
	return nil
}

const maxTxnRetries = 10

// RunTransaction snapshots the generations read during fn and only
// commits the buffered writes if none of those generations changed.
func (g *MemoryGateway) RunTransaction(ctx context.Context, fn func(ctx context.Context, txn Txn) error) error {
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		txn := newMemoryTxn(g)
		if err := fn(ctx, txn); err != nil {
			return err
		}

		g.mu.Lock()
		conflict := txn.hasConflict()
		if !conflict {
			txn.commitLocked()
		}
		g.mu.Unlock()

		if !conflict {
			return nil
		}
	}
	return ErrTxnConflict
}

// ListExpirableHolds performs a full scan of the checkouts collection, the
// in-memory backend's equivalent of an indexed range query: fine for tests
// and small local deployments, the scale this backend targets.
func (g *MemoryGateway) ListExpirableHolds(ctx context.Context, states []string, before time.Time, limit int) ([]Doc, error) {
	wanted := make(map[string]bool, len(states))
	for _, s := range states {
		wanted[s] = true
	}

	g.mu.Lock()
	type hit struct {
		doc Doc
		exp time.Time
	}
	var hits []hit
	for id, e := range g.collection(CollectionCheckouts) {
		state, _ := e.fields["state"].(string)
		if !wanted[state] {
			continue
		}
		expRaw, ok := e.fields["holdExpiresAt"]
		if !ok {
			continue
		}
		exp, ok := parseHoldExpiresAt(expRaw)
		if !ok || !exp.Before(before) {
			continue
		}
		hits = append(hits, hit{doc: Doc{ID: id, Fields: cloneFields(e.fields), Generation: e.generation}, exp: exp})
	}
	g.mu.Unlock()

	sort.Slice(hits, func(i, j int) bool { return hits[i].exp.Before(hits[j].exp) })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Doc, len(hits))
	for i, h := range hits {
		out[i] = h.doc
	}
	return out, nil
}

func parseHoldExpiresAt(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}

func (g *MemoryGateway) Close() error { return nil }

type memoryTxn struct {
	g        *MemoryGateway
	reads    map[string]int64 // "collection/id" -> generation observed
	writes   map[string]map[string]any
	inserted map[string]bool
}

func newMemoryTxn(g *MemoryGateway) *memoryTxn {
	return &memoryTxn{
		g:        g,
		reads:    make(map[string]int64),
		writes:   make(map[string]map[string]any),
		inserted: make(map[string]bool),
	}
}

func txnKey(collection, id string) string { return collection + "/" + id }

func (t *memoryTxn) Get(collection, id string) (Doc, error) {
	t.g.mu.Lock()
	defer t.g.mu.Unlock()

	if pending, ok := t.writes[txnKey(collection, id)]; ok {
		gen := t.reads[txnKey(collection, id)]
		return Doc{ID: id, Fields: cloneFields(pending), Generation: gen}, nil
	}

	doc, err := t.g.getLocked(collection, id)
	if err != nil {
		if err == ErrNotFound {
			// Generation 0 records "observed missing", so a concurrent
			// insert before commit is detected as a conflict.
			t.reads[txnKey(collection, id)] = 0
		}
		return Doc{}, err
	}
	t.reads[txnKey(collection, id)] = doc.Generation
	return doc, nil
}

func (t *memoryTxn) Set(collection, id string, fields map[string]any) error {
	t.writes[txnKey(collection, id)] = cloneFields(fields)
	t.inserted[txnKey(collection, id)] = true
	return nil
}

func (t *memoryTxn) Update(collection, id string, fields map[string]any) error {
	t.g.mu.Lock()
	current, err := t.g.getLocked(collection, id)
	t.g.mu.Unlock()
	if err != nil {
		return err
	}
	if _, ok := t.reads[txnKey(collection, id)]; !ok {
		t.reads[txnKey(collection, id)] = current.Generation
	}

	merged := cloneFields(current.Fields)
	if pending, ok := t.writes[txnKey(collection, id)]; ok {
		merged = cloneFields(pending)
	}
	for k, v := range fields {
		merged[k] = v
	}
	t.writes[txnKey(collection, id)] = merged
	return nil
}

// hasConflict must be called with g.mu held.
func (t *memoryTxn) hasConflict() bool {
	for key, gen := range t.reads {
		parts := splitTxnKey(key)
		c := t.g.collection(parts[0])
		existing, ok := c[parts[1]]
		if !ok {
			if gen != 0 {
				return true
			}
			continue
		}
		if existing.generation != gen {
			return true
		}
	}
	return false
}

// commitLocked must be called with g.mu held and after hasConflict()==false.
func (t *memoryTxn) commitLocked() {
	for key, fields := range t.writes {
		parts := splitTxnKey(key)
		c := t.g.collection(parts[0])
		gen := int64(1)
		if existing, ok := c[parts[1]]; ok {
			gen = existing.generation + 1
		}
		c[parts[1]] = &entry{fields: fields, generation: gen}
	}
}

func splitTxnKey(key string) [2]string {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return [2]string{key[:i], key[i+1:]}
		}
	}
	return [2]string{key, ""}
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
