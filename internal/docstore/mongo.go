package docstore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// MongoGateway is the primary Gateway backend. Documents are stored with
// their fields flattened into the top-level BSON document alongside a
// "_gen" optimistic-concurrency counter; "_id" holds the document id.
type MongoGateway struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoGateway connects to MongoDB and verifies the connection.
func NewMongoGateway(connectionString, database string) (*MongoGateway, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(database)
	gw := &MongoGateway{client: client, db: db}
	if err := gw.createIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return gw, nil
}

func (g *MongoGateway) createIndexes(ctx context.Context) error {
	checkouts := g.db.Collection(CollectionCheckouts)
	_, err := checkouts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "holdExpiresAt", Value: 1}, {Key: "state", Value: 1}},
	})
	return err
}

func (g *MongoGateway) collection(name string) *mongo.Collection {
	return g.db.Collection(name)
}

func (g *MongoGateway) Get(ctx context.Context, collection, id string) (Doc, error) {
	var raw bson.M
	err := g.collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if err == mongo.ErrNoDocuments {
		return Doc{}, ErrNotFound
	}
	if err != nil {
		return Doc{}, fmt.Errorf("docstore: mongo get: %w", err)
	}
	return docFromBSON(id, raw), nil
}

func (g *MongoGateway) Set(ctx context.Context, collection, id string, fields map[string]any) error {
	doc := bsonFromFields(id, fields, 1)
	opts := options.Replace().SetUpsert(true)
	_, err := g.collection(collection).ReplaceOne(ctx, bson.M{"_id": id}, doc, opts)
	if err != nil {
		return fmt.Errorf("docstore: mongo set: %w", err)
	}
	return nil
}

func (g *MongoGateway) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	update := bson.M{"$set": fields, "$inc": bson.M{"_gen": 1}}
	res, err := g.collection(collection).UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("docstore: mongo update: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// RunTransaction uses a client session with a majority read/write concern,
// retrying on TransientTransactionError per MongoDB's documented
// snapshot-isolation guidance so a write-write conflict resolves by
// re-running fn rather than surfacing to the caller.
func (g *MongoGateway) RunTransaction(ctx context.Context, fn func(ctx context.Context, txn Txn) error) error {
	wc := writeconcern.Majority()
	rc := readconcern.Snapshot()
	txnOpts := options.Transaction().SetWriteConcern(wc).SetReadConcern(rc)

	session, err := g.client.StartSession()
	if err != nil {
		return fmt.Errorf("docstore: start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		txn := &mongoTxn{gw: g, sc: sc}
		return nil, fn(sc, txn)
	}, txnOpts)
	return err
}

// ListExpirableHolds queries the "holdExpiresAt"+"state" compound index
// created in createIndexes. holdExpiresAt is stored as the RFC3339Nano
// string produced by checkout.ToFields's JSON round trip, so before is
// formatted the same way: string comparison of fixed-field, UTC RFC3339
// timestamps sorts identically to chronological order for the second-level
// granularity the sweep cares about.
func (g *MongoGateway) ListExpirableHolds(ctx context.Context, states []string, before time.Time, limit int) ([]Doc, error) {
	filter := bson.M{
		"state":         bson.M{"$in": states},
		"holdExpiresAt": bson.M{"$lt": before.UTC().Format(time.RFC3339Nano)},
	}
	opts := options.Find().SetSort(bson.D{{Key: "holdExpiresAt", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := g.collection(CollectionCheckouts).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("docstore: mongo list expirable holds: %w", err)
	}
	defer cur.Close(ctx)

	var out []Doc
	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return nil, fmt.Errorf("docstore: mongo decode expirable hold: %w", err)
		}
		id, _ := raw["_id"].(string)
		out = append(out, docFromBSON(id, raw))
	}
	return out, cur.Err()
}

func (g *MongoGateway) Close() error {
	return g.client.Disconnect(context.Background())
}

type mongoTxn struct {
	gw *MongoGateway
	sc mongo.SessionContext
}

func (t *mongoTxn) Get(collection, id string) (Doc, error) {
	var raw bson.M
	err := t.gw.collection(collection).FindOne(t.sc, bson.M{"_id": id}).Decode(&raw)
	if err == mongo.ErrNoDocuments {
		return Doc{}, ErrNotFound
	}
	if err != nil {
		return Doc{}, fmt.Errorf("docstore: mongo txn get: %w", err)
	}
	return docFromBSON(id, raw), nil
}

func (t *mongoTxn) Set(collection, id string, fields map[string]any) error {
	doc := bsonFromFields(id, fields, 1)
	opts := options.Replace().SetUpsert(true)
	_, err := t.gw.collection(collection).ReplaceOne(t.sc, bson.M{"_id": id}, doc, opts)
	if err != nil {
		return fmt.Errorf("docstore: mongo txn set: %w", err)
	}
	return nil
}

func (t *mongoTxn) Update(collection, id string, fields map[string]any) error {
	update := bson.M{"$set": fields, "$inc": bson.M{"_gen": 1}}
	res, err := t.gw.collection(collection).UpdateOne(t.sc, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("docstore: mongo txn update: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func docFromBSON(id string, raw bson.M) Doc {
	fields := make(map[string]any, len(raw))
	var gen int64
	for k, v := range raw {
		switch k {
		case "_id":
			continue
		case "_gen":
			if g, ok := v.(int64); ok {
				gen = g
			} else if g32, ok := v.(int32); ok {
				gen = int64(g32)
			}
			continue
		default:
			fields[k] = v
		}
	}
	return Doc{ID: id, Fields: fields, Generation: gen}
}

func bsonFromFields(id string, fields map[string]any, gen int64) bson.M {
	doc := bson.M{"_id": id, "_gen": gen}
	for k, v := range fields {
		doc[k] = v
	}
	return doc
}
