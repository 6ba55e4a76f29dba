package queue

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"offsync-go/internal/apierr"
)

// MongoStore persists the queue in a mongodb collection. Seq assignment
// uses an atomic counter document so order is total even with multiple
// writers.
type MongoStore struct {
	client   *mongo.Client
	entries  *mongo.Collection
	counters *mongo.Collection
}

// NewMongoStore connects to uri and uses the named database.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, apierr.Storage("connect mongodb", err)
	}
	db := client.Database(database)
	return &MongoStore{
		client:   client,
		entries:  db.Collection("queue_entries"),
		counters: db.Collection("queue_counters"),
	}, nil
}

func (m *MongoStore) Initialize(ctx context.Context) error {
	if err := m.client.Ping(ctx, nil); err != nil {
		return apierr.Storage("mongodb ping", err)
	}
	_, err := m.entries.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "seq", Value: 1}}},
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	if err != nil {
		return apierr.Storage("create queue indexes", err)
	}
	return nil
}

type mongoEntry struct {
	Seq            int64             `bson:"seq"`
	ID             string            `bson:"id"`
	Method         string            `bson:"method"`
	Path           string            `bson:"path"`
	Body           []byte            `bson:"body,omitempty"`
	Headers        map[string]string `bson:"headers,omitempty"`
	IdempotencyKey string            `bson:"idempotency_key"`
	EnqueuedAt     time.Time         `bson:"enqueued_at"`
	Attempts       int               `bson:"attempts"`
	LastError      string            `bson:"last_error,omitempty"`
	DeadReason     string            `bson:"dead_reason,omitempty"`
	Status         string            `bson:"status"`
}

func toMongoEntry(e *Entry) mongoEntry {
	return mongoEntry{
		Seq: e.Seq, ID: e.ID, Method: e.Method, Path: e.Path,
		Body: e.Body, Headers: e.Headers, IdempotencyKey: e.IdempotencyKey,
		EnqueuedAt: e.EnqueuedAt, Attempts: e.Attempts,
		LastError: e.LastError, DeadReason: e.DeadReason, Status: string(e.Status),
	}
}

func fromMongoEntry(me mongoEntry) *Entry {
	return &Entry{
		Seq: me.Seq, ID: me.ID, Method: me.Method, Path: me.Path,
		Body: me.Body, Headers: me.Headers, IdempotencyKey: me.IdempotencyKey,
		EnqueuedAt: me.EnqueuedAt, Attempts: me.Attempts,
		LastError: me.LastError, DeadReason: me.DeadReason, Status: Status(me.Status),
	}
}

func (m *MongoStore) nextSeq(ctx context.Context) (int64, error) {
	var doc struct {
		Value int64 `bson:"value"`
	}
	err := m.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": "queue_seq"},
		bson.M{"$inc": bson.M{"value": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, apierr.Storage("assign queue seq", err)
	}
	return doc.Value, nil
}

func (m *MongoStore) Append(ctx context.Context, entry *Entry) error {
	seq, err := m.nextSeq(ctx)
	if err != nil {
		return err
	}
	entry.Seq = seq
	entry.Status = StatusPending
	if _, err := m.entries.InsertOne(ctx, toMongoEntry(entry)); err != nil {
		return apierr.Storage("append queue entry", err)
	}
	return nil
}

func (m *MongoStore) Pending(ctx context.Context) ([]*Entry, error) {
	return m.list(ctx, bson.M{"status": bson.M{"$in": []string{string(StatusPending), string(StatusInFlight)}}})
}

func (m *MongoStore) Update(ctx context.Context, entry *Entry) error {
	res, err := m.entries.UpdateOne(ctx,
		bson.M{"seq": entry.Seq},
		bson.M{"$set": bson.M{
			"attempts":    entry.Attempts,
			"last_error":  entry.LastError,
			"dead_reason": entry.DeadReason,
			"status":      string(entry.Status),
		}})
	if err != nil {
		return apierr.Storage("update queue entry", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *MongoStore) Delete(ctx context.Context, seq int64) error {
	res, err := m.entries.DeleteOne(ctx, bson.M{"seq": seq})
	if err != nil {
		return apierr.Storage("delete queue entry", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *MongoStore) DeadLetters(ctx context.Context) ([]*Entry, error) {
	return m.list(ctx, bson.M{"status": string(StatusDeadLetter)})
}

func (m *MongoStore) PurgeDeadLetters(ctx context.Context) (int, error) {
	res, err := m.entries.DeleteMany(ctx, bson.M{"status": string(StatusDeadLetter)})
	if err != nil {
		return 0, apierr.Storage("purge dead letters", err)
	}
	return int(res.DeletedCount), nil
}

func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *MongoStore) list(ctx context.Context, filter bson.M) ([]*Entry, error) {
	cursor, err := m.entries.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, apierr.Storage("query queue entries", err)
	}
	defer cursor.Close(ctx)

	var entries []*Entry
	for cursor.Next(ctx) {
		var me mongoEntry
		if err := cursor.Decode(&me); err != nil {
			return nil, apierr.Storage("decode queue entry", err)
		}
		entries = append(entries, fromMongoEntry(me))
	}
	if err := cursor.Err(); err != nil {
		return nil, apierr.Storage("iterate queue entries", err)
	}
	return entries, nil
}
