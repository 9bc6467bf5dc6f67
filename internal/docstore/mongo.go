package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"
)

var _ Store = (*MongoStore)(nil)

// MongoStore maps every collection path onto one Mongo collection, with the
// slashes replaced by dots, and uses change streams to drive subscriptions.
// Change streams need a replica set deployment.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
	newID  func() string
}

// ConnectMongo dials uri and verifies the primary is reachable.
func ConnectMongo(ctx context.Context, uri, database string, logger *zap.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	logger.Info("connected to mongodb", zap.String("database", database))
	return &MongoStore{
		client: client,
		db:     client.Database(database),
		logger: logger,
		newID:  uuid.NewString,
	}, nil
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping checks the primary is reachable.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// CollectionName converts a document path to the Mongo collection name.
func CollectionName(path string) string {
	return strings.ReplaceAll(strings.Trim(path, "/"), "/", ".")
}

func (s *MongoStore) coll(path string) *mongo.Collection {
	return s.db.Collection(CollectionName(path))
}

// EnsureIndexes creates the equality filter indexes the app queries by.
func (s *MongoStore) EnsureIndexes(ctx context.Context, indexes map[string][]string) error {
	for path, fields := range indexes {
		models := make([]mongo.IndexModel, 0, len(fields))
		for _, field := range fields {
			models = append(models, mongo.IndexModel{Keys: bson.D{{Key: field, Value: 1}}})
		}
		if len(models) == 0 {
			continue
		}
		if _, err := s.coll(path).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create %s indexes: %w", path, err)
		}
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, collection, id string) (Document, error) {
	var raw bson.M
	err := s.coll(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if err == mongo.ErrNoDocuments {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("find %s/%s: %w", collection, id, err)
	}
	return documentFromBSON(collection, raw), nil
}

func (s *MongoStore) Query(ctx context.Context, collection string, filters Filters) ([]Document, error) {
	filter := bson.M{}
	for k, v := range filters {
		filter[k] = v
	}

	cursor, err := s.coll(collection).Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", collection, err)
	}
	var raws []bson.M
	if err := cursor.All(ctx, &raws); err != nil {
		return nil, fmt.Errorf("decode %s: %w", collection, err)
	}

	docs := make([]Document, 0, len(raws))
	for _, raw := range raws {
		docs = append(docs, documentFromBSON(collection, raw))
	}
	return docs, nil
}

func (s *MongoStore) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := s.newID()
	doc := bson.M{"_id": id}
	for k, v := range fields {
		doc[k] = v
	}
	if _, err := s.coll(collection).InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("insert %s: %w", collection, err)
	}
	return id, nil
}

func (s *MongoStore) Set(ctx context.Context, collection, id string, fields map[string]any, opts ...SetOption) error {
	if applySetOptions(opts).merge {
		set := bson.M{}
		for k, v := range fields {
			set[k] = v
		}
		update := bson.M{"$set": set}
		if len(set) == 0 {
			update = bson.M{"$setOnInsert": bson.M{"_id": id}}
		}
		if _, err := s.coll(collection).UpdateOne(ctx, bson.M{"_id": id}, update, options.UpdateOne().SetUpsert(true)); err != nil {
			return fmt.Errorf("merge %s/%s: %w", collection, id, err)
		}
		return nil
	}

	doc := bson.M{"_id": id}
	for k, v := range fields {
		doc[k] = v
	}
	if _, err := s.coll(collection).ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("replace %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *MongoStore) Update(ctx context.Context, collection, id string, patch map[string]any) error {
	if len(patch) == 0 {
		_, err := s.Get(ctx, collection, id)
		return err
	}
	res, err := s.coll(collection).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M(patch)})
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.coll(collection).DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// Subscribe opens one change stream per subscription and re-runs the query on
// every event. Stream errors end the subscription.
func (s *MongoStore) Subscribe(ctx context.Context, collection string, filters Filters, onSnapshot SnapshotFunc, onError ErrorFunc) (Subscription, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := s.coll(collection).Watch(streamCtx, mongo.Pipeline{})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch %s: %w", collection, err)
	}

	docs, err := s.Query(streamCtx, collection, filters)
	if err != nil {
		cancel()
		_ = stream.Close(context.Background())
		return nil, err
	}
	if onSnapshot != nil {
		onSnapshot(docs)
	}

	sub := &mongoSubscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		defer stream.Close(context.Background())

		for stream.Next(streamCtx) {
			docs, err := s.Query(streamCtx, collection, filters)
			if err != nil {
				sub.fail(streamCtx, err, onError)
				return
			}
			if streamCtx.Err() != nil {
				return
			}
			if onSnapshot != nil {
				onSnapshot(docs)
			}
		}
		if err := stream.Err(); err != nil {
			s.logger.Warn("change stream ended", zap.String("collection", collection), zap.Error(err))
			sub.fail(streamCtx, err, onError)
		}
	}()

	return sub, nil
}

type mongoSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (m *mongoSubscription) fail(ctx context.Context, err error, onError ErrorFunc) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return
	}
	if onError != nil {
		onError(err)
	}
}

// Close stops the change stream. Calls after the first are no-ops.
func (m *mongoSubscription) Close() error {
	m.once.Do(m.cancel)
	return nil
}

func documentFromBSON(collection string, raw bson.M) Document {
	fields := make(map[string]any, len(raw))
	var id string
	for k, v := range raw {
		if k == "_id" {
			id = fmt.Sprint(v)
			continue
		}
		fields[k] = normalizeBSON(v)
	}
	return Document{ID: id, Collection: collection, Fields: fields}
}

// normalizeBSON converts driver types to the plain Go values the mappers read.
func normalizeBSON(v any) any {
	switch t := v.(type) {
	case bson.DateTime:
		return t.Time()
	case bson.A:
		out := make([]any, len(t))
		for i := range t {
			out[i] = normalizeBSON(t[i])
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalizeBSON(e.Value)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalizeBSON(e)
		}
		return out
	case int32:
		return int64(t)
	case bson.ObjectID:
		return t.Hex()
	default:
		return v
	}
}
