package licensestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoOption configures a MongoStore.
type MongoOption func(*MongoStore)

// WithCollectionName sets the collection name. Default: "licensekey_registrations".
func WithCollectionName(name string) MongoOption {
	return func(s *MongoStore) {
		s.collectionName = name
	}
}

// MongoStore implements Store on a MongoDB collection.
type MongoStore struct {
	collection     *mongo.Collection
	collectionName string
	client         *mongo.Client
}

// NewMongoStore uses db and creates the indexes if needed. The caller keeps
// ownership of the client behind db.
func NewMongoStore(ctx context.Context, db *mongo.Database, opts ...MongoOption) (*MongoStore, error) {
	s := &MongoStore{
		collectionName: defaultName,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := checkIdentifier("collection", s.collectionName); err != nil {
		return nil, err
	}
	s.collection = db.Collection(s.collectionName)

	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("create indexes: %w", err)
	}
	return s, nil
}

// OpenMongoStore connects to uri and uses database. Close disconnects the client.
func OpenMongoStore(ctx context.Context, uri, database string, opts ...MongoOption) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	s, err := NewMongoStore(ctx, client.Database(database), opts...)
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	s.client = client
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "unique_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "last_validated_at", Value: 1}},
		},
	}
	_, err := s.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

func (s *MongoStore) Put(ctx context.Context, e Entry) (*Entry, error) {
	if err := validateEntry(e); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	registeredAt := e.RegisteredAt
	if registeredAt.IsZero() {
		registeredAt = now
	}
	lastValidated := e.LastValidatedAt
	if lastValidated.IsZero() {
		lastValidated = now
	}
	filter := bson.M{"unique_id": e.UniqueID}
	update := bson.M{
		"$set": bson.M{
			"license_key":       e.LicenseKey,
			"key_digest":        e.KeyDigest,
			"product":           e.Product,
			"license_type":      e.LicenseType,
			"fingerprint":       e.Fingerprint,
			"last_validated_at": lastValidated,
		},
		"$setOnInsert": bson.M{
			"registered_at": registeredAt,
		},
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)
	var result Entry
	if err := s.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&result); err != nil {
		return nil, fmt.Errorf("put registration: %w", err)
	}
	return &result, nil
}

func (s *MongoStore) Get(ctx context.Context, uniqueID string) (*Entry, error) {
	var e Entry
	err := s.collection.FindOne(ctx, bson.M{"unique_id": uniqueID}).Decode(&e)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return &e, nil
}

func (s *MongoStore) Delete(ctx context.Context, uniqueID string) error {
	if _, err := s.collection.DeleteOne(ctx, bson.M{"unique_id": uniqueID}); err != nil {
		return fmt.Errorf("delete registration: %w", err)
	}
	return nil
}

func (s *MongoStore) List(ctx context.Context) ([]Entry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "registered_at", Value: 1}, {Key: "unique_id", Value: 1}})
	cursor, err := s.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	var entries []Entry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("decode registrations: %w", err)
	}
	return entries, nil
}

func (s *MongoStore) Touch(ctx context.Context, uniqueID string, at time.Time) error {
	res, err := s.collection.UpdateOne(ctx,
		bson.M{"unique_id": uniqueID},
		bson.M{"$set": bson.M{"last_validated_at": at.UTC()}},
	)
	if err != nil {
		return fmt.Errorf("touch registration: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	result, err := s.collection.DeleteMany(ctx, bson.M{
		"last_validated_at": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return 0, fmt.Errorf("prune registrations: %w", err)
	}
	return int(result.DeletedCount), nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	if s.client != nil {
		return s.client.Disconnect(ctx)
	}
	return nil
}
