package mongokv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"authd/internal/cache"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Cache is a MongoDB-backed ephemeral secret store. A TTL index reaps
// expired documents; every read still filters on expires_at because the
// reaper only runs periodically. GetDel uses FindOneAndDelete, so consuming
// a key is atomic: of two concurrent consumers exactly one sees the value.
type Cache struct {
	secrets *mongo.Collection
}

type secretDoc struct {
	Key       string    `bson:"_id"`
	Value     []byte    `bson:"value"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// New returns a Cache over the given database and ensures the TTL index.
func New(ctx context.Context, db *mongo.Database) (*Cache, error) {
	const op = "cache.mongokv.New"

	c := &Cache{secrets: db.Collection("ephemeral_secrets")}

	_, err := c.secrets.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: expires_at TTL index: %w", op, err)
	}

	return c, nil
}

// Set stores the value under the key with the given TTL, replacing any
// previous value.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	const op = "cache.mongokv.Set"

	doc := secretDoc{
		Key:       key,
		Value:     value,
		ExpiresAt: time.Now().Add(ttl),
	}

	_, err := c.secrets.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: key}},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Get returns the value without consuming it.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	const op = "cache.mongokv.Get"

	var doc secretDoc
	err := c.secrets.FindOne(ctx, bson.D{
		{Key: "_id", Value: key},
		{Key: "expires_at", Value: bson.D{{Key: "$gt", Value: time.Now()}}},
	}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, cache.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return doc.Value, nil
}

// GetDel atomically fetches and deletes the value.
func (c *Cache) GetDel(ctx context.Context, key string) ([]byte, error) {
	const op = "cache.mongokv.GetDel"

	var doc secretDoc
	err := c.secrets.FindOneAndDelete(ctx, bson.D{
		{Key: "_id", Value: key},
		{Key: "expires_at", Value: bson.D{{Key: "$gt", Value: time.Now()}}},
	}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, cache.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return doc.Value, nil
}

// Delete removes the key. Deleting an absent key is a no-op.
func (c *Cache) Delete(ctx context.Context, key string) error {
	const op = "cache.mongokv.Delete"

	if _, err := c.secrets.DeleteOne(ctx, bson.D{{Key: "_id", Value: key}}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
